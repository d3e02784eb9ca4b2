package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
)

const channelPrefix = "stocky:events:"

// ChannelPattern matches every tenant channel.
const ChannelPattern = channelPrefix + "*"

func Channel(tenantID string) string {
	return channelPrefix + tenantID
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel(event.TenantID), payload).Err()
}
