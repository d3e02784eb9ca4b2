package feed

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stocky/backend/internal/events"
)

// RedisBridge relays events published by any instance into the local Hub.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewRedisBridge(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, hub: hub, logger: logger}
}

// Run blocks until ctx is done or the subscription closes.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, events.ChannelPattern)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *RedisBridge) dispatch(ctx context.Context, channel string, payload []byte) {
	event, err := events.Decode(payload)
	if err != nil {
		b.logger.Warn("quarantined feed message", zap.String("channel", channel), zap.Error(err))
		return
	}
	if events.Channel(event.TenantID) != channel {
		b.logger.Warn("quarantined feed message",
			zap.String("channel", channel),
			zap.String("tenant_id", event.TenantID),
			zap.String("reason", "tenant does not match channel"),
		)
		return
	}
	if err := b.hub.Publish(ctx, event); err != nil {
		b.logger.Warn("feed dispatch failed", zap.String("event_id", event.ID), zap.Error(err))
	}
}
