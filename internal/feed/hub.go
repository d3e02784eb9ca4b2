package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"stocky/backend/internal/events"
)

// Hub fans events out to the live subscribers of each tenant. A subscriber that
// falls behind loses events instead of stalling the writer.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	logger *zap.Logger
}

type subscriber struct {
	ch   chan events.Event
	once sync.Once
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer < 1 {
		buffer = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a listener for tenantID. The returned func must be called
// to release it; the channel is closed afterwards.
func (h *Hub) Subscribe(tenantID string) (<-chan events.Event, func()) {
	sub := &subscriber{ch: make(chan events.Event, h.buffer)}

	h.mu.Lock()
	if _, ok := h.subs[tenantID]; !ok {
		h.subs[tenantID] = make(map[*subscriber]struct{})
	}
	h.subs[tenantID][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[tenantID], sub)
		if len(h.subs[tenantID]) == 0 {
			delete(h.subs, tenantID)
		}
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

func (h *Hub) Publish(_ context.Context, event events.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[event.TenantID] {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("feed subscriber lagging, event dropped",
				zap.String("tenant_id", event.TenantID),
				zap.String("event_type", event.Type),
			)
		}
	}
	return nil
}

func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}
