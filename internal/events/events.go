package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	TypeEntryUpserted     = "catalog.entry_upserted"
	TypeEntryDeleted      = "catalog.entry_deleted"
	TypeStockAdjusted     = "catalog.stock_adjusted"
	TypeOrderPlaced       = "order.placed"
	TypeOrderUpdated      = "order.updated"
	TypeStorefrontUpdated = "storefront.updated"
)

var knownTypes = map[string]bool{
	TypeEntryUpserted:     true,
	TypeEntryDeleted:      true,
	TypeStockAdjusted:     true,
	TypeOrderPlaced:       true,
	TypeOrderUpdated:      true,
	TypeStorefrontUpdated: true,
}

var ErrMalformed = errors.New("malformed event")

// Event is the envelope shared by the live feed and outbound brokers.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func New(eventType string, tenantID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Validate rejects envelopes that do not match the expected shape.
func (e Event) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("%w: id %q", ErrMalformed, e.ID)
	}
	if !knownTypes[e.Type] {
		return fmt.Errorf("%w: type %q", ErrMalformed, e.Type)
	}
	if e.TenantID == "" {
		return fmt.Errorf("%w: missing tenant", ErrMalformed)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload", ErrMalformed)
	}
	return nil
}

// Decode parses and validates a wire message.
func Decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ Event) error {
	return nil
}

// Multi delivers to every sink and reports all failures together.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var err error
	for _, p := range m {
		if p == nil {
			continue
		}
		err = multierr.Append(err, p.Publish(ctx, event))
	}
	return err
}

// EntryRef is the payload of a deleted catalog entry.
type EntryRef struct {
	ID string `json:"id"`
}
