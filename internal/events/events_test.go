package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTripsValidEvent(t *testing.T) {
	event, err := New(TypeStockAdjusted, "demo", map[string]any{"entry_id": "jyq", "stock": 4.5})
	require.NoError(t, err)

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, TypeStockAdjusted, decoded.Type)
	assert.Equal(t, Channel("demo"), "stocky:events:demo")
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"id":`,
		"bad id":       `{"id":"x","type":"order.placed","tenant_id":"demo","occurred_at":"2026-01-01T00:00:00Z","payload":{}}`,
		"unknown type": `{"id":"6f1c1f8e-7f57-4bb4-9a57-0e1a6f1f0d11","type":"order.shipped","tenant_id":"demo","occurred_at":"2026-01-01T00:00:00Z","payload":{}}`,
		"no tenant":    `{"id":"6f1c1f8e-7f57-4bb4-9a57-0e1a6f1f0d11","type":"order.placed","occurred_at":"2026-01-01T00:00:00Z","payload":{}}`,
		"no payload":   `{"id":"6f1c1f8e-7f57-4bb4-9a57-0e1a6f1f0d11","type":"order.placed","tenant_id":"demo","occurred_at":"2026-01-01T00:00:00Z"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

type recordingPublisher struct{ got []Event }

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.got = append(r.got, e)
	return nil
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	rec := &recordingPublisher{}
	errA := errors.New("broker a down")
	errB := errors.New("broker b down")
	multi := Multi{failingPublisher{errA}, rec, nil, failingPublisher{errB}}

	event, err := New(TypeOrderPlaced, "demo", map[string]string{"id": "ord-1"})
	require.NoError(t, err)

	err = multi.Publish(context.Background(), event)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, rec.got, 1)
}
