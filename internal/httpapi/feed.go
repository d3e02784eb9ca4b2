package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"stocky/backend/internal/feed"
)

const feedKeepAlive = 25 * time.Second

// handleFeed streams a tenant's live state as server-sent events: one
// "snapshot" frame, then every event the view accepts.
func (a *API) handleFeed(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		a.writeError(w, http.StatusServiceUnavailable, errors.New("live feed disabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	tenantID := chi.URLParam(r, "tenantID")

	// subscribe before loading so nothing written in between is missed
	events, cancel := a.hub.Subscribe(tenantID)
	defer cancel()

	storefront, catalog, orders, err := a.service.LiveState(r.Context(), tenantID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	view := feed.NewView(tenantID, storefront, catalog, orders)

	// the server's write timeout would cut the stream
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "snapshot", view.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(feedKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := view.Apply(event); err != nil {
				a.logger.Warn("feed event rejected",
					zap.String("tenant_id", tenantID),
					zap.String("event_id", event.ID),
					zap.Error(err),
				)
				continue
			}
			if err := writeSSE(w, event.Type, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
