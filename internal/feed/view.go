package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"stocky/backend/internal/domain"
	"stocky/backend/internal/events"
	"stocky/backend/internal/ordering"
)

var ErrRejected = errors.New("event rejected")

type Snapshot struct {
	Storefront *domain.Tenant        `json:"storefront,omitempty"`
	Catalog    []domain.CatalogEntry `json:"catalog"`
	Orders     []domain.Order        `json:"orders"`
}

// View is a live copy of one tenant's catalog and orders. It changes only
// through Apply, and updates older than what it already holds are ignored.
type View struct {
	mu         sync.RWMutex
	tenantID   string
	storefront *domain.Tenant
	entries    map[string]domain.CatalogEntry
	orders     map[string]domain.Order
}

func NewView(tenantID string, storefront *domain.Tenant, catalog []domain.CatalogEntry, orders []domain.Order) *View {
	v := &View{
		tenantID: tenantID,
		entries:  make(map[string]domain.CatalogEntry, len(catalog)),
		orders:   make(map[string]domain.Order, len(orders)),
	}
	if storefront != nil {
		copied := *storefront
		v.storefront = &copied
	}
	for _, entry := range catalog {
		v.entries[entry.ID] = entry
	}
	for _, order := range orders {
		v.orders[order.ID] = order
	}
	return v
}

// Apply folds one event into the view. Events for another tenant or with a
// payload that does not match its type are rejected and leave the view untouched.
func (v *View) Apply(event events.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.TenantID != v.tenantID {
		return fmt.Errorf("%w: tenant %q", ErrRejected, event.TenantID)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch event.Type {
	case events.TypeEntryUpserted:
		var entry domain.CatalogEntry
		if err := decodeStrict(event.Payload, &entry); err != nil {
			return err
		}
		if entry.ID == "" || strings.TrimSpace(entry.Name) == "" || entry.Stock < 0 || entry.FullPrice < 0 || entry.HalfPrice < 0 {
			return fmt.Errorf("%w: catalog entry shape", ErrRejected)
		}
		if current, ok := v.entries[entry.ID]; ok && current.UpdatedAt.After(entry.UpdatedAt) {
			return nil
		}
		v.entries[entry.ID] = entry
	case events.TypeEntryDeleted:
		var ref events.EntryRef
		if err := decodeStrict(event.Payload, &ref); err != nil {
			return err
		}
		if ref.ID == "" {
			return fmt.Errorf("%w: missing entry id", ErrRejected)
		}
		delete(v.entries, ref.ID)
	case events.TypeStockAdjusted:
		var adj domain.StockAdjustment
		if err := decodeStrict(event.Payload, &adj); err != nil {
			return err
		}
		if adj.EntryID == "" || adj.Stock < 0 {
			return fmt.Errorf("%w: stock adjustment shape", ErrRejected)
		}
		current, ok := v.entries[adj.EntryID]
		if !ok || current.UpdatedAt.After(adj.At) {
			return nil
		}
		current.Stock = adj.Stock
		current.LastAdjustmentReason = adj.Reason
		at := adj.At
		current.LastAdjustedAt = &at
		current.UpdatedAt = adj.At
		v.entries[adj.EntryID] = current
	case events.TypeOrderPlaced, events.TypeOrderUpdated:
		var order domain.Order
		if err := decodeStrict(event.Payload, &order); err != nil {
			return err
		}
		if err := checkOrderShape(order); err != nil {
			return err
		}
		if current, ok := v.orders[order.ID]; ok && current.UpdatedAt.After(order.UpdatedAt) {
			return nil
		}
		v.orders[order.ID] = order
	case events.TypeStorefrontUpdated:
		var tenant domain.Tenant
		if err := decodeStrict(event.Payload, &tenant); err != nil {
			return err
		}
		if tenant.ID != v.tenantID {
			return fmt.Errorf("%w: storefront tenant", ErrRejected)
		}
		v.storefront = &tenant
	}
	return nil
}

func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snap := Snapshot{
		Catalog: make([]domain.CatalogEntry, 0, len(v.entries)),
		Orders:  make([]domain.Order, 0, len(v.orders)),
	}
	if v.storefront != nil {
		copied := *v.storefront
		snap.Storefront = &copied
	}
	for _, entry := range v.entries {
		snap.Catalog = append(snap.Catalog, entry)
	}
	for _, order := range v.orders {
		snap.Orders = append(snap.Orders, order)
	}
	slices.SortFunc(snap.Catalog, func(a, b domain.CatalogEntry) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	slices.SortFunc(snap.Orders, func(a, b domain.Order) int {
		pa, pb := ordering.SortPriority(a.Status), ordering.SortPriority(b.Status)
		if pa != pb {
			return pb - pa
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return snap
}

func checkOrderShape(order domain.Order) error {
	if order.ID == "" || !ordering.KnownStatus(order.Status) || order.Total < 0 {
		return fmt.Errorf("%w: order shape", ErrRejected)
	}
	for _, line := range order.Lines {
		if line.EntryID == "" || line.Quantity <= 0 {
			return fmt.Errorf("%w: order line shape", ErrRejected)
		}
	}
	if order.Status == domain.StatusCancelled && strings.TrimSpace(order.AuditNote) == "" {
		return fmt.Errorf("%w: cancelled order without note", ErrRejected)
	}
	return nil
}

func decodeStrict(raw json.RawMessage, dest any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}
