package store

import (
	"context"
	"errors"
	"time"

	"stocky/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid record")
)

// StockDelta is one signed change applied atomically to an entry's stock.
type StockDelta struct {
	EntryID string
	Delta   float64
	Reason  string
}

// PlacedOrder is what CreateOrder wrote. When the idempotency key already named
// an order, Replayed is set, Order is that earlier order and nothing was written.
type PlacedOrder struct {
	Order       *domain.Order
	Adjustments []domain.StockAdjustment
	Replayed    bool
}

// Repository is tenant-scoped: every call carries the tenant it reads or writes.
// Stock changes are applied server-side with a floor at zero so concurrent
// writers never lose each other's updates.
type Repository interface {
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	UpdateTenant(ctx context.Context, tenant domain.Tenant) (*domain.Tenant, error)

	ListCatalog(ctx context.Context, tenantID string) ([]domain.CatalogEntry, error)
	GetCatalogEntry(ctx context.Context, tenantID string, entryID string) (*domain.CatalogEntry, error)
	GetCatalogEntries(ctx context.Context, tenantID string, entryIDs []string) (map[string]domain.CatalogEntry, error)
	CreateCatalogEntry(ctx context.Context, entry domain.CatalogEntry) (*domain.CatalogEntry, error)
	UpdateCatalogEntry(ctx context.Context, entry domain.CatalogEntry) (*domain.CatalogEntry, error)
	DeleteCatalogEntry(ctx context.Context, tenantID string, entryID string) error
	AdjustStock(ctx context.Context, tenantID string, delta StockDelta, at time.Time) (domain.StockAdjustment, error)

	// CreateOrder persists the order and applies every stock delta in one unit.
	CreateOrder(ctx context.Context, order domain.Order, deltas []StockDelta) (PlacedOrder, error)
	FindOrderByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Order, error)
	GetOrder(ctx context.Context, tenantID string, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, tenantID string, filter domain.OrderFilter) ([]domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error)

	FindUserByEmail(ctx context.Context, tenantID string, email string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, userID string, password string) error
}
