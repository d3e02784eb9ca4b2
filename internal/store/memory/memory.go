package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"stocky/backend/internal/domain"
	"stocky/backend/internal/ordering"
	"stocky/backend/internal/store"
	"stocky/backend/internal/xid"
)

// DemoTenantID is the tenant NewSeeded provisions for local runs.
const DemoTenantID = "demo"

type Store struct {
	mu             sync.RWMutex
	tenants        map[string]domain.Tenant
	catalog        map[string]map[string]domain.CatalogEntry
	orders         map[string]map[string]*domain.Order
	ordersByIdem   map[string]*domain.Order
	auditLogs      []domain.AuditLog
	usersByID      map[string]domain.UserAccount
	usersByEmailTn map[string]string
}

func New() *Store {
	return &Store{
		tenants:        make(map[string]domain.Tenant),
		catalog:        make(map[string]map[string]domain.CatalogEntry),
		orders:         make(map[string]map[string]*domain.Order),
		ordersByIdem:   make(map[string]*domain.Order),
		auditLogs:      make([]domain.AuditLog, 0, 128),
		usersByID:      make(map[string]domain.UserAccount),
		usersByEmailTn: make(map[string]string),
	}
}

// NewSeeded returns a store holding one open demo tenant, a small catalog and an
// admin account. The admin password comes from SEED_ADMIN_PASSWORD with a dev
// default.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.AddTenant(domain.Tenant{
		ID:        DemoTenantID,
		Name:      "Empanadas Demo",
		Subtitle:  "Pedidos por docena y media docena",
		WhatsApp:  "5491100000000",
		Open:      true,
		CreatedAt: now,
		UpdatedAt: now,
	})

	for _, entry := range []domain.CatalogEntry{
		{ID: "jyq", Name: "Jamón y Queso", FullPrice: 8500, HalfPrice: 4500, Stock: 10, Available: true, Category: "clasicas"},
		{ID: "carne", Name: "Carne Suave", FullPrice: 9000, HalfPrice: 5000, Stock: 6.5, Available: true, Category: "clasicas"},
		{ID: "pollo", Name: "Pollo", FullPrice: 8500, HalfPrice: 4500, Stock: 2, Available: true, Category: "clasicas"},
		{ID: "humita", Name: "Humita", FullPrice: 8000, HalfPrice: 4500, Stock: 4, Available: true, Category: "vegetarianas"},
		{ID: "verdura", Name: "Verdura", FullPrice: 8000, HalfPrice: 4500, Stock: 0, Available: false, Category: "vegetarianas"},
	} {
		entry.TenantID = DemoTenantID
		entry.CreatedAt = now
		entry.UpdatedAt = now
		s.catalog[DemoTenantID][entry.ID] = entry
	}

	adminPwd := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPwd == "" {
		adminPwd = "admin123"
		zap.L().Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		zap.L().Fatal("hash seed password", zap.Error(err))
	}
	s.AddUser(domain.UserAccount{
		ID:        "usr-demo-admin",
		TenantID:  DemoTenantID,
		Email:     "admin@demo.local",
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		CreatedAt: now,
	})

	return s
}

// AddTenant registers a tenant with empty collections.
func (s *Store) AddTenant(tenant domain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tenants[tenant.ID] = tenant
	if _, ok := s.catalog[tenant.ID]; !ok {
		s.catalog[tenant.ID] = make(map[string]domain.CatalogEntry)
	}
	if _, ok := s.orders[tenant.ID]; !ok {
		s.orders[tenant.ID] = make(map[string]*domain.Order)
	}
}

func (s *Store) AddUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	s.usersByID[user.ID] = user
	s.usersByEmailTn[userKey(user.TenantID, user.Email)] = user.ID
}

func (s *Store) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tenant, nil
}

func (s *Store) UpdateTenant(_ context.Context, tenant domain.Tenant) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tenants[tenant.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	tenant.CreatedAt = existing.CreatedAt
	if tenant.UpdatedAt.IsZero() {
		tenant.UpdatedAt = time.Now().UTC()
	}
	s.tenants[tenant.ID] = tenant
	return &tenant, nil
}

func (s *Store) ListCatalog(_ context.Context, tenantID string) ([]domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.catalog[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.CatalogEntry, 0, len(entries))
	for _, entry := range entries {
		result = append(result, cloneEntry(entry))
	}
	slices.SortFunc(result, func(a, b domain.CatalogEntry) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return result, nil
}

func (s *Store) GetCatalogEntry(_ context.Context, tenantID string, entryID string) (*domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.catalog[tenantID][entryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneEntry(entry)
	return &copied, nil
}

func (s *Store) GetCatalogEntries(_ context.Context, tenantID string, entryIDs []string) (map[string]domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.CatalogEntry, len(entryIDs))
	for _, id := range entryIDs {
		if entry, ok := s.catalog[tenantID][id]; ok {
			result[id] = cloneEntry(entry)
		}
	}
	return result, nil
}

func (s *Store) CreateCatalogEntry(_ context.Context, entry domain.CatalogEntry) (*domain.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.catalog[entry.TenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if entry.Name == "" || entry.FullPrice < 1 || entry.Stock < 0 {
		return nil, store.ErrInvalid
	}
	if entry.ID == "" {
		entry.ID = xid.New("ent")
	}
	if _, exists := entries[entry.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entries[entry.ID] = entry
	created := cloneEntry(entry)
	return &created, nil
}

func (s *Store) UpdateCatalogEntry(_ context.Context, entry domain.CatalogEntry) (*domain.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.catalog[entry.TenantID][entry.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if entry.Name == "" || entry.FullPrice < 1 {
		return nil, store.ErrInvalid
	}
	// stock only moves through AdjustStock and CreateOrder
	entry.Stock = existing.Stock
	entry.LastAdjustmentReason = existing.LastAdjustmentReason
	entry.LastAdjustedAt = existing.LastAdjustedAt
	entry.CreatedAt = existing.CreatedAt
	entry.UpdatedAt = time.Now().UTC()
	s.catalog[entry.TenantID][entry.ID] = entry
	updated := cloneEntry(entry)
	return &updated, nil
}

func (s *Store) DeleteCatalogEntry(_ context.Context, tenantID string, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalog[tenantID][entryID]; !ok {
		return store.ErrNotFound
	}
	delete(s.catalog[tenantID], entryID)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, tenantID string, delta store.StockDelta, at time.Time) (domain.StockAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyDeltaLocked(tenantID, delta, at)
}

func (s *Store) applyDeltaLocked(tenantID string, delta store.StockDelta, at time.Time) (domain.StockAdjustment, error) {
	entry, ok := s.catalog[tenantID][delta.EntryID]
	if !ok {
		return domain.StockAdjustment{}, store.ErrNotFound
	}
	previous := entry.Stock
	entry.Stock = ordering.ClampStock(previous, delta.Delta)
	entry.LastAdjustmentReason = delta.Reason
	adjustedAt := at
	entry.LastAdjustedAt = &adjustedAt
	entry.UpdatedAt = at
	s.catalog[tenantID][delta.EntryID] = entry

	return domain.StockAdjustment{
		EntryID:  delta.EntryID,
		Previous: previous,
		Delta:    delta.Delta,
		Stock:    entry.Stock,
		Reason:   delta.Reason,
		At:       at,
	}, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order, deltas []store.StockDelta) (store.PlacedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders, ok := s.orders[order.TenantID]
	if !ok {
		return store.PlacedOrder{}, store.ErrNotFound
	}
	if len(order.Lines) == 0 {
		return store.PlacedOrder{}, store.ErrInvalid
	}
	if order.IdempotencyKey != "" {
		if existing, ok := s.ordersByIdem[idemKey(order.TenantID, order.IdempotencyKey)]; ok {
			return store.PlacedOrder{Order: cloneOrder(existing), Replayed: true}, nil
		}
	}
	for _, delta := range deltas {
		if _, ok := s.catalog[order.TenantID][delta.EntryID]; !ok {
			return store.PlacedOrder{}, store.ErrNotFound
		}
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	adjustments := make([]domain.StockAdjustment, 0, len(deltas))
	for _, delta := range deltas {
		adj, err := s.applyDeltaLocked(order.TenantID, delta, order.CreatedAt)
		if err != nil {
			return store.PlacedOrder{}, err
		}
		adjustments = append(adjustments, adj)
	}

	stored := cloneOrder(&order)
	orders[order.ID] = stored
	if order.IdempotencyKey != "" {
		s.ordersByIdem[idemKey(order.TenantID, order.IdempotencyKey)] = stored
	}
	return store.PlacedOrder{Order: cloneOrder(stored), Adjustments: adjustments}, nil
}

func (s *Store) FindOrderByIdempotency(_ context.Context, tenantID string, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByIdem[idemKey(tenantID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) GetOrder(_ context.Context, tenantID string, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[tenantID][orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, tenantID string, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders, ok := s.orders[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && order.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !order.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, *cloneOrder(order))
	}
	slices.SortFunc(result, compareOrders)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[order.TenantID][order.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !ordering.KnownStatus(order.Status) {
		return nil, store.ErrInvalid
	}
	order.Code = existing.Code
	order.CreatedAt = existing.CreatedAt
	order.IdempotencyKey = existing.IdempotencyKey
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now().UTC()
	}
	*existing = *cloneOrder(&order)
	return cloneOrder(existing), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		if s.auditLogs[i].TenantID != tenantID {
			continue
		}
		result = append(result, s.auditLogs[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) FindUserByEmail(_ context.Context, tenantID string, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmailTn[userKey(tenantID, strings.ToLower(strings.TrimSpace(email)))]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, userID string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByID[userID] = user
	return nil
}

func compareOrders(a, b domain.Order) int {
	pa, pb := ordering.SortPriority(a.Status), ordering.SortPriority(b.Status)
	if pa != pb {
		return pb - pa
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

func userKey(tenantID string, email string) string {
	return tenantID + "|" + email
}

func idemKey(tenantID string, key string) string {
	return tenantID + "|" + key
}

func cloneEntry(src domain.CatalogEntry) domain.CatalogEntry {
	if src.LastAdjustedAt != nil {
		at := *src.LastAdjustedAt
		src.LastAdjustedAt = &at
	}
	return src
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	copied := *src
	copied.Lines = append([]domain.OrderLine(nil), src.Lines...)
	return &copied
}
