package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"stocky/backend/internal/domain"
	"stocky/backend/internal/ordering"
	"stocky/backend/internal/store"
	"stocky/backend/internal/xid"
)

// Schema creates every table the store reads. Deployments normally apply it
// out-of-band; ApplySchema exists for tests and local setups.
//
//go:embed schema.sql
var Schema string

const orderColumns = `id, tenant_id, code, customer_name, customer_phone, lines, total, status, audit_note, edited, COALESCE(idempotency_key, ''), created_at, updated_at`

const entryColumns = `id, tenant_id, name, full_price, half_price, stock, available, category, last_adjustment_reason, last_adjusted_at, created_at, updated_at`

// sortOrder mirrors ordering.SortPriority so lists come back in display order.
const sortOrder = `CASE status WHEN 'pending' THEN 3 WHEN 'cancelled' THEN 2 ELSE 1 END DESC, created_at DESC`

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("postgres")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ApplySchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, subtitle, whatsapp, logo_url, open, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&tenant.ID, &tenant.Name, &tenant.Subtitle, &tenant.WhatsApp, &tenant.LogoURL, &tenant.Open, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tenant.CreatedAt = tenant.CreatedAt.UTC()
	tenant.UpdatedAt = tenant.UpdatedAt.UTC()
	return &tenant, nil
}

func (s *Store) UpdateTenant(ctx context.Context, tenant domain.Tenant) (*domain.Tenant, error) {
	if tenant.UpdatedAt.IsZero() {
		tenant.UpdatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		UPDATE tenants
		SET name = $2, subtitle = $3, whatsapp = $4, logo_url = $5, open = $6, updated_at = $7
		WHERE id = $1
		RETURNING created_at
	`, tenant.ID, tenant.Name, tenant.Subtitle, tenant.WhatsApp, tenant.LogoURL, tenant.Open, tenant.UpdatedAt).Scan(&tenant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tenant.CreatedAt = tenant.CreatedAt.UTC()
	return &tenant, nil
}

func (s *Store) ListCatalog(ctx context.Context, tenantID string) ([]domain.CatalogEntry, error) {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM catalog_entries
		WHERE tenant_id = $1
		ORDER BY category, name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CatalogEntry, 0, 32)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetCatalogEntry(ctx context.Context, tenantID string, entryID string) (*domain.CatalogEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM catalog_entries
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) GetCatalogEntries(ctx context.Context, tenantID string, entryIDs []string) (map[string]domain.CatalogEntry, error) {
	result := make(map[string]domain.CatalogEntry, len(entryIDs))
	if len(entryIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM catalog_entries
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result[entry.ID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateCatalogEntry(ctx context.Context, entry domain.CatalogEntry) (*domain.CatalogEntry, error) {
	if entry.Name == "" || entry.FullPrice < 1 || entry.Stock < 0 {
		return nil, store.ErrInvalid
	}
	if entry.ID == "" {
		entry.ID = xid.New("ent")
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_entries (tenant_id, id, name, full_price, half_price, stock, available, category, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	`, entry.TenantID, entry.ID, entry.Name, entry.FullPrice, entry.HalfPrice, entry.Stock, entry.Available, entry.Category, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// UpdateCatalogEntry rewrites descriptive fields only; stock moves through
// AdjustStock and CreateOrder.
func (s *Store) UpdateCatalogEntry(ctx context.Context, entry domain.CatalogEntry) (*domain.CatalogEntry, error) {
	if entry.Name == "" || entry.FullPrice < 1 {
		return nil, store.ErrInvalid
	}
	updated, err := scanEntry(s.db.QueryRowContext(ctx, `
		UPDATE catalog_entries
		SET name = $3, full_price = $4, half_price = $5, available = $6, category = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+entryColumns+`
	`, entry.TenantID, entry.ID, entry.Name, entry.FullPrice, entry.HalfPrice, entry.Available, entry.Category))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteCatalogEntry(ctx context.Context, tenantID string, entryID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE tenant_id = $1 AND id = $2`, tenantID, entryID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, tenantID string, delta store.StockDelta, at time.Time) (domain.StockAdjustment, error) {
	return applyDelta(ctx, s.db, tenantID, delta, at)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// applyDelta changes stock in a single statement. The row lock taken by the
// CTE keeps previous and new values consistent under concurrent writers.
func applyDelta(ctx context.Context, q queryRower, tenantID string, delta store.StockDelta, at time.Time) (domain.StockAdjustment, error) {
	adj := domain.StockAdjustment{EntryID: delta.EntryID, Delta: delta.Delta, Reason: delta.Reason, At: at}
	err := q.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT stock FROM catalog_entries
			WHERE tenant_id = $1 AND id = $2
			FOR UPDATE
		)
		UPDATE catalog_entries c
		SET stock = GREATEST(0, c.stock + $3),
			last_adjustment_reason = $4,
			last_adjusted_at = $5,
			updated_at = $5
		FROM prev
		WHERE c.tenant_id = $1 AND c.id = $2
		RETURNING prev.stock, c.stock
	`, tenantID, delta.EntryID, delta.Delta, delta.Reason, at).Scan(&adj.Previous, &adj.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockAdjustment{}, store.ErrNotFound
		}
		return domain.StockAdjustment{}, err
	}
	return adj, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, deltas []store.StockDelta) (store.PlacedOrder, error) {
	if len(order.Lines) == 0 {
		return store.PlacedOrder{}, store.ErrInvalid
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt

	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return store.PlacedOrder{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return store.PlacedOrder{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (tenant_id, id, code, customer_name, customer_phone, lines, total, status, audit_note, edited, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
	`, order.TenantID, order.ID, order.Code, order.CustomerName, order.CustomerPhone, lines, order.Total, order.Status, order.AuditNote, order.Edited, nullIfEmpty(order.IdempotencyKey), order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && order.IdempotencyKey != "" {
			_ = tx.Rollback()
			existing, err := s.FindOrderByIdempotency(ctx, order.TenantID, order.IdempotencyKey)
			if err != nil {
				return store.PlacedOrder{}, err
			}
			return store.PlacedOrder{Order: existing, Replayed: true}, nil
		}
		if isUniqueViolation(err) {
			return store.PlacedOrder{}, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return store.PlacedOrder{}, store.ErrNotFound
		}
		return store.PlacedOrder{}, err
	}

	adjustments := make([]domain.StockAdjustment, 0, len(deltas))
	for _, delta := range deltas {
		adj, err := applyDelta(ctx, tx, order.TenantID, delta, order.CreatedAt)
		if err != nil {
			return store.PlacedOrder{}, err
		}
		adjustments = append(adjustments, adj)
	}

	if err := tx.Commit(); err != nil {
		return store.PlacedOrder{}, err
	}
	created := order
	return store.PlacedOrder{Order: &created, Adjustments: adjustments}, nil
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Order, error) {
	order, err := s.scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) GetOrder(ctx context.Context, tenantID string, orderID string) (*domain.Order, error) {
	order, err := s.scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders skips rows whose stored lines no longer decode; they are logged
// and left in place for inspection.
func (s *Store) ListOrders(ctx context.Context, tenantID string, filter domain.OrderFilter) ([]domain.Order, error) {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	clauses := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY ` + sortOrder
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		order, err := s.scanOrder(rows)
		if errors.Is(err, errCorruptLines) {
			continue
		}
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if !ordering.KnownStatus(order.Status) || len(order.Lines) == 0 {
		return nil, store.ErrInvalid
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now().UTC()
	}
	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, err
	}

	updated, err := s.scanOrder(s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET lines = $3, total = $4, status = $5, audit_note = $6, edited = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+orderColumns+`
	`, order.TenantID, order.ID, lines, order.Total, order.Status, order.AuditNote, order.Edited, order.UpdatedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.TenantID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Actor, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, tenantID string, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, password_hash, role, disabled, created_at
		FROM users
		WHERE tenant_id = $1 AND lower(email) = lower($2)
	`, tenantID, strings.TrimSpace(email)).Scan(&user.ID, &user.TenantID, &user.Email, &user.Password, &user.Role, &user.Disabled, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.CatalogEntry, error) {
	var (
		entry      domain.CatalogEntry
		adjustedAt sql.NullTime
	)
	err := row.Scan(&entry.ID, &entry.TenantID, &entry.Name, &entry.FullPrice, &entry.HalfPrice, &entry.Stock, &entry.Available, &entry.Category, &entry.LastAdjustmentReason, &adjustedAt, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	if adjustedAt.Valid {
		at := adjustedAt.Time.UTC()
		entry.LastAdjustedAt = &at
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

var errCorruptLines = errors.New("order lines do not decode")

func (s *Store) scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order domain.Order
		raw   []byte
	)
	err := row.Scan(&order.ID, &order.TenantID, &order.Code, &order.CustomerName, &order.CustomerPhone, &raw, &order.Total, &order.Status, &order.AuditNote, &order.Edited, &order.IdempotencyKey, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(raw, &order.Lines); err != nil || len(order.Lines) == 0 {
		s.logger.Warn("quarantined order with undecodable lines",
			zap.String("tenant_id", order.TenantID),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return domain.Order{}, fmt.Errorf("%w: order %s", errCorruptLines, order.ID)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
