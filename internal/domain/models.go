package domain

import "time"

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

const (
	StatusPending      = "pending"
	StatusPaidCash     = "paid_cash"
	StatusPaidTransfer = "paid_transfer"
	StatusCancelled    = "cancelled"
)

const (
	PeriodToday = "today"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodAll   = "all"
)

type Actor struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// Tenant is one onboarded business together with its public storefront settings.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subtitle  string    `json:"subtitle"`
	WhatsApp  string    `json:"whatsapp"`
	LogoURL   string    `json:"logo_url"`
	Open      bool      `json:"open"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StorefrontUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Subtitle *string `json:"subtitle,omitempty"`
	WhatsApp *string `json:"whatsapp,omitempty"`
	LogoURL  *string `json:"logo_url,omitempty"`
	Open     *bool   `json:"open,omitempty"`
}

// CatalogEntry is a sellable item. Stock is counted in dozens with 0.5 granularity
// and never drops below zero.
type CatalogEntry struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	Name                 string     `json:"name"`
	FullPrice            int64      `json:"full_price"`
	HalfPrice            int64      `json:"half_price"`
	Stock                float64    `json:"stock"`
	Available            bool       `json:"available"`
	Category             string     `json:"category"`
	LastAdjustmentReason string     `json:"last_adjustment_reason,omitempty"`
	LastAdjustedAt       *time.Time `json:"last_adjusted_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Orderable reports whether customers can currently add the entry to a cart.
func (e CatalogEntry) Orderable() bool {
	return e.Available && e.Stock > 0
}

type CatalogEntryCreateRequest struct {
	Name      string  `json:"name"`
	FullPrice int64   `json:"full_price"`
	HalfPrice *int64  `json:"half_price,omitempty"`
	Stock     float64 `json:"stock"`
	Available *bool   `json:"available,omitempty"`
	Category  string  `json:"category"`
}

type CatalogEntryUpdateRequest struct {
	Name      *string `json:"name,omitempty"`
	FullPrice *int64  `json:"full_price,omitempty"`
	HalfPrice *int64  `json:"half_price,omitempty"`
	Available *bool   `json:"available,omitempty"`
	Category  *string `json:"category,omitempty"`
}

type AvailabilityRequest struct {
	Available bool `json:"available"`
}

type StockAdjustRequest struct {
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason"`
}

type StockAdjustment struct {
	EntryID  string    `json:"entry_id"`
	Previous float64   `json:"previous"`
	Delta    float64   `json:"delta"`
	Stock    float64   `json:"stock"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// OrderLine carries name and price snapshots taken when the line was added.
type OrderLine struct {
	EntryID   string  `json:"entry_id"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	FullPrice int64   `json:"full_price"`
	HalfPrice int64   `json:"half_price"`
}

type Order struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenant_id"`
	Code           string      `json:"code"`
	CustomerName   string      `json:"customer_name"`
	CustomerPhone  string      `json:"customer_phone"`
	Lines          []OrderLine `json:"lines"`
	Total          int64       `json:"total"`
	Status         string      `json:"status"`
	AuditNote      string      `json:"audit_note,omitempty"`
	Edited         bool        `json:"edited"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type OrderLineInput struct {
	EntryID  string  `json:"entry_id"`
	Quantity float64 `json:"quantity"`
}

type CheckoutRequest struct {
	CustomerName   string           `json:"customer_name"`
	CustomerPhone  string           `json:"customer_phone"`
	Lines          []OrderLineInput `json:"lines"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

type LineAdjustment struct {
	EntryID string  `json:"entry_id"`
	Delta   float64 `json:"delta"`
}

type OrderEditRequest struct {
	Lines       []OrderLineInput `json:"lines,omitempty"`
	Adjustments []LineAdjustment `json:"adjustments,omitempty"`
	ManualTotal *int64           `json:"manual_total,omitempty"`
	Reason      string           `json:"reason"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type OrderFilter struct {
	Status string
	From   time.Time
	To     time.Time
	Limit  int
}

type AuditLog struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type UserAccount struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

type StockAlert struct {
	EntryID string  `json:"entry_id"`
	Name    string  `json:"name"`
	Stock   float64 `json:"stock"`
}

type HourCount struct {
	Hour   int `json:"hour"`
	Orders int `json:"orders"`
}

type ClientStat struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Orders int    `json:"orders"`
	Spent  int64  `json:"spent"`
}

type EntrySales struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
}

type MonthlyTopEntry struct {
	Month    int     `json:"month"`
	Name     string  `json:"name,omitempty"`
	Quantity float64 `json:"quantity"`
}

type Report struct {
	TenantID       string            `json:"tenant_id"`
	Period         string            `json:"period"`
	From           time.Time         `json:"from"`
	To             time.Time         `json:"to"`
	PaidOrders     int               `json:"paid_orders"`
	CashTotal      int64             `json:"cash_total"`
	TransferTotal  int64             `json:"transfer_total"`
	PaidTotal      int64             `json:"paid_total"`
	AverageTicket  int64             `json:"average_ticket"`
	InventoryValue int64             `json:"inventory_value"`
	CriticalStock  []StockAlert      `json:"critical_stock"`
	SlowMovers     []StockAlert      `json:"slow_movers"`
	PeakHours      []HourCount       `json:"peak_hours"`
	TopClients     []ClientStat      `json:"top_clients"`
	EntryRanking   []EntrySales      `json:"entry_ranking"`
	MonthlyTop     []MonthlyTopEntry `json:"monthly_top"`
	GeneratedAt    time.Time         `json:"generated_at"`
}
