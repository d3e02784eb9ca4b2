package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"stocky/backend/internal/cache"
	"stocky/backend/internal/domain"
	"stocky/backend/internal/events"
	"stocky/backend/internal/feed"
	"stocky/backend/internal/insights"
	"stocky/backend/internal/ordering"
	"stocky/backend/internal/store"
	"stocky/backend/internal/store/memory"
)

const tenant = memory.DemoTenantID

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService() (*Service, *memory.Store, *recordingPublisher) {
	repo := memory.NewSeeded()
	pub := &recordingPublisher{}
	reports := insights.NewEngine(cache.Noop{}, 5*time.Second, time.UTC)
	return New(repo, cache.Noop{}, reports, pub, nil), repo, pub
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "usr-demo-admin",
		Email:    "admin@demo.local",
		Role:     domain.RoleAdmin,
		TenantID: tenant,
	})
}

func placeOrder(t *testing.T, svc *Service, lines ...domain.OrderLineInput) domain.Order {
	t.Helper()
	order, err := svc.Checkout(context.Background(), tenant, domain.CheckoutRequest{
		CustomerName:  "Ana",
		CustomerPhone: "1155550000",
		Lines:         lines,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	return order
}

func TestCheckoutPricesAndDecrementsStock(t *testing.T) {
	svc, repo, pub := newTestService()

	order := placeOrder(t, svc, domain.OrderLineInput{EntryID: "jyq", Quantity: 1.5})
	if order.Total != 13000 {
		t.Fatalf("expected total 13000, got %d", order.Total)
	}
	if order.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if len(order.Code) != 6 || order.Code[2] != '-' {
		t.Fatalf("unexpected order code %q", order.Code)
	}

	entry, _ := repo.GetCatalogEntry(context.Background(), tenant, "jyq")
	if entry.Stock != 8.5 {
		t.Fatalf("expected stock 8.5, got %v", entry.Stock)
	}
	got := pub.types()
	if len(got) != 2 || got[0] != events.TypeOrderPlaced || got[1] != events.TypeStockAdjusted {
		t.Fatalf("expected order.placed then catalog.stock_adjusted, got %v", got)
	}
}

func TestCheckoutRefusesEntryWithoutStock(t *testing.T) {
	svc, repo, _ := newTestService()
	if _, err := repo.AdjustStock(context.Background(), tenant, store.StockDelta{EntryID: "pollo", Delta: -2, Reason: "sold out"}, time.Now().UTC()); err != nil {
		t.Fatalf("drain stock: %v", err)
	}

	_, err := svc.Checkout(context.Background(), tenant, domain.CheckoutRequest{
		CustomerName: "Ana", CustomerPhone: "11",
		Lines: []domain.OrderLineInput{{EntryID: "pollo", Quantity: 1}},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for entry without stock, got %v", err)
	}
}

func TestCheckoutStockReachesLiveView(t *testing.T) {
	repo := memory.NewSeeded()
	hub := feed.NewHub(8, nil)
	svc := New(repo, cache.Noop{}, insights.NewEngine(cache.Noop{}, 5*time.Second, time.UTC), hub, nil)

	stream, cancel := hub.Subscribe(tenant)
	defer cancel()
	storefront, catalog, orders, err := svc.LiveState(adminCtx(), tenant)
	if err != nil {
		t.Fatalf("live state: %v", err)
	}
	view := feed.NewView(tenant, storefront, catalog, orders)

	order := placeOrder(t, svc, domain.OrderLineInput{EntryID: "jyq", Quantity: 1.5})

	for i := 0; i < 2; i++ {
		select {
		case event := <-stream:
			if err := view.Apply(event); err != nil {
				t.Fatalf("apply %s: %v", event.Type, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected 2 events, got %d", i)
		}
	}

	snap := view.Snapshot()
	stock := -1.0
	for _, entry := range snap.Catalog {
		if entry.ID == "jyq" {
			stock = entry.Stock
		}
	}
	if stock != 8.5 {
		t.Fatalf("expected live stock 8.5, got %v", stock)
	}
	if len(snap.Orders) != 1 || snap.Orders[0].ID != order.ID {
		t.Fatalf("expected placed order in view, got %+v", snap.Orders)
	}
}

// racingRepo hides existing idempotency keys from the lookup, as when two
// checkouts with the same key pass it before either inserts.
type racingRepo struct {
	*memory.Store
}

func (racingRepo) FindOrderByIdempotency(context.Context, string, string) (*domain.Order, error) {
	return nil, store.ErrNotFound
}

func TestCheckoutReplayInsideRepositoryHasNoSideEffects(t *testing.T) {
	repo := racingRepo{Store: memory.NewSeeded()}
	pub := &recordingPublisher{}
	svc := New(repo, cache.Noop{}, insights.NewEngine(cache.Noop{}, 5*time.Second, time.UTC), pub, nil)
	req := domain.CheckoutRequest{
		CustomerName: "Ana", CustomerPhone: "11", IdempotencyKey: "cart-7",
		Lines: []domain.OrderLineInput{{EntryID: "jyq", Quantity: 1}},
	}

	first, err := svc.Checkout(context.Background(), tenant, req)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	published := len(pub.types())
	second, err := svc.Checkout(context.Background(), tenant, req)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same order, got %s and %s", first.ID, second.ID)
	}
	if len(pub.types()) != published {
		t.Fatalf("expected no events for replay, got %v", pub.types())
	}
	logs, err := svc.ListAuditLogs(adminCtx(), tenant, 50)
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	creates := 0
	for _, entry := range logs {
		if entry.Action == "order_create" {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("expected one order_create audit row, got %d", creates)
	}
	entry, _ := repo.GetCatalogEntry(context.Background(), tenant, "jyq")
	if entry.Stock != 9 {
		t.Fatalf("expected stock decremented once to 9, got %v", entry.Stock)
	}
}

func TestCheckoutOversellClampsStock(t *testing.T) {
	svc, repo, _ := newTestService()

	placeOrder(t, svc, domain.OrderLineInput{EntryID: "pollo", Quantity: 5})

	entry, _ := repo.GetCatalogEntry(context.Background(), tenant, "pollo")
	if entry.Stock != 0 {
		t.Fatalf("expected stock clamped to 0, got %v", entry.Stock)
	}
}

func TestCheckoutMergesDuplicateLines(t *testing.T) {
	svc, _, _ := newTestService()

	order := placeOrder(t, svc,
		domain.OrderLineInput{EntryID: "jyq", Quantity: 1},
		domain.OrderLineInput{EntryID: "jyq", Quantity: 0.5},
	)
	if len(order.Lines) != 1 || order.Lines[0].Quantity != 1.5 {
		t.Fatalf("expected single merged line of 1.5, got %+v", order.Lines)
	}
}

func TestCheckoutValidationWritesNothing(t *testing.T) {
	cases := []struct {
		name string
		req  domain.CheckoutRequest
	}{
		{"missing phone", domain.CheckoutRequest{CustomerName: "Ana", Lines: []domain.OrderLineInput{{EntryID: "jyq", Quantity: 1}}}},
		{"missing name", domain.CheckoutRequest{CustomerPhone: "11", Lines: []domain.OrderLineInput{{EntryID: "jyq", Quantity: 1}}}},
		{"no lines", domain.CheckoutRequest{CustomerName: "Ana", CustomerPhone: "11"}},
		{"odd quantity", domain.CheckoutRequest{CustomerName: "Ana", CustomerPhone: "11", Lines: []domain.OrderLineInput{{EntryID: "jyq", Quantity: 0.3}}}},
		{"unknown entry", domain.CheckoutRequest{CustomerName: "Ana", CustomerPhone: "11", Lines: []domain.OrderLineInput{{EntryID: "nope", Quantity: 1}}}},
		{"unavailable entry", domain.CheckoutRequest{CustomerName: "Ana", CustomerPhone: "11", Lines: []domain.OrderLineInput{{EntryID: "verdura", Quantity: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, pub := newTestService()
			_, err := svc.Checkout(context.Background(), tenant, tc.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			orders, _ := repo.ListOrders(context.Background(), tenant, domain.OrderFilter{})
			if len(orders) != 0 {
				t.Fatalf("expected no orders, got %d", len(orders))
			}
			if len(pub.types()) != 0 {
				t.Fatalf("expected no events")
			}
		})
	}
}

func TestCheckoutRejectedWhenClosed(t *testing.T) {
	svc, _, _ := newTestService()
	closed := false
	if _, err := svc.UpdateStorefront(adminCtx(), tenant, domain.StorefrontUpdateRequest{Open: &closed}); err != nil {
		t.Fatalf("close storefront: %v", err)
	}

	_, err := svc.Checkout(context.Background(), tenant, domain.CheckoutRequest{
		CustomerName: "Ana", CustomerPhone: "11",
		Lines: []domain.OrderLineInput{{EntryID: "jyq", Quantity: 1}},
	})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestCheckoutIdempotencyKeyReturnsSameOrder(t *testing.T) {
	svc, repo, _ := newTestService()
	req := domain.CheckoutRequest{
		CustomerName: "Ana", CustomerPhone: "11", IdempotencyKey: "cart-42",
		Lines: []domain.OrderLineInput{{EntryID: "jyq", Quantity: 1}},
	}

	first, err := svc.Checkout(context.Background(), tenant, req)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	second, err := svc.Checkout(context.Background(), tenant, req)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same order, got %s and %s", first.ID, second.ID)
	}
	entry, _ := repo.GetCatalogEntry(context.Background(), tenant, "jyq")
	if entry.Stock != 9 {
		t.Fatalf("expected stock decremented once to 9, got %v", entry.Stock)
	}
}

func TestCancelRequiresNote(t *testing.T) {
	svc, repo, pub := newTestService()
	order := placeOrder(t, svc, domain.OrderLineInput{EntryID: "jyq", Quantity: 1})
	before := len(pub.types())

	_, err := svc.SetOrderStatus(adminCtx(), tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusCancelled, Note: "  "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	stored, _ := repo.GetOrder(context.Background(), tenant, order.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected order untouched, got %s", stored.Status)
	}
	if len(pub.types()) != before {
		t.Fatalf("expected no event for rejected cancellation")
	}

	cancelled, err := svc.SetOrderStatus(adminCtx(), tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusCancelled, Note: "customer never came"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.AuditNote != "customer never came" {
		t.Fatalf("expected audit note, got %q", cancelled.AuditNote)
	}
}

func TestStatusTransitions(t *testing.T) {
	svc, _, _ := newTestService()
	order := placeOrder(t, svc, domain.OrderLineInput{EntryID: "jyq", Quantity: 1})
	ctx := adminCtx()

	steps := []domain.OrderStatusRequest{
		{Status: domain.StatusPaidCash},
		{Status: domain.StatusPaidTransfer},
		{Status: domain.StatusCancelled, Note: "duplicate"},
		{Status: domain.StatusPending},
	}
	for _, step := range steps {
		updated, err := svc.SetOrderStatus(ctx, tenant, order.ID, step)
		if err != nil {
			t.Fatalf("transition to %s: %v", step.Status, err)
		}
		if updated.Status != step.Status {
			t.Fatalf("expected %s, got %s", step.Status, updated.Status)
		}
	}

	if _, err := svc.SetOrderStatus(ctx, tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusCancelled, Note: "again"}); err != nil {
		t.Fatalf("cancel again: %v", err)
	}
	_, err := svc.SetOrderStatus(ctx, tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusPaidCash})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected cancelled -> paid to be rejected, got %v", err)
	}
}

func TestRecancelReplacesNoteAndSameStatusIsNoop(t *testing.T) {
	svc, _, pub := newTestService()
	order := placeOrder(t, svc, domain.OrderLineInput{EntryID: "jyq", Quantity: 1})
	ctx := adminCtx()

	paid, err := svc.SetOrderStatus(ctx, tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusPaidCash})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	before := len(pub.types())
	again, err := svc.SetOrderStatus(ctx, tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusPaidCash})
	if err != nil {
		t.Fatalf("expected repeated paid_cash to succeed, got %v", err)
	}
	if again.Status != domain.StatusPaidCash || !again.UpdatedAt.Equal(paid.UpdatedAt) {
		t.Fatalf("expected unchanged order, got %+v", again)
	}
	if len(pub.types()) != before {
		t.Fatalf("expected no event for unchanged status")
	}

	if _, err := svc.SetOrderStatus(ctx, tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusCancelled, Note: "no show"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	renoted, err := svc.SetOrderStatus(ctx, tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusCancelled, Note: "paid elsewhere"})
	if err != nil {
		t.Fatalf("re-cancel: %v", err)
	}
	if renoted.AuditNote != "paid elsewhere" {
		t.Fatalf("expected note replaced, got %q", renoted.AuditNote)
	}
	if _, err := svc.SetOrderStatus(ctx, tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusCancelled}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected re-cancel without note to be rejected, got %v", err)
	}
}

func TestEditOrderRequiresReasonAndRecalculates(t *testing.T) {
	svc, _, _ := newTestService()
	order := placeOrder(t, svc,
		domain.OrderLineInput{EntryID: "jyq", Quantity: 1},
		domain.OrderLineInput{EntryID: "carne", Quantity: 0.5},
	)
	ctx := adminCtx()

	_, err := svc.EditOrder(ctx, tenant, order.ID, domain.OrderEditRequest{
		Adjustments: []domain.LineAdjustment{{EntryID: "jyq", Delta: 0.5}},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without reason, got %v", err)
	}

	newPrice := int64(10000)
	if _, err := svc.UpdateEntry(ctx, tenant, "jyq", domain.CatalogEntryUpdateRequest{FullPrice: &newPrice}); err != nil {
		t.Fatalf("update price: %v", err)
	}

	edited, err := svc.EditOrder(ctx, tenant, order.ID, domain.OrderEditRequest{
		Adjustments: []domain.LineAdjustment{{EntryID: "carne", Delta: -0.5}},
		Reason:      "customer changed mind",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(edited.Lines) != 1 || edited.Lines[0].EntryID != "jyq" {
		t.Fatalf("expected carne line pruned, got %+v", edited.Lines)
	}
	if edited.Total != 10000 {
		t.Fatalf("expected total from live price 10000, got %d", edited.Total)
	}
	if !edited.Edited || edited.AuditNote != ordering.EditNote("customer changed mind") {
		t.Fatalf("expected edited marker, got edited=%v note=%q", edited.Edited, edited.AuditNote)
	}
}

func TestEditOrderManualTotalOverride(t *testing.T) {
	svc, repo, _ := newTestService()
	order := placeOrder(t, svc, domain.OrderLineInput{EntryID: "jyq", Quantity: 2})

	manual := int64(15000)
	edited, err := svc.EditOrder(adminCtx(), tenant, order.ID, domain.OrderEditRequest{
		ManualTotal: &manual,
		Reason:      "loyalty discount",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Total != 15000 {
		t.Fatalf("expected manual total, got %d", edited.Total)
	}

	logs, _ := repo.ListAuditLogs(context.Background(), tenant, 10)
	found := false
	for _, entry := range logs {
		if entry.Action == "order_edit" && strings.Contains(entry.Detail, "previous_total=17000") && strings.Contains(entry.Detail, "new_total=15000") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected order_edit audit log with totals, got %+v", logs)
	}
}

func TestEditCancelledOrderRejected(t *testing.T) {
	svc, _, _ := newTestService()
	order := placeOrder(t, svc, domain.OrderLineInput{EntryID: "jyq", Quantity: 1})
	ctx := adminCtx()
	if _, err := svc.SetOrderStatus(ctx, tenant, order.ID, domain.OrderStatusRequest{Status: domain.StatusCancelled, Note: "x"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := svc.EditOrder(ctx, tenant, order.ID, domain.OrderEditRequest{
		Lines:  []domain.OrderLineInput{{EntryID: "jyq", Quantity: 2}},
		Reason: "late change",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAdjustStockQuickAndAudited(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := adminCtx()

	adj, err := svc.AdjustStock(ctx, tenant, "humita", domain.StockAdjustRequest{Delta: -1})
	if err != nil {
		t.Fatalf("quick adjust: %v", err)
	}
	if adj.Reason != ordering.QuickAdjustReason || adj.Stock != 3 {
		t.Fatalf("unexpected quick adjustment %+v", adj)
	}

	_, err = svc.AdjustStock(ctx, tenant, "humita", domain.StockAdjustRequest{Delta: -10})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected reason required, got %v", err)
	}

	adj, err = svc.AdjustStock(ctx, tenant, "humita", domain.StockAdjustRequest{Delta: -10, Reason: "dropped tray"})
	if err != nil {
		t.Fatalf("audited adjust: %v", err)
	}
	if adj.Stock != 0 || adj.Previous != 3 {
		t.Fatalf("expected 3 -> 0, got %+v", adj)
	}
	entry, _ := repo.GetCatalogEntry(context.Background(), tenant, "humita")
	if entry.LastAdjustmentReason != "dropped tray" {
		t.Fatalf("expected reason on entry, got %q", entry.LastAdjustmentReason)
	}
}

func TestAdminOperationsRequireTenantActor(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.AdjustStock(context.Background(), tenant, "jyq", domain.StockAdjustRequest{Delta: 1})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without actor, got %v", err)
	}

	otherTenant := WithActor(context.Background(), domain.Actor{Email: "x@y", Role: domain.RoleAdmin, TenantID: "other"})
	_, err = svc.ListCatalog(otherTenant, tenant)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for other tenant, got %v", err)
	}

	staff := WithActor(context.Background(), domain.Actor{Email: "s@demo", Role: domain.RoleStaff, TenantID: tenant})
	if err := svc.DeleteEntry(staff, tenant, "jyq"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected staff delete forbidden, got %v", err)
	}
}

func TestCatalogCrudAndPublicView(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := adminCtx()

	created, err := svc.CreateEntry(ctx, tenant, domain.CatalogEntryCreateRequest{Name: "Caprese", FullPrice: 9000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.HalfPrice != ordering.DefaultHalfPrice(9000) || created.Stock != 0 || created.Category != "general" {
		t.Fatalf("unexpected defaults %+v", created)
	}

	public, err := svc.PublicCatalog(context.Background(), tenant)
	if err != nil {
		t.Fatalf("public catalog: %v", err)
	}
	for _, entry := range public {
		if entry.ID == "verdura" {
			t.Fatalf("unavailable entry leaked into public catalog")
		}
		if entry.ID == created.ID && entry.Available {
			t.Fatalf("entry without stock should not be orderable")
		}
	}

	if _, err := svc.SetAvailability(ctx, tenant, created.ID, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := svc.DeleteEntry(ctx, tenant, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteEntry(ctx, tenant, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	got := pub.types()
	want := []string{events.TypeEntryUpserted, events.TypeEntryUpserted, events.TypeEntryDeleted}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestReportAndPaidOrders(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := adminCtx()

	paid := placeOrder(t, svc, domain.OrderLineInput{EntryID: "jyq", Quantity: 1.5})
	placeOrder(t, svc, domain.OrderLineInput{EntryID: "carne", Quantity: 1})
	if _, err := svc.SetOrderStatus(ctx, tenant, paid.ID, domain.OrderStatusRequest{Status: domain.StatusPaidTransfer}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	report, err := svc.Report(ctx, tenant, domain.PeriodToday)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.PaidOrders != 1 || report.TransferTotal != 13000 || report.CashTotal != 0 {
		t.Fatalf("unexpected totals %+v", report)
	}

	orders, err := svc.PaidOrders(ctx, tenant, domain.PeriodToday)
	if err != nil {
		t.Fatalf("paid orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != paid.ID {
		t.Fatalf("expected only the paid order, got %+v", orders)
	}

	if _, err := svc.Report(ctx, tenant, "decade"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown period, got %v", err)
	}
}
