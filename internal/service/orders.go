package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stocky/backend/internal/domain"
	"stocky/backend/internal/events"
	"stocky/backend/internal/ordering"
	"stocky/backend/internal/store"
)

const maxCheckoutLines = 50

// Checkout places a pending order and decrements stock for every line. Entries
// with no stock left are refused; a line larger than what remains is still sold
// and stock is floored at zero.
func (s *Service) Checkout(ctx context.Context, tenantID string, req domain.CheckoutRequest) (domain.Order, error) {
	name := strings.TrimSpace(req.CustomerName)
	phone := strings.TrimSpace(req.CustomerPhone)
	if name == "" || phone == "" {
		return domain.Order{}, validation("customer name and phone are required")
	}
	if len(req.Lines) == 0 {
		return domain.Order{}, validation("order needs at least one line")
	}
	if len(req.Lines) > maxCheckoutLines {
		return domain.Order{}, validation("order has too many lines")
	}
	for _, line := range req.Lines {
		if strings.TrimSpace(line.EntryID) == "" {
			return domain.Order{}, validation("line entry_id is required")
		}
		if line.Quantity <= 0 || !ordering.IsHalfStep(line.Quantity) {
			return domain.Order{}, validation("quantity for %s must be a positive multiple of 0.5", line.EntryID)
		}
	}
	idemKey := strings.TrimSpace(req.IdempotencyKey)

	if idemKey != "" {
		existing, err := s.repo.FindOrderByIdempotency(ctx, tenantID, idemKey)
		if err == nil {
			return *existing, nil
		}
		if !isNotFound(err) {
			return domain.Order{}, err
		}
	}

	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.Order{}, err
	}
	if !tenant.Open {
		return domain.Order{}, ErrClosed
	}

	inputs := ordering.Merge(req.Lines)
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.EntryID)
	}
	catalog, err := s.repo.GetCatalogEntries(ctx, tenantID, ids)
	if err != nil {
		return domain.Order{}, err
	}

	lines := make([]domain.OrderLine, 0, len(inputs))
	deltas := make([]store.StockDelta, 0, len(inputs))
	code := ordering.NewCode()
	for _, in := range inputs {
		entry, ok := catalog[in.EntryID]
		if !ok {
			return domain.Order{}, validation("entry %s does not exist", in.EntryID)
		}
		if !entry.Orderable() {
			return domain.Order{}, validation("%s is not available", entry.Name)
		}
		lines = append(lines, ordering.Snapshot(entry, in.Quantity))
		deltas = append(deltas, store.StockDelta{EntryID: entry.ID, Delta: -in.Quantity, Reason: "order " + code})
	}

	placed, err := s.repo.CreateOrder(ctx, domain.Order{
		TenantID:       tenantID,
		Code:           code,
		CustomerName:   name,
		CustomerPhone:  phone,
		Lines:          lines,
		Total:          ordering.Total(lines),
		Status:         domain.StatusPending,
		IdempotencyKey: idemKey,
		CreatedAt:      s.now(),
	}, deltas)
	if err != nil {
		return domain.Order{}, err
	}
	created := placed.Order
	if placed.Replayed {
		// a concurrent checkout with the same key won the insert
		return *created, nil
	}

	for _, adj := range placed.Adjustments {
		if adj.Previous+adj.Delta < 0 {
			s.logger.Info("order oversold entry",
				zap.String("tenant_id", tenantID),
				zap.String("order_code", created.Code),
				zap.String("entry_id", adj.EntryID),
				zap.Float64("stock", adj.Previous),
				zap.Float64("quantity", -adj.Delta),
			)
		}
	}

	s.logAudit(ctx, tenantID, "order_create", "order", created.ID, fmt.Sprintf("code=%s,total=%d,lines=%d", created.Code, created.Total, len(created.Lines)))
	s.invalidateCatalog(ctx, tenantID)
	s.publish(ctx, events.TypeOrderPlaced, tenantID, created)
	for _, adj := range placed.Adjustments {
		s.publish(ctx, events.TypeStockAdjusted, tenantID, adj)
	}
	return *created, nil
}

func (s *Service) ListOrders(ctx context.Context, tenantID string, status string, period string, limit int) ([]domain.Order, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin, domain.RoleStaff); err != nil {
		return nil, err
	}
	if status != "" && !ordering.KnownStatus(status) {
		return nil, validation("unknown status %q", status)
	}
	filter := domain.OrderFilter{Status: status, Limit: limit}
	if period != "" {
		from, err := s.reports.PeriodStart(period, s.now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		filter.From = from
	}
	return s.repo.ListOrders(ctx, tenantID, filter)
}

func (s *Service) GetOrder(ctx context.Context, tenantID string, orderID string) (domain.Order, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin, domain.RoleStaff); err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// SetOrderStatus overwrites the status. Cancelling records the note as the
// order's audit note and is rejected without one.
func (s *Service) SetOrderStatus(ctx context.Context, tenantID string, orderID string, req domain.OrderStatusRequest) (domain.Order, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin, domain.RoleStaff); err != nil {
		return domain.Order{}, err
	}

	to := strings.TrimSpace(req.Status)
	note := strings.TrimSpace(req.Note)
	if to == domain.StatusCancelled && note == "" {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrValidation, ordering.ErrNoteRequired)
	}

	order, err := s.repo.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	from := order.Status
	if from == to && to != domain.StatusCancelled {
		return *order, nil
	}
	if err := ordering.ValidateTransition(from, to, note); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	order.Status = to
	if to == domain.StatusCancelled {
		order.AuditNote = note
	}
	order.UpdatedAt = s.now()

	updated, err := s.repo.UpdateOrder(ctx, *order)
	if err != nil {
		return domain.Order{}, err
	}

	detail := fmt.Sprintf("from=%s,to=%s", from, to)
	if note != "" {
		detail += ",note=" + note
	}
	s.logAudit(ctx, tenantID, "order_status", "order", updated.ID, detail)
	s.publish(ctx, events.TypeOrderUpdated, tenantID, updated)
	return *updated, nil
}

// EditOrder changes lines or the total of a non-cancelled order. The total is
// recomputed from live catalog prices unless a manual total is supplied.
func (s *Service) EditOrder(ctx context.Context, tenantID string, orderID string, req domain.OrderEditRequest) (domain.Order, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin); err != nil {
		return domain.Order{}, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Order{}, validation("reason is required to edit an order")
	}
	if req.ManualTotal != nil && *req.ManualTotal < 0 {
		return domain.Order{}, validation("manual_total cannot be negative")
	}
	for _, line := range req.Lines {
		if line.Quantity < 0 || !ordering.IsHalfStep(line.Quantity) {
			return domain.Order{}, validation("quantity for %s must be a non-negative multiple of 0.5", line.EntryID)
		}
	}
	for _, adj := range req.Adjustments {
		if adj.Delta == 0 || !ordering.IsHalfStep(adj.Delta) {
			return domain.Order{}, validation("adjustment for %s must be a non-zero multiple of 0.5", adj.EntryID)
		}
	}

	order, err := s.repo.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !ordering.Editable(order.Status) {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrValidation, ordering.ErrOrderNotEditable)
	}

	ids := make([]string, 0, len(order.Lines)+len(req.Lines)+len(req.Adjustments))
	for _, line := range order.Lines {
		ids = append(ids, line.EntryID)
	}
	for _, line := range req.Lines {
		ids = append(ids, line.EntryID)
	}
	for _, adj := range req.Adjustments {
		ids = append(ids, adj.EntryID)
	}
	catalog, err := s.repo.GetCatalogEntries(ctx, tenantID, ids)
	if err != nil {
		return domain.Order{}, err
	}

	lines := order.Lines
	if req.Lines != nil {
		lines, err = replaceLines(order.Lines, ordering.Merge(req.Lines), catalog)
		if err != nil {
			return domain.Order{}, err
		}
	}
	for _, adj := range req.Adjustments {
		snapshot := domain.OrderLine{}
		if entry, ok := catalog[adj.EntryID]; ok {
			snapshot = ordering.Snapshot(entry, 0)
		} else if adj.Delta > 0 && !hasLine(lines, adj.EntryID) {
			return domain.Order{}, validation("entry %s does not exist", adj.EntryID)
		}
		lines = ordering.AdjustLine(lines, adj.EntryID, adj.Delta, snapshot)
	}
	lines = ordering.Prune(lines)
	if len(lines) == 0 {
		return domain.Order{}, validation("an order must keep at least one line; cancel it instead")
	}

	computed := ordering.TotalFromCatalog(lines, catalog)
	total := computed
	if req.ManualTotal != nil {
		total = *req.ManualTotal
	}
	previousTotal := order.Total

	order.Lines = lines
	order.Total = total
	order.AuditNote = ordering.EditNote(reason)
	order.Edited = true
	order.UpdatedAt = s.now()

	updated, err := s.repo.UpdateOrder(ctx, *order)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, tenantID, "order_edit", "order", updated.ID, fmt.Sprintf("previous_total=%d,new_total=%d,computed_total=%d,reason=%s", previousTotal, updated.Total, computed, reason))
	s.publish(ctx, events.TypeOrderUpdated, tenantID, updated)
	return *updated, nil
}

// replaceLines swaps the order's lines for inputs. Lines already on the order
// keep their price snapshot; new ones are snapshotted from the catalog.
func replaceLines(current []domain.OrderLine, inputs []domain.OrderLineInput, catalog map[string]domain.CatalogEntry) ([]domain.OrderLine, error) {
	existing := make(map[string]domain.OrderLine, len(current))
	for _, line := range current {
		existing[line.EntryID] = line
	}
	lines := make([]domain.OrderLine, 0, len(inputs))
	for _, in := range inputs {
		if line, ok := existing[in.EntryID]; ok {
			line.Quantity = in.Quantity
			lines = append(lines, line)
			continue
		}
		entry, ok := catalog[in.EntryID]
		if !ok {
			return nil, validation("entry %s does not exist", in.EntryID)
		}
		lines = append(lines, ordering.Snapshot(entry, in.Quantity))
	}
	return lines, nil
}

func hasLine(lines []domain.OrderLine, entryID string) bool {
	for _, line := range lines {
		if line.EntryID == entryID {
			return true
		}
	}
	return false
}
