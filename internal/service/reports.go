package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"stocky/backend/internal/domain"
	"stocky/backend/internal/ordering"
)

func (s *Service) Report(ctx context.Context, tenantID string, period string) (domain.Report, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin); err != nil {
		return domain.Report{}, err
	}
	now := s.now()
	if _, err := s.reports.PeriodStart(period, now); err != nil {
		return domain.Report{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	catalog, err := s.repo.ListCatalog(ctx, tenantID)
	if err != nil {
		return domain.Report{}, err
	}
	// the monthly ranking spans the whole year, so the report reads every order
	orders, err := s.repo.ListOrders(ctx, tenantID, domain.OrderFilter{})
	if err != nil {
		return domain.Report{}, err
	}
	return s.reports.Build(ctx, tenantID, period, now, catalog, orders)
}

// PaidOrders lists paid orders of the period, newest first, for export.
func (s *Service) PaidOrders(ctx context.Context, tenantID string, period string) ([]domain.Order, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin); err != nil {
		return nil, err
	}
	from, err := s.reports.PeriodStart(period, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	orders, err := s.repo.ListOrders(ctx, tenantID, domain.OrderFilter{From: from})
	if err != nil {
		return nil, err
	}
	paid := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if ordering.IsPaid(order.Status) {
			paid = append(paid, order)
		}
	}
	slices.SortFunc(paid, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return paid, nil
}

// LiveState loads what a live feed subscriber starts from.
func (s *Service) LiveState(ctx context.Context, tenantID string) (*domain.Tenant, []domain.CatalogEntry, []domain.Order, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin, domain.RoleStaff); err != nil {
		return nil, nil, nil, err
	}
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, nil, err
	}
	catalog, err := s.repo.ListCatalog(ctx, tenantID)
	if err != nil {
		return nil, nil, nil, err
	}
	orders, err := s.repo.ListOrders(ctx, tenantID, domain.OrderFilter{})
	if err != nil {
		return nil, nil, nil, err
	}
	return tenant, catalog, orders, nil
}

// Location is the zone reports bucket days and hours in.
func (s *Service) Location() *time.Location {
	return s.reports.Location()
}
