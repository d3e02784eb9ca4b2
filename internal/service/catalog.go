package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stocky/backend/internal/cache"
	"stocky/backend/internal/domain"
	"stocky/backend/internal/events"
	"stocky/backend/internal/ordering"
	"stocky/backend/internal/store"
)

const defaultCategory = "general"

func (s *Service) GetStorefront(ctx context.Context, tenantID string) (domain.Tenant, error) {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, err
	}
	return *tenant, nil
}

func (s *Service) UpdateStorefront(ctx context.Context, tenantID string, req domain.StorefrontUpdateRequest) (domain.Tenant, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin); err != nil {
		return domain.Tenant{}, err
	}

	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, err
	}
	updated := *tenant
	if name, ok := trimmed(req.Name); ok {
		if name == "" {
			return domain.Tenant{}, validation("name cannot be empty")
		}
		updated.Name = name
	}
	if subtitle, ok := trimmed(req.Subtitle); ok {
		updated.Subtitle = subtitle
	}
	if whatsapp, ok := trimmed(req.WhatsApp); ok {
		updated.WhatsApp = whatsapp
	}
	if logo, ok := trimmed(req.LogoURL); ok {
		updated.LogoURL = logo
	}
	if req.Open != nil {
		updated.Open = *req.Open
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateTenant(ctx, updated)
	if err != nil {
		return domain.Tenant{}, err
	}

	s.logAudit(ctx, tenantID, "storefront_update", "tenant", tenantID, fmt.Sprintf("name=%s,open=%t", saved.Name, saved.Open))
	s.publish(ctx, events.TypeStorefrontUpdated, tenantID, saved)
	return *saved, nil
}

// ListCatalog returns every entry of the tenant, including unavailable ones.
func (s *Service) ListCatalog(ctx context.Context, tenantID string) ([]domain.CatalogEntry, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin, domain.RoleStaff); err != nil {
		return nil, err
	}
	return s.repo.ListCatalog(ctx, tenantID)
}

// PublicCatalog returns the entries customers may see, with Available reflecting
// whether the entry can be ordered right now.
func (s *Service) PublicCatalog(ctx context.Context, tenantID string) ([]domain.CatalogEntry, error) {
	key := cache.CatalogKey(tenantID)
	var cached []domain.CatalogEntry
	if ok, err := s.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("catalog cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}

	if _, err := s.repo.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListCatalog(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.CatalogEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Available {
			continue
		}
		entry.Available = entry.Orderable()
		entry.LastAdjustmentReason = ""
		entry.LastAdjustedAt = nil
		visible = append(visible, entry)
	}

	if err := s.cache.Set(ctx, key, visible, s.catalogTTL); err != nil {
		s.logger.Warn("catalog cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return visible, nil
}

func (s *Service) CreateEntry(ctx context.Context, tenantID string, req domain.CatalogEntryCreateRequest) (domain.CatalogEntry, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin); err != nil {
		return domain.CatalogEntry{}, err
	}

	name := strings.TrimSpace(req.Name)
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = defaultCategory
	}
	if name == "" {
		return domain.CatalogEntry{}, validation("name is required")
	}
	if req.FullPrice < 1 {
		return domain.CatalogEntry{}, validation("full_price must be positive")
	}
	if req.Stock < 0 || !ordering.IsHalfStep(req.Stock) {
		return domain.CatalogEntry{}, validation("stock must be a non-negative multiple of 0.5")
	}
	halfPrice := ordering.DefaultHalfPrice(req.FullPrice)
	if req.HalfPrice != nil {
		if *req.HalfPrice < 0 {
			return domain.CatalogEntry{}, validation("half_price cannot be negative")
		}
		halfPrice = *req.HalfPrice
	}
	available := true
	if req.Available != nil {
		available = *req.Available
	}

	created, err := s.repo.CreateCatalogEntry(ctx, domain.CatalogEntry{
		TenantID:  tenantID,
		Name:      name,
		FullPrice: req.FullPrice,
		HalfPrice: halfPrice,
		Stock:     req.Stock,
		Available: available,
		Category:  category,
	})
	if err != nil {
		return domain.CatalogEntry{}, err
	}

	s.logAudit(ctx, tenantID, "entry_create", "catalog_entry", created.ID, fmt.Sprintf("name=%s,full=%d,half=%d,stock=%g", created.Name, created.FullPrice, created.HalfPrice, created.Stock))
	s.invalidateCatalog(ctx, tenantID)
	s.publish(ctx, events.TypeEntryUpserted, tenantID, created)
	return *created, nil
}

func (s *Service) UpdateEntry(ctx context.Context, tenantID string, entryID string, req domain.CatalogEntryUpdateRequest) (domain.CatalogEntry, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin); err != nil {
		return domain.CatalogEntry{}, err
	}

	existing, err := s.repo.GetCatalogEntry(ctx, tenantID, entryID)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	updated := *existing
	if name, ok := trimmed(req.Name); ok {
		if name == "" {
			return domain.CatalogEntry{}, validation("name cannot be empty")
		}
		updated.Name = name
	}
	if category, ok := trimmed(req.Category); ok {
		if category == "" {
			category = defaultCategory
		}
		updated.Category = category
	}
	if req.FullPrice != nil {
		if *req.FullPrice < 1 {
			return domain.CatalogEntry{}, validation("full_price must be positive")
		}
		updated.FullPrice = *req.FullPrice
	}
	if req.HalfPrice != nil {
		if *req.HalfPrice < 0 {
			return domain.CatalogEntry{}, validation("half_price cannot be negative")
		}
		updated.HalfPrice = *req.HalfPrice
	}
	if req.Available != nil {
		updated.Available = *req.Available
	}

	saved, err := s.repo.UpdateCatalogEntry(ctx, updated)
	if err != nil {
		return domain.CatalogEntry{}, err
	}

	if existing.FullPrice != saved.FullPrice || existing.HalfPrice != saved.HalfPrice {
		s.logAudit(ctx, tenantID, "entry_price_change", "catalog_entry", saved.ID, fmt.Sprintf("full=%d->%d,half=%d->%d", existing.FullPrice, saved.FullPrice, existing.HalfPrice, saved.HalfPrice))
	} else {
		s.logAudit(ctx, tenantID, "entry_update", "catalog_entry", saved.ID, fmt.Sprintf("name=%s,available=%t", saved.Name, saved.Available))
	}
	s.invalidateCatalog(ctx, tenantID)
	s.publish(ctx, events.TypeEntryUpserted, tenantID, saved)
	return *saved, nil
}

func (s *Service) SetAvailability(ctx context.Context, tenantID string, entryID string, available bool) (domain.CatalogEntry, error) {
	return s.UpdateEntry(ctx, tenantID, entryID, domain.CatalogEntryUpdateRequest{Available: &available})
}

func (s *Service) DeleteEntry(ctx context.Context, tenantID string, entryID string) error {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteCatalogEntry(ctx, tenantID, entryID); err != nil {
		return err
	}

	s.logAudit(ctx, tenantID, "entry_delete", "catalog_entry", entryID, "")
	s.invalidateCatalog(ctx, tenantID)
	s.publish(ctx, events.TypeEntryDeleted, tenantID, events.EntryRef{ID: entryID})
	return nil
}

// AdjustStock applies a signed delta with the result floored at zero. Small
// deltas without a reason are recorded as quick adjustments.
func (s *Service) AdjustStock(ctx context.Context, tenantID string, entryID string, req domain.StockAdjustRequest) (domain.StockAdjustment, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin, domain.RoleStaff); err != nil {
		return domain.StockAdjustment{}, err
	}

	reason, err := ordering.StockReason(req.Delta, req.Reason)
	if err != nil {
		return domain.StockAdjustment{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	adj, err := s.repo.AdjustStock(ctx, tenantID, store.StockDelta{EntryID: entryID, Delta: req.Delta, Reason: reason}, s.now())
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.logAudit(ctx, tenantID, "stock_adjust", "catalog_entry", entryID, fmt.Sprintf("previous=%g,delta=%g,stock=%g,reason=%s", adj.Previous, adj.Delta, adj.Stock, adj.Reason))
	if adj.Previous+adj.Delta < 0 {
		s.logger.Info("stock clamped at zero",
			zap.String("tenant_id", tenantID),
			zap.String("entry_id", entryID),
			zap.Float64("previous", adj.Previous),
			zap.Float64("delta", adj.Delta),
		)
	}
	s.invalidateCatalog(ctx, tenantID)
	s.publish(ctx, events.TypeStockAdjusted, tenantID, adj)
	return adj, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
