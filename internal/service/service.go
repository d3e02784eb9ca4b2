package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"stocky/backend/internal/cache"
	"stocky/backend/internal/domain"
	"stocky/backend/internal/events"
	"stocky/backend/internal/insights"
	"stocky/backend/internal/store"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrClosed     = errors.New("storefront is closed")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	cache      cache.Cache
	reports    *insights.Engine
	publisher  events.Publisher
	logger     *zap.Logger
	catalogTTL time.Duration
	now        func() time.Time
}

func New(repo store.Repository, cacheStore cache.Cache, reports *insights.Engine, publisher events.Publisher, logger *zap.Logger) *Service {
	if cacheStore == nil {
		cacheStore = cache.Noop{}
	}
	if reports == nil {
		reports = insights.NewEngine(cacheStore, 0, time.UTC)
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:       repo,
		cache:      cacheStore,
		reports:    reports,
		publisher:  publisher,
		logger:     logger.Named("service"),
		catalogTTL: 30 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithCatalogTTL sets how long the public catalog stays cached.
func (s *Service) WithCatalogTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.catalogTTL = ttl
	}
	return s
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// authorize checks that the caller belongs to tenantID and holds one of roles.
func authorize(ctx context.Context, tenantID string, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.TenantID != tenantID {
		return domain.Actor{}, fmt.Errorf("%w: tenant access denied", ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: role %s", ErrForbidden, actor.Role)
}

func (s *Service) logAudit(ctx context.Context, tenantID string, action string, entityType string, entityID string, detail string) {
	actorName := "customer"
	if actor, ok := ActorFromContext(ctx); ok && actor.Email != "" {
		actorName = actor.Email
	}

	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		TenantID:   tenantID,
		Actor:      actorName,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("tenant_id", tenantID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// publish notifies live subscribers and outbound brokers. Delivery failures are
// logged; the write they describe has already been committed.
func (s *Service) publish(ctx context.Context, eventType string, tenantID string, payload any) {
	event, err := events.New(eventType, tenantID, payload)
	if err != nil {
		s.logger.Warn("event encode failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("tenant_id", tenantID),
			zap.String("event_type", eventType),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) invalidateCatalog(ctx context.Context, tenantID string) {
	if err := s.cache.Delete(ctx, cache.CatalogKey(tenantID)); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	if _, err := authorize(ctx, tenantID, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, tenantID, limit)
}

func trimmed(value *string) (string, bool) {
	if value == nil {
		return "", false
	}
	return strings.TrimSpace(*value), true
}
