package cache

import (
	"context"
	"fmt"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Noop struct{}

func (Noop) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (Noop) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (Noop) Delete(_ context.Context, _ ...string) error {
	return nil
}

func CatalogKey(tenantID string) string {
	return fmt.Sprintf("stocky:catalog:%s", tenantID)
}

func ReportKey(tenantID string, fingerprint string) string {
	return fmt.Sprintf("stocky:report:%s:%s", tenantID, fingerprint)
}
