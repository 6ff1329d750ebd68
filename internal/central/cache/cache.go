package cache

import (
	"context"
	"time"

	"dukkanpos/internal/domain"
)

// CatalogCache holds assembled pull responses for epoch pulls, the
// expensive full-catalog case every freshly activated terminal hits.
type CatalogCache interface {
	Get(ctx context.Context, key string) (*domain.PullResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.PullResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*domain.PullResponse, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ *domain.PullResponse, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
