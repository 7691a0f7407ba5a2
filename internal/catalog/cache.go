package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fensterwerk/orderdesk/internal/config"
	"github.com/fensterwerk/orderdesk/model"
)

// Fetcher retrieves the raw workflow stage definitions for an order type
// from the CRM backend.
type Fetcher interface {
	FetchWorkflow(ctx context.Context, orderType string) ([]model.WorkflowStage, error)
}

// Observer receives cache and validation outcomes, typically the
// observability metrics registry.
type Observer interface {
	RecordCatalogCacheHit(orderType string)
	RecordCatalogCacheMiss(orderType string)
	RecordCatalogValidationFailure(orderType string)
}

type cacheEntry struct {
	catalog *Catalog
	expires time.Time
}

// Resolver serves validated catalogs per order type, caching them for a
// configurable TTL so every tracking request does not round-trip to the
// backend for a definition that changes rarely.
type Resolver struct {
	fetcher  Fetcher
	ttl      time.Duration
	observer Observer
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewResolver builds a Resolver. The observer may be nil.
func NewResolver(fetcher Fetcher, cfg config.CatalogConfig, observer Observer) *Resolver {
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		fetcher:  fetcher,
		ttl:      ttl,
		observer: observer,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

// Resolve returns the validated catalog for an order type, serving a
// cached copy while it is fresh. A catalog that fails validation is never
// cached, so a later fetch can recover once the backend is fixed.
func (r *Resolver) Resolve(ctx context.Context, orderType string) (*Catalog, error) {
	key := NormalizeOrderType(orderType)

	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok && r.now().Before(entry.expires) {
		r.mu.Unlock()
		if r.observer != nil {
			r.observer.RecordCatalogCacheHit(key)
		}
		return entry.catalog, nil
	}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.RecordCatalogCacheMiss(key)
	}

	stages, err := r.fetcher.FetchWorkflow(ctx, key)
	if err != nil {
		return nil, err
	}

	cat, err := New(stages)
	if err != nil {
		if r.observer != nil {
			r.observer.RecordCatalogValidationFailure(key)
		}
		return nil, err
	}

	r.mu.Lock()
	r.entries[key] = cacheEntry{catalog: cat, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	return cat, nil
}

// Invalidate drops the cached catalog for an order type.
func (r *Resolver) Invalidate(orderType string) {
	key := NormalizeOrderType(orderType)
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// NormalizeOrderType canonicalizes an order type string. Anything that is
// not recognizably an installation workflow resolves to materials only.
func NormalizeOrderType(orderType string) string {
	switch strings.ToUpper(strings.TrimSpace(orderType)) {
	case model.OrderTypeMaterialsAndInstallation:
		return model.OrderTypeMaterialsAndInstallation
	default:
		return model.OrderTypeMaterialsOnly
	}
}
