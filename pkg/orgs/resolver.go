package orgs

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/covebase/cove/pkg/observability"
)

// Resolver caches organization lookups for the request path. Entries
// expire on a short TTL and are dropped eagerly when the billing
// processor changes an org's plan, so a cached org never serves a
// stale plan for long.
type Resolver struct {
	service Service
	cache   *lru.LRU[string, *Organization]
	metrics *observability.Metrics
}

// NewResolver creates a caching org resolver.
func NewResolver(service Service, maxEntries int, ttl time.Duration, metrics *observability.Metrics) *Resolver {
	if maxEntries < 10 {
		maxEntries = 10
	}
	return &Resolver{
		service: service,
		cache:   lru.NewLRU[string, *Organization](maxEntries, nil, ttl),
		metrics: metrics,
	}
}

// Resolve returns an organization by ID, from cache when possible.
func (r *Resolver) Resolve(ctx context.Context, orgID uuid.UUID) (*Organization, error) {
	key := orgID.String()
	if org, ok := r.cache.Get(key); ok {
		r.count(true)
		return org, nil
	}
	r.count(false)

	org, err := r.service.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, org)
	return org, nil
}

// Invalidate drops a cached organization. Called after plan changes.
func (r *Resolver) Invalidate(orgID uuid.UUID) {
	r.cache.Remove(orgID.String())
}

func (r *Resolver) count(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.CacheHitsTotal.WithLabelValues("org").Inc()
	} else {
		r.metrics.CacheMissesTotal.WithLabelValues("org").Inc()
	}
}
