package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/engage/internal/engagement"
	"github.com/rafaeljc/engage/internal/observability"
)

// CachedManifest is a compiled manifest and the version it was built from.
type CachedManifest struct {
	Manifest *engagement.Manifest
	Version  int64
}

// MemoryCache is the per-process L1 of compiled manifests, bounded by item
// count and TTL. The TTL caps staleness if an invalidation is lost.
type MemoryCache struct {
	store     otter.Cache[string, CachedManifest]
	closeOnce sync.Once
}

// NewMemoryCache builds an L1 holding at most capacity manifests.
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	store, err := otter.MustBuilder[string, CachedManifest](capacity).
		CollectStats().
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build memory cache: %w", err)
	}
	return &MemoryCache{store: store}, nil
}

// Get returns the cached manifest of appKey.
func (c *MemoryCache) Get(appKey string) (CachedManifest, bool) {
	entry, ok := c.store.Get(appKey)
	if ok {
		observability.DataPlaneCacheHits.Inc()
	} else {
		observability.DataPlaneCacheMisses.Inc()
	}
	return entry, ok
}

// Set stores a compiled manifest.
func (c *MemoryCache) Set(appKey string, entry CachedManifest) {
	if !c.store.Set(appKey, entry) {
		observability.DataPlaneCacheDropped.Inc()
	}
}

// Del drops appKey, typically on an invalidation.
func (c *MemoryCache) Del(appKey string) {
	c.store.Delete(appKey)
}

// Invalidate applies an invalidation. The entry is kept when it is already
// at or past the announced version; deletions (version 0) always drop it.
func (c *MemoryCache) Invalidate(inv Invalidation) {
	observability.DataPlaneInvalidations.Inc()
	if inv.Version > 0 {
		if entry, ok := c.store.Get(inv.AppKey); ok && entry.Version >= inv.Version {
			return
		}
	}
	c.store.Delete(inv.AppKey)
}

// Size is the current number of entries.
func (c *MemoryCache) Size() int {
	return c.store.Size()
}

// RunMetricsCollector publishes the item count and eviction delta every
// interval until ctx is cancelled.
func (c *MemoryCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastEvicted int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.DataPlaneCacheUsage.Set(float64(c.store.Size()))

			evicted := c.store.Stats().EvictedCount()
			if delta := evicted - lastEvicted; delta > 0 {
				observability.DataPlaneCacheEvictions.Add(float64(delta))
			}
			lastEvicted = evicted
		}
	}
}

// Close stops otter's background goroutines. It is safe to call twice.
func (c *MemoryCache) Close() {
	c.closeOnce.Do(c.store.Close)
}
