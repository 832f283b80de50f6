package cache_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/engagement"
	"github.com/rafaeljc/engage/internal/testsupport"
)

func compiled(t *testing.T, id string) *engagement.Manifest {
	t.Helper()
	m, err := engagement.ParseManifest([]byte(fmt.Sprintf(`{"interactions":[{"id":%q,"type":"Survey"}]}`, id)))
	require.NoError(t, err)
	return m
}

func TestMemoryCache_Metrics(t *testing.T) {
	// Small capacity so evictions happen quickly.
	c, err := cache.NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	t.Run("records access metrics", func(t *testing.T) {
		t.Run("misses", func(t *testing.T) {
			testsupport.AssertMetricDelta(t, "engage_data_plane_l1_cache_misses_total", nil, 1, func() {
				_, found := c.Get("non-existent-app")
				assert.False(t, found)
			})
		})

		t.Run("hits", func(t *testing.T) {
			c.Set("app-1", cache.CachedManifest{Manifest: compiled(t, "x"), Version: 3})
			testsupport.AssertMetricDelta(t, "engage_data_plane_l1_cache_hits_total", nil, 1, func() {
				entry, found := c.Get("app-1")
				assert.True(t, found)
				assert.Equal(t, int64(3), entry.Version)
				_, ok := entry.Manifest.InteractionByID("x")
				assert.True(t, ok)
			})
		})
	})

	t.Run("async collector metrics", func(t *testing.T) {
		ctx := t.Context()
		go c.RunMetricsCollector(ctx, 10*time.Millisecond)

		t.Run("reflects items usage", func(t *testing.T) {
			for i := range 5 {
				c.Set(fmt.Sprintf("k-%d", i), cache.CachedManifest{Manifest: compiled(t, "x"), Version: 1})
			}

			require.Eventually(t, func() bool {
				return testsupport.GetMetricValue(t, "engage_data_plane_l1_cache_items_count", nil) >= 5
			}, 2*time.Second, 50*time.Millisecond, "usage metric failed to update")
		})

		t.Run("reflects evictions", func(t *testing.T) {
			m := compiled(t, "x")
			for i := range 100 {
				c.Set(fmt.Sprintf("overflow-%d", i), cache.CachedManifest{Manifest: m, Version: 1})
			}

			require.Eventually(t, func() bool {
				return testsupport.GetMetricValue(t, "engage_data_plane_l1_cache_evictions_total", nil) > 0
			}, 2*time.Second, 50*time.Millisecond, "evictions metric failed to increment")
		})

		t.Run("survives concurrent writers", func(t *testing.T) {
			m := compiled(t, "x")
			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for j := range 100 {
						c.Set(fmt.Sprintf("stress-%d-%d", id, j), cache.CachedManifest{Manifest: m, Version: 1})
					}
				}(i)
			}
			wg.Wait()

			// Rejections depend on timing, so only the lower bound is stable.
			assert.GreaterOrEqual(t, testsupport.GetMetricValue(t, "engage_data_plane_l1_cache_dropped_total", nil), 0.0)
		})
	})
}

func TestMemoryCache_Invalidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cached    int64
		announced int64
		wantKept  bool
	}{
		{name: "Should drop an older entry", cached: 1, announced: 2, wantKept: false},
		{name: "Should keep an entry already at the announced version", cached: 2, announced: 2, wantKept: true},
		{name: "Should keep a newer entry", cached: 3, announced: 2, wantKept: true},
		{name: "Should always drop on deletion", cached: 3, announced: 0, wantKept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			c, err := cache.NewMemoryCache(10, time.Minute)
			require.NoError(t, err)
			defer c.Close()
			c.Set("demo", cache.CachedManifest{Manifest: compiled(t, "x"), Version: tt.cached})

			// Act
			c.Invalidate(cache.Invalidation{AppKey: "demo", Version: tt.announced})

			// Assert
			_, ok := c.Get("demo")
			assert.Equal(t, tt.wantKept, ok)
		})
	}
}
