package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/engage/internal/observability"
)

// RunPoolMonitor copies client pool statistics into the redis_pool gauges
// every interval until ctx is cancelled. Run it in its own goroutine.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		recordPoolStats(client.PoolStats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordPoolStats(s *redis.PoolStats) {
	observability.RedisPoolConnections.WithLabelValues("total").Set(float64(s.TotalConns))
	observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(s.IdleConns))
	observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(s.StaleConns))
	observability.RedisPoolHits.Set(float64(s.Hits))
	observability.RedisPoolMisses.Set(float64(s.Misses))
	observability.RedisPoolTimeouts.Set(float64(s.Timeouts))
}
