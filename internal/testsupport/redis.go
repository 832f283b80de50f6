package testsupport

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/config"
)

const redisImage = "redis:7-alpine"

// RedisContainer is a running Redis plus a RedisCache connected to it.
// Client is the connection behind Cache, exposed for peeking at raw keys.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *goredis.Client
	Cache     *cache.RedisCache
}

// RedisOption tunes the client connected to the container.
type RedisOption func(*config.RedisConfig)

// WithRedisPoolSize caps the client pool.
func WithRedisPoolSize(n int) RedisOption {
	return func(c *config.RedisConfig) {
		c.PoolSize = n
		c.MinIdleConns = min(c.MinIdleConns, n)
	}
}

// Terminate closes the client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Cache.Close()
	return c.Container.Terminate(ctx)
}

// Flush drops every key, for subtests that need an empty cache.
func (c *RedisContainer) Flush(ctx context.Context) error {
	return c.Client.FlushDB(ctx).Err()
}

// StartRedisContainer runs Redis and connects to it by URL through
// cache.NewRedisClient.
func StartRedisContainer(ctx context.Context, opts ...RedisOption) (*RedisContainer, error) {
	ctr, err := redis.Run(ctx, redisImage)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	url, err := ctr.ConnectionString(ctx)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get redis URL: %w", err)
	}

	cfg := &config.RedisConfig{
		URL:            url,
		PoolSize:       10,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PoolTimeout:    4 * time.Second,
		PingMaxRetries: 5,
		PingBackoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{
		Container: ctr,
		URL:       url,
		Client:    client,
		Cache:     cache.NewRedisCache(client),
	}, nil
}
