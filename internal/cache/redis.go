// Package cache is the Redis and in-memory caching layer of the data plane.
// Redis (L2) holds versioned manifest copies, session snapshots and the
// invalidation channel; MemoryCache (L1) holds compiled manifests per
// process.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/validation"
)

var (
	// ErrManifestNotCached is returned when Redis has no copy of a manifest.
	ErrManifestNotCached = errors.New("manifest not cached")

	// ErrSessionNotFound is returned when a session has no snapshot, either
	// because it never existed or because its TTL ran out.
	ErrSessionNotFound = errors.New("session not found")
)

// SetResult reports what SetManifestSafely did.
type SetResult int

const (
	// SetResultSkipped means Redis already had the same or a newer version.
	SetResultSkipped SetResult = 0
	// SetResultUpdated means the value was written.
	SetResultUpdated SetResult = 1
	// SetResultRepaired means a value without a version prefix was replaced.
	SetResultRepaired SetResult = 2
)

func (r SetResult) String() string {
	switch r {
	case SetResultSkipped:
		return "skipped"
	case SetResultUpdated:
		return "updated"
	case SetResultRepaired:
		return "repaired"
	default:
		return fmt.Sprintf("SetResult(%d)", int(r))
	}
}

// setManifestScript writes ARGV[2] unless the stored version is >= ARGV[1].
// A stored value that does not start with "<number>|" is overwritten.
var setManifestScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
local sep = string.find(current, '|', 1, true)
if not sep or sep > 21 then
	redis.call('SET', KEYS[1], ARGV[2])
	return 2
end
local stored = tonumber(string.sub(current, 1, sep - 1))
if not stored then
	redis.call('SET', KEYS[1], ARGV[2])
	return 2
end
if tonumber(ARGV[1]) > stored then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// Service is the Redis surface the rest of the system depends on.
type Service interface {
	SetManifestSafely(ctx context.Context, appKey string, body []byte, version int64) (SetResult, error)
	GetManifest(ctx context.Context, appKey string) ([]byte, int64, error)
	DeleteManifest(ctx context.Context, appKey string) error
	ManifestApps(ctx context.Context) ([]string, error)

	PublishUpdate(ctx context.Context, appKey string, version int64) error
	Subscribe(ctx context.Context, handle func(Invalidation)) error

	LoadSession(ctx context.Context, appKey, sessionID string) ([]byte, error)
	SaveSession(ctx context.Context, appKey, sessionID string, snapshot []byte, ttl time.Duration) error
	DeleteSession(ctx context.Context, appKey, sessionID string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

var _ Service = (*RedisCache)(nil)

// RedisCache implements Service with go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a connected client; see NewRedisClient.
func NewRedisCache(client *redis.Client) *RedisCache {
	validation.AssertNotNil(client, "redis client")
	return &RedisCache{client: client}
}

// Client exposes the underlying client for health checks and pool metrics.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// SetManifestSafely stores body as version of appKey's manifest unless Redis
// already holds that version or a newer one.
func (c *RedisCache) SetManifestSafely(ctx context.Context, appKey string, body []byte, version int64) (SetResult, error) {
	res, err := setManifestScript.Run(ctx, c.client,
		[]string{ManifestKey(appKey)},
		version, encodeManifest(body, version),
	).Int()
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to set manifest %q in cache: %w", appKey, err)
	}
	return SetResult(res), nil
}

// GetManifest returns the cached document and its version.
func (c *RedisCache) GetManifest(ctx context.Context, appKey string) ([]byte, int64, error) {
	val, err := c.client.Get(ctx, ManifestKey(appKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("%w: %q", ErrManifestNotCached, appKey)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get manifest %q from cache: %w", appKey, err)
	}

	version, body, ok := decodeManifest(val)
	if !ok {
		logger.FromContext(ctx).Warn("cached manifest has no version prefix",
			slog.String("app_key", appKey),
		)
	}
	return []byte(body), version, nil
}

// DeleteManifest drops the L2 copy. Deleting a missing key is not an error.
func (c *RedisCache) DeleteManifest(ctx context.Context, appKey string) error {
	if err := c.client.Del(ctx, ManifestKey(appKey)).Err(); err != nil {
		return fmt.Errorf("failed to delete manifest %q from cache: %w", appKey, err)
	}
	return nil
}

// ManifestApps lists the app keys that have an L2 manifest. It walks the
// keyspace with SCAN so it never blocks Redis.
func (c *RedisCache) ManifestApps(ctx context.Context) ([]string, error) {
	prefix := ManifestKey("")
	var apps []string
	iter := c.client.Scan(ctx, 0, prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		apps = append(apps, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cached manifests: %w", err)
	}
	return apps, nil
}

// PublishUpdate announces a manifest change on UpdatesChannel.
func (c *RedisCache) PublishUpdate(ctx context.Context, appKey string, version int64) error {
	if err := c.client.Publish(ctx, UpdatesChannel, EncodeInvalidation(appKey, version)).Err(); err != nil {
		return fmt.Errorf("failed to publish update for %q: %w", appKey, err)
	}
	return nil
}

// Subscribe calls handle for every invalidation until ctx is cancelled. It
// returns nil on cancellation and an error if the subscription cannot be
// established.
func (c *RedisCache) Subscribe(ctx context.Context, handle func(Invalidation)) error {
	pubsub := c.client.Subscribe(ctx, UpdatesChannel)
	defer pubsub.Close()

	// Block until Redis confirms the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", UpdatesChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle(DecodeInvalidation(msg.Payload))
		}
	}
}

// LoadSession returns a session snapshot or ErrSessionNotFound.
func (c *RedisCache) LoadSession(ctx context.Context, appKey, sessionID string) ([]byte, error) {
	data, err := c.client.Get(ctx, SessionKey(appKey, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return data, nil
}

// SaveSession stores a snapshot and restarts its TTL.
func (c *RedisCache) SaveSession(ctx context.Context, appKey, sessionID string, snapshot []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, SessionKey(appKey, sessionID), snapshot, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteSession forgets a session. Deleting a missing session is not an error.
func (c *RedisCache) DeleteSession(ctx context.Context, appKey, sessionID string) error {
	if err := c.client.Del(ctx, SessionKey(appKey, sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
