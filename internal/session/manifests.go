package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/engagement"
	"github.com/rafaeljc/engage/internal/validation"
)

// ErrUnknownApp is returned when no manifest is published for an app key.
var ErrUnknownApp = errors.New("unknown application")

// ManifestSource is the L2 store of published manifests.
type ManifestSource interface {
	GetManifest(ctx context.Context, appKey string) ([]byte, int64, error)
}

// Subscriber delivers manifest invalidations until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, handle func(cache.Invalidation)) error
}

// ManifestProvider resolves compiled manifests: L1 first, then L2 with
// concurrent misses for the same app collapsed into one fetch.
type ManifestProvider struct {
	l1     *cache.MemoryCache
	l2     ManifestSource
	group  singleflight.Group
	logger *slog.Logger
}

// NewManifestProvider panics on nil caches.
func NewManifestProvider(l1 *cache.MemoryCache, l2 ManifestSource, logger *slog.Logger) *ManifestProvider {
	validation.AssertNotNil(l1, "memory cache")
	validation.AssertNotNilInterface(l2, "manifest source")
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestProvider{l1: l1, l2: l2, logger: logger}
}

// Get returns the compiled manifest of appKey and its version.
func (p *ManifestProvider) Get(ctx context.Context, appKey string) (*engagement.Manifest, int64, error) {
	if entry, ok := p.l1.Get(appKey); ok {
		return entry.Manifest, entry.Version, nil
	}

	// The fetch outlives any single caller's cancellation since other
	// callers may be waiting on it.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := p.group.Do(appKey, func() (any, error) {
		return p.fetch(fetchCtx, appKey)
	})
	if err != nil {
		return nil, 0, err
	}
	entry := v.(cache.CachedManifest)
	return entry.Manifest, entry.Version, nil
}

func (p *ManifestProvider) fetch(ctx context.Context, appKey string) (cache.CachedManifest, error) {
	body, version, err := p.l2.GetManifest(ctx, appKey)
	if errors.Is(err, cache.ErrManifestNotCached) {
		return cache.CachedManifest{}, fmt.Errorf("%w: %q", ErrUnknownApp, appKey)
	}
	if err != nil {
		return cache.CachedManifest{}, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	m, err := engagement.ParseManifest(body)
	if err != nil {
		p.logger.Error("published manifest does not compile",
			slog.String("app_key", appKey),
			slog.Int64("version", version),
			slog.String("error", err.Error()),
		)
		return cache.CachedManifest{}, fmt.Errorf("manifest %q version %d: %w", appKey, version, err)
	}

	entry := cache.CachedManifest{Manifest: m, Version: version}
	p.l1.Set(appKey, entry)
	return entry, nil
}

// Listen applies invalidations to L1 until ctx is cancelled, resubscribing
// with backoff when the subscription drops.
func (p *ManifestProvider) Listen(ctx context.Context, sub Subscriber, backoff time.Duration) {
	for {
		err := sub.Subscribe(ctx, func(inv cache.Invalidation) {
			p.logger.Debug("manifest invalidated",
				slog.String("app_key", inv.AppKey),
				slog.Int64("version", inv.Version),
			)
			p.l1.Invalidate(inv)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Warn("invalidation subscription failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
