// Package syncer implements the background worker that reconciles the data
// plane's Redis copies (L2) with the manifests stored in Postgres.
//
// The control plane already propagates every write on its own; the syncer
// repairs whatever that propagation missed, including a cold Redis.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/observability"
	"github.com/rafaeljc/engage/internal/store"
	"github.com/rafaeljc/engage/internal/validation"
)

// Stats summarises one reconciliation cycle.
type Stats struct {
	Synced  int
	Skipped int
	Deleted int
	Failed  int
}

// Service runs reconciliation cycles on a fixed interval.
type Service struct {
	logger *slog.Logger
	config config.SyncerConfig
	repo   store.ManifestRepository
	cache  cache.Service

	// fingerprints remembers the last version|body written per app, so an
	// unchanged manifest costs no Redis round trip.
	mu           sync.Mutex
	fingerprints map[string]uint64
}

// New panics on nil dependencies. Out-of-range settings fall back to the
// configuration defaults.
func New(logger *slog.Logger, cfg config.SyncerConfig, repo store.ManifestRepository, cacheSvc cache.Service) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotNilInterface(repo, "manifest repository")
	validation.AssertNotNilInterface(cacheSvc, "cache service")

	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 10
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Service{
		logger:       logger,
		config:       cfg,
		repo:         repo,
		cache:        cacheSvc,
		fingerprints: make(map[string]uint64),
	}
}

// Run reconciles once immediately and then on every tick. It blocks until
// ctx is cancelled. A failed cycle is logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service",
		slog.String("interval", s.config.Interval.String()),
		slog.Int("concurrency", s.config.Concurrency),
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.cycle(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial sync failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping")
			return nil
		case <-ticker.C:
			if _, err := s.cycle(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sync cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cycle is SyncOnce bounded by the configured cycle timeout.
func (s *Service) cycle(ctx context.Context) (Stats, error) {
	if s.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.CycleTimeout)
		defer cancel()
	}
	return s.SyncOnce(ctx)
}

// SyncOnce runs a single reconciliation cycle.
//
// Redis is scanned before Postgres is read. An app created between the two
// steps is then absent from the scan and cannot be mistaken for a deleted
// one.
func (s *Service) SyncOnce(ctx context.Context) (Stats, error) {
	start := time.Now()
	defer func() {
		observability.SyncerCycleDuration.Observe(time.Since(start).Seconds())
	}()

	cached, err := s.cache.ManifestApps(ctx)
	if err != nil {
		return Stats{}, err
	}
	records, err := s.repo.ListAllManifests(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list manifests: %w", err)
	}

	var (
		mu    sync.Mutex
		stats Stats
	)
	count := func(status string, field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
		observability.SyncerManifestsTotal.WithLabelValues(status).Inc()
	}

	inRedis := make(map[string]struct{}, len(cached))
	for _, app := range cached {
		inRedis[app] = struct{}{}
	}

	live := make(map[string]struct{}, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, rec := range records {
		live[rec.AppKey] = struct{}{}
		g.Go(func() error {
			_, present := inRedis[rec.AppKey]
			synced, err := s.syncManifest(gctx, rec, present)
			switch {
			case err != nil:
				count("failed", &stats.Failed)
				s.logger.Warn("failed to sync manifest",
					slog.String("app_key", rec.AppKey),
					slog.Int64("version", rec.Version),
					slog.String("error", err.Error()),
				)
			case synced:
				count("synced", &stats.Synced)
			default:
				count("skipped", &stats.Skipped)
			}
			return nil
		})
	}

	for _, app := range cached {
		if _, ok := live[app]; ok || s.config.KeepOrphans {
			continue
		}
		g.Go(func() error {
			if err := s.removeManifest(gctx, app); err != nil {
				count("failed", &stats.Failed)
				s.logger.Warn("failed to remove orphaned manifest",
					slog.String("app_key", app),
					slog.String("error", err.Error()),
				)
				return nil
			}
			count("deleted", &stats.Deleted)
			return nil
		})
	}

	_ = g.Wait()

	s.forgetMissing(live)

	if stats.Synced > 0 || stats.Deleted > 0 || stats.Failed > 0 {
		s.logger.Info("sync cycle completed",
			slog.Int("synced", stats.Synced),
			slog.Int("skipped", stats.Skipped),
			slog.Int("deleted", stats.Deleted),
			slog.Int("errors", stats.Failed),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return stats, ctx.Err()
}

// syncManifest writes rec to Redis unless Redis has it and its fingerprint
// is unchanged, and announces the new version when Redis accepted it.
func (s *Service) syncManifest(ctx context.Context, rec *store.ManifestRecord, present bool) (bool, error) {
	fp := fingerprint(rec)
	if present && s.lastFingerprint(rec.AppKey) == fp {
		return false, nil
	}

	var result cache.SetResult
	err := s.withRetry(ctx, func() error {
		var err error
		result, err = s.cache.SetManifestSafely(ctx, rec.AppKey, rec.Body, rec.Version)
		return err
	})
	if err != nil {
		return false, err
	}

	if result != cache.SetResultSkipped {
		if err := s.withRetry(ctx, func() error {
			return s.cache.PublishUpdate(ctx, rec.AppKey, rec.Version)
		}); err != nil {
			return false, err
		}
		s.logger.Debug("manifest synced",
			slog.String("app_key", rec.AppKey),
			slog.Int64("version", rec.Version),
			slog.String("result", result.String()),
		)
	}

	s.mu.Lock()
	s.fingerprints[rec.AppKey] = fp
	s.mu.Unlock()
	return result != cache.SetResultSkipped, nil
}

// removeManifest drops the L2 copy of an app that no longer exists and
// tells the data planes with a version 0 invalidation.
func (s *Service) removeManifest(ctx context.Context, appKey string) error {
	if err := s.withRetry(ctx, func() error { return s.cache.DeleteManifest(ctx, appKey) }); err != nil {
		return err
	}
	return s.withRetry(ctx, func() error { return s.cache.PublishUpdate(ctx, appKey, 0) })
}

func (s *Service) lastFingerprint(appKey string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprints[appKey]
}

func (s *Service) forgetMissing(live map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for app := range s.fingerprints {
		if _, ok := live[app]; !ok {
			delete(s.fingerprints, app)
		}
	}
}

// withRetry retries fn with exponential backoff starting at BaseRetryDelay.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == s.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.BaseRetryDelay * time.Duration(1<<attempt)):
		}
	}
	return err
}

func fingerprint(rec *store.ManifestRecord) uint64 {
	h := murmur3.New64()
	_, _ = h.Write([]byte(strconv.FormatInt(rec.Version, 10)))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write(rec.Body)
	return h.Sum64()
}
