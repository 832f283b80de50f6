// Package main runs the Engage Syncer worker, which keeps the Redis manifest
// cache converged with Postgres.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/database"
	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/observability"
	"github.com/rafaeljc/engage/internal/store"
	"github.com/rafaeljc/engage/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if !cfg.Syncer.Enabled {
		log.Warn("syncer disabled by configuration, exiting")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	redisCache := cache.NewRedisCache(redisClient)
	defer redisCache.Close()

	go database.RunPoolMonitor(ctx, pool, cfg.Observability.PoolMonitorInterval)
	go cache.RunPoolMonitor(ctx, redisClient, cfg.Observability.PoolMonitorInterval)

	obs := observability.NewServer(logger.Component(log, "observability"), &cfg.Observability,
		database.NewHealthChecker(pool),
		observability.CheckerFunc{ComponentName: "redis", Fn: redisCache.HealthCheck},
	)
	if err := obs.Start(); err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 3. Sync Loop
	// -------------------------------------------------------------------------
	worker := syncer.New(logger.Component(log, "syncer"), cfg.Syncer, store.NewPostgresStore(pool), redisCache)
	runErr := worker.Run(ctx)

	// -------------------------------------------------------------------------
	// 4. Graceful Shutdown
	// -------------------------------------------------------------------------
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.String("error", err.Error()))
	}
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("syncer stopped: %w", runErr)
	}

	log.Info("worker exited successfully")
	return nil
}
