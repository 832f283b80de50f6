// Package main initializes and runs the Engage Control Plane service.
//
// It is the composition root of the manifest management REST API: Postgres
// is the source of truth and Redis receives every accepted change.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/controlapi"
	"github.com/rafaeljc/engage/internal/database"
	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/observability"
	"github.com/rafaeljc/engage/internal/store"
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

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	api := controlapi.NewAPIWithConfig(
		store.NewPostgresStore(pool),
		redisCache,
		cfg.Server.Control.APIKeyHash,
		cfg.Server.Control.SkipAuth(cfg.App.Environment),
		controlapi.WithLogger(logger.Component(log, "controlapi")),
		controlapi.WithPublishRetry(cfg.Server.Control.PublishRetries, cfg.Server.Control.PublishRetryDelay),
		controlapi.WithMaxManifestBytes(cfg.Server.Control.MaxManifestBytes),
	)

	obs := observability.NewServer(logger.Component(log, "observability"), &cfg.Observability,
		database.NewHealthChecker(pool),
		observability.CheckerFunc{ComponentName: "redis", Fn: redisCache.HealthCheck},
	)
	if err := obs.Start(); err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 4. HTTP Server
	// -------------------------------------------------------------------------
	control := cfg.Server.Control
	server := &http.Server{
		Addr:              net.JoinHostPort(control.Host, control.Port),
		Handler:           api.Router,
		ReadTimeout:       control.ReadTimeout,
		WriteTimeout:      control.WriteTimeout,
		ReadHeaderTimeout: control.ReadHeaderTimeout,
		IdleTimeout:       control.IdleTimeout,
		MaxHeaderBytes:    control.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("control plane listening", slog.String("addr", server.Addr), slog.Bool("tls", control.TLSEnabled))
		var err error
		if control.TLSEnabled {
			err = server.ListenAndServeTLS(control.TLSCert, control.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to serve http: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
		obs.Drain()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	// Writes already acknowledged still owe Redis their propagation.
	if err := api.Wait(shutdownCtx); err != nil {
		log.Warn("pending cache propagation abandoned; the syncer will repair it", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("service exited successfully")
	return nil
}
