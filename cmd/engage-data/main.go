// Package main initializes and runs the Engage Data Plane service.
//
// It acts as the composition root for the gRPC engagement API, wiring the
// two manifest cache tiers, the Redis session store and the invalidation
// listener, and handling the server lifecycle.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/dataapi"
	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/observability"
	"github.com/rafaeljc/engage/internal/session"
)

// resubscribeBackoff is the pause before the invalidation listener
// reconnects after losing its subscription.
const resubscribeBackoff = 2 * time.Second

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

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	redisCache := cache.NewRedisCache(redisClient)
	defer redisCache.Close()

	l1, err := cache.NewMemoryCache(cfg.Cache.L1Capacity, cfg.Cache.L1TTL)
	if err != nil {
		return fmt.Errorf("failed to create l1 cache: %w", err)
	}
	defer l1.Close()

	go l1.RunMetricsCollector(ctx, cfg.Cache.MetricsInterval)
	go cache.RunPoolMonitor(ctx, redisClient, cfg.Observability.PoolMonitorInterval)

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	provider := session.NewManifestProvider(l1, redisCache, logger.Component(log, "manifests"))
	go provider.Listen(ctx, redisCache, resubscribeBackoff)

	sessions := session.NewService(provider, redisCache, &cfg.Session,
		session.WithLogger(logger.Component(log, "session")),
	)
	api := dataapi.NewAPI(sessions)

	obs := observability.NewServer(logger.Component(log, "observability"), &cfg.Observability,
		observability.CheckerFunc{ComponentName: "redis", Fn: redisCache.HealthCheck},
	)
	if err := obs.Start(); err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 4. gRPC Server
	// -------------------------------------------------------------------------
	data := cfg.Server.Data
	listener, err := net.Listen("tcp", net.JoinHostPort(data.Host, data.Port))
	if err != nil {
		return fmt.Errorf("failed to bind port %s: %w", data.Port, err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			dataapi.RequestLoggerInterceptor(logger.Component(log, "dataapi")),
			dataapi.RecoveryInterceptor(),
			dataapi.MetricsInterceptor(),
		),
		grpc.MaxConcurrentStreams(data.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(data.MaxRecvMsgBytes),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:             data.KeepaliveTime,
			Timeout:          data.KeepaliveTimeout,
			MaxConnectionAge: data.MaxConnectionAge,
		}),
	)
	api.Register(grpcServer)

	if data.Reflection {
		reflection.Register(grpcServer)
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("data plane listening", slog.String("addr", listener.Addr().String()))
		if err := grpcServer.Serve(listener); err != nil {
			errChan <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping gRPC server")
		obs.Drain()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// GracefulStop blocks until pending RPCs finish, so bound it.
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Warn("graceful stop timed out, forcing")
		grpcServer.Stop()
	}

	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("service exited successfully")
	return nil
}
