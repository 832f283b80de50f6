// Package observability serves the admin port of every Engage binary:
// liveness and readiness probes plus the Prometheus scrape endpoint. It also
// owns the process-wide metric definitions.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaeljc/engage/internal/config"
)

// Server is the admin listener. It runs on its own port so probes and
// scrapes never queue behind engagement traffic.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	router   *chi.Mux
	checkers []Checker

	// draining flips readiness to 503 while the binary shuts down.
	draining atomic.Bool
	server   *http.Server
}

// NewServer builds the admin server. checkers gate the readiness probe.
func NewServer(logger *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	s := &Server{
		logger:   logger,
		cfg:      cfg,
		router:   chi.NewRouter(),
		checkers: checkers,
	}

	s.router.Use(middleware.Recoverer, middleware.NoCache)
	s.router.Get(cfg.LivenessPath, s.liveness)
	s.router.Get(cfg.ReadinessPath, s.readiness)
	s.router.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the port and serves in the background. A bind failure is
// returned so a port clash stops the binary at boot.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind observability port %s: %w", s.cfg.Port, err)
	}

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
		IdleTimeout:  3 * s.cfg.Timeout,
	}

	s.logger.Info("observability server listening",
		slog.String("addr", ln.Addr().String()),
		slog.Group("paths",
			slog.String("liveness", s.cfg.LivenessPath),
			slog.String("readiness", s.cfg.ReadinessPath),
			slog.String("metrics", s.cfg.MetricsPath),
		),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Drain marks the binary as going away. Readiness fails from now on while
// liveness and metrics keep answering until Shutdown.
func (s *Server) Drain() {
	if !s.draining.Swap(true) {
		s.logger.Info("readiness draining")
	}
}

// Shutdown stops the server gracefully. It is a no-op before Start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Drain()
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
