// Package controlapi implements the REST API of the Engage control plane,
// where operators publish per-application manifests.
package controlapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/store"
	"github.com/rafaeljc/engage/internal/validation"
)

// API holds the router and dependencies of the control plane.
type API struct {
	// Router is the chi multiplexer that serves every route.
	Router *chi.Mux

	manifests store.ManifestRepository
	cache     cache.Service

	// apiKeyHash is the hex SHA-256 of the accepted API key.
	apiKeyHash string
	// skipAuth disables authentication. Tests and local development only.
	skipAuth bool

	logger         *slog.Logger
	publishRetries int
	publishDelay   time.Duration
	publishTimeout time.Duration
	maxBodyBytes   int64

	// inflight tracks asynchronous cache propagation.
	inflight sync.WaitGroup
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the base logger. Requests log through a child carrying
// the request id.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithPublishRetry tunes how cache propagation retries: up to retries extra
// attempts with exponential backoff starting at baseDelay.
func WithPublishRetry(retries int, baseDelay time.Duration) Option {
	return func(a *API) {
		a.publishRetries = retries
		a.publishDelay = baseDelay
	}
}

// WithMaxManifestBytes bounds the size of a PUT body.
func WithMaxManifestBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// NewAPI creates an API with authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(manifests store.ManifestRepository, cacheSvc cache.Service, apiKeyHash string, opts ...Option) *API {
	return NewAPIWithConfig(manifests, cacheSvc, apiKeyHash, false, opts...)
}

// NewAPIWithConfig creates an API with explicit control over authentication.
//
// Panics if:
//   - manifests or cacheSvc are nil
//   - apiKeyHash is empty when skipAuth is false
func NewAPIWithConfig(manifests store.ManifestRepository, cacheSvc cache.Service, apiKeyHash string, skipAuth bool, opts ...Option) *API {
	validation.AssertNotNilInterface(manifests, "manifest repository")
	validation.AssertNotNilInterface(cacheSvc, "cache service")

	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:         chi.NewRouter(),
		manifests:      manifests,
		cache:          cacheSvc,
		apiKeyHash:     apiKeyHash,
		skipAuth:       skipAuth,
		logger:         slog.Default(),
		publishRetries: 3,
		publishDelay:   100 * time.Millisecond,
		publishTimeout: 20 * time.Second,
		maxBodyBytes:   defaultMaxManifestBytes,
	}
	for _, opt := range opts {
		opt(api)
	}

	api.configureRoutes()
	return api
}

// Wait blocks until pending cache propagation finishes or ctx is done.
// Servers call it during graceful shutdown.
func (a *API) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestLogger)
	a.Router.Use(requestMetrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Route not found")
	})

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/manifests", func(r chi.Router) {
			r.Get("/", a.handleListManifests)

			r.Route("/{app}", func(r chi.Router) {
				r.Get("/", a.handleGetManifest)
				r.Put("/", a.handlePutManifest)
				r.Delete("/", a.handleDeleteManifest)
			})
		})
	})
}

// handleHealthCheck only proves the HTTP server is serving. Dependency
// checks live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
