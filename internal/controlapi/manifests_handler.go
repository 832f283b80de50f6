package controlapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/observability"
	"github.com/rafaeljc/engage/internal/store"
	"github.com/rafaeljc/engage/internal/validation"
)

// handlePutManifest processes PUT /api/v1/manifests/{app}.
//
// The body is compiled before it is stored, so a rejected manifest never
// reaches Postgres or the caches. A successful write is propagated to Redis
// in the background.
func (a *API) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	appKey, ok := appKeyParam(w, r)
	if !ok {
		return
	}

	var req PutManifestRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, a.maxBodyBytes), &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}

	body, err := req.Document()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", err.Error())
		return
	}
	if errResp := req.Validate(body); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	rec, err := a.manifests.UpsertManifest(r.Context(), appKey, body, req.ExpectedVersion)
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, "ERR_VERSION_CONFLICT", "Manifest was modified concurrently; reload and retry")
		return
	case errors.Is(err, store.ErrManifestNotFound):
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Manifest not found")
		return
	case err != nil:
		log.Error("failed to store manifest", slog.String("app_key", appKey), slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Failed to store manifest")
		return
	}

	resp, err := toManifest(rec)
	if err != nil {
		log.Error("failed to render manifest", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Failed to render manifest")
		return
	}

	a.propagateAsync(log, appKey, func(ctx context.Context) error {
		if _, err := a.cache.SetManifestSafely(ctx, appKey, rec.Body, rec.Version); err != nil {
			return err
		}
		return a.cache.PublishUpdate(ctx, appKey, rec.Version)
	})

	status := http.StatusOK
	if rec.Version == 1 {
		status = http.StatusCreated
	}
	log.Info("manifest stored", slog.String("app_key", appKey), slog.Int64("version", rec.Version))
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(rec.Version, 10)))
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// handleGetManifest processes GET /api/v1/manifests/{app}.
func (a *API) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	appKey, ok := appKeyParam(w, r)
	if !ok {
		return
	}

	rec, err := a.manifests.GetManifest(r.Context(), appKey)
	if errors.Is(err, store.ErrManifestNotFound) {
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Manifest not found")
		return
	}
	if err != nil {
		log.Error("failed to get manifest", slog.String("app_key", appKey), slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Failed to get manifest")
		return
	}

	resp, err := toManifest(rec)
	if err != nil {
		log.Error("failed to render manifest", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Failed to render manifest")
		return
	}

	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(rec.Version, 10)))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleListManifests processes GET /api/v1/manifests.
//
// Malformed page parameters are rejected; out-of-range ones are clamped.
func (a *API) handleListManifests(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	pageSize, err := parseOptionalInt(r, "page_size", 10)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	records, total, err := a.manifests.ListManifests(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		log.Error("failed to list manifests", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Failed to list manifests")
		return
	}

	items := make([]ManifestSummary, len(records))
	for i, rec := range records {
		items[i] = ManifestSummary{AppKey: rec.AppKey, Version: rec.Version, UpdatedAt: rec.UpdatedAt}
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: items,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleDeleteManifest processes DELETE /api/v1/manifests/{app}. Data planes
// learn about the deletion through a version 0 invalidation.
func (a *API) handleDeleteManifest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	appKey, ok := appKeyParam(w, r)
	if !ok {
		return
	}

	err := a.manifests.DeleteManifest(r.Context(), appKey)
	if errors.Is(err, store.ErrManifestNotFound) {
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Manifest not found")
		return
	}
	if err != nil {
		log.Error("failed to delete manifest", slog.String("app_key", appKey), slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Failed to delete manifest")
		return
	}

	a.propagateAsync(log, appKey, func(ctx context.Context) error {
		if err := a.cache.DeleteManifest(ctx, appKey); err != nil {
			return err
		}
		return a.cache.PublishUpdate(ctx, appKey, 0)
	})

	log.Info("manifest deleted", slog.String("app_key", appKey))
	w.WriteHeader(http.StatusNoContent)
}

// --- Private Helpers ---

func appKeyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	appKey := chi.URLParam(r, "app")
	if err := validation.ValidateKey("app key", appKey); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", err.Error())
		return "", false
	}
	return appKey, true
}

// parseOptionalInt returns defaultValue when key is absent and an error only
// when it is present but not an integer.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// propagateAsync runs push detached from the request with exponential
// backoff. The syncer repairs anything that still fails.
func (a *API) propagateAsync(log *slog.Logger, appKey string, push func(context.Context) error) {
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), a.publishTimeout)
		defer cancel()

		for attempt := 0; ; attempt++ {
			err := push(ctx)
			if err == nil {
				return
			}

			if attempt == a.publishRetries {
				observability.ControlPlanePublishFailures.Inc()
				log.Error("failed to propagate manifest after retries",
					slog.String("app_key", appKey),
					slog.String("error", err.Error()))
				return
			}

			log.Warn("failed to propagate manifest, retrying",
				slog.String("app_key", appKey),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				observability.ControlPlanePublishFailures.Inc()
				return
			case <-time.After(a.publishDelay * time.Duration(1<<attempt)):
			}
		}
	}()
}
