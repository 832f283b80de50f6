package controlapi_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/controlapi"
	"github.com/rafaeljc/engage/internal/testsupport"
)

const validManifest = `{
	"interactions": [{"id": "welcome", "type": "TextModal", "configuration": {"title": "Hi"}}],
	"targets": {
		"local#app#launch": [
			{"interaction_id": "welcome", "criteria": {"interactions/welcome/invokes/total": 0, "device/plan": "pro"}}
		]
	}
}`

type env struct {
	api   *controlapi.API
	repo  *testsupport.FakeManifestRepository
	cache *testsupport.FakeCache
}

func newEnv(t *testing.T) env {
	t.Helper()
	repo := testsupport.NewFakeManifestRepository()
	fc := testsupport.NewFakeCache()
	api := controlapi.NewAPIWithConfig(repo, fc, "", true,
		controlapi.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		controlapi.WithPublishRetry(2, time.Millisecond),
	)
	return env{api: api, repo: repo, cache: fc}
}

func do(api *controlapi.API, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)
	return rr
}

func TestPutManifest(t *testing.T) {
	t.Parallel()

	t.Run("Should create, store and propagate a manifest", func(t *testing.T) {
		t.Parallel()

		// Arrange
		e := newEnv(t)

		// Act
		rr := do(e.api, http.MethodPut, "/api/v1/manifests/demo", validManifest)

		// Assert
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, `"1"`, rr.Header().Get("ETag"))

		var resp controlapi.Manifest
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "demo", resp.AppKey)
		assert.Equal(t, int64(1), resp.Version)
		assert.JSONEq(t, `[{"id":"welcome","type":"TextModal","configuration":{"title":"Hi"}}]`, string(resp.Interactions))

		require.Eventually(t, func() bool {
			return len(e.cache.Published()) == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, cache.Invalidation{AppKey: "demo", Version: 1}, e.cache.Published()[0])

		body, version, ok := e.cache.Manifest("demo")
		require.True(t, ok)
		assert.Equal(t, int64(1), version)
		assert.Contains(t, string(body), `"interactions/welcome/invokes/total":0`)
	})

	t.Run("Should keep the authored criteria key order", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)

		rr := do(e.api, http.MethodPut, "/api/v1/manifests/demo", validManifest)
		require.Equal(t, http.StatusCreated, rr.Code)

		rec, err := e.repo.GetManifest(t.Context(), "demo")
		require.NoError(t, err)
		first := bytes.Index(rec.Body, []byte("interactions/welcome"))
		second := bytes.Index(rec.Body, []byte("device/plan"))
		assert.True(t, first >= 0 && first < second, "criteria keys must not be reordered")
	})

	t.Run("Should bump the version on replace", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		require.Equal(t, http.StatusCreated, do(e.api, http.MethodPut, "/api/v1/manifests/demo", validManifest).Code)

		rr := do(e.api, http.MethodPut, "/api/v1/manifests/demo", `{"interactions": [], "expected_version": 1}`)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp controlapi.Manifest
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, int64(2), resp.Version)
		assert.JSONEq(t, `{}`, string(resp.Targets))
	})

	t.Run("Should retry propagation until it succeeds", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		e.cache.FailPublishes = 2

		rr := do(e.api, http.MethodPut, "/api/v1/manifests/demo", validManifest)
		require.Equal(t, http.StatusCreated, rr.Code)

		require.NoError(t, e.api.Wait(t.Context()))
		assert.Len(t, e.cache.Published(), 1)
	})

	t.Run("Should refuse a body above the configured limit", func(t *testing.T) {
		t.Parallel()

		// Arrange
		fc := testsupport.NewFakeCache()
		api := controlapi.NewAPIWithConfig(testsupport.NewFakeManifestRepository(), fc, "", true,
			controlapi.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			controlapi.WithMaxManifestBytes(64),
		)

		// Act
		rr := do(api, http.MethodPut, "/api/v1/manifests/demo", validManifest)

		// Assert
		require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		var resp controlapi.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "ERR_INVALID_JSON", resp.Code)
		assert.Empty(t, fc.Published())
	})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"broken json", "/api/v1/manifests/demo", `{invalid`, http.StatusBadRequest, "ERR_INVALID_JSON"},
		{"interaction without id", "/api/v1/manifests/demo", `{"interactions": [{"type": "Survey"}]}`, http.StatusBadRequest, "ERR_INVALID_MANIFEST"},
		{"duplicate interaction id", "/api/v1/manifests/demo", `{"interactions": [{"id": "a", "type": "x"}, {"id": "a", "type": "y"}]}`, http.StatusBadRequest, "ERR_INVALID_MANIFEST"},
		{"negative expected version", "/api/v1/manifests/demo", `{"expected_version": -1}`, http.StatusBadRequest, "ERR_INVALID_INPUT"},
		{"invalid app key", "/api/v1/manifests/bad%20key", validManifest, http.StatusBadRequest, "ERR_INVALID_INPUT"},
		{"version conflict on create", "/api/v1/manifests/taken", `{"expected_version": 0}`, http.StatusConflict, "ERR_VERSION_CONFLICT"},
		{"stale expected version", "/api/v1/manifests/taken", `{"expected_version": 7}`, http.StatusConflict, "ERR_VERSION_CONFLICT"},
		{"update of missing manifest", "/api/v1/manifests/ghost", `{"expected_version": 3}`, http.StatusNotFound, "ERR_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run("Should reject "+tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			e := newEnv(t)
			require.Equal(t, http.StatusCreated, do(e.api, http.MethodPut, "/api/v1/manifests/taken", validManifest).Code)
			require.NoError(t, e.api.Wait(t.Context()))

			// Act
			rr := do(e.api, http.MethodPut, tt.path, tt.body)

			// Assert
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			var resp controlapi.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Len(t, e.cache.Published(), 1, "rejected writes are not propagated")
		})
	}
}

func TestGetAndListManifests(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	for _, app := range []string{"alpha", "bravo", "charlie"} {
		require.Equal(t, http.StatusCreated, do(e.api, http.MethodPut, "/api/v1/manifests/"+app, validManifest).Code)
	}

	t.Run("Should return one manifest", func(t *testing.T) {
		t.Parallel()

		rr := do(e.api, http.MethodGet, "/api/v1/manifests/bravo", "")

		require.Equal(t, http.StatusOK, rr.Code)
		var resp controlapi.Manifest
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "bravo", resp.AppKey)
		assert.Contains(t, string(resp.Targets), "local#app#launch")
	})

	t.Run("Should 404 unknown apps", func(t *testing.T) {
		t.Parallel()

		rr := do(e.api, http.MethodGet, "/api/v1/manifests/zulu", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Should paginate", func(t *testing.T) {
		t.Parallel()

		rr := do(e.api, http.MethodGet, "/api/v1/manifests?page=2&page_size=2", "")

		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Data       []controlapi.ManifestSummary `json:"data"`
			Pagination controlapi.Pagination        `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "charlie", resp.Data[0].AppKey)
		assert.Equal(t, controlapi.Pagination{TotalItems: 3, TotalPages: 2, CurrentPage: 2, PageSize: 2}, resp.Pagination)
	})

	t.Run("Should clamp out of range page sizes", func(t *testing.T) {
		t.Parallel()

		rr := do(e.api, http.MethodGet, "/api/v1/manifests?page=0&page_size=1000", "")

		require.Equal(t, http.StatusOK, rr.Code)
		var resp controlapi.PaginatedResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Pagination.CurrentPage)
		assert.Equal(t, 100, resp.Pagination.PageSize)
	})

	t.Run("Should reject non numeric pages", func(t *testing.T) {
		t.Parallel()

		rr := do(e.api, http.MethodGet, "/api/v1/manifests?page=banana", "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestDeleteManifest(t *testing.T) {
	t.Parallel()

	t.Run("Should delete and announce version 0", func(t *testing.T) {
		t.Parallel()

		// Arrange
		e := newEnv(t)
		require.Equal(t, http.StatusCreated, do(e.api, http.MethodPut, "/api/v1/manifests/demo", validManifest).Code)
		require.NoError(t, e.api.Wait(t.Context()))

		// Act
		rr := do(e.api, http.MethodDelete, "/api/v1/manifests/demo", "")

		// Assert
		require.Equal(t, http.StatusNoContent, rr.Code)
		require.NoError(t, e.api.Wait(t.Context()))
		published := e.cache.Published()
		require.Len(t, published, 2)
		assert.Equal(t, cache.Invalidation{AppKey: "demo"}, published[1])
		_, _, ok := e.cache.Manifest("demo")
		assert.False(t, ok)
	})

	t.Run("Should 404 a missing manifest", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)

		rr := do(e.api, http.MethodDelete, "/api/v1/manifests/demo", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestInternalErrors(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.repo.Err = testsupport.ErrInjected

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rr := do(e.api, method, "/api/v1/manifests/demo", "")
		assert.Equal(t, http.StatusInternalServerError, rr.Code, method)
	}
	rr := do(e.api, http.MethodPut, "/api/v1/manifests/demo", validManifest)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestAuthentication(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("s3cret"))
	api := controlapi.NewAPI(testsupport.NewFakeManifestRepository(), testsupport.NewFakeCache(), hex.EncodeToString(sum[:]),
		controlapi.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"missing key", "/api/v1/manifests", "", http.StatusUnauthorized},
		{"wrong key", "/api/v1/manifests", "guess", http.StatusUnauthorized},
		{"valid key", "/api/v1/manifests", "s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(controlapi.APIKeyHeader, tt.key)
			}
			rr := httptest.NewRecorder()

			api.Router.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
		})
	}

	t.Run("Should panic without a key hash", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			controlapi.NewAPI(testsupport.NewFakeManifestRepository(), testsupport.NewFakeCache(), "")
		})
	})
}
