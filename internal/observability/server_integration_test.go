//go:build integration

package observability_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/database"
	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/observability"
	"github.com/rafaeljc/engage/internal/testsupport"
)

// TestReadiness_Integration wires the checkers the control plane uses and
// breaks each dependency in turn.
func TestReadiness_Integration(t *testing.T) {
	ctx := context.Background()

	pgCtr, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer pgCtr.Terminate(ctx)

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	redisCache := redisCtr.Cache

	port, err := freePort()
	require.NoError(t, err)

	// Non-default paths prove the server reads its configuration.
	obsCfg := &config.ObservabilityConfig{
		Port:          fmt.Sprint(port),
		Timeout:       time.Second,
		LivenessPath:  "/alive",
		ReadinessPath: "/ready",
		MetricsPath:   "/prom",
	}
	server := observability.NewServer(logger.Discard(), obsCfg,
		database.NewHealthChecker(pgCtr.DB),
		observability.CheckerFunc{ComponentName: "redis", Fn: redisCache.HealthCheck},
	)
	require.NoError(t, server.Start())
	defer func() { _ = server.Shutdown(ctx) }()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/alive")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond, "observability server did not start")

	ready := func(t *testing.T) (int, observability.ReadinessReport) {
		t.Helper()
		resp, err := http.Get(baseURL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body observability.ReadinessReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	t.Run("Should expose engage metrics on the configured path", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/prom")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "go_goroutines")
	})

	t.Run("Should be ready when postgres is migrated and redis answers", func(t *testing.T) {
		code, body := ready(t)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "up", body.Checks["postgres"])
		assert.Equal(t, "up", body.Checks["redis"])
	})

	t.Run("Should not be ready once the manifests table is gone", func(t *testing.T) {
		_, err := pgCtr.DB.Exec(ctx, "ALTER TABLE manifests RENAME TO manifests_old")
		require.NoError(t, err)
		defer func() {
			_, err := pgCtr.DB.Exec(ctx, "ALTER TABLE manifests_old RENAME TO manifests")
			require.NoError(t, err)
		}()

		code, body := ready(t)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks["postgres"], database.ErrSchemaMissing.Error())
		assert.Equal(t, "up", body.Checks["redis"])
	})

	t.Run("Should not be ready when redis stops", func(t *testing.T) {
		require.NoError(t, redisCtr.Container.Stop(ctx, nil))

		code, body := ready(t)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks["redis"], "down")
	})
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
