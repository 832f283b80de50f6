// Package testsupport starts throwaway Postgres and Redis containers for
// integration tests, provides in-memory fakes of the manifest repository and
// cache, and reads Prometheus metrics back in assertions.
package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/database"
)

const postgresImage = "postgres:15-alpine"

// PostgresContainer is a migrated database plus a pool connected to it.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string
}

// PostgresOption tunes the pool opened against the container.
type PostgresOption func(*config.DatabaseConfig)

// WithMaxConns caps the pool, for tests that exhaust it on purpose.
func WithMaxConns(n int) PostgresOption {
	return func(c *config.DatabaseConfig) {
		c.MaxConns = n
		c.MinConns = min(c.MinConns, n)
	}
}

// Terminate closes the pool and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// TruncateManifests empties the manifests table between subtests.
func (c *PostgresContainer) TruncateManifests(ctx context.Context) error {
	_, err := c.DB.Exec(ctx, "TRUNCATE manifests")
	return err
}

// StartPostgresContainer runs Postgres with the migrations under
// migrationsDir applied as init scripts, then opens a pool through
// database.NewPostgresPool.
func StartPostgresContainer(ctx context.Context, migrationsDir string, opts ...PostgresOption) (*PostgresContainer, error) {
	scripts, err := migrationScripts(migrationsDir)
	if err != nil {
		return nil, err
	}

	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("engage_test"),
		postgres.WithUsername("engage"),
		postgres.WithPassword("engage-test-password"),
		postgres.WithInitScripts(scripts...),
		// The server restarts once after init scripts run.
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	cfg := &config.DatabaseConfig{
		URL:             dsn,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		PingMaxRetries:  5,
		PingBackoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := database.NewPostgresPool(ctx, cfg)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	return &PostgresContainer{Container: ctr, DB: pool, ConnectionString: dsn}, nil
}

func migrationScripts(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	scripts, err := filepath.Glob(filepath.Join(abs, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", abs)
	}
	slices.Sort(scripts)
	return scripts, nil
}
