package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSchemaMissing means Postgres answers but the manifests migration has not
// been applied.
var ErrSchemaMissing = errors.New("manifests table is missing")

// HealthChecker gates readiness on Postgres being reachable and migrated.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker wraps pool.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// Name implements observability.Checker.
func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check implements observability.Checker. A single round trip answers both
// questions.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errors.New("database pool is nil")
	}
	var migrated bool
	if err := h.pool.QueryRow(ctx, "SELECT to_regclass('manifests') IS NOT NULL").Scan(&migrated); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	if !migrated {
		return ErrSchemaMissing
	}
	return nil
}
