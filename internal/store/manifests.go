// Package store is the PostgreSQL data access layer. The manifests table is
// the source of truth for every application's engagement manifest; Redis
// only ever holds copies.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/engage/internal/validation"
)

var (
	// ErrManifestNotFound is returned when no manifest exists for an app key.
	ErrManifestNotFound = errors.New("manifest not found")

	// ErrVersionConflict is returned when an optimistic write lost the race.
	ErrVersionConflict = errors.New("manifest version conflict")
)

const uniqueViolation = "23505"

var _ ManifestRepository = (*PostgresStore)(nil)

// ManifestRecord mirrors a row of the manifests table.
type ManifestRecord struct {
	ID        int64           `db:"id"`
	AppKey    string          `db:"app_key"`
	Body      json.RawMessage `db:"body"`
	Version   int64           `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// ManifestRepository persists manifests.
type ManifestRepository interface {
	// UpsertManifest stores body for appKey and returns the new row.
	//
	// A nil expectedVersion writes unconditionally. Zero only creates and
	// fails with ErrVersionConflict if the app already has a manifest. Any
	// other value only updates that exact version.
	UpsertManifest(ctx context.Context, appKey string, body json.RawMessage, expectedVersion *int64) (*ManifestRecord, error)

	GetManifest(ctx context.Context, appKey string) (*ManifestRecord, error)

	// ListManifests returns one page ordered by app key plus the total count.
	ListManifests(ctx context.Context, limit, offset int) ([]*ManifestRecord, int64, error)

	// ListAllManifests returns every manifest. Used by the syncer.
	ListAllManifests(ctx context.Context) ([]*ManifestRecord, error)

	DeleteManifest(ctx context.Context, appKey string) error
}

// PostgresStore implements ManifestRepository on a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore panics on a nil pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(db, "database pool")
	return &PostgresStore{db: db}
}

const manifestColumns = `id, app_key, body, version, created_at, updated_at`

// UpsertManifest implements ManifestRepository.
func (s *PostgresStore) UpsertManifest(ctx context.Context, appKey string, body json.RawMessage, expectedVersion *int64) (*ManifestRecord, error) {
	var (
		query string
		args  []any
	)

	switch {
	case expectedVersion == nil:
		query = `
			INSERT INTO manifests (app_key, body)
			VALUES ($1, $2)
			ON CONFLICT (app_key) DO UPDATE
			SET body = EXCLUDED.body,
			    version = manifests.version + 1,
			    updated_at = NOW()
			RETURNING ` + manifestColumns
		args = []any{appKey, string(body)}
	case *expectedVersion == 0:
		query = `
			INSERT INTO manifests (app_key, body)
			VALUES ($1, $2)
			RETURNING ` + manifestColumns
		args = []any{appKey, string(body)}
	default:
		query = `
			UPDATE manifests
			SET body = $2, version = version + 1, updated_at = NOW()
			WHERE app_key = $1 AND version = $3
			RETURNING ` + manifestColumns
		args = []any{appKey, string(body), *expectedVersion}
	}

	rec, err := scanManifest(s.db.QueryRow(ctx, query, args...))
	if err == nil {
		return rec, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, fmt.Errorf("%w: manifest %q already exists", ErrVersionConflict, appKey)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// The guarded UPDATE matched nothing: either the row is gone or the
		// version moved on.
		if _, getErr := s.GetManifest(ctx, appKey); errors.Is(getErr, ErrManifestNotFound) {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: manifest %q is no longer at version %d", ErrVersionConflict, appKey, *expectedVersion)
	}
	return nil, fmt.Errorf("failed to upsert manifest: %w", err)
}

// GetManifest implements ManifestRepository.
func (s *PostgresStore) GetManifest(ctx context.Context, appKey string) (*ManifestRecord, error) {
	query := `SELECT ` + manifestColumns + ` FROM manifests WHERE app_key = $1`

	rec, err := scanManifest(s.db.QueryRow(ctx, query, appKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrManifestNotFound, appKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}
	return rec, nil
}

// ListManifests implements ManifestRepository.
func (s *PostgresStore) ListManifests(ctx context.Context, limit, offset int) ([]*ManifestRecord, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM manifests`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count manifests: %w", err)
	}
	if total == 0 {
		return []*ManifestRecord{}, 0, nil
	}

	query := `
		SELECT ` + manifestColumns + `
		FROM manifests
		ORDER BY app_key
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list manifests: %w", err)
	}
	defer rows.Close()

	records, err := collectManifests(rows, limit)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListAllManifests implements ManifestRepository.
func (s *PostgresStore) ListAllManifests(ctx context.Context) ([]*ManifestRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+manifestColumns+` FROM manifests ORDER BY app_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}
	defer rows.Close()

	return collectManifests(rows, 0)
}

// DeleteManifest implements ManifestRepository.
func (s *PostgresStore) DeleteManifest(ctx context.Context, appKey string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM manifests WHERE app_key = $1`, appKey)
	if err != nil {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrManifestNotFound, appKey)
	}
	return nil
}

func scanManifest(row pgx.Row) (*ManifestRecord, error) {
	var (
		rec  ManifestRecord
		body []byte
	)
	if err := row.Scan(&rec.ID, &rec.AppKey, &body, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Body = body
	return &rec, nil
}

func collectManifests(rows pgx.Rows, capacity int) ([]*ManifestRecord, error) {
	records := make([]*ManifestRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan manifest row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}
