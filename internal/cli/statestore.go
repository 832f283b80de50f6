package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rafaeljc/engage/internal/state"
)

// DefaultSession is the sqlite row used when --session is not given.
const DefaultSession = "default"

// StateStore persists one session snapshot between CLI runs.
// A missing snapshot loads as an empty state.
type StateStore interface {
	Load(ctx context.Context) (*state.State, error)
	Save(ctx context.Context, st *state.State) error
	Close() error
}

// OpenStateStore picks a store by the extension of path. An empty path keeps
// state in memory for the duration of the command.
func OpenStateStore(ctx context.Context, path, session string) (StateStore, error) {
	if path == "" {
		return &memoryStore{}, nil
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return &FileStore{Path: path}, nil
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLiteStore(ctx, path, session)
	default:
		return nil, fmt.Errorf("unsupported state extension %q: use .json, .db or .sqlite", ext)
	}
}

type memoryStore struct {
	st *state.State
}

func (m *memoryStore) Load(context.Context) (*state.State, error) {
	if m.st == nil {
		return state.New(), nil
	}
	return m.st.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, st *state.State) error {
	m.st = st.Clone()
	return nil
}

func (m *memoryStore) Close() error { return nil }

// FileStore keeps the snapshot as a plain JSON file.
type FileStore struct {
	Path string
}

func (f *FileStore) Load(context.Context) (*state.State, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return state.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return state.Decode(data)
}

// Save replaces the file atomically.
func (f *FileStore) Save(_ context.Context, st *state.State) error {
	data, err := st.Encode()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".engage-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

const sessionsSchema = `CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps many sessions in one sqlite database, one row each.
type SQLiteStore struct {
	db      *sql.DB
	session string
	now     state.Clock
}

// OpenSQLiteStore creates or opens the database at path and selects the row
// of session.
func OpenSQLiteStore(ctx context.Context, path, session string) (*SQLiteStore, error) {
	if session == "" {
		session = DefaultSession
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		sessionsSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare database: %w", err)
		}
	}

	return &SQLiteStore{db: db, session: session, now: state.SystemClock}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*state.State, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM sessions WHERE id = ?", s.session).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return state.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q: %w", s.session, err)
	}
	return state.Decode([]byte(body))
}

func (s *SQLiteStore) Save(ctx context.Context, st *state.State) error {
	data, err := st.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		s.session, string(data), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %q: %w", s.session, err)
	}
	return nil
}

// Sessions lists the ids stored in the database, most recently updated first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sessions ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
