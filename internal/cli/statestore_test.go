package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/engage/internal/state"
)

func TestStateStores(t *testing.T) {
	t.Parallel()

	stores := map[string]func(t *testing.T) StateStore{
		"memory": func(t *testing.T) StateStore {
			s, err := OpenStateStore(t.Context(), "", "")
			require.NoError(t, err)
			return s
		},
		"json": func(t *testing.T) StateStore {
			s, err := OpenStateStore(t.Context(), filepath.Join(t.TempDir(), "s.json"), "")
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) StateStore {
			s, err := OpenStateStore(t.Context(), filepath.Join(t.TempDir(), "s.sqlite"), "u-1")
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			store := open(t)
			t.Cleanup(func() { _ = store.Close() })

			// Act & Assert: absent snapshots load empty
			empty, err := store.Load(t.Context())
			require.NoError(t, err)
			assert.Empty(t, empty.CodePoints)
			assert.NotNil(t, empty.Device)

			st := state.New()
			state.NewMutator(nil).Count(st.CodePoints, launch)
			st.Device["plan"] = "pro"
			require.NoError(t, store.Save(t.Context(), st))

			// Overwrites replace the previous snapshot
			state.NewMutator(nil).Count(st.CodePoints, launch)
			require.NoError(t, store.Save(t.Context(), st))

			loaded, err := store.Load(t.Context())
			require.NoError(t, err)
			require.Contains(t, loaded.CodePoints, launch)
			assert.Equal(t, int64(2), loaded.CodePoints[launch].Invokes.Total)
			assert.Equal(t, "pro", loaded.Device["plan"])
		})
	}
}

func TestSQLiteStore_DefaultSession(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.db")
	store, err := OpenSQLiteStore(t.Context(), path, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Save(t.Context(), state.New()))

	ids, err := store.Sessions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultSession}, ids)
}
