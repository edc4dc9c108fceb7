package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLite_RoundTrip(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)

	require.NoError(t, store.Set("k", "v1"))
	v, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	// Overwrite
	require.NoError(t, store.Set("k", "v2"))
	v, err = store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, store.Remove("k"))
	_, err = store.Get("k")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Removing an absent key is not an error
	require.NoError(t, store.Remove("k"))
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("token", "persisted"))

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	v, err := reopened.Get("token")
	require.NoError(t, err)
	assert.Equal(t, "persisted", v)
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, m.Set("k", "v"))
	v, err := m.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, m.Remove("k"))
	_, err = m.Get("k")
	assert.True(t, errors.Is(err, ErrNotFound))
}
