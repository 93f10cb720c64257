package storage

import (
	"context"
	"path/filepath"
	"testing"

	"eventcorr/internal/ctxkeys"
	"eventcorr/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kv.sqlite3"), "eventcorr_", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_SetGetDelete(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxkeys.TraceIDKey{}, "trace-1")
	s := openTemp(t)

	_, err := s.Get(ctx, "user_id")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "user_id", "u-1"))
	require.NoError(t, s.Set(ctx, "user_id", "u-2"))
	v, err := s.Get(ctx, "user_id")
	require.NoError(t, err)
	assert.Equal(t, "u-2", v)

	require.NoError(t, s.Delete(ctx, "user_id"))
	_, ok := store.Lookup(ctx, s, "user_id")
	assert.False(t, ok)
}

func TestSQLite_Persists(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "kv.sqlite3")
	ctx := context.Background()

	s, err := Open(dsn, "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "anonymous_id", "a-1"))
	require.NoError(t, s.Close())

	s, err = Open(dsn, "", nil)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get(ctx, "anonymous_id")
	require.NoError(t, err)
	assert.Equal(t, "a-1", v)
}

var _ store.KV = (*SQLite)(nil)
