package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := time.Date(2024, 6, 10, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }
	require.NoError(t, s.PutContent(ctx, Entry{ID: "r1", Content: "# One", Source: "inline"}))

	got, err := s.GetContent(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "# One", got.Content)
	assert.Equal(t, "inline", got.Source)
	assert.True(t, first.Equal(got.CreatedAt))

	// Upsert keeps created_at and moves updated_at
	second := first.Add(time.Hour)
	s.now = func() time.Time { return second }
	require.NoError(t, s.PutContent(ctx, Entry{ID: "r1", Content: "# Two", Source: "blob-store", URL: "https://cdn/x.md"}))

	got, err = s.GetContent(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "# Two", got.Content)
	assert.Equal(t, "https://cdn/x.md", got.URL)
	assert.True(t, first.Equal(got.CreatedAt))
	assert.True(t, second.Equal(got.UpdatedAt))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetContent_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetContent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutContent_RequiresID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.PutContent(context.Background(), Entry{Content: "x"}))
}

func TestDeleteContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutContent(ctx, Entry{ID: "r1", Content: "x"}))
	require.NoError(t, s.DeleteContent(ctx, "r1"))
	require.NoError(t, s.DeleteContent(ctx, "r1"))

	_, err := s.GetContent(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_FileReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "cache.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutContent(ctx, Entry{ID: "r1", Content: "# Kept"}))
	require.NoError(t, s.Close())

	// Migrations are not reapplied
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetContent(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "# Kept", got.Content)
	require.NoError(t, s.Ping(ctx))
}
