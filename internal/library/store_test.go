package library

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveGetCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx, "a1")
	require.NoError(t, err)
	assert.Zero(t, n)

	app := &App{ID: "a1", Name: "Demo", BundleID: "com.demo", Version: "1.0", Path: "/apps/a1"}
	require.NoError(t, s.Save(ctx, app))
	assert.Equal(t, KindImported, app.Kind)
	assert.False(t, app.CreatedAt.IsZero())

	n, err = s.Count(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.Exists(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Name)
	assert.Equal(t, "com.demo", got.BundleID)
	assert.Empty(t, got.Icon)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), "nope"), ErrNotFound)
}

func TestListByKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Save(ctx, &App{ID: "1", Name: "One", BundleID: "com.one", Path: "p1", CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Save(ctx, &App{ID: "2", Name: "Two", BundleID: "com.two", Path: "p2", Kind: KindSigned, CreatedAt: now}))
	require.NoError(t, s.Save(ctx, &App{ID: "3", Name: "Three", BundleID: "com.three", Path: "p3", Icon: "AppIcon60x60", CreatedAt: now.Add(time.Minute)}))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.Equal(t, "AppIcon60x60", all[0].Icon)

	signed, err := s.List(ctx, KindSigned)
	require.NoError(t, err)
	require.Len(t, signed, 1)
	assert.Equal(t, "2", signed[0].ID)

	require.NoError(t, s.Delete(ctx, "2"))
	signed, err = s.List(ctx, KindSigned)
	require.NoError(t, err)
	assert.Empty(t, signed)
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(dbPath, logger)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), &App{ID: "k", Name: "Keep", BundleID: "com.keep", Path: "p"}))
	require.NoError(t, s.Close())

	s, err = Open(dbPath, logger)
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
