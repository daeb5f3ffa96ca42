//go:build integration

package badger_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/cache/badger"
	"github.com/marmos91/stackd/pkg/cache/cachetest"
	"github.com/marmos91/stackd/pkg/config"
)

// TestBadgerOnDisk runs the backend suite against a database on disk.
func TestBadgerOnDisk(t *testing.T) {
	suite := cachetest.Suite{
		NewBackend: func(t *testing.T) cache.Backend {
			store, err := badger.Open(badger.Options{
				Path:       filepath.Join(t.TempDir(), "cache"),
				GCInterval: -1,
			})
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()

	cfg := config.GetDefaultConfig()
	cfg.Cache.Driver = config.DriverBadger
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache")
	cfg.Cache.KeyPrefix = "app:"

	first, err := cache.Open(ctx, cfg, cache.OpenOptions{})
	require.NoError(t, err)

	require.NoError(t, first.Set(ctx, "session:1", map[string]int{"n": 1}, time.Hour))
	require.NoError(t, first.Set(ctx, "short", "gone soon", time.Second))
	require.NoError(t, first.Close())

	time.Sleep(2100 * time.Millisecond)

	second, err := cache.Open(ctx, cfg, cache.OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	var got map[string]int
	found, err := second.Get(ctx, "session:1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, got["n"])

	found, err = second.Get(ctx, "short", new(string))
	require.NoError(t, err)
	assert.False(t, found, "expired entries must not come back after reopen")
}

func TestBadgerPathIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")

	first, err := badger.Open(badger.Options{Path: path, GCInterval: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	_, err = badger.Open(badger.Options{Path: path, GCInterval: -1})
	assert.Error(t, err, "a second process must not open the same directory")
}
