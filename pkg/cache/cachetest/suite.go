// Package cachetest provides a conformance suite that every cache backend
// must pass.
//
// Usage from a driver package:
//
//	func TestConformance(t *testing.T) {
//		suite := &cachetest.Suite{
//			NewBackend: func(t *testing.T) cache.Backend { return newTestBackend(t) },
//		}
//		suite.Run(t)
//	}
package cachetest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stackd/pkg/cache"
)

// Suite runs the shared behaviour tests against a backend.
type Suite struct {
	// NewBackend returns a fresh, empty backend. The suite closes it.
	NewBackend func(t *testing.T) cache.Backend

	// SkipTTL skips expiry tests for backends whose clock cannot be
	// advanced cheaply.
	SkipTTL bool
}

type record struct {
	Name  string            `json:"name"`
	Count int               `json:"count"`
	Tags  map[string]string `json:"tags,omitempty"`
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewCache wraps a fresh backend in a client with the given prefix.
func (s *Suite) NewCache(t *testing.T, prefix string) *cache.Client {
	t.Helper()
	c := cache.NewClient(s.NewBackend(t), cache.Options{
		DefaultTTL:   time.Hour,
		KeyPrefix:    prefix,
		MaxValueSize: 4096,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Run executes every group.
func (s *Suite) Run(t *testing.T) {
	t.Run("ReadWrite", s.RunReadWriteTests)
	t.Run("Delete", s.RunDeleteTests)
	t.Run("Prefix", s.RunPrefixTests)
	t.Run("Limits", s.RunLimitTests)
	t.Run("Lifecycle", s.RunLifecycleTests)
	if !s.SkipTTL {
		t.Run("TTL", s.RunTTLTests)
	}
}

// RunReadWriteTests covers Set and Get round trips.
func (s *Suite) RunReadWriteTests(t *testing.T) {
	t.Run("SetThenGet", func(t *testing.T) {
		c := s.NewCache(t, "")
		ctx := testContext(t)

		in := record{Name: "alpha", Count: 3, Tags: map[string]string{"b": "2", "a": "1"}}
		require.NoError(t, c.Set(ctx, "records:1", in, 0))

		var out record
		found, err := c.Get(ctx, "records:1", &out)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, in, out)
	})

	t.Run("MissingKey", func(t *testing.T) {
		c := s.NewCache(t, "")
		var out record
		found, err := c.Get(testContext(t), "nope", &out)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Overwrite", func(t *testing.T) {
		c := s.NewCache(t, "")
		ctx := testContext(t)

		require.NoError(t, c.Set(ctx, "k", "first", 0))
		require.NoError(t, c.Set(ctx, "k", "second", 0))

		var out string
		found, err := c.Get(ctx, "k", &out)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "second", out)
	})

	t.Run("MapKeysSorted", func(t *testing.T) {
		c := s.NewCache(t, "")
		ctx := testContext(t)

		require.NoError(t, c.Set(ctx, "m", map[string]int{"z": 1, "a": 2, "m": 3}, 0))
		raw, found, err := c.GetRaw(ctx, "m")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, `{"a":2,"m":3,"z":1}`, string(raw))
	})

	t.Run("PrefixIsolation", func(t *testing.T) {
		backend := s.NewBackend(t)
		a := cache.NewClient(backend, cache.Options{KeyPrefix: "a:"})
		b := cache.NewClient(backend, cache.Options{KeyPrefix: "b:"})
		t.Cleanup(func() { _ = a.Close() })
		ctx := testContext(t)

		require.NoError(t, a.Set(ctx, "shared", 1, 0))
		found, err := b.Get(ctx, "shared", nil)
		require.NoError(t, err)
		assert.False(t, found, "keys written under one prefix must not be visible under another")
	})
}

// RunDeleteTests covers Delete.
func (s *Suite) RunDeleteTests(t *testing.T) {
	t.Run("CountsExisting", func(t *testing.T) {
		c := s.NewCache(t, "")
		ctx := testContext(t)

		require.NoError(t, c.Set(ctx, "a", 1, 0))
		require.NoError(t, c.Set(ctx, "b", 2, 0))

		n, err := c.Delete(ctx, "a", "b", "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		found, err := c.Get(ctx, "a", nil)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("NoKeys", func(t *testing.T) {
		c := s.NewCache(t, "")
		n, err := c.Delete(testContext(t))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		c := s.NewCache(t, "")
		_, err := c.Delete(testContext(t), "ok", "bad key")
		assert.ErrorIs(t, err, cache.ErrInvalidKey)
	})
}

// RunPrefixTests covers DeleteByPrefix.
func (s *Suite) RunPrefixTests(t *testing.T) {
	t.Run("DeletesOnlyMatching", func(t *testing.T) {
		c := s.NewCache(t, "app:")
		ctx := testContext(t)

		for i := 0; i < 25; i++ {
			require.NoError(t, c.Set(ctx, fmt.Sprintf("user:%d", i), i, 0))
		}
		require.NoError(t, c.Set(ctx, "session:1", "s", 0))

		n, err := c.DeleteByPrefix(ctx, "user:")
		require.NoError(t, err)
		assert.Equal(t, int64(25), n)

		found, err := c.Get(ctx, "session:1", nil)
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("GlobCharactersAreLiteral", func(t *testing.T) {
		c := s.NewCache(t, "")
		ctx := testContext(t)

		require.NoError(t, c.Set(ctx, "a*b:1", 1, 0))
		require.NoError(t, c.Set(ctx, "axb:1", 1, 0))
		require.NoError(t, c.Set(ctx, "a?[c]:1", 1, 0))

		n, err := c.DeleteByPrefix(ctx, "a*")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = c.DeleteByPrefix(ctx, "a?[c]")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		found, err := c.Get(ctx, "axb:1", nil)
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("EmptyPrefixRejected", func(t *testing.T) {
		c := s.NewCache(t, "")
		ctx := testContext(t)
		require.NoError(t, c.Set(ctx, "keep", 1, 0))

		_, err := c.DeleteByPrefix(ctx, "")
		assert.ErrorIs(t, err, cache.ErrInvalidKey)

		found, err := c.Get(ctx, "keep", nil)
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("NamespaceIsRespected", func(t *testing.T) {
		backend := s.NewBackend(t)
		a := cache.NewClient(backend, cache.Options{KeyPrefix: "a:"})
		b := cache.NewClient(backend, cache.Options{KeyPrefix: "b:"})
		t.Cleanup(func() { _ = a.Close() })
		ctx := testContext(t)

		require.NoError(t, a.Set(ctx, "x:1", 1, 0))
		require.NoError(t, b.Set(ctx, "x:1", 1, 0))

		n, err := a.DeleteByPrefix(ctx, "x:")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		found, err := b.Get(ctx, "x:1", nil)
		require.NoError(t, err)
		assert.True(t, found)
	})
}

// RunLimitTests covers key and value validation.
func (s *Suite) RunLimitTests(t *testing.T) {
	c := s.NewCache(t, "")
	ctx := testContext(t)

	for _, key := range []string{"", "has space", "tab\tkey", "nl\n", strings.Repeat("k", cache.MaxKeyLength+1)} {
		err := c.Set(ctx, key, 1, 0)
		assert.ErrorIs(t, err, cache.ErrInvalidKey, "key %q", key)
	}
	assert.NoError(t, c.Set(ctx, strings.Repeat("k", cache.MaxKeyLength), 1, 0))

	err := c.Set(ctx, "big", strings.Repeat("x", 5000), 0)
	assert.ErrorIs(t, err, cache.ErrValueTooLarge)

	found, err := c.Get(ctx, "big", nil)
	require.NoError(t, err)
	assert.False(t, found, "rejected values must not be stored")

	err = c.Set(ctx, "unencodable", make(chan int), 0)
	assert.Error(t, err)
}

// RunLifecycleTests covers Ping, Flush and Close.
func (s *Suite) RunLifecycleTests(t *testing.T) {
	t.Run("Ping", func(t *testing.T) {
		c := s.NewCache(t, "")
		assert.NoError(t, c.Ping(testContext(t)))
	})

	t.Run("FlushRemovesEverything", func(t *testing.T) {
		backend := s.NewBackend(t)
		a := cache.NewClient(backend, cache.Options{KeyPrefix: "a:"})
		b := cache.NewClient(backend, cache.Options{KeyPrefix: "b:"})
		t.Cleanup(func() { _ = a.Close() })
		ctx := testContext(t)

		require.NoError(t, a.Set(ctx, "k", 1, 0))
		require.NoError(t, b.Set(ctx, "k", 1, 0))
		require.NoError(t, a.Flush(ctx))

		found, err := b.Get(ctx, "k", nil)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ClosedCache", func(t *testing.T) {
		c := s.NewCache(t, "")
		ctx := testContext(t)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close(), "Close is idempotent")

		assert.ErrorIs(t, c.Set(ctx, "k", 1, 0), cache.ErrClosed)
		_, err := c.Get(ctx, "k", nil)
		assert.ErrorIs(t, err, cache.ErrClosed)
		assert.Error(t, c.Ping(ctx))
	})
}

// RunTTLTests covers expiry.
func (s *Suite) RunTTLTests(t *testing.T) {
	c := s.NewCache(t, "")
	ctx := testContext(t)

	require.NoError(t, c.Set(ctx, "short", "v", time.Second))
	require.NoError(t, c.Set(ctx, "default", "v", 0))

	assert.Eventually(t, func() bool {
		found, err := c.Get(ctx, "short", nil)
		return err == nil && !found
	}, 5*time.Second, 100*time.Millisecond, "key with 1s TTL should expire")

	found, err := c.Get(ctx, "default", nil)
	require.NoError(t, err)
	assert.True(t, found, "default TTL is an hour")
}
