package apiclient

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stackd/pkg/api"
	"github.com/marmos91/stackd/pkg/api/auth"
	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/cache/badger"
)

const testSecret = "apiclient-test-secret-at-least-32-chars"

// newTestServer serves the real router over a memory cache and returns a
// client carrying a token with the given scopes.
func newTestServer(t *testing.T, scopes ...string) *Client {
	t.Helper()

	store, err := badger.Open(badger.Options{GCInterval: -1})
	require.NoError(t, err)
	c := cache.NewClient(store, cache.Options{DefaultTTL: time.Hour, MaxValueSize: 1024})
	t.Cleanup(func() { _ = c.Close() })

	jwt, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	tok, err := jwt.Issue("apiclient", time.Hour, scopes)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewRouter(api.Dependencies{Cache: c, JWT: jwt, MaxBodySize: 1024}))
	t.Cleanup(srv.Close)

	return New(srv.URL).WithToken(tok.Token)
}

func TestCacheRoundTrip(t *testing.T) {
	client := newTestServer(t, auth.DefaultScopes...)
	ctx := context.Background()

	require.NoError(t, client.SetValue(ctx, "users/42", map[string]any{"name": "ada"}, time.Minute))
	require.NoError(t, client.Set(ctx, "odd?key#1", json.RawMessage(`[1,2]`), 0))

	entry, err := client.Get(ctx, "users/42")
	require.NoError(t, err)
	assert.Equal(t, "users/42", entry.Key)
	assert.JSONEq(t, `{"name":"ada"}`, string(entry.Value))

	entry, err = client.Get(ctx, "odd?key#1")
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(entry.Value))

	n, err := client.Delete(ctx, "users/42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = client.Get(ctx, "users/42")
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestCacheKeysWithPercent(t *testing.T) {
	client := newTestServer(t, auth.DefaultScopes...)
	ctx := context.Background()

	for _, key := range []string{"x%41", "50%off", "dir/100%"} {
		require.NoError(t, client.Set(ctx, key, json.RawMessage(`true`), 0), key)

		entry, err := client.Get(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, key, entry.Key)
		assert.JSONEq(t, `true`, string(entry.Value))
	}

	_, err := client.Get(ctx, "xA")
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestCacheDeleteByPrefix(t *testing.T) {
	client := newTestServer(t, auth.DefaultScopes...)
	ctx := context.Background()

	for _, k := range []string{"session:1", "session:2", "user:1"} {
		require.NoError(t, client.SetValue(ctx, k, 1, 0))
	}

	n, err := client.DeleteByPrefix(ctx, "session:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = client.Get(ctx, "user:1")
	assert.NoError(t, err)
}

func TestCacheReadOnlyToken(t *testing.T) {
	client := newTestServer(t, auth.ScopeCacheRead)

	err := client.SetValue(context.Background(), "k", 1, 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsAuthError())
	assert.Equal(t, 403, apiErr.StatusCode)
}

func TestCacheClientValidation(t *testing.T) {
	client := New("http://127.0.0.1:1")
	ctx := context.Background()

	assert.Error(t, client.Set(ctx, "", json.RawMessage(`1`), 0))
	assert.Error(t, client.Set(ctx, "k", json.RawMessage(`{nope`), 0))
	_, err := client.Get(ctx, "")
	assert.Error(t, err)
	_, err = client.DeleteByPrefix(ctx, "")
	assert.Error(t, err)
}
