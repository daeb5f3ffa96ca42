package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stackd/pkg/api/auth"
	"github.com/marmos91/stackd/pkg/api/handlers"
	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/cache/badger"
	"github.com/marmos91/stackd/pkg/metrics"
)

const testSecret = "this-is-a-test-secret-of-32-chars!"

func newTestCache(t *testing.T) *cache.Client {
	t.Helper()
	store, err := badger.Open(badger.Options{GCInterval: -1})
	require.NoError(t, err)
	c := cache.NewClient(store, cache.Options{KeyPrefix: "test", MaxValueSize: 256})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestJWT(t *testing.T) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	return svc
}

func bearer(t *testing.T, svc *auth.JWTService, scopes ...string) string {
	t.Helper()
	tok, err := svc.Issue("tester", time.Hour, scopes)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func do(t *testing.T, h http.Handler, method, path, authz, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLegacyHealthEnvelope(t *testing.T) {
	h := NewRouter(Dependencies{})

	rec := do(t, h, http.MethodGet, "/api/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"data":null,"message":"OK","status":200}`, strings.TrimSpace(rec.Body.String()))
}

func TestRootRedirectsToHealth(t *testing.T) {
	h := NewRouter(Dependencies{})

	rec := do(t, h, http.MethodGet, "/", "", "")

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/health", rec.Header().Get("Location"))
}

func TestLiveness(t *testing.T) {
	h := NewRouter(Dependencies{Version: "1.2.3"})

	rec := do(t, h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string                `json:"status"`
		Data   handlers.LivenessData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, handlers.ServiceName, resp.Data.Service)
	assert.Equal(t, "1.2.3", resp.Data.Version)
}

func TestReadiness(t *testing.T) {
	t.Run("no cache", func(t *testing.T) {
		rec := do(t, NewRouter(Dependencies{}), http.MethodGet, "/health/ready", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "cache not initialized")
	})

	t.Run("healthy cache", func(t *testing.T) {
		rec := do(t, NewRouter(Dependencies{Cache: newTestCache(t)}), http.MethodGet, "/health/ready", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("closed cache", func(t *testing.T) {
		c := newTestCache(t)
		require.NoError(t, c.Close())

		rec := do(t, NewRouter(Dependencies{Cache: c}), http.MethodGet, "/health/cache", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp struct {
			Status string               `json:"status"`
			Data   handlers.CacheHealth `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, badger.DriverName, resp.Data.Driver)
		assert.NotEmpty(t, resp.Data.Error)
	})
}

func TestUnknownRouteIsProblem(t *testing.T) {
	rec := do(t, NewRouter(Dependencies{}), http.MethodGet, "/nope", "", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, handlers.ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
}

func TestCacheRoutesDisabledWithoutSecret(t *testing.T) {
	h := NewRouter(Dependencies{Cache: newTestCache(t)})

	rec := do(t, h, http.MethodGet, "/api/v1/cache/k", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheRoutesRequireToken(t *testing.T) {
	svc := newTestJWT(t)
	h := NewRouter(Dependencies{Cache: newTestCache(t), JWT: svc})

	rec := do(t, h, http.MethodGet, "/api/v1/cache/k", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodGet, "/api/v1/cache/k", "Bearer garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/v1/cache/k", bearer(t, svc, auth.ScopeCacheRead), `1`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCacheRoundTrip(t *testing.T) {
	svc := newTestJWT(t)
	c := newTestCache(t)
	h := NewRouter(Dependencies{Cache: c, JWT: svc})
	token := bearer(t, svc, auth.DefaultScopes...)

	rec := do(t, h, http.MethodPut, "/api/v1/cache/users/42?ttl=60", token, `{"name":"ada","id":42}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/cache/users/42", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entry handlers.CacheEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "users/42", entry.Key)
	assert.JSONEq(t, `{"id":42,"name":"ada"}`, string(entry.Value))

	rec = do(t, h, http.MethodDelete, "/api/v1/cache/users/42", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/cache/users/42", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheKeysWithPercent(t *testing.T) {
	svc := newTestJWT(t)
	c := newTestCache(t)
	h := NewRouter(Dependencies{Cache: c, JWT: svc})
	token := bearer(t, svc, auth.DefaultScopes...)

	tests := []struct {
		path string
		key  string
	}{
		{"/api/v1/cache/x%2541", "x%41"},
		{"/api/v1/cache/50%25off", "50%off"},
		{"/api/v1/cache/a%2Fb", "a/b"},
		{"/api/v1/cache/plain/path", "plain/path"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, tt.path, token, `true`)
			require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

			var got bool
			found, err := c.Get(t.Context(), tt.key, &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.True(t, got)

			rec = do(t, h, http.MethodGet, tt.path, token, "")
			require.Equal(t, http.StatusOK, rec.Code)
			var entry handlers.CacheEntry
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
			assert.Equal(t, tt.key, entry.Key)
		})
	}

	found, err := c.Get(t.Context(), "xA", new(bool))
	require.NoError(t, err)
	assert.False(t, found, "escaped key must not be decoded twice")
}

func TestCachePutValidation(t *testing.T) {
	svc := newTestJWT(t)
	h := NewRouter(Dependencies{Cache: newTestCache(t), JWT: svc, MaxBodySize: 128})
	token := bearer(t, svc, auth.ScopeCacheWrite)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"not json", "/api/v1/cache/k", `{nope`, http.StatusBadRequest},
		{"negative ttl", "/api/v1/cache/k?ttl=-5", `1`, http.StatusBadRequest},
		{"bad ttl", "/api/v1/cache/k?ttl=soon", `1`, http.StatusBadRequest},
		{"body too large", "/api/v1/cache/k", `"` + strings.Repeat("x", 200) + `"`, http.StatusRequestEntityTooLarge},
		{"ttl overflows duration", "/api/v1/cache/k?ttl=9223372037", `1`, http.StatusBadRequest},
		{"ttl wraps to small duration", "/api/v1/cache/k?ttl=18446744074", `1`, http.StatusBadRequest},
		{"largest ttl", "/api/v1/cache/k?ttl=9223372036", `1`, http.StatusNoContent},
		{"duration ttl", "/api/v1/cache/k?ttl=90s", `"ok"`, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, tt.path, token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

// deniedCache answers every call with an ACL denial from the backend.
type deniedCache struct{ cache.Cache }

func (deniedCache) Set(context.Context, string, any, time.Duration) error {
	return fmt.Errorf("set: %w", cache.ErrPermissionDenied)
}

func (deniedCache) DeleteByPrefix(context.Context, string) (int64, error) {
	return 0, fmt.Errorf("scan: %w", cache.ErrPermissionDenied)
}

func TestCachePermissionDeniedIsForbidden(t *testing.T) {
	svc := newTestJWT(t)
	h := NewRouter(Dependencies{Cache: deniedCache{}, JWT: svc})
	token := bearer(t, svc, auth.DefaultScopes...)

	rec := do(t, h, http.MethodPut, "/api/v1/cache/k", token, `1`)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "not permitted")

	rec = do(t, h, http.MethodDelete, "/api/v1/cache?prefix=k", token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestCacheValueTooLargeForCache(t *testing.T) {
	svc := newTestJWT(t)
	h := NewRouter(Dependencies{Cache: newTestCache(t), JWT: svc, MaxBodySize: 4096})

	rec := do(t, h, http.MethodPut, "/api/v1/cache/big", bearer(t, svc, auth.ScopeCacheWrite),
		`"`+strings.Repeat("x", 1000)+`"`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCacheDeletePrefix(t *testing.T) {
	svc := newTestJWT(t)
	c := newTestCache(t)
	h := NewRouter(Dependencies{Cache: c, JWT: svc})
	token := bearer(t, svc, auth.DefaultScopes...)

	ctx := t.Context()
	require.NoError(t, c.Set(ctx, "session:1", 1, 0))
	require.NoError(t, c.Set(ctx, "session:2", 2, 0))
	require.NoError(t, c.Set(ctx, "user:1", 3, 0))

	rec := do(t, h, http.MethodDelete, "/api/v1/cache", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/cache?prefix=session:", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())

	found, err := c.Get(ctx, "user:1", new(int))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	h := NewRouter(Dependencies{Metrics: m})

	do(t, h, http.MethodGet, "/health", "", "")
	do(t, h, http.MethodGet, "/does/not/exist", "", "")

	count, err := testutil.GatherAndCount(reg, "stackd_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCORS(t *testing.T) {
	h := NewRouter(Dependencies{CORSOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
