package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, ready bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","timestamp":"2026-01-01T00:00:00Z","data":{"service":"stackd","version":"1.0.0","started_at":"2026-01-01T00:00:00Z","uptime":"1m0s","uptime_sec":60}}`))
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready {
			_, _ = w.Write([]byte(`{"status":"healthy","data":{"driver":"redis","status":"healthy","latency_ms":0.4}}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","data":{"driver":"redis","status":"unhealthy","error":"connection refused"},"error":"cache unavailable"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLiveness(t *testing.T) {
	srv := newServer(t, true)
	c := NewClient(srv.URL+"/", time.Second)

	resp, err := c.Liveness(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Healthy())
	assert.Equal(t, "stackd", resp.Data.Service)
	assert.Equal(t, "1.0.0", resp.Data.Version)
	assert.Equal(t, int64(60), resp.Data.UptimeSec)
}

func TestReadiness(t *testing.T) {
	resp, err := NewClient(newServer(t, true).URL, time.Second).Readiness(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Healthy())
	assert.Equal(t, "redis", resp.Data.Driver)

	resp, err = NewClient(newServer(t, false).URL, time.Second).Readiness(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Healthy())
	assert.Equal(t, "connection refused", resp.Data.Error)
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL, time.Second).Liveness(context.Background())
	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Liveness(context.Background())
	assert.ErrorContains(t, err, "failed to reach server")
}

func TestNilResponseIsNotHealthy(t *testing.T) {
	var r *Response[Cache]
	assert.False(t, r.Healthy())
}
