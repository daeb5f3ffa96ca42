// Package health is the client side of the server's /health endpoints,
// shared by "stackd status" and "stackd stack probe".
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusHealthy is the status string of a passing probe.
const StatusHealthy = "healthy"

// Response is the wrapper every /health endpoint returns.
type Response[T any] struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Data      T      `json:"data"`
	Error     string `json:"error,omitempty"`
}

// Healthy reports whether the probe passed.
func (r *Response[T]) Healthy() bool {
	return r != nil && r.Status == StatusHealthy
}

// Liveness is the payload of GET /health.
type Liveness struct {
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Cache is the payload of GET /health/ready and GET /health/cache.
type Cache struct {
	Driver    string  `json:"driver"`
	Status    string  `json:"status"`
	Latency   string  `json:"latency,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// Client queries a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://localhost:8000").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Liveness calls GET /health.
func (c *Client) Liveness(ctx context.Context) (*Response[Liveness], error) {
	var resp Response[Liveness]
	if _, err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Readiness calls GET /health/ready. A 503 is decoded, not returned as an
// error, so callers can show why the server is not ready.
func (c *Client) Readiness(ctx context.Context) (*Response[Cache], error) {
	var resp Response[Cache]
	if _, err := c.get(ctx, "/health/ready", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach server at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return resp.StatusCode, fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return resp.StatusCode, fmt.Errorf("GET %s: invalid response: %w", path, err)
	}
	return resp.StatusCode, nil
}
