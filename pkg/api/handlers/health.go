package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheckTimeout bounds the cache ping of the readiness and cache
// health probes.
const HealthCheckTimeout = 5 * time.Second

// ServiceName is reported by the liveness probe.
const ServiceName = "stackd"

// Pinger is the part of the cache the health probes need.
type Pinger interface {
	Ping(ctx context.Context) error
	Driver() string
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Can the server reach its cache?
//   - Cache health: driver, status and ping latency
type HealthHandler struct {
	cache     Pinger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
//
// cache may be nil, in which case readiness and cache health report
// unhealthy.
func NewHealthHandler(cache Pinger, version string) *HealthHandler {
	return &HealthHandler{
		cache:     cache,
		version:   version,
		startTime: time.Now(),
	}
}

// LivenessData is the payload of GET /health.
type LivenessData struct {
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the process serves HTTP. The cache is not
// consulted so a cache outage never gets the server restarted.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, healthyResponse(LivenessData{
		Service:   ServiceName,
		Version:   h.version,
		StartedAt: h.startTime.UTC().Format(time.RFC3339),
		Uptime:    uptime.Round(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	}))
}

// CacheHealth is the payload of the cache probes.
type CacheHealth struct {
	Driver    string  `json:"driver"`
	Status    string  `json:"status"`
	Latency   string  `json:"latency,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// Readiness handles GET /health/ready - readiness probe.
// Returns 200 OK when the cache answers a ping within HealthCheckTimeout.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("cache not initialized"))
		return
	}

	health := h.check(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(health, "cache unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(health))
}

// Cache handles GET /health/cache - detailed cache health.
func (h *HealthHandler) Cache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("cache not initialized"))
		return
	}

	health := h.check(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(health, health.Error))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(health))
}

// Legacy handles GET /api/health with the envelope older clients expect.
func (h *HealthHandler) Legacy(w http.ResponseWriter, r *http.Request) {
	WriteEnvelope(w, http.StatusOK, "OK", nil)
}

func (h *HealthHandler) check(ctx context.Context) CacheHealth {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := h.cache.Ping(ctx)
	latency := time.Since(start)

	health := CacheHealth{
		Driver:    h.cache.Driver(),
		Latency:   latency.String(),
		LatencyMs: float64(latency.Microseconds()) / 1000,
		Status:    "healthy",
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}
