// Package metrics holds the Prometheus collectors for stackd.
//
// A nil *Metrics is valid and records nothing, so components take a
// *Metrics unconditionally and the caller passes nil when METRICS_ENABLED
// is false.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stackd"

// Cache operation results.
const (
	ResultOK    = "ok"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Metrics bundles every collector exported by the process.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	cacheOps      *prometheus.CounterVec
	cacheDuration *prometheus.HistogramVec
	connAttempts  *prometheus.CounterVec
	cacheUp       prometheus.Gauge

	badgerLSMSize  prometheus.Gauge
	badgerVlogSize prometheus.Gauge
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route pattern and status code",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route pattern",
				Buckets: []float64{
					0.001, // health probes
					0.005,
					0.01,
					0.025,
					0.05,
					0.1,
					0.25,
					0.5,
					1,
					2.5, // near the cache dial timeout
				},
			},
			[]string{"method", "route"},
		),
		cacheOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Cache operations by driver, operation and result (ok, miss, error)",
			},
			[]string{"driver", "op", "result"},
		),
		cacheDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_operation_duration_seconds",
				Help:      "Cache operation latency by driver and operation",
				Buckets: []float64{
					0.0001, // in-memory badger
					0.0005,
					0.001, // local redis round trip
					0.005,
					0.01,
					0.05,
					0.1,
					0.5, // prefix deletes over large keyspaces
					1,
				},
			},
			[]string{"driver", "op"},
		),
		connAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_connect_attempts_total",
				Help:      "Startup connection attempts to the cache by result (ok, error)",
			},
			[]string{"result"},
		),
		cacheUp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_up",
				Help:      "1 when the last cache ping succeeded, 0 otherwise",
			},
		),
		badgerLSMSize: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "badger_lsm_size_bytes",
				Help:      "Size of the embedded badger LSM tree",
			},
		),
		badgerVlogSize: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "badger_vlog_size_bytes",
				Help:      "Size of the embedded badger value log",
			},
		),
	}
}

// ObserveHTTP records one completed request. route is the chi pattern, never
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveCacheOp records one cache operation.
func (m *Metrics) ObserveCacheOp(driver, op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(driver, op, result).Inc()
	m.cacheDuration.WithLabelValues(driver, op).Observe(d.Seconds())
}

// RecordConnectAttempt counts one startup connection attempt.
func (m *Metrics) RecordConnectAttempt(err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.connAttempts.WithLabelValues(result).Inc()
}

// SetCacheUp reflects the outcome of the latest cache ping.
func (m *Metrics) SetCacheUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.cacheUp.Set(1)
	} else {
		m.cacheUp.Set(0)
	}
}

// SetBadgerSize records the on-disk footprint of the embedded cache.
func (m *Metrics) SetBadgerSize(lsm, vlog int64) {
	if m == nil {
		return
	}
	m.badgerLSMSize.Set(float64(lsm))
	m.badgerVlogSize.Set(float64(vlog))
}
