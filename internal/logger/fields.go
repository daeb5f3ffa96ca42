package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use these instead of ad-hoc strings so log queries
// stay stable across components.
const (
	// Request scope
	KeyRequestID = "request_id"
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyRoute     = "route"
	KeyClientIP  = "client_ip"

	// HTTP
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyBytes      = "bytes"
	KeyDurationMs = "duration_ms"
	KeyAddr       = "addr"

	// Cache
	KeyDriver  = "driver"
	KeyOp      = "op"
	KeyKey     = "key"
	KeyPrefix  = "prefix"
	KeyTTL     = "ttl"
	KeyHit     = "hit"
	KeyDeleted = "deleted"

	// Connection retries
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyBackoff    = "backoff"

	// Stack and topology
	KeyProject   = "project"
	KeyService   = "service"
	KeyContainer = "container"
	KeyRule      = "rule"
	KeyFile      = "file"

	KeyError = "error"
)

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }
func Route(pattern string) slog.Attr { return slog.String(KeyRoute, pattern) }
func ClientIP(ip string) slog.Attr { return slog.String(KeyClientIP, ip) }

func Method(m string) slog.Attr { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }
func Status(code int) slog.Attr { return slog.Int(KeyStatus, code) }
func Bytes(n int) slog.Attr { return slog.Int(KeyBytes, n) }
func Addr(a string) slog.Attr { return slog.String(KeyAddr, a) }
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

func Driver(name string) slog.Attr { return slog.String(KeyDriver, name) }
func Op(name string) slog.Attr { return slog.String(KeyOp, name) }
func Key(k string) slog.Attr { return slog.String(KeyKey, k) }
func Prefix(p string) slog.Attr { return slog.String(KeyPrefix, p) }
func TTL(d time.Duration) slog.Attr {
	return slog.Duration(KeyTTL, d)
}
func Hit(hit bool) slog.Attr { return slog.Bool(KeyHit, hit) }
func Deleted(n int64) slog.Attr { return slog.Int64(KeyDeleted, n) }

// Attempt returns a slog.Attr for a retry attempt number (1-based).
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// Backoff returns a slog.Attr for the wait before the next attempt.
func Backoff(d time.Duration) slog.Attr { return slog.Duration(KeyBackoff, d) }

func Project(name string) slog.Attr { return slog.String(KeyProject, name) }
func Service(name string) slog.Attr { return slog.String(KeyService, name) }
func Container(name string) slog.Attr { return slog.String(KeyContainer, name) }
func Rule(id string) slog.Attr { return slog.String(KeyRule, id) }
func File(path string) slog.Attr { return slog.String(KeyFile, path) }
