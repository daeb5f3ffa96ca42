package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. HTTP keys follow the OpenTelemetry semantic conventions;
// cache keys borrow the db.* namespace the way Redis instrumentation does.
const (
	AttrHTTPMethod = "http.request.method"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.response.status_code"
	AttrClientAddr = "client.address"

	AttrDBSystem    = "db.system"
	AttrDBOperation = "db.operation.name"
	AttrCacheKey    = "cache.key"
	AttrCachePrefix = "cache.prefix"
	AttrCacheHit    = "cache.hit"
	AttrCacheTTL    = "cache.ttl_seconds"
	AttrCacheCount  = "cache.deleted"

	AttrAttempt = "retry.attempt"
)

func HTTPMethod(m string) attribute.KeyValue { return attribute.String(AttrHTTPMethod, m) }
func HTTPRoute(r string) attribute.KeyValue { return attribute.String(AttrHTTPRoute, r) }
func HTTPStatus(code int) attribute.KeyValue { return attribute.Int(AttrHTTPStatus, code) }
func ClientAddr(addr string) attribute.KeyValue { return attribute.String(AttrClientAddr, addr) }

// DBSystem names the cache backend ("redis", "badger").
func DBSystem(driver string) attribute.KeyValue { return attribute.String(AttrDBSystem, driver) }

func CacheKey(key string) attribute.KeyValue { return attribute.String(AttrCacheKey, key) }
func CachePrefix(prefix string) attribute.KeyValue { return attribute.String(AttrCachePrefix, prefix) }
func CacheHit(hit bool) attribute.KeyValue { return attribute.Bool(AttrCacheHit, hit) }
func CacheDeleted(n int64) attribute.KeyValue { return attribute.Int64(AttrCacheCount, n) }

func CacheTTL(ttl time.Duration) attribute.KeyValue {
	return attribute.Int64(AttrCacheTTL, int64(ttl/time.Second))
}

func Attempt(n int) attribute.KeyValue { return attribute.Int(AttrAttempt, n) }

// StartCacheSpan starts a client span named "cache.<op>" for a cache backend call.
func StartCacheSpan(ctx context.Context, driver, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{DBSystem(driver), attribute.String(AttrDBOperation, op)}
	return StartSpan(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(base, attrs...)...),
	)
}

// StartHTTPSpan starts a server span for an inbound request.
func StartHTTPSpan(ctx context.Context, method, route string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{HTTPMethod(method), HTTPRoute(route)}
	return StartSpan(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(append(base, attrs...)...),
	)
}
