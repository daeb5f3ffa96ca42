package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/internal/telemetry"
	"github.com/marmos91/stackd/pkg/metrics"
)

// Fallbacks used when Options leave a field zero.
const (
	DefaultTTL          = 60 * time.Minute
	DefaultMaxValueSize = 1 << 20
)

// Options tunes a Client.
type Options struct {
	DefaultTTL   time.Duration
	KeyPrefix    string
	MaxValueSize int64
	Metrics      *metrics.Metrics
}

// Client implements Cache on top of a Backend.
type Client struct {
	backend      Backend
	ns           keyspace
	defaultTTL   time.Duration
	maxValueSize int64
	metrics      *metrics.Metrics
	closed       atomic.Bool
}

var _ Cache = (*Client)(nil)

// NewClient wraps backend. The client owns the backend from here on and
// closes it in Close.
func NewClient(backend Backend, opts Options) *Client {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.MaxValueSize <= 0 {
		opts.MaxValueSize = DefaultMaxValueSize
	}
	return &Client{
		backend:      backend,
		ns:           keyspace(opts.KeyPrefix),
		defaultTTL:   opts.DefaultTTL,
		maxValueSize: opts.MaxValueSize,
		metrics:      opts.Metrics,
	}
}

// Driver returns the backend name.
func (c *Client) Driver() string { return c.backend.Name() }

// Backend exposes the wrapped backend, mainly for driver specific tooling.
func (c *Client) Backend() Backend { return c.backend }

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) (err error) {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	ctx, done := c.begin(ctx, "set", telemetry.CacheKey(key), telemetry.CacheTTL(ttl))
	defer func() { done(resultOf(err), err) }()

	if c.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	if int64(len(data)) > c.maxValueSize {
		return fmt.Errorf("%w: %d bytes encoded, limit is %d", ErrValueTooLarge, len(data), c.maxValueSize)
	}

	if err := c.backend.Set(ctx, c.ns.qualify(key), data, ttl); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	logger.DebugCtx(ctx, "Cache set", logger.Key(key), logger.TTL(ttl), logger.Bytes(len(data)))
	return nil
}

func (c *Client) Get(ctx context.Context, key string, dest any) (found bool, err error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	ctx, done := c.begin(ctx, "get", telemetry.CacheKey(key))
	defer func() {
		result := resultOf(err)
		if err == nil && !found {
			result = metrics.ResultMiss
		}
		if err == nil {
			trace.SpanFromContext(ctx).SetAttributes(telemetry.CacheHit(found))
		}
		done(result, err)
	}()

	if c.closed.Load() {
		return false, ErrClosed
	}

	data, ok, err := c.backend.Get(ctx, c.ns.qualify(key))
	if err != nil {
		return false, fmt.Errorf("get %q: %w", key, err)
	}
	logger.DebugCtx(ctx, "Cache get", logger.Key(key), logger.Hit(ok))
	if !ok {
		return false, nil
	}
	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return false, fmt.Errorf("decode value for %q: %w", key, err)
		}
	}
	return true, nil
}

// GetRaw returns the stored JSON document for key without decoding it.
func (c *Client) GetRaw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	found, err := c.Get(ctx, key, &raw)
	if err != nil || !found {
		return nil, found, err
	}
	return raw, true, nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) (n int64, err error) {
	if len(keys) == 0 {
		return 0, nil
	}
	qualified, err := c.ns.qualifyAll(keys)
	if err != nil {
		return 0, err
	}

	ctx, done := c.begin(ctx, "delete", attribute.Int("cache.keys", len(keys)))
	defer func() {
		if err == nil {
			trace.SpanFromContext(ctx).SetAttributes(telemetry.CacheDeleted(n))
		}
		done(resultOf(err), err)
	}()

	if c.closed.Load() {
		return 0, ErrClosed
	}

	n, err = c.backend.Delete(ctx, qualified...)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return n, nil
}

func (c *Client) DeleteByPrefix(ctx context.Context, prefix string) (n int64, err error) {
	if err := ValidatePrefix(prefix); err != nil {
		return 0, err
	}

	ctx, done := c.begin(ctx, "delete_prefix", telemetry.CachePrefix(prefix))
	defer func() {
		if err == nil {
			trace.SpanFromContext(ctx).SetAttributes(telemetry.CacheDeleted(n))
		}
		done(resultOf(err), err)
	}()

	if c.closed.Load() {
		return 0, ErrClosed
	}

	n, err = c.backend.DeleteByPrefix(ctx, c.ns.qualify(prefix))
	if err != nil {
		return 0, fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	logger.InfoCtx(ctx, "Cache prefix deleted", logger.Prefix(prefix), logger.Deleted(n))
	return n, nil
}

// Ping checks the backend and updates the cache_up gauge.
func (c *Client) Ping(ctx context.Context) (err error) {
	ctx, done := c.begin(ctx, "ping")
	defer func() {
		c.metrics.SetCacheUp(err == nil)
		done(resultOf(err), err)
	}()

	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) Flush(ctx context.Context) (err error) {
	ctx, done := c.begin(ctx, "flush")
	defer func() { done(resultOf(err), err) }()

	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.backend.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	logger.WarnCtx(ctx, "Cache flushed", logger.Driver(c.Driver()))
	return nil
}

// Close releases the backend. Subsequent calls return ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.metrics.SetCacheUp(false)
	return c.backend.Close()
}

// begin opens the span for op and returns a completion func that records
// the result on both the span and the metrics collector.
func (c *Client) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(result string, err error)) {
	driver := c.Driver()
	start := time.Now()
	ctx, span := telemetry.StartCacheSpan(ctx, driver, op, attrs...)

	return ctx, func(result string, err error) {
		c.metrics.ObserveCacheOp(driver, op, result, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.DebugCtx(ctx, "Cache operation failed", logger.Driver(driver), logger.Op(op), logger.Err(err))
		}
		span.End()
	}
}

func resultOf(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultOK
}
