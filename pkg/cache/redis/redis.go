// Package redis is the go-redis backed cache driver, used when
// CACHE_DRIVER=redis (the default).
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/config"
	"github.com/marmos91/stackd/pkg/metrics"
)

// DriverName is the CACHE_DRIVER value selecting this backend.
const DriverName = config.DriverRedis

// scanBatch is both the SCAN COUNT hint and the DEL batch size.
const scanBatch = 500

func init() {
	cache.RegisterDriver(DriverName, func(_ context.Context, cfg *config.Config, _ *metrics.Metrics) (cache.Backend, error) {
		return New(cfg.Redis), nil
	})
}

// Store implements cache.Backend on a redis server.
type Store struct {
	client *goredis.Client
	addr   string
}

var _ cache.Backend = (*Store)(nil)

// New creates a store for cfg. It does not dial; connectivity is checked
// by Ping.
func New(cfg config.RedisConfig) *Store {
	opts := &goredis.Options{
		Addr:        cfg.Addr(),
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		// Startup retries are driven by cache.Connect with their own
		// backoff, so keep the client's internal retries short.
		MaxRetries:      1,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 128 * time.Millisecond,
	}
	return NewWithClient(goredis.NewClient(opts))
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client) *Store {
	return &Store{client: client, addr: client.Options().Addr}
}

// Client exposes the underlying go-redis client.
func (s *Store) Client() *goredis.Client { return s.client }

func (s *Store) Name() string { return DriverName }

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.classify(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.classify(err)
	}
	return data, true, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	var total int64
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := s.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return total, s.classify(err)
		}
		total += n
	}
	return total, nil
}

// DeleteByPrefix walks the keyspace with SCAN, never KEYS, so a large
// database is not blocked while matching.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		cursor  uint64
		total   int64
		pending []string
	)
	pattern := EscapeGlob(prefix) + "*"

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, pending...).Result()
		if err != nil {
			return s.classify(err)
		}
		total += n
		pending = pending[:0]
		return nil
	}

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return total, s.classify(err)
		}
		for _, k := range keys {
			pending = append(pending, k)
			if len(pending) == scanBatch {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.classify(s.client.Ping(ctx).Err())
}

// Flush empties the selected database only (FLUSHDB).
func (s *Store) Flush(ctx context.Context) error {
	return s.classify(s.client.FlushDB(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}

// classify maps go-redis failures onto the cache sentinels.
func (s *Store) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.ErrClosed):
		return fmt.Errorf("%w: %w", cache.ErrClosed, err)
	case IsAuthError(err):
		return fmt.Errorf("%w: %s: %w", cache.ErrAuthentication, s.addr, err)
	case IsPermissionError(err):
		return fmt.Errorf("%w: %s: %w", cache.ErrPermissionDenied, s.addr, err)
	case isConnError(err):
		return fmt.Errorf("%w: %s: %w", cache.ErrUnavailable, s.addr, err)
	default:
		return err
	}
}

// IsAuthError reports whether err is a redis credential failure.
func IsAuthError(err error) bool {
	var rerr goredis.Error
	if !errors.As(err, &rerr) {
		return false
	}
	msg := rerr.Error()
	for _, p := range []string{"NOAUTH", "WRONGPASS"} {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return strings.Contains(msg, "invalid password") || strings.Contains(msg, "invalid username-password")
}

// IsPermissionError reports whether err is an ACL denial for a single
// command or key.
func IsPermissionError(err error) bool {
	var rerr goredis.Error
	return errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "NOPERM")
}

func isConnError(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "connection refused")
}

// EscapeGlob escapes the redis glob metacharacters so s matches literally
// in SCAN MATCH.
func EscapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
