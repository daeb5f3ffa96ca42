package cache_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/config"
	"github.com/marmos91/stackd/pkg/metrics"
)

func fastPolicy(retries int) config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestConnectSucceedsAfterTransientFailures(t *testing.T) {
	refused := errors.New("connection refused")
	backend := newMemBackend(refused, refused, refused)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	err := cache.Connect(context.Background(), backend, fastPolicy(5), time.Second, m)
	require.NoError(t, err)
	assert.Equal(t, 4, backend.pingCount())

	n, err := testutil.GatherAndCount(reg, "stackd_cache_connect_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "both ok and error series present")
}

func TestConnectExhaustsRetries(t *testing.T) {
	refused := errors.New("connection refused")
	backend := newMemBackend(refused, refused, refused, refused, refused)

	err := cache.Connect(context.Background(), backend, fastPolicy(2), time.Second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrUnavailable)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 3, backend.pingCount(), "first attempt plus two retries")
}

func TestConnectZeroRetriesIsSingleAttempt(t *testing.T) {
	backend := newMemBackend(errors.New("down"))

	err := cache.Connect(context.Background(), backend, fastPolicy(0), time.Second, nil)
	assert.ErrorIs(t, err, cache.ErrUnavailable)
	assert.Equal(t, 1, backend.pingCount())
}

func TestConnectAuthenticationIsPermanent(t *testing.T) {
	authErr := fmt.Errorf("%w: WRONGPASS invalid username-password pair", cache.ErrAuthentication)
	backend := newMemBackend(authErr, authErr, authErr)

	err := cache.Connect(context.Background(), backend, fastPolicy(5), time.Second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrAuthentication)
	assert.NotErrorIs(t, err, cache.ErrUnavailable)
	assert.Equal(t, 1, backend.pingCount())
}

func TestConnectHonoursCancellation(t *testing.T) {
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = errors.New("down")
	}
	backend := newMemBackend(errs...)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	policy := config.RetryConfig{MaxRetries: 100, InitialBackoff: 20 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	start := time.Now()
	err := cache.Connect(ctx, backend, policy, time.Second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewBackOffSchedule(t *testing.T) {
	b := cache.NewBackOff(config.RetryConfig{
		MaxRetries:     4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Multiplier:     2,
	})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		got := b.NextBackOff()
		lo := time.Duration(float64(w) * 0.8)
		hi := time.Duration(float64(w) * 1.2)
		if got < lo || got > hi {
			t.Errorf("backoff %d = %v, want within [%v, %v]", i, got, lo, hi)
		}
	}
	if got := b.NextBackOff(); got >= 0 {
		t.Errorf("backoff after max retries = %v, want Stop", got)
	}
}

func TestOpenRegisteredDriver(t *testing.T) {
	backend := newMemBackend(errors.New("not yet"))
	cache.RegisterDriver("redis", func(context.Context, *config.Config, *metrics.Metrics) (cache.Backend, error) {
		return backend, nil
	})

	cfg := config.GetDefaultConfig()
	cfg.Cache.KeyPrefix = "p:"
	cfg.Redis.Connect = fastPolicy(3)
	cfg.Redis.FlushOnStart = true

	// Seed a key that FlushOnStart must remove.
	require.NoError(t, backend.Set(context.Background(), "stale", []byte("1"), time.Hour))

	c, err := cache.Open(context.Background(), cfg, cache.OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, "mem", c.Driver())
	_, ok, _ := backend.Get(context.Background(), "stale")
	assert.False(t, ok, "flush on start")

	require.NoError(t, c.Set(context.Background(), "k", "v", 0))
	_, ok, _ = backend.Get(context.Background(), "p:k")
	assert.True(t, ok)
}

func TestOpenClosesBackendOnFailure(t *testing.T) {
	backend := newMemBackend(errors.New("a"), errors.New("b"))
	cache.RegisterDriver("failing", func(context.Context, *config.Config, *metrics.Metrics) (cache.Backend, error) {
		return backend, nil
	})

	cfg := config.GetDefaultConfig()
	cfg.Cache.Driver = "failing"

	_, err := cache.Open(context.Background(), cfg, cache.OpenOptions{})
	assert.ErrorIs(t, err, cache.ErrUnavailable)
	assert.True(t, backend.isClosed())
	assert.Equal(t, 1, backend.pingCount(), "non-redis drivers get a single attempt")
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Cache.Driver = "memcached"

	_, err := cache.Open(context.Background(), cfg, cache.OpenOptions{})
	assert.ErrorIs(t, err, cache.ErrUnknownDriver)
}
