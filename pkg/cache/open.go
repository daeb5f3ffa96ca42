package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/pkg/config"
	"github.com/marmos91/stackd/pkg/metrics"
)

// Factory builds a backend from configuration. It must not block on the
// network: reachability is established by Open through Ping.
type Factory func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Backend, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Factory{}
)

// RegisterDriver makes a backend available to Open. Drivers call it from
// init so that pkg/cache does not import them.
func RegisterDriver(name string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if f == nil {
		panic("cache: RegisterDriver factory is nil")
	}
	drivers[strings.ToLower(name)] = f
}

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupDriver(name string) (Factory, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	f, ok := drivers[strings.ToLower(name)]
	return f, ok
}

// OpenOptions carries process wide collaborators for Open.
type OpenOptions struct {
	Metrics *metrics.Metrics
}

// Open builds the configured backend and waits until it answers a ping.
//
// The redis driver is retried according to cfg.Redis.Connect because the
// container runtime only guarantees that redis was started first, not that
// it is accepting connections. Other drivers get a single attempt.
func Open(ctx context.Context, cfg *config.Config, opts OpenOptions) (*Client, error) {
	factory, ok := lookupDriver(cfg.Cache.Driver)
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownDriver, cfg.Cache.Driver, strings.Join(Drivers(), ", "))
	}

	backend, err := factory(ctx, cfg, opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", cfg.Cache.Driver, err)
	}

	policy := config.RetryConfig{MaxRetries: 0, InitialBackoff: time.Second, MaxBackoff: time.Second, Multiplier: 1}
	timeout := cfg.Redis.DialTimeout
	if cfg.Cache.Driver == config.DriverRedis {
		policy = cfg.Redis.Connect
	}

	if err := Connect(ctx, backend, policy, timeout, opts.Metrics); err != nil {
		_ = backend.Close()
		return nil, err
	}

	client := NewClient(backend, Options{
		DefaultTTL:   cfg.Cache.DefaultTTL,
		KeyPrefix:    cfg.Cache.KeyPrefix,
		MaxValueSize: cfg.Cache.MaxValueSize.Int64(),
		Metrics:      opts.Metrics,
	})
	opts.Metrics.SetCacheUp(true)

	if cfg.Cache.Driver == config.DriverRedis && cfg.Redis.FlushOnStart {
		if err := client.Flush(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("flush on start: %w", err)
		}
	}

	return client, nil
}

// jitter spreads reconnects of several replicas started together.
const jitter = 0.2

// NewBackOff returns the exponential schedule described by policy, bounded
// to policy.MaxRetries retries after the first attempt.
func NewBackOff(policy config.RetryConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialBackoff
	eb.MaxInterval = policy.MaxBackoff
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Multiplier = policy.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	eb.RandomizationFactor = jitter
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := policy.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(eb, uint64(retries))
}

// Connect pings backend until it answers, retrying with backoff. Each
// attempt is bounded by timeout when positive. Authentication failures stop
// the loop immediately. Exhausting the policy returns an error wrapping
// ErrUnavailable.
func Connect(ctx context.Context, backend Backend, policy config.RetryConfig, timeout time.Duration, m *metrics.Metrics) error {
	driver := backend.Name()
	attempts := policy.MaxRetries + 1
	attempt := 0

	op := func() error {
		attempt++
		actx, cancel := attemptContext(ctx, timeout)
		defer cancel()

		err := backend.Ping(actx)
		m.RecordConnectAttempt(err)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAuthentication) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("Cache not reachable, retrying",
			logger.Driver(driver),
			logger.Attempt(attempt),
			logger.MaxRetries(attempts),
			logger.Backoff(next),
			logger.Err(err))
	}

	start := time.Now()
	err := backoff.RetryNotify(op, backoff.WithContext(NewBackOff(policy), ctx), notify)
	switch {
	case err == nil:
		logger.Info("Cache connected",
			logger.Driver(driver),
			logger.Attempt(attempt),
			logger.DurationMs(float64(time.Since(start).Microseconds())/1000))
		return nil
	case errors.Is(err, ErrAuthentication):
		return fmt.Errorf("connect %s cache: %w", driver, err)
	case ctx.Err() != nil:
		return fmt.Errorf("connect %s cache: %w", driver, ctx.Err())
	default:
		return fmt.Errorf("%w: %s cache did not answer after %d attempt(s): %w", ErrUnavailable, driver, attempt, err)
	}
}

func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
