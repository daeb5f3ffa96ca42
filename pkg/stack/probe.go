package stack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/stackd/internal/cli/health"
	"github.com/marmos91/stackd/internal/logger"
	cacheredis "github.com/marmos91/stackd/pkg/cache/redis"
	"github.com/marmos91/stackd/pkg/config"
	"github.com/marmos91/stackd/pkg/topology"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 5 * time.Second

// ProbeOptions configure ProbeCache.
type ProbeOptions struct {
	Username string
	Password string
	DB       int
	Timeout  time.Duration
}

// ProbeCache sends PING to the redis server at addr ("redis:6379" from the
// server's network, "localhost:6379" from the host).
func ProbeCache(ctx context.Context, addr string, opts ProbeOptions) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid cache address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid cache port %q: %w", portStr, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}

	store := cacheredis.New(config.RedisConfig{
		Host:        host,
		Port:        port,
		DB:          opts.DB,
		Username:    opts.Username,
		Password:    opts.Password,
		DialTimeout: opts.Timeout,
	})
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	return store.Ping(ctx)
}

// ProbeServer requires GET /health on baseURL to answer healthy.
func ProbeServer(ctx context.Context, baseURL string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	resp, err := health.NewClient(baseURL, timeout).Liveness(ctx)
	if err != nil {
		return err
	}
	if !resp.Healthy() {
		return fmt.Errorf("server reports %q: %s", resp.Status, resp.Error)
	}
	return nil
}

// Target is one endpoint Probe checks.
type Target struct {
	Service string
	Addr    string
	Check   func(ctx context.Context) error
}

// CacheTarget probes redis at addr.
func CacheTarget(service, addr string, opts ProbeOptions) Target {
	return Target{
		Service: service,
		Addr:    addr,
		Check:   func(ctx context.Context) error { return ProbeCache(ctx, addr, opts) },
	}
}

// ServerTarget probes the server health endpoint at baseURL.
func ServerTarget(service, baseURL string, timeout time.Duration) Target {
	return Target{
		Service: service,
		Addr:    baseURL,
		Check:   func(ctx context.Context) error { return ProbeServer(ctx, baseURL, timeout) },
	}
}

// Probe runs every target and reports the unreachable ones.
func Probe(ctx context.Context, targets ...Target) *topology.Report {
	r := &topology.Report{Source: "probe"}
	for _, t := range targets {
		start := time.Now()
		err := t.Check(ctx)
		logger.DebugCtx(ctx, "Probed endpoint",
			logger.Service(t.Service), logger.Addr(t.Addr),
			logger.DurationMs(logger.Duration(start)), logger.Err(err))

		if err != nil {
			msg := err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				msg = "timed out"
			}
			r.Add(topology.SeverityError, topology.RuleReachability, t.Service, "%s unreachable: %s", t.Addr, msg)
		}
	}
	r.Sort()
	return r
}
