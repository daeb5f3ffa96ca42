//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/cache/cachetest"
	cacheredis "github.com/marmos91/stackd/pkg/cache/redis"
	"github.com/marmos91/stackd/pkg/config"
	"github.com/marmos91/stackd/pkg/metrics"
	"github.com/marmos91/stackd/pkg/stack"
)

const redisImage = "redis:7-alpine"

// redisHelper manages a redis container for the tests in this package.
type redisHelper struct {
	container testcontainers.Container
	host      string
	port      int
}

// newRedisHelper starts redis with an append only file so data survives a
// container restart.
func newRedisHelper(t *testing.T) *redisHelper {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		Cmd:          []string{"redis-server", "--appendonly", "yes", "--appendfsync", "always"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections"),
			wait.ForListeningPort("6379/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	h := &redisHelper{container: container}
	h.refresh(t)
	return h
}

// refresh re-reads the mapped endpoint, which changes across restarts.
func (h *redisHelper) refresh(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	host, err := h.container.Host(ctx)
	require.NoError(t, err)
	mapped, err := h.container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	h.host = host
	h.port = mapped.Int()
}

func (h *redisHelper) addr() string {
	return h.host + ":" + strconv.Itoa(h.port)
}

func (h *redisHelper) redisConfig() config.RedisConfig {
	return config.RedisConfig{
		Host:        h.host,
		Port:        h.port,
		DialTimeout: 2 * time.Second,
		Connect: config.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
		},
	}
}

func (h *redisHelper) newStore(t *testing.T) *cacheredis.Store {
	t.Helper()
	return cacheredis.New(h.redisConfig())
}

func (h *redisHelper) stackConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Cache.Driver = config.DriverRedis
	cfg.Cache.KeyPrefix = "it:"
	cfg.Redis = h.redisConfig()
	return cfg
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func TestRedisBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	h := newRedisHelper(t)

	suite := cachetest.Suite{
		NewBackend: func(t *testing.T) cache.Backend {
			store := h.newStore(t)
			require.NoError(t, store.Flush(testContext(t)))
			return store
		},
	}
	suite.Run(t)
}

func TestRedisDeleteByPrefixEscapesGlob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	h := newRedisHelper(t)
	ctx := testContext(t)

	store := h.newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Flush(ctx))

	for _, key := range []string{"a*:1", "a*:2", "ab:1", "a?:1", "[x]:1"} {
		require.NoError(t, store.Set(ctx, key, []byte("1"), 0))
	}

	n, err := store.DeleteByPrefix(ctx, "a*:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.DeleteByPrefix(ctx, "[x]")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for _, key := range []string{"ab:1", "a?:1"} {
		_, found, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found, key)
	}
}

func TestRedisManyKeysByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	h := newRedisHelper(t)
	ctx := testContext(t)

	store := h.newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Flush(ctx))

	// More keys than one SCAN page.
	const total = 2500
	for i := 0; i < total; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("bulk:%d", i), []byte("x"), 0))
	}
	require.NoError(t, store.Set(ctx, "keep", []byte("x"), 0))

	n, err := store.DeleteByPrefix(ctx, "bulk:")
	require.NoError(t, err)
	assert.Equal(t, int64(total), n)

	_, found, err := store.Get(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpenAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	h := newRedisHelper(t)
	ctx := testContext(t)

	seed := h.newStore(t)
	t.Cleanup(func() { _ = seed.Close() })
	require.NoError(t, seed.Set(ctx, "stale", []byte("1"), 0))

	cfg := h.stackConfig()
	cfg.Redis.FlushOnStart = true

	reg := metrics.NewRegistry()
	c, err := cache.Open(ctx, cfg, cache.OpenOptions{Metrics: metrics.New(reg)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, cacheredis.DriverName, c.Driver())

	_, found, err := seed.Get(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, found, "flush on start should empty the database")

	require.NoError(t, c.Set(ctx, "user:1", map[string]string{"name": "ada"}, time.Minute))

	// The client namespaces keys with the configured prefix.
	_, found, err = seed.Get(ctx, "it:user:1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDataSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	h := newRedisHelper(t)
	ctx := testContext(t)

	before := h.newStore(t)
	require.NoError(t, before.Flush(ctx))
	require.NoError(t, before.Set(ctx, "durable", []byte(`"yes"`), 0))
	require.NoError(t, before.Close())

	timeout := 10 * time.Second
	require.NoError(t, h.container.Stop(ctx, &timeout))
	require.NoError(t, h.container.Start(ctx))
	h.refresh(t)

	cfg := h.stackConfig()
	cfg.Cache.KeyPrefix = ""
	c, err := cache.Open(ctx, cfg, cache.OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var got string
	found, err := c.Get(ctx, "durable", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "yes", got)
}

func TestAuthenticationFailureIsNotRetried(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	h := newRedisHelper(t)
	ctx := testContext(t)

	admin := h.newStore(t)
	t.Cleanup(func() { _ = admin.Close() })
	require.NoError(t, admin.Client().Do(ctx,
		"ACL", "SETUSER", "stackd", "on", ">correct-horse", "~*", "+@all").Err())

	cfg := h.stackConfig()
	cfg.Redis.Username = "stackd"
	cfg.Redis.Password = "wrong"
	cfg.Redis.Connect.MaxRetries = 10
	cfg.Redis.Connect.InitialBackoff = time.Second
	cfg.Redis.Connect.MaxBackoff = 5 * time.Second

	start := time.Now()
	_, err := cache.Open(ctx, cfg, cache.OpenOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrAuthentication)
	assert.Less(t, time.Since(start), time.Second, "credential failures must not back off")

	// The probe accepts the same user with the right password.
	err = stack.ProbeCache(ctx, h.addr(), stack.ProbeOptions{
		Username: "stackd",
		Password: "correct-horse",
		Timeout:  2 * time.Second,
	})
	assert.NoError(t, err)
}

func TestOpenGivesUpWhenRedisStaysDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	h := newRedisHelper(t)
	ctx := testContext(t)

	cfg := h.stackConfig()
	require.NoError(t, h.container.Terminate(ctx))

	cfg.Redis.Connect.MaxRetries = 2
	cfg.Redis.DialTimeout = 200 * time.Millisecond

	_, err := cache.Open(ctx, cfg, cache.OpenOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrUnavailable)
}

// TestMain skips the package on hosts without Docker.
func TestMain(m *testing.M) {
	if os.Getenv("STACKD_SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	os.Exit(m.Run())
}
