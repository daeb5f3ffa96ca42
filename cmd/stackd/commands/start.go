package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/internal/telemetry"
	"github.com/marmos91/stackd/pkg/api"
	"github.com/marmos91/stackd/pkg/api/auth"
	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/config"
	"github.com/marmos91/stackd/pkg/metrics"

	// Register cache drivers
	_ "github.com/marmos91/stackd/pkg/cache/badger"
	_ "github.com/marmos91/stackd/pkg/cache/redis"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the stackd server",
	Long: `Start the stackd API server in the foreground.

The server connects to the configured cache (retrying while redis comes
up), serves the HTTP API and, when enabled, the Prometheus endpoint. It
stops gracefully on SIGINT or SIGTERM within SHUTDOWN_TIMEOUT.

Changes to LOG_LEVEL in the env file are applied without a restart.

Examples:
  # Start with ./.env
  stackd start

  # Start with a custom env file
  stackd start --env-file deploy/prod.env

  # Inside a container, where compose injected the variables
  stackd start --allow-missing-env-file

  # Override a single variable
  LOG_LEVEL=DEBUG stackd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	opts := cmdutil.LoadOptions()
	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel on the first signal, also while the cache is still connecting
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received, initiating graceful shutdown", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "stackd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "stackd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	_, envErr := os.Stat(cmdutil.EnvFilePath())
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(cmdutil.EnvFilePath(), envErr == nil))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if cfg.Telemetry.Profiling.Enabled {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Initialize metrics FIRST so the cache connect attempts are counted
	var (
		m             *metrics.Metrics
		metricsServer *metrics.Server
	)
	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		m = metrics.New(reg)
		metricsServer = metrics.NewServer(cfg.Metrics.Port, reg)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	logger.Info("Connecting to cache", logger.Driver(cfg.Cache.Driver), logger.Addr(cacheAddr(cfg)))
	cacheClient, err := cache.Open(ctx, cfg, cache.OpenOptions{Metrics: m})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Info("Startup cancelled while connecting to cache")
			return nil
		}
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() {
		if err := cacheClient.Close(); err != nil {
			logger.Error("cache close error", logger.Err(err))
		}
		m.SetCacheUp(false)
	}()
	logger.Info("Cache connected", logger.Driver(cacheClient.Driver()))

	var jwtService *auth.JWTService
	if cfg.Auth.HasJWTSecret() {
		jwtService, err = auth.NewJWTService(auth.JWTConfig{Secret: cfg.Auth.JWTSecret})
		if err != nil {
			return fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		logger.Info("Cache admin API enabled", "path", "/api/v1/cache")
	} else {
		logger.Info("Cache admin API disabled (JWT_SECRET_KEY not set)")
	}

	apiServer, err := api.NewServer(cfg.Server, api.Dependencies{
		Cache:       cacheClient,
		JWT:         jwtService,
		Metrics:     m,
		MaxBodySize: cfg.Cache.MaxValueSize.Int64(),
		Version:     Version,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	apiServer.WithShutdownTimeout(cfg.ShutdownTimeout)

	if envErr == nil {
		watchLogLevel(opts)
	}

	// Start servers in background
	apiDone := make(chan error, 1)
	go func() {
		apiDone <- apiServer.Start(ctx)
	}()

	// A nil channel never fires when metrics are disabled
	var metricsDone chan error
	if metricsServer != nil {
		metricsDone = make(chan error, 1)
		go func() {
			metricsDone <- metricsServer.Start(ctx)
		}()
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	var serveErr error
	apiRunning, metricsRunning := true, metricsDone != nil
	select {
	case <-ctx.Done():
	case serveErr = <-apiDone:
		apiRunning = false
	case serveErr = <-metricsDone:
		metricsRunning = false
	}
	cancel()

	// Wait for the remaining servers, bounded by the shutdown timeout
	timer := time.NewTimer(cfg.ShutdownTimeout + time.Second)
	defer timer.Stop()
	for apiRunning || metricsRunning {
		var err error
		select {
		case err = <-apiDone:
			apiRunning = false
		case err = <-metricsDone:
			metricsRunning = false
		case <-timer.C:
			return errors.New("graceful shutdown timed out")
		}
		if err != nil && serveErr == nil {
			serveErr = err
		}
	}

	if serveErr != nil {
		logger.Error("Server error", logger.Err(serveErr))
		return serveErr
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// watchLogLevel applies LOG_LEVEL edits of the env file at runtime.
func watchLogLevel(opts config.LoadOptions) {
	err := config.WatchEnvFile(opts, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn("Ignoring invalid env file change", logger.Err(err))
			return
		}
		if strings.EqualFold(cfg.Logging.Level, logger.GetLevel()) {
			return
		}
		logger.SetLevel(cfg.Logging.Level)
		logger.Info("Log level changed", "level", strings.ToUpper(cfg.Logging.Level))
	})
	if err != nil {
		logger.Warn("Env file watch disabled", logger.Err(err))
	}
}

func cacheAddr(cfg *config.Config) string {
	if cfg.Cache.Driver == config.DriverRedis {
		return cfg.Redis.Addr()
	}
	if cfg.Cache.Path == "" {
		return "memory"
	}
	return cfg.Cache.Path
}
