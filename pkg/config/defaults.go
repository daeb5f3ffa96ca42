package config

import (
	"strings"
	"time"

	"github.com/marmos91/stackd/internal/bytesize"
)

// ApplyDefaults fills unset fields with defaults.
//
// Only fields whose zero value is never meaningful are touched:
// REDIS_CONNECT_MAX_RETRIES=0 (no retries) and TELEMETRY_SAMPLE_RATE=0
// (drop everything) are preserved.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyCacheDefaults(&cfg.Cache)
	applyRedisDefaults(&cfg.Redis)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "inuse_objects", "inuse_space"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Driver == "" {
		cfg.Driver = DriverRedis
	}
	cfg.Driver = strings.ToLower(cfg.Driver)
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 60 * time.Minute
	}
	if cfg.MaxValueSize == 0 {
		cfg.MaxValueSize = bytesize.MiB
	}
}

func applyRedisDefaults(cfg *RedisConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Connect.InitialBackoff == 0 {
		cfg.Connect.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Connect.MaxBackoff == 0 {
		cfg.Connect.MaxBackoff = 10 * time.Second
	}
	if cfg.Connect.Multiplier == 0 {
		cfg.Connect.Multiplier = 2
	}
}

// GetDefaultConfig returns the configuration used when nothing is set.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{
			Insecure:   true,
			SampleRate: 1.0,
		},
		Redis: RedisConfig{
			Connect: RetryConfig{MaxRetries: 10},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
