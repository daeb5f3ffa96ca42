// Package config loads stackd configuration from an env file and the
// process environment.
//
// The same .env file is handed to both compose services, so keys are plain
// upper-case variables (REDIS_HOST, SERVER_PORT, ...) rather than a
// prefixed namespace. Precedence, highest first:
//
//  1. Process environment
//  2. Env file (default ".env")
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/marmos91/stackd/internal/bytesize"
)

// DefaultEnvFile is the env file read when none is given.
const DefaultEnvFile = ".env"

// ErrEnvFileNotFound is returned by Load when the env file does not exist
// and LoadOptions.AllowMissingEnvFile is false.
var ErrEnvFileNotFound = errors.New("env file not found")

// Config is the complete stackd configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Cache     CacheConfig     `mapstructure:"cache" json:"cache" yaml:"cache"`
	Redis     RedisConfig     `mapstructure:"redis" json:"redis" yaml:"redis"`
	Auth      AuthConfig      `mapstructure:"auth" json:"auth" yaml:"auth"`

	// ShutdownTimeout bounds graceful shutdown of all servers.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"required,gt=0" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `mapstructure:"host" env:"SERVER_HOST" json:"host" yaml:"host"`

	// Port must match the port published by the compose file (8000).
	Port int `mapstructure:"port" env:"SERVER_PORT" validate:"required,min=1,max=65535" json:"port" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" env:"SERVER_READ_TIMEOUT" validate:"gt=0" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" env:"SERVER_WRITE_TIMEOUT" validate:"gt=0" json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" validate:"gt=0" json:"idle_timeout" yaml:"idle_timeout"`

	// CORSOrigins lists allowed origins; empty disables CORS handling.
	CORSOrigins []string `mapstructure:"cors_origins" env:"CORS_ORIGINS" json:"cors_origins" yaml:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" json:"level" yaml:"level"`
	Format string `mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=text json" json:"format" yaml:"format"`
	Output string `mapstructure:"output" env:"LOG_OUTPUT" validate:"required" json:"output" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" env:"TELEMETRY_ENABLED" json:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" env:"TELEMETRY_ENDPOINT" validate:"required_if=Enabled true" json:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" env:"TELEMETRY_INSECURE" json:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" env:"TELEMETRY_SAMPLE_RATE" validate:"gte=0,lte=1" json:"sample_rate" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" json:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" env:"PROFILING_ENABLED" json:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" env:"PROFILING_ENDPOINT" validate:"required_if=Enabled true" json:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" env:"PROFILING_PROFILE_TYPES" json:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" env:"METRICS_ENABLED" json:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" env:"METRICS_PORT" validate:"min=1,max=65535" json:"port" yaml:"port"`
}

// Cache drivers.
const (
	DriverRedis  = "redis"
	DriverBadger = "badger"
)

// CacheConfig configures the cache layer independently of the backend.
type CacheConfig struct {
	Driver string `mapstructure:"driver" env:"CACHE_DRIVER" validate:"required,oneof=redis badger" json:"driver" yaml:"driver"`

	// DefaultTTL applies to writes that do not specify a TTL.
	DefaultTTL time.Duration `mapstructure:"default_ttl" env:"CACHE_DEFAULT_TTL" validate:"gt=0" json:"default_ttl" yaml:"default_ttl"`

	// KeyPrefix namespaces every key written by this process.
	KeyPrefix string `mapstructure:"key_prefix" env:"CACHE_KEY_PREFIX" json:"key_prefix" yaml:"key_prefix"`

	// MaxValueSize caps the encoded size of a single value.
	MaxValueSize bytesize.ByteSize `mapstructure:"max_value_size" env:"CACHE_MAX_VALUE_SIZE" validate:"gt=0" json:"max_value_size" yaml:"max_value_size"`

	// Path is the badger directory. Empty keeps badger in memory.
	Path string `mapstructure:"path" env:"CACHE_PATH" json:"path" yaml:"path"`
}

// RedisConfig holds redis connection details.
type RedisConfig struct {
	Host     string `mapstructure:"host" env:"REDIS_HOST" validate:"required" json:"host" yaml:"host"`
	Port     int    `mapstructure:"port" env:"REDIS_PORT" validate:"required,min=1,max=65535" json:"port" yaml:"port"`
	DB       int    `mapstructure:"db" env:"REDIS_DB" validate:"gte=0,lte=15" json:"db" yaml:"db"`
	Username string `mapstructure:"username" env:"REDIS_USERNAME" json:"username" yaml:"username"`
	Password string `mapstructure:"password" env:"REDIS_PASSWORD" secret:"true" json:"password" yaml:"password"`

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration `mapstructure:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" validate:"gt=0" json:"dial_timeout" yaml:"dial_timeout"`

	// FlushOnStart empties the selected DB once connected.
	FlushOnStart bool `mapstructure:"flush_on_start" env:"REDIS_FLUSH_ON_START" json:"flush_on_start" yaml:"flush_on_start"`

	Connect RetryConfig `mapstructure:"connect" json:"connect" yaml:"connect"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// RetryConfig is the startup connection retry policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     int           `mapstructure:"max_retries" env:"REDIS_CONNECT_MAX_RETRIES" validate:"gte=0" json:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" env:"REDIS_CONNECT_INITIAL_BACKOFF" validate:"gt=0" json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" env:"REDIS_CONNECT_MAX_BACKOFF" validate:"gtefield=InitialBackoff" json:"max_backoff" yaml:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier" env:"REDIS_CONNECT_MULTIPLIER" validate:"gte=1" json:"multiplier" yaml:"multiplier"`
}

// AuthConfig configures bearer authentication for the cache admin API.
type AuthConfig struct {
	// JWTSecret is the HMAC key. Empty disables the /api/v1/cache routes.
	JWTSecret string `mapstructure:"jwt_secret" env:"JWT_SECRET_KEY" secret:"true" validate:"omitempty,min=32" json:"jwt_secret" yaml:"jwt_secret"`
}

// HasJWTSecret reports whether the cache admin API is enabled.
func (a AuthConfig) HasJWTSecret() bool {
	return a.JWTSecret != ""
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// EnvFile is the env file path. Empty means DefaultEnvFile.
	EnvFile string

	// AllowMissingEnvFile turns a missing env file into "use the process
	// environment only". Containers started by compose already have the
	// variables injected.
	AllowMissingEnvFile bool
}

func (o LoadOptions) envFile() string {
	if o.EnvFile == "" {
		return DefaultEnvFile
	}
	return o.EnvFile
}

// Load builds the configuration from defaults, the env file and the process
// environment, then applies defaults and validates it.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	bindings := Bindings()

	for _, b := range bindings {
		v.SetDefault(b.Key, b.Default)
		if err := v.BindEnv(b.Key, b.Env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", b.Env, err)
		}
	}

	if err := mergeEnvFile(v, opts, bindings); err != nil {
		return nil, err
	}

	if err := checkTypes(v, bindings); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// mergeEnvFile layers the env file between defaults and the environment by
// installing its values as viper defaults. Bound env vars still win.
func mergeEnvFile(v *viper.Viper, opts LoadOptions, bindings []Binding) error {
	values, err := ReadEnvFile(opts.envFile())
	if errors.Is(err, ErrEnvFileNotFound) && opts.AllowMissingEnvFile {
		return nil
	}
	if err != nil {
		return err
	}

	for _, b := range bindings {
		if val, ok := values[b.Env]; ok {
			v.SetDefault(b.Key, val)
		}
	}
	return nil
}

// checkTypes parses every typed value up front so a bad value is reported
// by its variable name instead of by a nested decode path.
func checkTypes(v *viper.Viper, bindings []Binding) error {
	var errs []string
	for _, b := range bindings {
		raw := strings.TrimSpace(v.GetString(b.Key))
		if raw == "" {
			continue
		}
		var err error
		switch b.kind {
		case kindInt:
			_, err = strconv.Atoi(raw)
		case kindFloat:
			_, err = strconv.ParseFloat(raw, 64)
		case kindBool:
			_, err = strconv.ParseBool(raw)
		case kindDuration:
			_, err = time.ParseDuration(raw)
		case kindByteSize:
			_, err = bytesize.Parse(raw)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid %s %q", b.Env, b.kind, raw))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// configDecodeHooks handles durations, comma-separated lists and byte sizes.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		trimmedSliceHook(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// trimmedSliceHook splits "a, b,,c" into [a b c].
func trimmedSliceHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		parts := strings.Split(data.(string), ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
}
