package config

import (
	"time"
)

// Config represents the complete application configuration. Values come
// from flag/viper defaults, an optional YAML file and QRANDOM_* variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Rotation  RotationConfig  `mapstructure:"rotation"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Entropy   EntropyConfig   `mapstructure:"entropy"`
	Stream    StreamConfig    `mapstructure:"stream"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds how long a request may wait on upstream
	// sources, including a cooldown, before falling back.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
}

// SourcesConfig lists the upstream providers.
type SourcesConfig struct {
	ANU    ANUConfig    `mapstructure:"anu"`
	Custom CustomConfig `mapstructure:"custom"`
}

// ANUConfig configures the rate-limited ANU QRNG source.
type ANUConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	// Timeout bounds a single request.
	Timeout time.Duration `mapstructure:"timeout"`
	// Cooldown is the minimum spacing between requests.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// CustomConfig configures the optional custom provider. It is enabled when
// URL is set.
type CustomConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RotationConfig tunes source rotation.
type RotationConfig struct {
	// ReprobeInterval restarts the scan at the first source after a later
	// one has been preferred this long. Zero keeps the preferred source
	// until it fails.
	ReprobeInterval time.Duration `mapstructure:"reprobe_interval"`
}

// CacheConfig selects the cache backend and its TTLs.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	StatsTTL   time.Duration `mapstructure:"stats_ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	RedisURL   string        `mapstructure:"redis_url"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
	// HistoryRetention prunes fetch history older than this on start.
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// EntropyConfig sizes the analysis window.
type EntropyConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// StreamConfig tunes the WebSocket stream.
type StreamConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// RateLimitConfig limits inbound requests per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	// SafetyMargin scales RequestsPerMinute down when in (0, 1).
	SafetyMargin float64 `mapstructure:"safety_margin"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
