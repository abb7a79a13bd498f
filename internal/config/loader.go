// Package config provides centralized configuration management for qrandom.
// Defaults are registered on a viper instance, overlaid by an optional YAML
// file and QRANDOM_* environment variables, then decoded into Config.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/qrandom/qrandom/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{"*"})

	// Source defaults
	v.SetDefault("sources.anu.enabled", true)
	v.SetDefault("sources.anu.url", "https://qrng.anu.edu.au/API/jsonI.php")
	v.SetDefault("sources.anu.timeout", "10s")
	v.SetDefault("sources.anu.cooldown", "65s")
	v.SetDefault("sources.custom.url", "")
	v.SetDefault("sources.custom.timeout", "10s")

	// Rotation defaults
	v.SetDefault("rotation.reprobe_interval", "0s")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.stats_ttl", "10s")
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.key_prefix", "qrandom:")

	// Store defaults
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.history_retention", "168h")

	// Entropy and stream defaults
	v.SetDefault("entropy.buffer_size", 1000)
	v.SetDefault("stream.interval", "100ms")
	v.SetDefault("stream.batch_size", 16)

	// Inbound rate limit
	v.SetDefault("rate_limit.requests_per_minute", 1000)
	v.SetDefault("rate_limit.safety_margin", 1.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// BindEnv makes every registered key overridable through prefix-named
// variables, with "." mapped to "_" (sources.anu.cooldown is
// QRANDOM_SOURCES_ANU_COOLDOWN).
func BindEnv(v *viper.Viper, prefix string) {
	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the settings of v into a Config, validates it and makes it
// the current configuration.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("viper instance is required")
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Sources.ANU.Enabled && strings.TrimSpace(c.Sources.ANU.URL) == "" {
		errs = append(errs, errors.New("sources.anu.url is required when the ANU source is enabled"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Cache.Backend)) {
	case "", "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be memory, redis or none", c.Cache.Backend))
	}
	if c.Cache.TTL < 0 || c.Cache.StatsTTL < 0 {
		errs = append(errs, errors.New("cache TTLs must not be negative"))
	}
	if c.Entropy.BufferSize < 0 {
		errs = append(errs, errors.New("entropy.buffer_size must not be negative"))
	}
	if c.Stream.Interval < 0 {
		errs = append(errs, errors.New("stream.interval must not be negative"))
	}
	if c.Stream.BatchSize < 0 || c.Stream.BatchSize > 1000 {
		errs = append(errs, fmt.Errorf("stream.batch_size %d must be between 0 and 1000", c.Stream.BatchSize))
	}
	if c.RateLimit.SafetyMargin < 0 || c.RateLimit.SafetyMargin > 1 {
		errs = append(errs, fmt.Errorf("rate_limit.safety_margin %g must be between 0 and 1", c.RateLimit.SafetyMargin))
	}
	return errors.Join(errs...)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.ConfigName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + appid.BinaryName + ".db"
	}
	return filepath.Join(dataDir, appid.BinaryName+".db")
}
