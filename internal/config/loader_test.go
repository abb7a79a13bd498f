package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	BindEnv(v, "QRANDOM_")
	return v
}

func TestLoad(t *testing.T) {
	t.Run("LoadDefaults", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", t.TempDir())

		cfg, err := Load(newViper(t))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

		assert.True(t, cfg.Sources.ANU.Enabled)
		assert.Equal(t, "https://qrng.anu.edu.au/API/jsonI.php", cfg.Sources.ANU.URL)
		assert.Equal(t, 10*time.Second, cfg.Sources.ANU.Timeout)
		assert.Equal(t, 65*time.Second, cfg.Sources.ANU.Cooldown)
		assert.Empty(t, cfg.Sources.Custom.URL)
		assert.Zero(t, cfg.Rotation.ReprobeInterval)

		assert.Equal(t, "memory", cfg.Cache.Backend)
		assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
		assert.Equal(t, 10*time.Second, cfg.Cache.StatsTTL)
		assert.Equal(t, 1000, cfg.Entropy.BufferSize)
		assert.Equal(t, 100*time.Millisecond, cfg.Stream.Interval)
		assert.Equal(t, 16, cfg.Stream.BatchSize)
		assert.Equal(t, 1000, cfg.RateLimit.RequestsPerMinute)
		assert.Equal(t, 1.0, cfg.RateLimit.SafetyMargin)
		assert.Equal(t, "libsql", cfg.Store.Driver)
		assert.NotEmpty(t, cfg.Store.Path)

		assert.Same(t, cfg, GetConfig())
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv("QRANDOM_SOURCES_ANU_COOLDOWN", "90s")
		t.Setenv("QRANDOM_CACHE_BACKEND", "none")
		t.Setenv("QRANDOM_SERVER_PORT", "9001")
		t.Setenv("QRANDOM_SOURCES_CUSTOM_URL", "http://rng.internal/numbers")
		t.Setenv("QRANDOM_RATE_LIMIT_SAFETY_MARGIN", "0.8")

		cfg, err := Load(newViper(t))
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, cfg.Sources.ANU.Cooldown)
		assert.Equal(t, "none", cfg.Cache.Backend)
		assert.Equal(t, 9001, cfg.Server.Port)
		assert.Equal(t, "http://rng.internal/numbers", cfg.Sources.Custom.URL)
		assert.Equal(t, 0.8, cfg.RateLimit.SafetyMargin)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
rotation:
  reprobe_interval: 10m
stream:
  interval: 250ms
cache:
  backend: redis
  redis_url: redis://cache:6379/1
`), 0o600))

		v := newViper(t)
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())

		cfg, err := Load(v)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, cfg.Rotation.ReprobeInterval)
		assert.Equal(t, 250*time.Millisecond, cfg.Stream.Interval)
		assert.Equal(t, "redis", cfg.Cache.Backend)
		assert.Equal(t, "redis://cache:6379/1", cfg.Cache.RedisURL)
		assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	})

	t.Run("InvalidBackend", func(t *testing.T) {
		v := newViper(t)
		v.Set("cache.backend", "memcached")
		_, err := Load(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache.backend")
	})

	t.Run("NilViper", func(t *testing.T) {
		_, err := Load(nil)
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 70000},
		Sources:   SourcesConfig{ANU: ANUConfig{Enabled: true}},
		Stream:    StreamConfig{BatchSize: 5000},
		RateLimit: RateLimitConfig{SafetyMargin: 1.5},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "sources.anu.url")
	assert.Contains(t, err.Error(), "stream.batch_size")
	assert.Contains(t, err.Error(), "rate_limit.safety_margin")
}

func TestDefaultPaths(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	assert.Equal(t, "qrandom.db", filepath.Base(DefaultStorePath()))
	assert.Equal(t, "config.yaml", filepath.Base(DefaultConfigPath()))
}
