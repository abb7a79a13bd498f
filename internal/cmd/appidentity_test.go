package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrandom/qrandom/internal/appid"
	"github.com/qrandom/qrandom/internal/config"
)

func TestAppIdentityLoading(t *testing.T) {
	identity, err := appid.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, identity)

	assert.NotEmpty(t, identity.Vendor)
	assert.NotEmpty(t, identity.BinaryName)
	assert.NotEmpty(t, identity.ConfigName)
	assert.True(t, strings.HasSuffix(identity.EnvPrefix, "_"), "env prefix %q must end with an underscore", identity.EnvPrefix)
}

func TestEnvironmentOverridesConfig(t *testing.T) {
	t.Setenv("QRANDOM_SOURCES_ANU_COOLDOWN", "90s")
	t.Setenv("QRANDOM_CACHE_BACKEND", "none")

	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v, appid.EnvPrefix)

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "1m30s", cfg.Sources.ANU.Cooldown.String())
	assert.Equal(t, "none", cfg.Cache.Backend)
}
