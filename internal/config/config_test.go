package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotideas/ideas-engine/internal/parimutuel"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.False(t, cfg.DevMode)
	assert.Empty(t, cfg.Admins)
	assert.True(t, cfg.StartingBalance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, parimutuel.VoidRetain, cfg.VoidPolicy)
	assert.True(t, cfg.MaxStakePerBet.IsZero())
	assert.Equal(t, "30-M", cfg.BetRateLimit)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("ADMIN_ACCOUNT_IDS", " root, ops ,,")
	t.Setenv("STARTING_BALANCE", "250.5")
	t.Setenv("VOID_POLICY", "REFUND")
	t.Setenv("MAX_STAKE_PER_IDEA", "500")
	t.Setenv("JWT_TTL", "15m")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"root", "ops"}, cfg.Admins)
	assert.Equal(t, "250.5", cfg.StartingBalance.String())
	assert.Equal(t, parimutuel.VoidRefund, cfg.VoidPolicy)
	assert.Equal(t, "500", cfg.MaxStakePerIdea.String())
	assert.Equal(t, 15*time.Minute, cfg.JWTTTL)
	assert.False(t, cfg.MigrateOnStart)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STARTING_BALANCE", "lots"},
		{"STARTING_BALANCE", "-1"},
		{"MAX_STAKE_PER_BET", "-5"},
		{"VOID_POLICY", "burn"},
		{"CACHE_TTL", "soon"},
		{"JWT_TTL", "-1h"},
		{"LOG_LEVEL", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			t.Setenv(tt.key, tt.value)
			_, err := load(viper.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	t.Run("refused", func(t *testing.T) {
		t.Setenv("DEV_MODE", "")
		_, err := load(viper.New())
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("refused with database", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/ideas")
		_, err := load(viper.New())
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("dev mode", func(t *testing.T) {
		t.Setenv("DEV_MODE", "true")
		cfg, err := load(viper.New())
		require.NoError(t, err)
		assert.True(t, cfg.DevMode)
		assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	})
}
