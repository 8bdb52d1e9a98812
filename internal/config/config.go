// Package config loads the engine configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/wotideas/ideas-engine/internal/parimutuel"
)

const devJWTSecret = "insecure-development-secret-change-me"

// ErrMissingSecret is returned when JWT_SECRET is unset outside dev mode.
var ErrMissingSecret = errors.New("config: JWT_SECRET is required unless DEV_MODE is set")

// Config holds application configuration.
type Config struct {
	Port           string
	DatabaseURL    string // empty selects the in-memory store
	MigrateOnStart bool
	RedisURL       string
	CacheTTL       time.Duration
	NATSURL        string

	JWTSecret string
	JWTTTL    time.Duration
	Admins    []string
	DevMode   bool // allows a built-in JWT secret

	StartingBalance decimal.Decimal
	VoidPolicy      parimutuel.VoidPolicy
	MaxStakePerBet  decimal.Decimal
	MaxStakePerIdea decimal.Decimal
	BetRateLimit    string // ulule format, e.g. "30-M"; empty disables

	LogLevel slog.Level
}

// Load reads configuration from environment variables, falling back to a
// .env file in the working directory and then to defaults.
func Load() (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("ADMIN_ACCOUNT_IDS", "")
	v.SetDefault("STARTING_BALANCE", "1000")
	v.SetDefault("VOID_POLICY", string(parimutuel.VoidRetain))
	v.SetDefault("MAX_STAKE_PER_BET", "0")
	v.SetDefault("MAX_STAKE_PER_IDEA", "0")
	v.SetDefault("BET_RATE_LIMIT", "30-M")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEV_MODE", false)
	v.AutomaticEnv()

	cfg := &Config{
		Port:           v.GetString("PORT"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		MigrateOnStart: v.GetBool("MIGRATE_ON_START"),
		RedisURL:       v.GetString("REDIS_URL"),
		NATSURL:        v.GetString("NATS_URL"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		BetRateLimit:   strings.TrimSpace(v.GetString("BET_RATE_LIMIT")),
		Admins:         splitList(v.GetString("ADMIN_ACCOUNT_IDS")),
		DevMode:        v.GetBool("DEV_MODE"),
	}

	var err error
	if cfg.CacheTTL, err = duration(v, "CACHE_TTL"); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = duration(v, "JWT_TTL"); err != nil {
		return nil, err
	}
	if cfg.StartingBalance, err = amount(v, "STARTING_BALANCE"); err != nil {
		return nil, err
	}
	if cfg.MaxStakePerBet, err = amount(v, "MAX_STAKE_PER_BET"); err != nil {
		return nil, err
	}
	if cfg.MaxStakePerIdea, err = amount(v, "MAX_STAKE_PER_IDEA"); err != nil {
		return nil, err
	}
	if cfg.VoidPolicy, err = parimutuel.ParseVoidPolicy(v.GetString("VOID_POLICY")); err != nil {
		return nil, fmt.Errorf("config: VOID_POLICY: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	if cfg.JWTSecret == "" {
		if !cfg.DevMode {
			return nil, ErrMissingSecret
		}
		slog.Warn("JWT_SECRET not set, using insecure development secret")
		cfg.JWTSecret = devJWTSecret
	}
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, state will not persist")
	}
	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}

func amount(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
