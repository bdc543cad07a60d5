package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
)

// config is resolved from flags, environment and an optional YAML file,
// in that order of precedence.
type config struct {
	Addr                    string        `mapstructure:"addr"`
	LogLevel                string        `mapstructure:"log_level"`
	StripeSecretKey         string        `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret     string        `mapstructure:"stripe_webhook_secret"`
	StripeProPriceID        string        `mapstructure:"stripe_pro_price_id"`
	StripeEnterprisePriceID string        `mapstructure:"stripe_enterprise_price_id"`
	AppURL                  string        `mapstructure:"app_url"`
	UpgradeURL              string        `mapstructure:"upgrade_url"`
	StoreDriver             string        `mapstructure:"store_driver"`
	DatabaseURL             string        `mapstructure:"database_url"`
	RedisURL                string        `mapstructure:"redis_url"`
	CacheSize               int           `mapstructure:"cache_size"`
	SubscriptionCacheTTL    time.Duration `mapstructure:"subscription_cache_ttl"`
	SweepSchedule           string        `mapstructure:"sweep_schedule"`
	TrustIdentityHeaders    bool          `mapstructure:"trust_identity_headers"`
}

var configDefaults = map[string]any{
	"addr":                       ":8080",
	"log_level":                  "info",
	"stripe_secret_key":          "",
	"stripe_webhook_secret":      "",
	"stripe_pro_price_id":        "",
	"stripe_enterprise_price_id": "",
	"app_url":                    "http://localhost:3000",
	"upgrade_url":                "/pricing",
	"store_driver":               driverPostgres,
	"database_url":               "",
	"redis_url":                  "",
	"cache_size":                 10_000,
	"subscription_cache_ttl":     60 * time.Second,
	"sweep_schedule":             "@every 15m",
	"trust_identity_headers":     false,
}

// loadConfig reads .env when present, then the YAML file at path (if
// any), then the environment.
func loadConfig(v *viper.Viper, path string) (*config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	for k, val := range configDefaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *config) priceIDs() plan.PriceIDs {
	return plan.PriceIDs{Pro: c.StripeProPriceID, Enterprise: c.StripeEnterprisePriceID}
}

func (c *config) validate() error {
	if c.StripeSecretKey == "" {
		return errors.New("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	switch c.StoreDriver {
	case driverMemory:
	case driverPostgres, driverSQLite, driverMongo:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store driver %q", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	return nil
}

func (c *config) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
