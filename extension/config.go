package extension

import "time"

// Config holds the billing extension configuration. It is set through
// Option functions or bound from the "extensions.billing" or "billing"
// config keys.
type Config struct {
	// DisableRoutes keeps Handler from being built.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate skips store migrations on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for billing routes (default: "/billing").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// SubscriptionCacheTTL is how long a fetched subscription is served
	// before the processor is asked again (default: 60s).
	SubscriptionCacheTTL time.Duration `json:"subscription_cache_ttl" mapstructure:"subscription_cache_ttl" yaml:"subscription_cache_ttl"`

	// SweepSchedule is the cron spec of the cleanup sweep (default: "@every 15m").
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule" yaml:"sweep_schedule"`

	// UsageRetentionMonths is how many past periods of usage survive a sweep.
	UsageRetentionMonths int `json:"usage_retention_months" mapstructure:"usage_retention_months" yaml:"usage_retention_months"`

	// AppURL is the base for default checkout and portal redirects.
	AppURL string `json:"app_url" mapstructure:"app_url" yaml:"app_url"`

	// UpgradeURL is reported in quota and access errors (default: "/pricing").
	UpgradeURL string `json:"upgrade_url" mapstructure:"upgrade_url" yaml:"upgrade_url"`

	// RequireConfig makes Register fail when no config key is present.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:             "/billing",
		SubscriptionCacheTTL: 60 * time.Second,
		SweepSchedule:        "@every 15m",
		UsageRetentionMonths: 12,
		UpgradeURL:           "/pricing",
	}
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.SubscriptionCacheTTL == 0 {
		cfg.SubscriptionCacheTTL = defaults.SubscriptionCacheTTL
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaults.SweepSchedule
	}
	if cfg.UsageRetentionMonths == 0 {
		cfg.UsageRetentionMonths = defaults.UsageRetentionMonths
	}
	if cfg.UpgradeURL == "" {
		cfg.UpgradeURL = defaults.UpgradeURL
	}
	return cfg
}

// mergeConfigurations lays programmatic options under file config: file
// values win, programmatic values fill gaps and true flags always stick.
func mergeConfigurations(fileConfig, programmatic Config) Config {
	if programmatic.DisableRoutes {
		fileConfig.DisableRoutes = true
	}
	if programmatic.DisableMigrate {
		fileConfig.DisableMigrate = true
	}

	if fileConfig.BasePath == "" {
		fileConfig.BasePath = programmatic.BasePath
	}
	if fileConfig.AppURL == "" {
		fileConfig.AppURL = programmatic.AppURL
	}
	if fileConfig.UpgradeURL == "" {
		fileConfig.UpgradeURL = programmatic.UpgradeURL
	}
	if fileConfig.SweepSchedule == "" {
		fileConfig.SweepSchedule = programmatic.SweepSchedule
	}
	if fileConfig.SubscriptionCacheTTL == 0 {
		fileConfig.SubscriptionCacheTTL = programmatic.SubscriptionCacheTTL
	}
	if fileConfig.UsageRetentionMonths == 0 {
		fileConfig.UsageRetentionMonths = programmatic.UsageRetentionMonths
	}

	return mergeWithDefaults(fileConfig)
}
