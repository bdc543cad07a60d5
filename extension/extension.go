// Package extension adapts the billing engine as a Forge extension.
//
// Register loads configuration, builds the engine and provides it through
// the DI container. Configuration comes from Option functions or from the
// "extensions.billing" or "billing" config keys.
package extension

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/api"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/memory"
)

const (
	ExtensionName        = "billing"
	ExtensionDescription = "Plan metering, entitlements and payment processor sync"
	ExtensionVersion     = "0.1.0"
)

var _ forge.Extension = (*Extension)(nil)

// Extension adapts the billing engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *billing.Engine
	store      store.Store
	provider   provider.Provider
	engineOpts []billing.Option
}

// New returns an extension configured by opts.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the engine. It is nil until Register is called.
func (e *Extension) Engine() *billing.Engine { return e.engine }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension].
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.provider == nil {
		return errors.New("billing: extension requires a provider; use WithProvider")
	}
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = billing.New(e.store, e.provider, e.engineOptions()...)

	return vessel.Provide(fapp.Container(), func() (*billing.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("billing: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	defer e.MarkStopped()
	if e.engine == nil {
		return nil
	}
	return e.engine.Stop(ctx)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("billing: store not initialized")
	}
	return e.store.Ping(ctx)
}

// Handler returns the billing HTTP routes mounted under BasePath, or nil
// when routes are disabled.
func (e *Extension) Handler() http.Handler {
	if e.engine == nil || e.config.DisableRoutes {
		return nil
	}
	r := chi.NewRouter()
	r.Mount(e.config.BasePath, api.New(e.engine).Routes())
	return r
}

func (e *Extension) engineOptions() []billing.Option {
	opts := []billing.Option{
		billing.WithSubscriptionCacheTTL(e.config.SubscriptionCacheTTL),
		billing.WithSweepSchedule(e.config.SweepSchedule),
		billing.WithUsageRetention(e.config.UsageRetentionMonths),
		billing.WithAppURL(e.config.AppURL),
		billing.WithUpgradeURL(e.config.UpgradeURL),
	}
	if e.config.DisableMigrate {
		opts = append(opts, billing.WithoutMigrate())
	}
	return append(opts, e.engineOpts...)
}

// loadConfiguration merges file config, programmatic options and defaults.
func (e *Extension) loadConfiguration() error {
	programmatic := e.config

	fileConfig, loaded := e.tryLoadFromConfigFile()
	switch {
	case loaded:
		e.config = mergeConfigurations(fileConfig, programmatic)
	case programmatic.RequireConfig:
		return errors.New("billing: configuration is required but not found; " +
			"add an 'extensions.billing' or 'billing' key to your config")
	default:
		e.config = mergeWithDefaults(programmatic)
	}

	e.Logger().Debug("billing: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("subscription_cache_ttl", e.config.SubscriptionCacheTTL),
		forge.F("sweep_schedule", e.config.SweepSchedule),
	)
	return nil
}

func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.billing", "billing"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("billing: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("billing: loaded config from file", forge.F("key", key))
		return cfg, true
	}
	return Config{}, false
}
