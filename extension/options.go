package extension

import (
	"time"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plugin"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
)

// Option configures the billing extension.
type Option func(*Extension)

// WithStore sets the engine's store. The default is the memory store.
func WithStore(s store.Store) Option {
	return func(e *Extension) { e.store = s }
}

// WithProvider sets the payment processor gateway.
func WithProvider(p provider.Provider) Option {
	return func(e *Extension) { e.provider = p }
}

// WithEngineOption passes an option through to the engine.
func WithEngineOption(opt billing.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, billing.WithPlugin(p))
	}
}

// WithConfig replaces the programmatic configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for billing routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig makes Register fail when no config key is present.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

func WithSubscriptionCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.SubscriptionCacheTTL = d }
}

func WithSweepSchedule(spec string) Option {
	return func(e *Extension) { e.config.SweepSchedule = spec }
}

func WithAppURL(url string) Option {
	return func(e *Extension) { e.config.AppURL = url }
}
