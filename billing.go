package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plugin"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
)

// Defaults applied by New.
const (
	DefaultSubscriptionCacheTTL = 60 * time.Second
	DefaultSweepSchedule        = "@every 15m"
	DefaultUsageRetentionMonths = 12
	DefaultWebhookRetention     = 30 * 24 * time.Hour
	DefaultUpgradeURL           = "/pricing"
	DefaultInvoiceLimit         = 10
)

// Engine is the metering and entitlement core. It is safe for concurrent
// use once constructed.
type Engine struct {
	store    store.Store
	provider provider.Provider
	verifier provider.Verifier
	cache    subscription.Cache
	catalog  *plan.Catalog
	plugins  *plugin.Registry
	logger   *slog.Logger
	now      func() time.Time

	cacheTTL         time.Duration
	appURL           string
	upgradeURL       string
	sweepSchedule    string
	usageRetention   int
	webhookRetention time.Duration
	skipMigrate      bool

	customers     *Customers
	subscriptions *Subscriptions
	usage         *Usage
	webhooks      *Webhooks
	guard         *Guard

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates an engine over s and p. The store doubles as the
// subscription cache unless WithSubscriptionCache is given.
func New(s store.Store, p provider.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		provider:         p,
		cache:            s,
		catalog:          plan.Default(plan.PriceIDs{}),
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		now:              time.Now,
		cacheTTL:         DefaultSubscriptionCacheTTL,
		upgradeURL:       DefaultUpgradeURL,
		sweepSchedule:    DefaultSweepSchedule,
		usageRetention:   DefaultUsageRetentionMonths,
		webhookRetention: DefaultWebhookRetention,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.customers = &Customers{e: e}
	e.subscriptions = &Subscriptions{e: e, gens: make(map[string]uint64)}
	e.usage = &Usage{e: e}
	e.webhooks = &Webhooks{e: e}
	e.guard = &Guard{e: e}

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithHookTimeout bounds each plugin hook call.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Engine) { e.plugins.WithTimeout(d) }
}

// WithCatalog replaces the default free/pro/enterprise catalog.
func WithCatalog(c *plan.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithVerifier sets the webhook signature verifier. Without one every
// delivery is rejected.
func WithVerifier(v provider.Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithSubscriptionCache replaces the store-backed subscription cache, e.g.
// with an in-process LRU or a shared Redis cache.
func WithSubscriptionCache(c subscription.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithSubscriptionCacheTTL sets how long a fetched subscription is served
// without asking the processor again.
func WithSubscriptionCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// WithAppURL sets the base URL used for default checkout and portal
// redirects.
func WithAppURL(url string) Option {
	return func(e *Engine) { e.appURL = url }
}

// WithUpgradeURL sets the URL reported in quota and access errors.
func WithUpgradeURL(url string) Option {
	return func(e *Engine) { e.upgradeURL = url }
}

// WithSweepSchedule sets the cron spec of the garbage-collection sweep. An
// empty spec disables it.
func WithSweepSchedule(spec string) Option {
	return func(e *Engine) { e.sweepSchedule = spec }
}

// WithUsageRetention sets how many past periods of usage records survive a
// sweep.
func WithUsageRetention(months int) Option {
	return func(e *Engine) {
		if months > 0 {
			e.usageRetention = months
		}
	}
}

// WithWebhookRetention sets how long processed-event receipts are kept.
func WithWebhookRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.webhookRetention = d
		}
	}
}

// WithoutMigrate makes Start skip store migrations.
func WithoutMigrate() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start migrates the store, initializes plugins and schedules the sweep.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	if e.sweepSchedule != "" {
		c := cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
		if _, err := c.AddFunc(e.sweepSchedule, func() {
			if _, err := e.Sweep(context.Background()); err != nil {
				e.logger.Error("billing sweep failed", "error", err)
			}
		}); err != nil {
			return err
		}
		c.Start()

		e.mu.Lock()
		e.cron = c
		e.mu.Unlock()
	}

	e.logger.Info("billing engine started",
		"plans", len(e.catalog.List()),
		"cache_ttl", e.cacheTTL,
		"sweep", e.sweepSchedule,
	)

	return nil
}

// Stop waits for a running sweep, shuts plugins down and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// SweepReport counts what a sweep removed.
type SweepReport struct {
	ExpiredCacheEntries int64 `json:"expiredCacheEntries"`
	UsageRecords        int64 `json:"usageRecords"`
	WebhookReceipts     int64 `json:"webhookReceipts"`
}

// Sweep purges expired cache entries, usage records older than the
// retention window and old webhook receipts. Live entries are never
// touched.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	now := e.now().UTC()
	var (
		report SweepReport
		errs   []error
		err    error
	)

	if report.ExpiredCacheEntries, err = e.store.PurgeExpiredSubscriptions(ctx, now); err != nil {
		errs = append(errs, err)
	}
	cutoff := usage.PeriodOf(now).AddMonths(-e.usageRetention)
	if report.UsageRecords, err = e.store.PurgeUsage(ctx, cutoff); err != nil {
		errs = append(errs, err)
	}
	if report.WebhookReceipts, err = e.store.PurgeProcessedEvents(ctx, now.Add(-e.webhookRetention)); err != nil {
		errs = append(errs, err)
	}

	e.logger.Debug("billing sweep finished",
		"cache_entries", report.ExpiredCacheEntries,
		"usage_records", report.UsageRecords,
		"webhook_receipts", report.WebhookReceipts,
	)

	return report, errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

func (e *Engine) Customers() *Customers         { return e.customers }
func (e *Engine) Subscriptions() *Subscriptions { return e.subscriptions }
func (e *Engine) Usage() *Usage                 { return e.usage }
func (e *Engine) Webhooks() *Webhooks           { return e.webhooks }
func (e *Engine) Guard() *Guard                 { return e.guard }
func (e *Engine) Catalog() *plan.Catalog        { return e.catalog }
func (e *Engine) Store() store.Store            { return e.store }
func (e *Engine) Plugins() *plugin.Registry     { return e.plugins }
func (e *Engine) Logger() *slog.Logger          { return e.logger }

// UpgradeURL returns the URL reported in quota and access errors.
func (e *Engine) UpgradeURL() string { return e.upgradeURL }
