package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages registered plugins. Hook implementations are discovered
// once in Register so dispatch never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                    []OnInit
	onShutdown                []OnShutdown
	onCustomerCreated         []OnCustomerCreated
	onCheckoutStarted         []OnCheckoutStarted
	onSubscriptionCreated     []OnSubscriptionCreated
	onSubscriptionChanged     []OnSubscriptionChanged
	onSubscriptionCanceled    []OnSubscriptionCanceled
	onSubscriptionReactivated []OnSubscriptionReactivated
	onPlanAssigned            []OnPlanAssigned
	onUsageRecorded           []OnUsageRecorded
	onQuotaExceeded           []OnQuotaExceeded
	onEntitlementDenied       []OnEntitlementDenied
	onWebhookReceived         []OnWebhookReceived
	onWebhookProcessed        []OnWebhookProcessed
	onPaymentSucceeded        []OnPaymentSucceeded
	onPaymentFailed           []OnPaymentFailed
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin and caches the hooks it implements. Names must be
// unique.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnCustomerCreated); ok {
		r.onCustomerCreated = append(r.onCustomerCreated, v)
		hooks = append(hooks, "OnCustomerCreated")
	}
	if v, ok := p.(OnCheckoutStarted); ok {
		r.onCheckoutStarted = append(r.onCheckoutStarted, v)
		hooks = append(hooks, "OnCheckoutStarted")
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
		hooks = append(hooks, "OnSubscriptionCreated")
	}
	if v, ok := p.(OnSubscriptionChanged); ok {
		r.onSubscriptionChanged = append(r.onSubscriptionChanged, v)
		hooks = append(hooks, "OnSubscriptionChanged")
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
		hooks = append(hooks, "OnSubscriptionCanceled")
	}
	if v, ok := p.(OnSubscriptionReactivated); ok {
		r.onSubscriptionReactivated = append(r.onSubscriptionReactivated, v)
		hooks = append(hooks, "OnSubscriptionReactivated")
	}
	if v, ok := p.(OnPlanAssigned); ok {
		r.onPlanAssigned = append(r.onPlanAssigned, v)
		hooks = append(hooks, "OnPlanAssigned")
	}
	if v, ok := p.(OnUsageRecorded); ok {
		r.onUsageRecorded = append(r.onUsageRecorded, v)
		hooks = append(hooks, "OnUsageRecorded")
	}
	if v, ok := p.(OnQuotaExceeded); ok {
		r.onQuotaExceeded = append(r.onQuotaExceeded, v)
		hooks = append(hooks, "OnQuotaExceeded")
	}
	if v, ok := p.(OnEntitlementDenied); ok {
		r.onEntitlementDenied = append(r.onEntitlementDenied, v)
		hooks = append(hooks, "OnEntitlementDenied")
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
		hooks = append(hooks, "OnWebhookReceived")
	}
	if v, ok := p.(OnWebhookProcessed); ok {
		r.onWebhookProcessed = append(r.onWebhookProcessed, v)
		hooks = append(hooks, "OnWebhookProcessed")
	}
	if v, ok := p.(OnPaymentSucceeded); ok {
		r.onPaymentSucceeded = append(r.onPaymentSucceeded, v)
		hooks = append(hooks, "OnPaymentSucceeded")
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
		hooks = append(hooks, "OnPaymentFailed")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for each hook, logging failures. Hooks never fail the
// caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list func() []T, fn func(T) error) {
	r.mu.RLock()
	hooks := list()
	r.mu.RUnlock()

	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", func() []OnInit { return r.onInit },
		func(p OnInit) error { return p.OnInit(ctx, engine) })
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", func() []OnShutdown { return r.onShutdown },
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitCustomerCreated(ctx context.Context, c *customer.Customer) {
	emit(ctx, r, "OnCustomerCreated", func() []OnCustomerCreated { return r.onCustomerCreated },
		func(p OnCustomerCreated) error { return p.OnCustomerCreated(ctx, c) })
}

func (r *Registry) EmitCheckoutStarted(ctx context.Context, accountID string, planID plan.ID, sessionID string) {
	emit(ctx, r, "OnCheckoutStarted", func() []OnCheckoutStarted { return r.onCheckoutStarted },
		func(p OnCheckoutStarted) error { return p.OnCheckoutStarted(ctx, accountID, planID, sessionID) })
}

func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCreated", func() []OnSubscriptionCreated { return r.onSubscriptionCreated },
		func(p OnSubscriptionCreated) error { return p.OnSubscriptionCreated(ctx, sub) })
}

func (r *Registry) EmitSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, from, to plan.ID) {
	emit(ctx, r, "OnSubscriptionChanged", func() []OnSubscriptionChanged { return r.onSubscriptionChanged },
		func(p OnSubscriptionChanged) error { return p.OnSubscriptionChanged(ctx, sub, from, to) })
}

func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCanceled", func() []OnSubscriptionCanceled { return r.onSubscriptionCanceled },
		func(p OnSubscriptionCanceled) error { return p.OnSubscriptionCanceled(ctx, sub) })
}

func (r *Registry) EmitSubscriptionReactivated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionReactivated", func() []OnSubscriptionReactivated { return r.onSubscriptionReactivated },
		func(p OnSubscriptionReactivated) error { return p.OnSubscriptionReactivated(ctx, sub) })
}

func (r *Registry) EmitPlanAssigned(ctx context.Context, accountID string, from, to plan.ID) {
	emit(ctx, r, "OnPlanAssigned", func() []OnPlanAssigned { return r.onPlanAssigned },
		func(p OnPlanAssigned) error { return p.OnPlanAssigned(ctx, accountID, from, to) })
}

func (r *Registry) EmitUsageRecorded(ctx context.Context, accountID string, action usage.Action, used, limit int64) {
	emit(ctx, r, "OnUsageRecorded", func() []OnUsageRecorded { return r.onUsageRecorded },
		func(p OnUsageRecorded) error { return p.OnUsageRecorded(ctx, accountID, action, used, limit) })
}

func (r *Registry) EmitQuotaExceeded(ctx context.Context, accountID string, action usage.Action, used, limit int64) {
	emit(ctx, r, "OnQuotaExceeded", func() []OnQuotaExceeded { return r.onQuotaExceeded },
		func(p OnQuotaExceeded) error { return p.OnQuotaExceeded(ctx, accountID, action, used, limit) })
}

func (r *Registry) EmitEntitlementDenied(ctx context.Context, accountID, code, detail string) {
	emit(ctx, r, "OnEntitlementDenied", func() []OnEntitlementDenied { return r.onEntitlementDenied },
		func(p OnEntitlementDenied) error { return p.OnEntitlementDenied(ctx, accountID, code, detail) })
}

func (r *Registry) EmitWebhookReceived(ctx context.Context, ev *webhook.Event) {
	emit(ctx, r, "OnWebhookReceived", func() []OnWebhookReceived { return r.onWebhookReceived },
		func(p OnWebhookReceived) error { return p.OnWebhookReceived(ctx, ev) })
}

func (r *Registry) EmitWebhookProcessed(ctx context.Context, res webhook.Result, elapsed time.Duration) {
	emit(ctx, r, "OnWebhookProcessed", func() []OnWebhookProcessed { return r.onWebhookProcessed },
		func(p OnWebhookProcessed) error { return p.OnWebhookProcessed(ctx, res, elapsed) })
}

func (r *Registry) EmitPaymentSucceeded(ctx context.Context, inv *webhook.Invoice) {
	emit(ctx, r, "OnPaymentSucceeded", func() []OnPaymentSucceeded { return r.onPaymentSucceeded },
		func(p OnPaymentSucceeded) error { return p.OnPaymentSucceeded(ctx, inv) })
}

func (r *Registry) EmitPaymentFailed(ctx context.Context, inv *webhook.Invoice) {
	emit(ctx, r, "OnPaymentFailed", func() []OnPaymentFailed { return r.onPaymentFailed },
		func(p OnPaymentFailed) error { return p.OnPaymentFailed(ctx, inv) })
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
