// Package plugin provides lifecycle hooks into the billing engine.
// A plugin implements Plugin plus any subset of the hook interfaces below;
// the registry discovers them once at registration.
package plugin

import (
	"context"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *billing.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Customer and checkout hooks
// ──────────────────────────────────────────────────

// OnCustomerCreated is called after a new account ↔ customer mapping is
// persisted.
type OnCustomerCreated interface {
	Plugin
	OnCustomerCreated(ctx context.Context, c *customer.Customer) error
}

type OnCheckoutStarted interface {
	Plugin
	OnCheckoutStarted(ctx context.Context, accountID string, planID plan.ID, sessionID string) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionChanged is called when a subscription moves between plans.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, from, to plan.ID) error
}

type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error
}

type OnSubscriptionReactivated interface {
	Plugin
	OnSubscriptionReactivated(ctx context.Context, sub *subscription.Subscription) error
}

// ──────────────────────────────────────────────────
// Usage and entitlement hooks
// ──────────────────────────────────────────────────

// OnPlanAssigned is called when an account's usage plan assignment changes.
type OnPlanAssigned interface {
	Plugin
	OnPlanAssigned(ctx context.Context, accountID string, from, to plan.ID) error
}

// OnUsageRecorded is called after a successful increment. limit is
// plan.Unlimited for unbounded quotas.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, accountID string, action usage.Action, used, limit int64) error
}

type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, accountID string, action usage.Action, used, limit int64) error
}

// OnEntitlementDenied is called when a plan or feature gate rejects an
// account. code is the error code returned to the caller.
type OnEntitlementDenied interface {
	Plugin
	OnEntitlementDenied(ctx context.Context, accountID, code, detail string) error
}

// ──────────────────────────────────────────────────
// Webhook and payment hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived is called for every verified, non-duplicate event.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, ev *webhook.Event) error
}

type OnWebhookProcessed interface {
	Plugin
	OnWebhookProcessed(ctx context.Context, res webhook.Result, elapsed time.Duration) error
}

type OnPaymentSucceeded interface {
	Plugin
	OnPaymentSucceeded(ctx context.Context, inv *webhook.Invoice) error
}

type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, inv *webhook.Invoice) error
}
