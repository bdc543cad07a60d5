// Package audithook writes billing lifecycle events to an audit trail.
//
// The package defines its own Recorder interface; hosts adapt whatever
// audit backend they run with a RecorderFunc. LogRecorder writes events
// to a slog.Logger for deployments without one.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plugin"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

var (
	_ plugin.Plugin                    = (*Extension)(nil)
	_ plugin.OnInit                    = (*Extension)(nil)
	_ plugin.OnCustomerCreated         = (*Extension)(nil)
	_ plugin.OnCheckoutStarted         = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated     = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged     = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled    = (*Extension)(nil)
	_ plugin.OnSubscriptionReactivated = (*Extension)(nil)
	_ plugin.OnPlanAssigned            = (*Extension)(nil)
	_ plugin.OnQuotaExceeded           = (*Extension)(nil)
	_ plugin.OnEntitlementDenied       = (*Extension)(nil)
	_ plugin.OnWebhookReceived         = (*Extension)(nil)
	_ plugin.OnWebhookProcessed        = (*Extension)(nil)
	_ plugin.OnPaymentSucceeded        = (*Extension)(nil)
	_ plugin.OnPaymentFailed           = (*Extension)(nil)
)

// Recorder is implemented by audit backends.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder returns a Recorder that writes each event as a structured
// log line at a level derived from its severity.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, ev *AuditEvent) error {
		level := slog.LevelInfo
		switch ev.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityError, SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"category", ev.Category,
			"outcome", ev.Outcome,
			"metadata", ev.Metadata,
		)
		return nil
	})
}

// Extension records billing events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	catalog  *plan.Catalog
}

// New returns an Extension that records through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnInit picks up the engine's catalog for upgrade and downgrade actions.
func (e *Extension) OnInit(_ context.Context, engine any) error {
	if c, ok := engine.(interface{ Catalog() *plan.Catalog }); ok {
		e.catalog = c.Catalog()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Customer and subscription hooks
// ──────────────────────────────────────────────────

func (e *Extension) OnCustomerCreated(ctx context.Context, c *customer.Customer) error {
	return e.record(ctx, ActionCustomerCreated, SeverityInfo, OutcomeSuccess,
		ResourceCustomer, c.ID.String(), CategoryBilling, nil,
		"account_id", c.AccountID,
		"external_id", c.ExternalID,
	)
}

func (e *Extension) OnCheckoutStarted(ctx context.Context, accountID string, planID plan.ID, sessionID string) error {
	return e.record(ctx, ActionCheckoutStarted, SeverityInfo, OutcomeSuccess,
		ResourceCheckout, sessionID, CategorySubscription, nil,
		"account_id", accountID,
		"plan", string(planID),
	)
}

func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.recordSubscription(ctx, ActionSubscriptionCreated, sub)
}

// OnSubscriptionChanged records an upgrade or downgrade when the catalog
// ranks both plans, and a generic change otherwise.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, from, to plan.ID) error {
	action := ActionSubscriptionChanged
	if e.catalog != nil {
		switch change, _ := e.catalog.Compare(from, to); change {
		case plan.Upgrade:
			action = ActionSubscriptionUpgraded
		case plan.Downgrade:
			action = ActionSubscriptionDowngraded
		}
	}
	return e.recordSubscription(ctx, action, sub,
		"from_plan", string(from),
		"to_plan", string(to),
	)
}

func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error {
	return e.recordSubscription(ctx, ActionSubscriptionCanceled, sub,
		"cancel_at_period_end", sub.CancelAtPeriodEnd,
	)
}

func (e *Extension) OnSubscriptionReactivated(ctx context.Context, sub *subscription.Subscription) error {
	return e.recordSubscription(ctx, ActionSubscriptionReactivated, sub)
}

// ──────────────────────────────────────────────────
// Usage and access hooks
// ──────────────────────────────────────────────────

func (e *Extension) OnPlanAssigned(ctx context.Context, accountID string, from, to plan.ID) error {
	return e.record(ctx, ActionPlanAssigned, SeverityInfo, OutcomeSuccess,
		ResourceAccount, accountID, CategoryBilling, nil,
		"from_plan", string(from),
		"to_plan", string(to),
	)
}

func (e *Extension) OnQuotaExceeded(ctx context.Context, accountID string, action usage.Action, used, limit int64) error {
	return e.record(ctx, ActionQuotaExceeded, SeverityWarning, OutcomeFailure,
		ResourceAccount, accountID, CategoryUsage, nil,
		"action", string(action),
		"used", used,
		"limit", limit,
	)
}

func (e *Extension) OnEntitlementDenied(ctx context.Context, accountID, code, detail string) error {
	return e.record(ctx, ActionEntitlementDenied, SeverityWarning, OutcomeFailure,
		ResourceAccount, accountID, CategoryAccess, nil,
		"code", code,
		"detail", detail,
	)
}

// ──────────────────────────────────────────────────
// Webhook and payment hooks
// ──────────────────────────────────────────────────

func (e *Extension) OnWebhookReceived(ctx context.Context, ev *webhook.Event) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, ev.ID, CategoryIntegration, nil,
		"type", ev.Type,
		"object_id", ev.ObjectID,
	)
}

func (e *Extension) OnWebhookProcessed(ctx context.Context, res webhook.Result, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	switch {
	case res.Failed():
		severity, outcome = SeverityError, OutcomeFailure
	case res.Duplicate, res.Skipped, !res.Handled:
		outcome = OutcomeSkipped
	}
	return e.record(ctx, ActionWebhookProcessed, severity, outcome,
		ResourceWebhook, res.EventID, CategoryIntegration, res.Err,
		"type", res.Type,
		"account_id", res.AccountID,
		"duplicate", res.Duplicate,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func (e *Extension) OnPaymentSucceeded(ctx context.Context, inv *webhook.Invoice) error {
	return e.record(ctx, ActionPaymentSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID, CategoryPayment, nil,
		"customer_id", inv.Customer,
		"amount", inv.AmountPaid,
		"currency", inv.Currency,
	)
}

func (e *Extension) OnPaymentFailed(ctx context.Context, inv *webhook.Invoice) error {
	return e.record(ctx, ActionPaymentFailed, SeverityCritical, OutcomeFailure,
		ResourceInvoice, inv.ID, CategoryPayment, nil,
		"customer_id", inv.Customer,
		"amount", inv.AmountDue,
		"currency", inv.Currency,
		"attempt_count", inv.AttemptCount,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (e *Extension) recordSubscription(ctx context.Context, action string, sub *subscription.Subscription, kv ...any) error {
	kv = append([]any{
		"account_id", sub.AccountID,
		"customer_id", sub.CustomerID,
		"plan", string(sub.PlanID),
		"status", string(sub.Status),
	}, kv...)
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID, CategorySubscription, nil, kv...)
}

// record sends an audit event when action is enabled. Recorder failures
// are logged and never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audithook: record failed",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
