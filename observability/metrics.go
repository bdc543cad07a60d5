// Package observability exports billing lifecycle events as Prometheus
// metrics. Register the MetricsExtension as an engine plugin.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plugin"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "billing"

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                    = (*MetricsExtension)(nil)
	_ plugin.OnInit                    = (*MetricsExtension)(nil)
	_ plugin.OnCustomerCreated         = (*MetricsExtension)(nil)
	_ plugin.OnCheckoutStarted         = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated     = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged     = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionReactivated = (*MetricsExtension)(nil)
	_ plugin.OnPlanAssigned            = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded           = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded           = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementDenied       = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived         = (*MetricsExtension)(nil)
	_ plugin.OnWebhookProcessed        = (*MetricsExtension)(nil)
	_ plugin.OnPaymentSucceeded        = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed           = (*MetricsExtension)(nil)
)

// MetricsExtension records billing lifecycle metrics.
type MetricsExtension struct {
	catalog *plan.Catalog

	// Customer and checkout metrics
	CustomersCreated prometheus.Counter
	CheckoutsStarted *prometheus.CounterVec

	// Subscription metrics, labelled by event
	Subscriptions *prometheus.CounterVec

	// Usage and entitlement metrics
	PlanAssignments   *prometheus.CounterVec
	UsageRecorded     *prometheus.CounterVec
	QuotaExceeded     *prometheus.CounterVec
	EntitlementDenied *prometheus.CounterVec

	// Webhook metrics
	WebhooksReceived  *prometheus.CounterVec
	WebhooksProcessed *prometheus.CounterVec
	WebhookDuration   *prometheus.HistogramVec

	// Payment metrics
	Payments      *prometheus.CounterVec
	PaymentAmount *prometheus.CounterVec
}

// NewMetricsExtension creates the metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil). Metrics already registered by an
// earlier extension are reused.
func NewMetricsExtension(reg prometheus.Registerer, namespace string) (*MetricsExtension, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	m := &MetricsExtension{
		CustomersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "customers_created_total",
			Help:      "Processor customers created for accounts.",
		}),
		CheckoutsStarted:  counterVec("checkouts_started_total", "Checkout sessions created.", "plan"),
		Subscriptions:     counterVec("subscription_events_total", "Subscription lifecycle events.", "event"),
		PlanAssignments:   counterVec("plan_assignments_total", "Usage plan assignment changes.", "plan"),
		UsageRecorded:     counterVec("usage_recorded_total", "Accepted usage increments.", "action"),
		QuotaExceeded:     counterVec("quota_exceeded_total", "Usage increments rejected at the plan limit.", "action"),
		EntitlementDenied: counterVec("entitlement_denied_total", "Plan or feature gate rejections.", "code"),
		WebhooksReceived:  counterVec("webhooks_received_total", "Verified, non-duplicate webhook deliveries.", "type"),
		WebhooksProcessed: counterVec("webhooks_processed_total", "Webhook deliveries by outcome.", "kind", "outcome"),
		WebhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Time spent handling a webhook delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Payments:      counterVec("payments_total", "Invoice payment outcomes.", "outcome"),
		PaymentAmount: counterVec("payment_amount_minor_total", "Invoice amounts in minor units.", "outcome", "currency"),
	}

	var err error
	if m.CustomersCreated, err = register(reg, m.CustomersCreated); err != nil {
		return nil, err
	}
	for _, cv := range []**prometheus.CounterVec{
		&m.CheckoutsStarted, &m.Subscriptions, &m.PlanAssignments, &m.UsageRecorded,
		&m.QuotaExceeded, &m.EntitlementDenied, &m.WebhooksReceived, &m.WebhooksProcessed,
		&m.Payments, &m.PaymentAmount,
	} {
		if *cv, err = register(reg, *cv); err != nil {
			return nil, err
		}
	}
	if m.WebhookDuration, err = register(reg, m.WebhookDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector when an
// identical one is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("observability: register metric: %w", err)
	}
	return c, nil
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit picks up the engine's catalog so plan changes can be labelled as
// upgrades or downgrades.
func (m *MetricsExtension) OnInit(_ context.Context, engine any) error {
	if e, ok := engine.(interface{ Catalog() *plan.Catalog }); ok {
		m.catalog = e.Catalog()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Customer and subscription hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnCustomerCreated(_ context.Context, _ *customer.Customer) error {
	m.CustomersCreated.Inc()
	return nil
}

func (m *MetricsExtension) OnCheckoutStarted(_ context.Context, _ string, planID plan.ID, _ string) error {
	m.CheckoutsStarted.WithLabelValues(string(planID)).Inc()
	return nil
}

func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.Subscriptions.WithLabelValues("created").Inc()
	return nil
}

// OnSubscriptionChanged counts the move as an upgrade or downgrade when the
// catalog knows both plans.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, _ *subscription.Subscription, from, to plan.ID) error {
	event := "changed"
	if m.catalog != nil {
		if change, err := m.catalog.Compare(from, to); err == nil && change != plan.Same {
			event = string(change)
		}
	}
	m.Subscriptions.WithLabelValues(event).Inc()
	return nil
}

func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Subscription) error {
	m.Subscriptions.WithLabelValues("canceled").Inc()
	return nil
}

func (m *MetricsExtension) OnSubscriptionReactivated(_ context.Context, _ *subscription.Subscription) error {
	m.Subscriptions.WithLabelValues("reactivated").Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Usage and entitlement hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnPlanAssigned(_ context.Context, _ string, _, to plan.ID) error {
	m.PlanAssignments.WithLabelValues(string(to)).Inc()
	return nil
}

func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _ string, action usage.Action, _, _ int64) error {
	m.UsageRecorded.WithLabelValues(string(action)).Inc()
	return nil
}

func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _ string, action usage.Action, _, _ int64) error {
	m.QuotaExceeded.WithLabelValues(string(action)).Inc()
	return nil
}

func (m *MetricsExtension) OnEntitlementDenied(_ context.Context, _, code, _ string) error {
	m.EntitlementDenied.WithLabelValues(code).Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Webhook and payment hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnWebhookReceived(_ context.Context, ev *webhook.Event) error {
	m.WebhooksReceived.WithLabelValues(ev.Type).Inc()
	return nil
}

func (m *MetricsExtension) OnWebhookProcessed(_ context.Context, res webhook.Result, elapsed time.Duration) error {
	kind := res.Kind.String()
	m.WebhooksProcessed.WithLabelValues(kind, outcome(res)).Inc()
	m.WebhookDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	return nil
}

func (m *MetricsExtension) OnPaymentSucceeded(_ context.Context, inv *webhook.Invoice) error {
	m.Payments.WithLabelValues("succeeded").Inc()
	m.PaymentAmount.WithLabelValues("succeeded", inv.Currency).Add(float64(inv.AmountPaid))
	return nil
}

func (m *MetricsExtension) OnPaymentFailed(_ context.Context, inv *webhook.Invoice) error {
	m.Payments.WithLabelValues("failed").Inc()
	m.PaymentAmount.WithLabelValues("failed", inv.Currency).Add(float64(inv.AmountDue))
	return nil
}

func outcome(res webhook.Result) string {
	switch {
	case res.Failed():
		return "failed"
	case res.Duplicate:
		return "duplicate"
	case res.Skipped:
		return "skipped"
	case !res.Handled:
		return "unhandled"
	default:
		return "handled"
	}
}
