package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/observability"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider/providertest"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/memory"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

func TestQuotaMetricsFromEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetricsExtension(reg, "")
	if err != nil {
		t.Fatal(err)
	}
	eng := billing.New(memory.New(), providertest.New(),
		billing.WithPlugin(m),
		billing.WithSweepSchedule(""),
	)
	ctx := context.Background()

	for range 3 {
		_, _ = eng.Usage().RecordStack(ctx, "acct_1")
	}

	if got := testutil.ToFloat64(m.UsageRecorded.WithLabelValues("stack")); got != 2 {
		t.Errorf("usage_recorded{stack}: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.QuotaExceeded.WithLabelValues("stack")); got != 1 {
		t.Errorf("quota_exceeded{stack}: got %v, want 1", got)
	}
}

func TestSubscriptionChangeDirection(t *testing.T) {
	m, err := observability.NewMetricsExtension(prometheus.NewRegistry(), "test")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	sub := &subscription.Subscription{ID: "sub_1"}

	// Without a catalog the direction is unknown.
	_ = m.OnSubscriptionChanged(ctx, sub, plan.Free, plan.Pro)
	if got := testutil.ToFloat64(m.Subscriptions.WithLabelValues("changed")); got != 1 {
		t.Errorf("changed: got %v", got)
	}

	eng := billing.New(memory.New(), providertest.New(), billing.WithSweepSchedule(""))
	if err := m.OnInit(ctx, eng); err != nil {
		t.Fatal(err)
	}
	_ = m.OnSubscriptionChanged(ctx, sub, plan.Free, plan.Pro)
	_ = m.OnSubscriptionChanged(ctx, sub, plan.Enterprise, plan.Pro)

	if got := testutil.ToFloat64(m.Subscriptions.WithLabelValues("upgrade")); got != 1 {
		t.Errorf("upgrade: got %v", got)
	}
	if got := testutil.ToFloat64(m.Subscriptions.WithLabelValues("downgrade")); got != 1 {
		t.Errorf("downgrade: got %v", got)
	}
}

func TestWebhookOutcomes(t *testing.T) {
	m, err := observability.NewMetricsExtension(prometheus.NewRegistry(), "")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	results := []webhook.Result{
		{Kind: webhook.KindInvoicePaid, Handled: true},
		{Kind: webhook.KindInvoicePaid, Handled: true, Duplicate: true},
		{Kind: webhook.KindSubscriptionUpdated, Handled: true, Skipped: true},
		{Kind: webhook.KindUnhandled},
		{Kind: webhook.KindCheckoutCompleted, Err: errors.New("no account")},
	}
	for _, res := range results {
		_ = m.OnWebhookProcessed(ctx, res, 5*time.Millisecond)
	}

	tests := []struct {
		kind, outcome string
	}{
		{"invoice_paid", "handled"},
		{"invoice_paid", "duplicate"},
		{"subscription_updated", "skipped"},
		{"unhandled", "unhandled"},
		{"checkout_completed", "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.outcome, func(t *testing.T) {
			if got := testutil.ToFloat64(m.WebhooksProcessed.WithLabelValues(tt.kind, tt.outcome)); got != 1 {
				t.Errorf("got %v, want 1", got)
			}
		})
	}
}

func TestPaymentMetrics(t *testing.T) {
	m, err := observability.NewMetricsExtension(prometheus.NewRegistry(), "")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_ = m.OnPaymentSucceeded(ctx, &webhook.Invoice{AmountPaid: 2900, Currency: "usd"})
	_ = m.OnPaymentFailed(ctx, &webhook.Invoice{AmountDue: 9900, Currency: "usd"})

	if got := testutil.ToFloat64(m.PaymentAmount.WithLabelValues("succeeded", "usd")); got != 2900 {
		t.Errorf("succeeded amount: %v", got)
	}
	if got := testutil.ToFloat64(m.Payments.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed payments: %v", got)
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := observability.NewMetricsExtension(reg, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := observability.NewMetricsExtension(reg, "")
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}

	_ = a.OnUsageRecorded(context.Background(), "acct_1", usage.ActionAudit, 1, 5)
	if got := testutil.ToFloat64(b.UsageRecorded.WithLabelValues("audit")); got != 1 {
		t.Errorf("collectors not shared: %v", got)
	}
}
