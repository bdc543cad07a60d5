package billing_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider/providertest"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/memory"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

const webhookSecret = "whsec_test"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	eng   *billing.Engine
	fake  *providertest.Fake
	store *memory.Store
	clock *clock
}

func newHarness(t *testing.T, opts ...billing.Option) *harness {
	t.Helper()

	c := &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		fake:  providertest.New(),
		store: memory.New(memory.WithClock(c.Now)),
		clock: c,
	}

	base := []billing.Option{
		billing.WithLogger(slog.New(slog.DiscardHandler)),
		billing.WithClock(c.Now),
		billing.WithVerifier(&providertest.Verifier{Secret: webhookSecret}),
		billing.WithSweepSchedule(""),
		billing.WithAppURL("https://app.test"),
	}
	h.eng = billing.New(h.store, h.fake, append(base, opts...)...)
	return h
}

// subscribe maps accountID to a processor customer and gives it a
// subscription on planID.
func (h *harness) subscribe(t *testing.T, accountID string, planID plan.ID, status subscription.Status) (*customer.Customer, *subscription.Subscription) {
	t.Helper()

	cust, err := h.eng.Customers().GetOrCreate(context.Background(), customer.Account{ID: accountID, Email: accountID + "@example.com"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	p, err := h.eng.Catalog().Get(planID)
	if err != nil {
		t.Fatal(err)
	}
	now := h.clock.Now()
	sub := &subscription.Subscription{
		ID:                 "sub_" + accountID,
		CustomerID:         cust.ExternalID,
		AccountID:          accountID,
		PlanID:             planID,
		PriceID:            p.PriceID,
		ItemID:             "si_" + accountID,
		Status:             status,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	h.fake.PutSubscription(sub)
	return cust, sub
}

// deliver sends a signed event through the full receive path.
func (h *harness) deliver(t *testing.T, eventID, eventType string, object any) webhook.Result {
	t.Helper()

	res, err := h.eng.Webhooks().Receive(context.Background(), providertest.Envelope(eventID, eventType, object), webhookSecret)
	if err != nil {
		t.Fatalf("Receive(%s): %v", eventID, err)
	}
	return res
}

type lifecycleRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *lifecycleRecorder) Name() string { return "lifecycle" }

func (r *lifecycleRecorder) OnInit(_ context.Context, engine any) error {
	r.record("init")
	if _, ok := engine.(*billing.Engine); !ok {
		r.record("wrong-engine")
	}
	return nil
}

func (r *lifecycleRecorder) OnShutdown(_ context.Context) error {
	r.record("shutdown")
	return nil
}

func (r *lifecycleRecorder) record(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *lifecycleRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestEngineStartStop(t *testing.T) {
	rec := &lifecycleRecorder{}
	h := newHarness(t,
		billing.WithPlugin(rec),
		billing.WithSweepSchedule("@every 1h"),
	)

	ctx := context.Background()
	if err := h.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := rec.Events()
	if len(got) != 2 || got[0] != "init" || got[1] != "shutdown" {
		t.Errorf("lifecycle events: got %v, want [init shutdown]", got)
	}
}

func TestEngineStartRejectsBadSchedule(t *testing.T) {
	h := newHarness(t, billing.WithSweepSchedule("not a schedule"))
	if err := h.eng.Start(context.Background()); err == nil {
		t.Fatal("Start with invalid cron spec succeeded")
	}
}

func TestEngineDefaults(t *testing.T) {
	h := newHarness(t)

	if got := h.eng.UpgradeURL(); got != "/pricing" {
		t.Errorf("UpgradeURL: got %q, want /pricing", got)
	}
	if got := h.eng.Catalog().Lowest().ID; got != plan.Free {
		t.Errorf("lowest plan: got %s, want free", got)
	}
	if h.eng.Store() != h.store {
		t.Error("Store() does not return the configured store")
	}
	if h.eng.Plugins().Count() != 0 {
		t.Errorf("plugins: got %d, want 0", h.eng.Plugins().Count())
	}
}

func TestSweep(t *testing.T) {
	h := newHarness(t, billing.WithUsageRetention(2), billing.WithWebhookRetention(24*time.Hour))
	ctx := context.Background()

	// A usage record and a receipt from long ago.
	h.clock.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if _, err := h.eng.Usage().RecordAudit(ctx, "acct_old"); err != nil {
		t.Fatal(err)
	}
	h.deliver(t, "evt_old", "customer.created", map[string]any{"id": "cus_old"})

	// Live state.
	h.clock.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	if _, err := h.eng.Usage().RecordAudit(ctx, "acct_new"); err != nil {
		t.Fatal(err)
	}
	h.deliver(t, "evt_new", "customer.created", map[string]any{"id": "cus_new"})
	cust, _ := h.subscribe(t, "acct_sub", plan.Pro, subscription.StatusActive)
	if _, err := h.eng.Subscriptions().GetActive(ctx, cust.ExternalID); err != nil {
		t.Fatal(err)
	}

	report, err := h.eng.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.UsageRecords != 1 {
		t.Errorf("UsageRecords: got %d, want 1", report.UsageRecords)
	}
	if report.WebhookReceipts != 1 {
		t.Errorf("WebhookReceipts: got %d, want 1", report.WebhookReceipts)
	}
	if report.ExpiredCacheEntries != 0 {
		t.Errorf("ExpiredCacheEntries: got %d, want 0", report.ExpiredCacheEntries)
	}

	if _, err := h.store.GetUsage(ctx, "acct_new"); err != nil {
		t.Errorf("live usage record purged: %v", err)
	}
	if seen, _ := h.store.HasProcessedEvent(ctx, "evt_new"); !seen {
		t.Error("recent receipt purged")
	}

	h.clock.Advance(2 * time.Minute)
	report, err = h.eng.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.ExpiredCacheEntries != 1 {
		t.Errorf("ExpiredCacheEntries after TTL: got %d, want 1", report.ExpiredCacheEntries)
	}
}

func TestSnapshotLimits(t *testing.T) {
	h := newHarness(t)

	snap, err := h.eng.Usage().Get(context.Background(), "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.PlanID != plan.Free {
		t.Errorf("PlanID: got %s, want free", snap.PlanID)
	}
	want := map[usage.Action]int64{usage.ActionAudit: 5, usage.ActionStack: 2, usage.ActionAPI: 0}
	for a, limit := range want {
		if snap.Limits[a] != limit {
			t.Errorf("Limits[%s]: got %d, want %d", a, snap.Limits[a], limit)
		}
		if snap.Remaining[a] != limit {
			t.Errorf("Remaining[%s]: got %d, want %d", a, snap.Remaining[a], limit)
		}
	}
}
