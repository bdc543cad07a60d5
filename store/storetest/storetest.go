// Package storetest runs one behavioral suite against any store.Store
// backend so the memory, SQLite, PostgreSQL and MongoDB stores stay
// interchangeable.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// Options tunes the suite for a backend.
type Options struct {
	// Writers is the number of goroutines racing on one counter.
	// Zero means 100.
	Writers int
}

// Run executes the suite. open must return an empty, migrated store;
// it is called once per subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store, opts Options) {
	t.Helper()
	if opts.Writers == 0 {
		opts.Writers = 100
	}

	t.Run("CustomerUniqueness", func(t *testing.T) { testCustomerUniqueness(t, open(t)) })
	t.Run("UpdateCustomer", func(t *testing.T) { testUpdateCustomer(t, open(t)) })
	t.Run("SubscriptionRoundTrip", func(t *testing.T) { testSubscriptionRoundTrip(t, open(t)) })
	t.Run("SubscriptionCache", func(t *testing.T) { testSubscriptionCache(t, open(t)) })
	t.Run("IncrementBoundary", func(t *testing.T) { testIncrementBoundary(t, open(t)) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, open(t), opts.Writers) })
	t.Run("ReconcileRollsForwardOnly", func(t *testing.T) { testReconcileRollsForwardOnly(t, open(t)) })
	t.Run("PurgeUsage", func(t *testing.T) { testPurgeUsage(t, open(t)) })
	t.Run("Receipts", func(t *testing.T) { testReceipts(t, open(t)) })
}

func newCustomer(accountID, externalID string) *customer.Customer {
	return &customer.Customer{
		Entity:     types.NewEntity(),
		ID:         id.NewCustomerID(),
		AccountID:  accountID,
		ExternalID: externalID,
		Email:      accountID + "@example.com",
	}
}

func testCustomerUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()

	c := newCustomer("acct_1", "cus_1")
	if err := s.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	dup := newCustomer("acct_1", "cus_2")
	if err := s.CreateCustomer(ctx, dup); !errors.Is(err, billing.ErrAlreadyExists) {
		t.Fatalf("duplicate account: got %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetCustomerByExternalID(ctx, "cus_1")
	if err != nil {
		t.Fatalf("GetCustomerByExternalID: %v", err)
	}
	if got.AccountID != "acct_1" || got.ID.String() != c.ID.String() {
		t.Errorf("by external id: got %s/%s", got.AccountID, got.ID)
	}

	if _, err := s.GetCustomer(ctx, "missing"); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("missing customer: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetCustomerByExternalID(ctx, "cus_2"); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("rejected duplicate was stored: got %v", err)
	}
}

func testUpdateCustomer(t *testing.T, s store.Store) {
	ctx := context.Background()

	c := newCustomer("acct_1", "cus_1")
	if err := s.CreateCustomer(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Email = "new@example.com"
	c.Name = "Renamed"
	if err := s.UpdateCustomer(ctx, c); err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}

	got, err := s.GetCustomer(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Email != "new@example.com" || got.Name != "Renamed" {
		t.Errorf("after update: email=%q name=%q", got.Email, got.Name)
	}

	if err := s.UpdateCustomer(ctx, newCustomer("acct_missing", "cus_x")); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("update missing: got %v, want ErrNotFound", err)
	}
}

func testSubscriptionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	sub := &subscription.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		AccountID:          "acct_1",
		PlanID:             plan.Pro,
		PriceID:            "price_pro",
		ItemID:             "si_1",
		Status:             subscription.StatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		UpdatedAt:          start,
	}
	if err := s.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("PutSubscription: %v", err)
	}

	sub.CancelAtPeriodEnd = true
	sub.CancelAt = &end
	if err := s.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("PutSubscription update: %v", err)
	}

	got, err := s.GetSubscription(ctx, "sub_1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.PlanID != plan.Pro || got.Status != subscription.StatusActive || got.ItemID != "si_1" {
		t.Errorf("fields: plan=%s status=%s item=%s", got.PlanID, got.Status, got.ItemID)
	}
	if !got.CurrentPeriodStart.Equal(start) || !got.CurrentPeriodEnd.Equal(end) {
		t.Errorf("period: %s..%s", got.CurrentPeriodStart, got.CurrentPeriodEnd)
	}
	if !got.CancelAtPeriodEnd || got.CancelAt == nil || !got.CancelAt.Equal(end) {
		t.Errorf("cancel: at_period_end=%v at=%v", got.CancelAtPeriodEnd, got.CancelAt)
	}

	if _, err := s.GetSubscription(ctx, "sub_missing"); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("missing subscription: got %v, want ErrNotFound", err)
	}
}

func testSubscriptionCache(t *testing.T, s store.Store) {
	ctx := context.Background()
	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entry := &subscription.Entry{
		Subscription: &subscription.Subscription{ID: "sub_1", CustomerID: "cus_1", PlanID: plan.Pro, Status: subscription.StatusActive},
		FetchedAt:    fetched,
	}
	if err := s.SetCachedSubscription(ctx, "cus_1", entry, time.Hour); err != nil {
		t.Fatalf("SetCachedSubscription: %v", err)
	}
	if err := s.SetCachedSubscription(ctx, "cus_free", &subscription.Entry{FetchedAt: fetched}, time.Hour); err != nil {
		t.Fatalf("SetCachedSubscription without subscription: %v", err)
	}
	if err := s.SetCachedSubscription(ctx, "cus_stale", entry, -time.Minute); err != nil {
		t.Fatalf("SetCachedSubscription expired: %v", err)
	}

	got, err := s.GetCachedSubscription(ctx, "cus_1")
	if err != nil {
		t.Fatalf("GetCachedSubscription: %v", err)
	}
	if got.Subscription == nil || got.Subscription.PlanID != plan.Pro {
		t.Errorf("cached subscription: %+v", got.Subscription)
	}
	if !got.FetchedAt.Equal(fetched) {
		t.Errorf("FetchedAt: got %s, want %s", got.FetchedAt, fetched)
	}

	free, err := s.GetCachedSubscription(ctx, "cus_free")
	if err != nil {
		t.Fatalf("cached absence: %v", err)
	}
	if free.Subscription != nil {
		t.Errorf("cached absence returned %+v", free.Subscription)
	}

	if _, err := s.GetCachedSubscription(ctx, "cus_stale"); !errors.Is(err, billing.ErrCacheMiss) {
		t.Errorf("expired entry: got %v, want ErrCacheMiss", err)
	}

	n, err := s.PurgeExpiredSubscriptions(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d entries, want 1", n)
	}

	if err := s.InvalidateSubscription(ctx, "cus_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetCachedSubscription(ctx, "cus_1"); !errors.Is(err, billing.ErrCacheMiss) {
		t.Errorf("invalidated entry: got %v, want ErrCacheMiss", err)
	}
	if _, err := s.GetCachedSubscription(ctx, "cus_free"); err != nil {
		t.Errorf("unrelated entry lost: %v", err)
	}
}

func testIncrementBoundary(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	period := usage.PeriodOf(at)

	if _, err := s.ReconcileUsage(ctx, "acct_1", plan.Free, period, at); err != nil {
		t.Fatalf("ReconcileUsage: %v", err)
	}

	for i := int64(1); i <= 5; i++ {
		used, err := s.IncrementUsage(ctx, "acct_1", period, usage.CounterAudits, 5)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if used != i {
			t.Errorf("increment %d: used=%d", i, used)
		}
	}

	used, err := s.IncrementUsage(ctx, "acct_1", period, usage.CounterAudits, 5)
	if !errors.Is(err, billing.ErrLimitReached) {
		t.Fatalf("6th increment: got %v, want ErrLimitReached", err)
	}
	if used != 5 {
		t.Errorf("6th increment: used=%d, want 5", used)
	}

	if _, err := s.IncrementUsage(ctx, "acct_1", period.Next(), usage.CounterAudits, 5); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("wrong period: got %v, want ErrNotFound", err)
	}
	if _, err := s.IncrementUsage(ctx, "acct_missing", period, usage.CounterAudits, 5); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("missing record: got %v, want ErrNotFound", err)
	}
	if _, err := s.IncrementUsage(ctx, "acct_1", period, usage.CounterAPICalls, plan.Unlimited); err != nil {
		t.Errorf("unlimited increment: %v", err)
	}

	rec, err := s.GetUsage(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Counters.Audits != 5 || rec.Counters.APICalls != 1 || rec.Counters.Stacks != 0 {
		t.Errorf("counters: %+v", rec.Counters)
	}
}

func testConcurrentIncrement(t *testing.T, s store.Store, writers int) {
	ctx := context.Background()
	at := time.Now()
	period := usage.PeriodOf(at)
	if _, err := s.ReconcileUsage(ctx, "acct_1", plan.Free, period, at); err != nil {
		t.Fatal(err)
	}

	const limit = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		failures []error
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementUsage(ctx, "acct_1", period, usage.CounterStacks, limit)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case !errors.Is(err, billing.ErrLimitReached):
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	for _, err := range failures {
		t.Errorf("unexpected increment error: %v", err)
	}
	if accepted != limit {
		t.Errorf("accepted %d increments, want %d", accepted, limit)
	}
	rec, err := s.GetUsage(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Counters.Stacks != limit {
		t.Errorf("Stacks: got %d, want %d", rec.Counters.Stacks, limit)
	}
}

func testReconcileRollsForwardOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	march := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 0, 5, 0, 0, time.UTC)

	first, err := s.ReconcileUsage(ctx, "acct_1", plan.Free, usage.PeriodOf(march), march)
	if err != nil {
		t.Fatal(err)
	}
	if first.PlanID != plan.Free || first.Period != "2026-03" {
		t.Errorf("new record: plan=%s period=%s", first.PlanID, first.Period)
	}
	if _, err := s.IncrementUsage(ctx, "acct_1", usage.PeriodOf(march), usage.CounterAudits, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.AssignUsagePlan(ctx, "acct_1", plan.Pro, usage.PeriodOf(march)); err != nil {
		t.Fatal(err)
	}

	rec, err := s.ReconcileUsage(ctx, "acct_1", plan.Free, usage.PeriodOf(april), april)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Period != "2026-04" || rec.Counters.Audits != 0 {
		t.Errorf("after rollover: period=%s audits=%d", rec.Period, rec.Counters.Audits)
	}
	if rec.PlanID != plan.Pro {
		t.Errorf("rollover dropped assignment: got %s", rec.PlanID)
	}

	back, err := s.ReconcileUsage(ctx, "acct_1", plan.Free, usage.PeriodOf(march), march)
	if err != nil {
		t.Fatal(err)
	}
	if back.Period != "2026-04" {
		t.Errorf("reconcile moved backwards to %s", back.Period)
	}

	if err := s.AssignUsagePlan(ctx, "acct_new", plan.Enterprise, usage.PeriodOf(april)); err != nil {
		t.Fatalf("AssignUsagePlan without record: %v", err)
	}
	assigned, err := s.GetUsage(ctx, "acct_new")
	if err != nil {
		t.Fatal(err)
	}
	if assigned.PlanID != plan.Enterprise || assigned.Period != "2026-04" {
		t.Errorf("assigned record: plan=%s period=%s", assigned.PlanID, assigned.Period)
	}
}

func testPurgeUsage(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	cur := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	if _, err := s.ReconcileUsage(ctx, "old", plan.Free, usage.PeriodOf(old), old); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReconcileUsage(ctx, "cur", plan.Free, usage.PeriodOf(cur), cur); err != nil {
		t.Fatal(err)
	}
	n, err := s.PurgeUsage(ctx, usage.PeriodOf(cur).AddMonths(-12))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d usage records, want 1", n)
	}
	if _, err := s.GetUsage(ctx, "cur"); err != nil {
		t.Errorf("current record purged: %v", err)
	}
	if _, err := s.GetUsage(ctx, "old"); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("old record: got %v, want ErrNotFound", err)
	}
}

func testReceipts(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	cur := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	ev := webhook.NewEvent("evt_1", "invoice.paid", []byte(`{"id":"in_1"}`), old)
	if err := s.RecordProcessedEvent(ctx, webhook.NewReceipt(ev, old)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordProcessedEvent(ctx, webhook.NewReceipt(ev, old)); !errors.Is(err, billing.ErrAlreadyExists) {
		t.Errorf("duplicate receipt: got %v, want ErrAlreadyExists", err)
	}
	fresh := webhook.NewEvent("evt_2", "invoice.paid", []byte(`{"id":"in_2"}`), cur)
	if err := s.RecordProcessedEvent(ctx, webhook.NewReceipt(fresh, cur)); err != nil {
		t.Fatal(err)
	}

	if seen, err := s.HasProcessedEvent(ctx, "evt_1"); err != nil || !seen {
		t.Errorf("HasProcessedEvent: seen=%v err=%v", seen, err)
	}
	if n, err := s.PurgeProcessedEvents(ctx, cur); err != nil || n != 1 {
		t.Errorf("purged %d receipts (err %v), want 1", n, err)
	}
	if seen, _ := s.HasProcessedEvent(ctx, "evt_1"); seen {
		t.Error("receipt survived purge")
	}
	if seen, _ := s.HasProcessedEvent(ctx, "evt_2"); !seen {
		t.Error("fresh receipt purged")
	}
}
