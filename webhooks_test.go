package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider/providertest"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

func subscriptionObject(id, customerID, accountID, status string, planID plan.ID, priceID string) map[string]any {
	meta := map[string]string{}
	if accountID != "" {
		meta[webhook.MetaAccountID] = accountID
	}
	if planID != "" {
		meta[webhook.MetaPlanID] = string(planID)
	}
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"customer":             customerID,
		"status":               status,
		"current_period_start": 1772323200,
		"current_period_end":   1775001600,
		"items": map[string]any{
			"data": []map[string]any{
				{"id": "si_1", "price": map[string]any{"id": priceID}},
			},
		},
		"metadata": meta,
	}
}

type webhookRecorder struct {
	mu       sync.Mutex
	paid     []string
	failed   []string
	canceled []string
	received int
}

func (r *webhookRecorder) Name() string { return "webhook-recorder" }

func (r *webhookRecorder) OnPaymentSucceeded(_ context.Context, inv *webhook.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paid = append(r.paid, inv.ID)
	return nil
}

func (r *webhookRecorder) OnPaymentFailed(_ context.Context, inv *webhook.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, inv.ID)
	return nil
}

func (r *webhookRecorder) OnSubscriptionCanceled(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, sub.ID)
	return nil
}

func (r *webhookRecorder) OnWebhookReceived(_ context.Context, _ *webhook.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
	return nil
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := providertest.Envelope("evt_1", "invoice.paid", map[string]any{"id": "in_1"})

	_, err := h.eng.Webhooks().Receive(ctx, payload, "whsec_wrong")
	if !errors.Is(err, billing.ErrInvalidWebhook) {
		t.Fatalf("wrong secret: got %v", err)
	}

	unconfigured := billing.New(h.store, h.fake, billing.WithSweepSchedule(""))
	_, err = unconfigured.Webhooks().Receive(ctx, payload, webhookSecret)
	if billing.CodeOf(err) != billing.CodeInvalidWebhook {
		t.Fatalf("no verifier: got %v", err)
	}

	noSecret := billing.New(h.store, h.fake, billing.WithSweepSchedule(""), billing.WithVerifier(&providertest.Verifier{}))
	_, err = noSecret.Webhooks().Receive(ctx, payload, webhookSecret)
	if billing.CodeOf(err) != billing.CodeInvalidWebhook {
		t.Fatalf("empty secret: got %v", err)
	}

	if seen, _ := h.store.HasProcessedEvent(ctx, "evt_1"); seen {
		t.Error("rejected delivery was recorded")
	}
}

func TestCheckoutCompletedAssignsPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.deliver(t, "evt_1", "checkout.session.completed", map[string]any{
		"id":             "cs_1",
		"mode":           "subscription",
		"customer":       "cus_new",
		"subscription":   "sub_new",
		"customer_email": "a@example.com",
		"metadata":       map[string]string{webhook.MetaAccountID: "acct_1", webhook.MetaPlanID: "pro"},
	})
	if res.Err != nil || !res.Handled {
		t.Fatalf("result: %+v", res)
	}
	if res.AccountID != "acct_1" || res.PlanID != plan.Pro {
		t.Errorf("result: %+v", res)
	}

	p, err := h.eng.Usage().EffectivePlan(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != plan.Pro {
		t.Errorf("EffectivePlan: got %s, want pro", p.ID)
	}

	c, err := h.eng.Customers().Lookup(ctx, "acct_1")
	if err != nil {
		t.Fatalf("customer mapping not recorded: %v", err)
	}
	if c.ExternalID != "cus_new" {
		t.Errorf("ExternalID: got %s", c.ExternalID)
	}
}

func TestCheckoutCompletedWithUnknownPlanFails(t *testing.T) {
	h := newHarness(t)

	res := h.deliver(t, "evt_1", "checkout.session.completed", map[string]any{
		"id":       "cs_1",
		"customer": "cus_1",
		"metadata": map[string]string{webhook.MetaAccountID: "acct_1", webhook.MetaPlanID: "gold"},
	})
	if res.Err == nil {
		t.Fatal("unknown plan accepted")
	}
	if seen, _ := h.store.HasProcessedEvent(context.Background(), "evt_1"); seen {
		t.Error("failed event recorded as processed")
	}
}

func TestSubscriptionUpdatedReplayIsIdempotent(t *testing.T) {
	rec := &webhookRecorder{}
	h := newHarness(t, billing.WithPlugin(rec))
	ctx := context.Background()
	obj := subscriptionObject("sub_1", "cus_1", "acct_1", "active", plan.Pro, plan.DefaultProPriceID)

	first := h.deliver(t, "evt_1", "customer.subscription.updated", obj)
	if first.Err != nil || !first.Handled || first.Skipped {
		t.Fatalf("first delivery: %+v", first)
	}
	before, err := h.store.GetUsage(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}

	dup := h.deliver(t, "evt_1", "customer.subscription.updated", obj)
	if !dup.Duplicate || dup.Handled {
		t.Errorf("redelivery: %+v", dup)
	}

	again := h.deliver(t, "evt_2", "customer.subscription.updated", obj)
	if again.Err != nil || again.Skipped {
		t.Errorf("same state under a new event id: %+v", again)
	}

	after, err := h.store.GetUsage(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if after.PlanID != plan.Pro || after.PlanID != before.PlanID || after.Counters != before.Counters {
		t.Errorf("replay changed state: before=%+v after=%+v", before, after)
	}

	mirror, err := h.store.GetSubscription(ctx, "sub_1")
	if err != nil {
		t.Fatal(err)
	}
	if mirror.Status != subscription.StatusActive || mirror.AccountID != "acct_1" {
		t.Errorf("mirror: %+v", mirror)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.received != 2 {
		t.Errorf("OnWebhookReceived: got %d, want 2", rec.received)
	}
}

func TestSubscriptionPlanResolvedFromPrice(t *testing.T) {
	h := newHarness(t)

	res := h.deliver(t, "evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "acct_1", "trialing", "", plan.DefaultEnterprisePriceID))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.PlanID != plan.Enterprise {
		t.Errorf("PlanID: got %s, want enterprise", res.PlanID)
	}
}

func TestSubscriptionDeletedDowngradesToFree(t *testing.T) {
	rec := &webhookRecorder{}
	h := newHarness(t, billing.WithPlugin(rec))
	ctx := context.Background()
	cust, sub := h.subscribe(t, "acct_1", plan.Pro, subscription.StatusActive)

	h.deliver(t, "evt_1", "customer.subscription.updated",
		subscriptionObject(sub.ID, cust.ExternalID, "acct_1", "active", plan.Pro, plan.DefaultProPriceID))

	snap, err := h.eng.Usage().Get(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.PlanID != plan.Pro {
		t.Fatalf("before delete: plan %s", snap.PlanID)
	}

	// The processor ends the subscription and tells us about it.
	ended := sub.Clone()
	ended.Status = subscription.StatusCanceled
	h.fake.PutSubscription(ended)
	res := h.deliver(t, "evt_2", "customer.subscription.deleted",
		subscriptionObject(sub.ID, cust.ExternalID, "", "canceled", "", plan.DefaultProPriceID))
	if res.Err != nil {
		t.Fatal(res.Err)
	}

	snap, err = h.eng.Usage().Get(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.PlanID != plan.Free {
		t.Errorf("after delete: plan %s, want free", snap.PlanID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.canceled) != 1 || rec.canceled[0] != sub.ID {
		t.Errorf("OnSubscriptionCanceled: %v", rec.canceled)
	}
}

func TestStaleTransitionIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.deliver(t, "evt_2", "customer.subscription.deleted",
		subscriptionObject("sub_1", "cus_1", "acct_1", "canceled", plan.Pro, plan.DefaultProPriceID))

	// An older update arrives after the deletion.
	res := h.deliver(t, "evt_1", "customer.subscription.updated",
		subscriptionObject("sub_1", "cus_1", "acct_1", "active", plan.Pro, plan.DefaultProPriceID))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if !res.Skipped {
		t.Error("out-of-order update was applied")
	}

	p, err := h.eng.Usage().EffectivePlan(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != plan.Free {
		t.Errorf("plan after stale update: %s", p.ID)
	}
	mirror, err := h.store.GetSubscription(ctx, "sub_1")
	if err != nil {
		t.Fatal(err)
	}
	if mirror.Status != subscription.StatusCanceled {
		t.Errorf("mirror status: %s", mirror.Status)
	}
}

func TestPastDueUpdateKeepsPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.deliver(t, "evt_1", "customer.subscription.updated",
		subscriptionObject("sub_1", "cus_1", "acct_1", "active", plan.Pro, plan.DefaultProPriceID))
	res := h.deliver(t, "evt_2", "customer.subscription.updated",
		subscriptionObject("sub_1", "cus_1", "acct_1", "unpaid", plan.Pro, plan.DefaultProPriceID))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Status != string(subscription.StatusPastDue) {
		t.Errorf("Status: got %s, want past_due", res.Status)
	}

	p, err := h.eng.Usage().EffectivePlan(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != plan.Pro {
		t.Errorf("past_due plan: got %s, want pro", p.ID)
	}
}

func TestSubscriptionWithoutAccountFails(t *testing.T) {
	h := newHarness(t)

	res := h.deliver(t, "evt_1", "customer.subscription.updated",
		subscriptionObject("sub_1", "cus_unknown", "", "active", plan.Pro, plan.DefaultProPriceID))
	if res.Err == nil {
		t.Fatal("subscription with no resolvable account succeeded")
	}
	if seen, _ := h.store.HasProcessedEvent(context.Background(), "evt_1"); seen {
		t.Error("failed event recorded")
	}

	bad := h.deliver(t, "evt_2", "customer.subscription.updated",
		subscriptionObject("sub_1", "cus_1", "acct_1", "exploded", plan.Pro, plan.DefaultProPriceID))
	if bad.Err == nil {
		t.Error("unknown status accepted")
	}
}

func TestUnhandledEventIsAcknowledged(t *testing.T) {
	h := newHarness(t)

	res := h.deliver(t, "evt_1", "customer.created", map[string]any{"id": "cus_1"})
	if res.Handled || res.Err != nil {
		t.Errorf("unhandled event: %+v", res)
	}
	if seen, _ := h.store.HasProcessedEvent(context.Background(), "evt_1"); !seen {
		t.Error("unhandled event not recorded")
	}
}

func TestInvoiceEvents(t *testing.T) {
	rec := &webhookRecorder{}
	h := newHarness(t, billing.WithPlugin(rec))
	cust, _ := h.subscribe(t, "acct_1", plan.Pro, subscription.StatusActive)

	paid := h.deliver(t, "evt_1", "invoice.payment_succeeded", map[string]any{
		"id": "in_1", "customer": cust.ExternalID, "amount_paid": 4900, "currency": "usd",
	})
	if paid.Err != nil || !paid.Handled || paid.Amount != 4900 || paid.AccountID != "acct_1" {
		t.Errorf("paid: %+v", paid)
	}

	failed := h.deliver(t, "evt_2", "invoice.payment_failed", map[string]any{
		"id": "in_2", "customer": cust.ExternalID, "amount_due": 4900, "attempt_count": 2,
	})
	if failed.Err != nil || failed.AttemptCount != 2 {
		t.Errorf("failed: %+v", failed)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.paid) != 1 || rec.paid[0] != "in_1" {
		t.Errorf("OnPaymentSucceeded: %v", rec.paid)
	}
	if len(rec.failed) != 1 || rec.failed[0] != "in_2" {
		t.Errorf("OnPaymentFailed: %v", rec.failed)
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	h := newHarness(t)

	ev := webhook.NewEvent("evt_1", "invoice.paid", []byte(`{"id": 12`), h.clock.Now())
	res := h.eng.Webhooks().Handle(context.Background(), ev)
	if res.Err == nil {
		t.Error("malformed payload handled without error")
	}
}
