package webhook

import (
	"encoding/json"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		"checkout.session.completed":    KindCheckoutCompleted,
		"customer.subscription.created": KindSubscriptionCreated,
		"customer.subscription.updated": KindSubscriptionUpdated,
		"customer.subscription.deleted": KindSubscriptionDeleted,
		"invoice.payment_succeeded":     KindInvoicePaid,
		"invoice.paid":                  KindInvoicePaid,
		"invoice.payment_failed":        KindInvoicePaymentFailed,
		"customer.tax_id.created":       KindUnhandled,
		"":                              KindUnhandled,
	}
	for in, want := range tests {
		if got := KindOf(in); got != want {
			t.Errorf("KindOf(%q): got %s, want %s", in, got, want)
		}
	}
}

func TestDecodeSubscription(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "sub_123",
		"customer": "cus_1",
		"status": "active",
		"cancel_at_period_end": true,
		"items": {"data": [{"id": "si_1", "price": {"id": "price_pro_monthly"}}]},
		"metadata": {"userId": "acct_1", "planId": "pro"}
	}`)
	ev := NewEvent("evt_1", "customer.subscription.updated", raw, time.Now())

	if ev.ObjectID != "sub_123" {
		t.Errorf("ObjectID: got %q", ev.ObjectID)
	}

	p, err := ev.Decode()
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if p.Subscription == nil || p.Checkout != nil || p.Invoice != nil {
		t.Fatalf("expected only Subscription set, got %+v", p)
	}
	s := p.Subscription
	if s.FirstPriceID() != "price_pro_monthly" || s.FirstItemID() != "si_1" {
		t.Errorf("items: got %q %q", s.FirstPriceID(), s.FirstItemID())
	}
	if s.Metadata[MetaAccountID] != "acct_1" || !s.CancelAtPeriodEnd {
		t.Errorf("unexpected subscription %+v", s)
	}
}

func TestDecodeUnhandledAndMalformed(t *testing.T) {
	ev := NewEvent("evt_2", "customer.discount.created", json.RawMessage(`{"id":"di_1"}`), time.Now())
	p, err := ev.Decode()
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if p.Kind != KindUnhandled || p.Checkout != nil || p.Subscription != nil || p.Invoice != nil {
		t.Errorf("unhandled payload should be empty, got %+v", p)
	}

	bad := NewEvent("evt_3", "invoice.payment_failed", json.RawMessage(`{"id": 12`), time.Now())
	if bad.ObjectID != "" {
		t.Errorf("malformed payload should not yield an object id")
	}
	if _, err := bad.Decode(); err == nil {
		t.Error("expected decode error")
	}
}
