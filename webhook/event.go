// Package webhook models verified payment-processor events as a closed set
// of kinds with an explicit unhandled variant.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of event kinds the dispatcher acts on.
type Kind int

const (
	KindUnhandled Kind = iota
	KindCheckoutCompleted
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindInvoicePaid
	KindInvoicePaymentFailed
)

var kindByType = map[string]Kind{
	"checkout.session.completed":    KindCheckoutCompleted,
	"customer.subscription.created": KindSubscriptionCreated,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
	"invoice.payment_succeeded":     KindInvoicePaid,
	"invoice.paid":                  KindInvoicePaid,
	"invoice.payment_failed":        KindInvoicePaymentFailed,
}

// KindOf maps a processor event type onto a Kind. Unknown types are
// KindUnhandled.
func KindOf(eventType string) Kind {
	if k, ok := kindByType[eventType]; ok {
		return k
	}
	return KindUnhandled
}

func (k Kind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindSubscriptionCreated:
		return "subscription_created"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	case KindInvoicePaid:
		return "invoice_paid"
	case KindInvoicePaymentFailed:
		return "invoice_payment_failed"
	default:
		return "unhandled"
	}
}

// Event is a verified delivery. It is transient; only a Receipt is kept.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Kind       Kind            `json:"-"`
	ObjectID   string          `json:"object_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NewEvent builds an event from the processor envelope fields. payload is
// the raw data.object document.
func NewEvent(eventID, eventType string, payload json.RawMessage, receivedAt time.Time) *Event {
	ev := &Event{
		ID:         eventID,
		Type:       eventType,
		Kind:       KindOf(eventType),
		Payload:    payload,
		ReceivedAt: receivedAt.UTC(),
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil {
		ev.ObjectID = obj.ID
	}
	return ev
}

// CheckoutSession is a minimal representation of a checkout.session object.
type CheckoutSession struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

// Subscription is a minimal representation of a subscription object.
type Subscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CancelAt           int64  `json:"cancel_at"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// FirstPriceID returns the price id of the first subscription item.
func (s *Subscription) FirstPriceID() string {
	for _, item := range s.Items.Data {
		if priceID := strings.TrimSpace(item.Price.ID); priceID != "" {
			return priceID
		}
	}
	return ""
}

// FirstItemID returns the id of the first subscription item.
func (s *Subscription) FirstItemID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].ID
}

// Invoice is a minimal representation of an invoice object.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	AttemptCount int64  `json:"attempt_count"`
}

// Payload is the decoded object of an event. Exactly one field is set,
// except for KindUnhandled where none is.
type Payload struct {
	Kind         Kind
	Checkout     *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}

// Decode parses the event payload according to its kind.
func (e *Event) Decode() (Payload, error) {
	p := Payload{Kind: e.Kind}

	switch e.Kind {
	case KindCheckoutCompleted:
		p.Checkout = &CheckoutSession{}
		if err := json.Unmarshal(e.Payload, p.Checkout); err != nil {
			return p, fmt.Errorf("decode checkout.session: %w", err)
		}
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		p.Subscription = &Subscription{}
		if err := json.Unmarshal(e.Payload, p.Subscription); err != nil {
			return p, fmt.Errorf("decode subscription: %w", err)
		}
	case KindInvoicePaid, KindInvoicePaymentFailed:
		p.Invoice = &Invoice{}
		if err := json.Unmarshal(e.Payload, p.Invoice); err != nil {
			return p, fmt.Errorf("decode invoice: %w", err)
		}
	case KindUnhandled:
	}
	return p, nil
}

// Metadata keys written on checkout sessions and subscriptions.
const (
	MetaAccountID = "userId"
	MetaPlanID    = "planId"
)
