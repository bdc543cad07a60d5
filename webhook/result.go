package webhook

import (
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
)

// Result reports what handling an event did. Err is set when the handler
// failed; the delivery itself is still acknowledged.
type Result struct {
	EventID        string  `json:"eventId,omitempty"`
	Type           string  `json:"event"`
	Kind           Kind    `json:"-"`
	Handled        bool    `json:"handled"`
	Duplicate      bool    `json:"duplicate,omitempty"`
	Skipped        bool    `json:"skipped,omitempty"`
	AccountID      string  `json:"userId,omitempty"`
	PlanID         plan.ID `json:"planId,omitempty"`
	SubscriptionID string  `json:"subscriptionId,omitempty"`
	CustomerID     string  `json:"customerId,omitempty"`
	InvoiceID      string  `json:"invoiceId,omitempty"`
	Status         string  `json:"status,omitempty"`
	Amount         int64   `json:"amount,omitempty"`
	AttemptCount   int64   `json:"attemptCount,omitempty"`
	Err            error   `json:"-"`
}

// Failed reports whether the handler returned an error.
func (r Result) Failed() bool { return r.Err != nil }

// Receipt marks an event id as processed so redeliveries are skipped.
type Receipt struct {
	ID          id.WebhookEventID `json:"id"`
	EventID     string            `json:"event_id"`
	Type        string            `json:"type"`
	ObjectID    string            `json:"object_id,omitempty"`
	ProcessedAt time.Time         `json:"processed_at"`
}

// NewReceipt returns a receipt for ev processed at t.
func NewReceipt(ev *Event, t time.Time) *Receipt {
	return &Receipt{
		ID:          id.NewWebhookEventID(),
		EventID:     ev.ID,
		Type:        ev.Type,
		ObjectID:    ev.ObjectID,
		ProcessedAt: t.UTC(),
	}
}
