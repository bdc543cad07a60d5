package subscription

import (
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
)

type Subscription struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	AccountID          string     `json:"account_id,omitempty"`
	PlanID             plan.ID    `json:"plan_id"`
	PriceID            string     `json:"price_id,omitempty"`
	ItemID             string     `json:"item_id,omitempty"`
	Status             Status     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CancelAt           *time.Time `json:"cancel_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Entitled reports whether the subscription currently grants its plan.
func (s *Subscription) Entitled() bool {
	return s != nil && s.Status.Entitled()
}

// Clone returns a copy safe to hand to callers.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	out := *s
	if s.CancelAt != nil {
		t := *s.CancelAt
		out.CancelAt = &t
	}
	return &out
}

// Entry is a cached lookup result. A nil Subscription records that the
// customer has no active subscription.
type Entry struct {
	Subscription *Subscription `json:"subscription,omitempty"`
	FetchedAt    time.Time     `json:"fetched_at"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e *Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.FetchedAt) < ttl
}
