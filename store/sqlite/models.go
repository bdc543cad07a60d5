package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// Timestamps are stored as fixed-width UTC text so that SQL comparisons
// on them order chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteDefaultLayout is what datetime('now') column defaults produce.
const sqliteDefaultLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, sqliteDefaultLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ==================== Customer models ====================

type customerModel struct {
	grove.BaseModel `grove:"table:billing_customers"`

	ID         string `grove:"id,pk"`
	AccountID  string `grove:"account_id"`
	ExternalID string `grove:"external_id"`
	Email      string `grove:"email"`
	Name       string `grove:"name"`
	CreatedAt  string `grove:"created_at"`
	UpdatedAt  string `grove:"updated_at"`
}

func toCustomerModel(c *customer.Customer) *customerModel {
	return &customerModel{
		ID:         c.ID.String(),
		AccountID:  c.AccountID,
		ExternalID: c.ExternalID,
		Email:      c.Email,
		Name:       c.Name,
		CreatedAt:  formatTime(c.CreatedAt),
		UpdatedAt:  formatTime(c.UpdatedAt),
	}
}

func fromCustomerModel(m *customerModel) (*customer.Customer, error) {
	custID, err := id.ParseCustomerID(m.ID)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &customer.Customer{
		Entity:     types.Entity{CreatedAt: created, UpdatedAt: updated},
		ID:         custID,
		AccountID:  m.AccountID,
		ExternalID: m.ExternalID,
		Email:      m.Email,
		Name:       m.Name,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:billing_subscriptions"`

	ID                 string  `grove:"id,pk"`
	CustomerID         string  `grove:"customer_id"`
	AccountID          string  `grove:"account_id"`
	PlanID             string  `grove:"plan_id"`
	PriceID            string  `grove:"price_id"`
	ItemID             string  `grove:"item_id"`
	Status             string  `grove:"status"`
	CurrentPeriodStart string  `grove:"current_period_start"`
	CurrentPeriodEnd   string  `grove:"current_period_end"`
	CancelAtPeriodEnd  bool    `grove:"cancel_at_period_end"`
	CancelAt           *string `grove:"cancel_at"`
	UpdatedAt          string  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID,
		CustomerID:         s.CustomerID,
		AccountID:          s.AccountID,
		PlanID:             string(s.PlanID),
		PriceID:            s.PriceID,
		ItemID:             s.ItemID,
		Status:             string(s.Status),
		CurrentPeriodStart: formatTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   formatTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelAt:           formatTimePtr(s.CancelAt),
		UpdatedAt:          formatTime(s.UpdatedAt),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	start, err := parseTime(m.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}
	end, err := parseTime(m.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	cancelAt, err := parseTimePtr(m.CancelAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		ID:                 m.ID,
		CustomerID:         m.CustomerID,
		AccountID:          m.AccountID,
		PlanID:             plan.ID(m.PlanID),
		PriceID:            m.PriceID,
		ItemID:             m.ItemID,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		CancelAt:           cancelAt,
		UpdatedAt:          updated,
	}, nil
}

// ==================== Subscription cache models ====================

type subscriptionCacheModel struct {
	grove.BaseModel `grove:"table:billing_subscription_cache"`

	CustomerID string `grove:"customer_id,pk"`
	Payload    string `grove:"payload"`
	FetchedAt  string `grove:"fetched_at"`
	ExpiresAt  string `grove:"expires_at"`
}

func toSubscriptionCacheModel(customerID string, e *subscription.Entry, expiresAt time.Time) (*subscriptionCacheModel, error) {
	payload, err := json.Marshal(e.Subscription)
	if err != nil {
		return nil, err
	}
	return &subscriptionCacheModel{
		CustomerID: customerID,
		Payload:    string(payload),
		FetchedAt:  formatTime(e.FetchedAt),
		ExpiresAt:  formatTime(expiresAt),
	}, nil
}

func fromSubscriptionCacheModel(m *subscriptionCacheModel) (*subscription.Entry, error) {
	var sub *subscription.Subscription
	if m.Payload != "" {
		if err := json.Unmarshal([]byte(m.Payload), &sub); err != nil {
			return nil, err
		}
	}
	fetched, err := parseTime(m.FetchedAt)
	if err != nil {
		return nil, err
	}
	return &subscription.Entry{Subscription: sub, FetchedAt: fetched}, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:billing_usage"`

	ID        string `grove:"id,pk"`
	AccountID string `grove:"account_id"`
	PlanID    string `grove:"plan_id"`
	Period    string `grove:"period"`
	Audits    int64  `grove:"audits"`
	Stacks    int64  `grove:"stacks"`
	APICalls  int64  `grove:"api_calls"`
	ResetAt   string `grove:"reset_at"`
	CreatedAt string `grove:"created_at"`
	UpdatedAt string `grove:"updated_at"`
}

func fromUsageModel(m *usageModel) (*usage.Record, error) {
	recID, err := id.ParseUsageRecordID(m.ID)
	if err != nil {
		return nil, err
	}
	var stamps [3]time.Time
	for i, s := range []string{m.ResetAt, m.CreatedAt, m.UpdatedAt} {
		if stamps[i], err = parseTime(s); err != nil {
			return nil, err
		}
	}
	return &usage.Record{
		Entity:    types.Entity{CreatedAt: stamps[1], UpdatedAt: stamps[2]},
		ID:        recID,
		AccountID: m.AccountID,
		PlanID:    plan.ID(m.PlanID),
		Period:    usage.Period(m.Period),
		Counters: usage.Counters{
			Audits:   m.Audits,
			Stacks:   m.Stacks,
			APICalls: m.APICalls,
		},
		ResetAt: stamps[0],
	}, nil
}

// ==================== Webhook receipt models ====================

type receiptModel struct {
	grove.BaseModel `grove:"table:billing_webhook_receipts"`

	EventID     string `grove:"event_id,pk"`
	ID          string `grove:"id"`
	Type        string `grove:"type"`
	ObjectID    string `grove:"object_id"`
	ProcessedAt string `grove:"processed_at"`
}

func toReceiptModel(r *webhook.Receipt) *receiptModel {
	return &receiptModel{
		EventID:     r.EventID,
		ID:          r.ID.String(),
		Type:        r.Type,
		ObjectID:    r.ObjectID,
		ProcessedAt: formatTime(r.ProcessedAt),
	}
}
