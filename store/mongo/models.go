package mongo

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

// ==================== Customer models ====================

type customerModel struct {
	grove.BaseModel `grove:"table:billing_customers"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	AccountID  string    `grove:"account_id"  bson:"account_id"`
	ExternalID string    `grove:"external_id" bson:"external_id"`
	Email      string    `grove:"email"       bson:"email"`
	Name       string    `grove:"name"        bson:"name,omitempty"`
	CreatedAt  time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toCustomerModel(c *customer.Customer) *customerModel {
	return &customerModel{
		ID:         c.ID.String(),
		AccountID:  c.AccountID,
		ExternalID: c.ExternalID,
		Email:      c.Email,
		Name:       c.Name,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func fromCustomerModel(m *customerModel) (*customer.Customer, error) {
	custID, err := id.ParseCustomerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse customer id: %w", err)
	}
	return &customer.Customer{
		Entity:     types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
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

	ID                 string     `grove:"id,pk"                bson:"_id"`
	CustomerID         string     `grove:"customer_id"          bson:"customer_id"`
	AccountID          string     `grove:"account_id"           bson:"account_id,omitempty"`
	PlanID             string     `grove:"plan_id"              bson:"plan_id"`
	PriceID            string     `grove:"price_id"             bson:"price_id,omitempty"`
	ItemID             string     `grove:"item_id"              bson:"item_id,omitempty"`
	Status             string     `grove:"status"               bson:"status"`
	CurrentPeriodStart time.Time  `grove:"current_period_start" bson:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"   bson:"current_period_end"`
	CancelAtPeriodEnd  bool       `grove:"cancel_at_period_end" bson:"cancel_at_period_end"`
	CancelAt           *time.Time `grove:"cancel_at"            bson:"cancel_at,omitempty"`
	UpdatedAt          time.Time  `grove:"updated_at"           bson:"updated_at"`
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
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelAt:           s.CancelAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) *subscription.Subscription {
	return &subscription.Subscription{
		ID:                 m.ID,
		CustomerID:         m.CustomerID,
		AccountID:          m.AccountID,
		PlanID:             plan.ID(m.PlanID),
		PriceID:            m.PriceID,
		ItemID:             m.ItemID,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		CancelAt:           m.CancelAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// ==================== Subscription cache models ====================

// subscriptionCacheModel keeps the cached subscription as JSON so a cached
// absence (null) survives the round trip.
type subscriptionCacheModel struct {
	grove.BaseModel `grove:"table:billing_subscription_cache"`

	CustomerID string    `grove:"customer_id,pk" bson:"_id"`
	Payload    string    `grove:"payload"        bson:"payload"`
	FetchedAt  time.Time `grove:"fetched_at"     bson:"fetched_at"`
	ExpiresAt  time.Time `grove:"expires_at"     bson:"expires_at"`
}

func fromSubscriptionCacheModel(m *subscriptionCacheModel) (*subscription.Entry, error) {
	var sub *subscription.Subscription
	if err := json.Unmarshal([]byte(m.Payload), &sub); err != nil {
		return nil, fmt.Errorf("decode cached subscription: %w", err)
	}
	return &subscription.Entry{Subscription: sub, FetchedAt: m.FetchedAt}, nil
}

// ==================== Usage models ====================

// usageModel is keyed by account id; the record's own id is kept alongside.
type usageModel struct {
	grove.BaseModel `grove:"table:billing_usage"`

	AccountID string    `grove:"account_id,pk" bson:"_id"`
	RecordID  string    `grove:"record_id"     bson:"record_id"`
	PlanID    string    `grove:"plan_id"       bson:"plan_id"`
	Period    string    `grove:"period"        bson:"period"`
	Audits    int64     `grove:"audits"        bson:"audits"`
	Stacks    int64     `grove:"stacks"        bson:"stacks"`
	APICalls  int64     `grove:"api_calls"     bson:"api_calls"`
	ResetAt   time.Time `grove:"reset_at"      bson:"reset_at"`
	CreatedAt time.Time `grove:"created_at"    bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"    bson:"updated_at"`
}

func fromUsageModel(m *usageModel) (*usage.Record, error) {
	recID, err := id.ParseUsageRecordID(m.RecordID)
	if err != nil {
		return nil, fmt.Errorf("parse usage record id: %w", err)
	}
	return &usage.Record{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        recID,
		AccountID: m.AccountID,
		PlanID:    plan.ID(m.PlanID),
		Period:    usage.Period(m.Period),
		Counters: usage.Counters{
			Audits:   m.Audits,
			Stacks:   m.Stacks,
			APICalls: m.APICalls,
		},
		ResetAt: m.ResetAt,
	}, nil
}

// ==================== Webhook receipt models ====================

type receiptModel struct {
	grove.BaseModel `grove:"table:billing_webhook_receipts"`

	EventID     string    `grove:"event_id,pk"  bson:"_id"`
	ID          string    `grove:"id"           bson:"receipt_id"`
	Type        string    `grove:"type"         bson:"type"`
	ObjectID    string    `grove:"object_id"    bson:"object_id,omitempty"`
	ProcessedAt time.Time `grove:"processed_at" bson:"processed_at"`
}

func toReceiptModel(r *webhook.Receipt) *receiptModel {
	return &receiptModel{
		EventID:     r.EventID,
		ID:          r.ID.String(),
		Type:        r.Type,
		ObjectID:    r.ObjectID,
		ProcessedAt: r.ProcessedAt,
	}
}
