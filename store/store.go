// Package store defines the unified persistence interface of the billing
// engine. Backends live in subpackages: memory, postgres, sqlite, mongo.
package store

import (
	"context"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// Store is the unified storage interface for all billing entities.
type Store interface {
	// Customer methods
	CreateCustomer(ctx context.Context, c *customer.Customer) error
	GetCustomer(ctx context.Context, accountID string) (*customer.Customer, error)
	GetCustomerByExternalID(ctx context.Context, externalID string) (*customer.Customer, error)
	UpdateCustomer(ctx context.Context, c *customer.Customer) error

	// Subscription mirror methods
	GetSubscription(ctx context.Context, subID string) (*subscription.Subscription, error)
	PutSubscription(ctx context.Context, s *subscription.Subscription) error

	// Subscription cache methods
	GetCachedSubscription(ctx context.Context, customerID string) (*subscription.Entry, error)
	SetCachedSubscription(ctx context.Context, customerID string, e *subscription.Entry, ttl time.Duration) error
	InvalidateSubscription(ctx context.Context, customerID string) error
	PurgeExpiredSubscriptions(ctx context.Context, now time.Time) (int64, error)

	// Usage methods
	GetUsage(ctx context.Context, accountID string) (*usage.Record, error)
	ReconcileUsage(ctx context.Context, accountID string, defaultPlan plan.ID, period usage.Period, at time.Time) (*usage.Record, error)
	IncrementUsage(ctx context.Context, accountID string, period usage.Period, counter usage.Counter, limit int64) (int64, error)
	AssignUsagePlan(ctx context.Context, accountID string, planID plan.ID, period usage.Period) error
	PurgeUsage(ctx context.Context, before usage.Period) (int64, error)

	// Webhook receipt methods
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
	RecordProcessedEvent(ctx context.Context, r *webhook.Receipt) error
	PurgeProcessedEvents(ctx context.Context, before time.Time) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store satisfies every per-domain interface.
var (
	_ customer.Store     = Store(nil)
	_ subscription.Store = Store(nil)
	_ subscription.Cache = Store(nil)
	_ usage.Store        = Store(nil)
	_ webhook.Store      = Store(nil)
)
