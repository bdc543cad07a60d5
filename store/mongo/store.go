package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// Collection name constants.
const (
	colCustomers     = "billing_customers"
	colSubscriptions = "billing_subscriptions"
	colCache         = "billing_subscription_cache"
	colUsage         = "billing_usage"
	colReceipts      = "billing_webhook_receipts"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all billing collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("billing/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Customer Store ====================

func (s *Store) CreateCustomer(ctx context.Context, c *customer.Customer) error {
	_, err := s.mdb.NewInsert(toCustomerModel(c)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: create customer: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, accountID string) (*customer.Customer, error) {
	return s.findCustomer(ctx, bson.M{"account_id": accountID})
}

func (s *Store) GetCustomerByExternalID(ctx context.Context, externalID string) (*customer.Customer, error) {
	return s.findCustomer(ctx, bson.M{"external_id": externalID})
}

func (s *Store) findCustomer(ctx context.Context, filter bson.M) (*customer.Customer, error) {
	var m customerModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get customer: %w", err)
	}
	return fromCustomerModel(&m)
}

func (s *Store) UpdateCustomer(ctx context.Context, c *customer.Customer) error {
	m := toCustomerModel(c)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: update customer: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, subID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m), nil
}

func (s *Store) PutSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": bson.M{
			"customer_id":          m.CustomerID,
			"account_id":           m.AccountID,
			"plan_id":              m.PlanID,
			"price_id":             m.PriceID,
			"item_id":              m.ItemID,
			"status":               m.Status,
			"current_period_start": m.CurrentPeriodStart,
			"current_period_end":   m.CurrentPeriodEnd,
			"cancel_at_period_end": m.CancelAtPeriodEnd,
			"cancel_at":            m.CancelAt,
			"updated_at":           m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: put subscription: %w", err)
	}
	return nil
}

// ==================== Subscription Cache ====================

func (s *Store) GetCachedSubscription(ctx context.Context, customerID string) (*subscription.Entry, error) {
	var m subscriptionCacheModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"_id":        customerID,
			"expires_at": bson.M{"$gt": now()},
		}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrCacheMiss
		}
		return nil, fmt.Errorf("billing/mongo: get cached subscription: %w", err)
	}
	return fromSubscriptionCacheModel(&m)
}

func (s *Store) SetCachedSubscription(ctx context.Context, customerID string, e *subscription.Entry, ttl time.Duration) error {
	payload, err := json.Marshal(e.Subscription)
	if err != nil {
		return fmt.Errorf("billing/mongo: encode cached subscription: %w", err)
	}
	_, err = s.mdb.NewUpdate((*subscriptionCacheModel)(nil)).
		Filter(bson.M{"_id": customerID}).
		SetUpdate(bson.M{"$set": bson.M{
			"payload":    string(payload),
			"fetched_at": e.FetchedAt,
			"expires_at": now().Add(ttl),
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: set cached subscription: %w", err)
	}
	return nil
}

func (s *Store) InvalidateSubscription(ctx context.Context, customerID string) error {
	_, err := s.mdb.NewDelete((*subscriptionCacheModel)(nil)).
		Filter(bson.M{"_id": customerID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: invalidate subscription: %w", err)
	}
	return nil
}

// PurgeExpiredSubscriptions complements the TTL index, which the server
// only applies about once a minute.
func (s *Store) PurgeExpiredSubscriptions(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*subscriptionCacheModel)(nil)).
		Filter(bson.M{"expires_at": bson.M{"$lte": at.UTC()}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("billing/mongo: purge subscription cache: %w", err)
	}
	return res.DeletedCount(), nil
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, accountID string) (*usage.Record, error) {
	var m usageModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": accountID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get usage: %w", err)
	}
	return fromUsageModel(&m)
}

func (s *Store) ReconcileUsage(ctx context.Context, accountID string, defaultPlan plan.ID, period usage.Period, at time.Time) (*usage.Record, error) {
	at = at.UTC()

	_, err := s.mdb.NewUpdate((*usageModel)(nil)).
		Filter(bson.M{"_id": accountID}).
		SetUpdate(bson.M{"$setOnInsert": newUsageDoc(defaultPlan, period, at)}).
		Upsert().
		Exec(ctx)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("billing/mongo: reconcile usage: %w", err)
	}

	_, err = s.mdb.NewUpdate((*usageModel)(nil)).
		Filter(bson.M{"_id": accountID, "period": bson.M{"$lt": string(period)}}).
		SetUpdate(bson.M{"$set": bson.M{
			"period":     string(period),
			"audits":     int64(0),
			"stacks":     int64(0),
			"api_calls":  int64(0),
			"reset_at":   at,
			"updated_at": at,
		}}).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: roll usage forward: %w", err)
	}
	return s.GetUsage(ctx, accountID)
}

// IncrementUsage uses FindOneAndUpdate with a $lt guard on the counter, so
// the check and the increment are one document-level operation.
func (s *Store) IncrementUsage(ctx context.Context, accountID string, period usage.Period, counter usage.Counter, limit int64) (int64, error) {
	field, err := counterField(counter)
	if err != nil {
		return 0, err
	}

	filter := bson.M{"_id": accountID, "period": string(period)}
	if limit >= 0 {
		filter[field] = bson.M{"$lt": limit}
	}
	update := bson.M{
		"$inc": bson.M{field: int64(1)},
		"$set": bson.M{"updated_at": now()},
	}

	var m usageModel
	err = s.mdb.Collection(colUsage).
		FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&m)
	if err == nil {
		rec, err := fromUsageModel(&m)
		if err != nil {
			return 0, err
		}
		return rec.Counters.Get(counter), nil
	}
	if !isNoDocuments(err) {
		return 0, fmt.Errorf("billing/mongo: increment usage: %w", err)
	}

	rec, err := s.GetUsage(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if rec.Period != period {
		return 0, billing.ErrNotFound
	}
	return rec.Counters.Get(counter), billing.ErrLimitReached
}

func (s *Store) AssignUsagePlan(ctx context.Context, accountID string, planID plan.ID, period usage.Period) error {
	t := now()
	doc := newUsageDoc(planID, period, t)
	delete(doc, "plan_id")
	delete(doc, "updated_at")

	_, err := s.mdb.NewUpdate((*usageModel)(nil)).
		Filter(bson.M{"_id": accountID}).
		SetUpdate(bson.M{
			"$set":         bson.M{"plan_id": string(planID), "updated_at": t},
			"$setOnInsert": doc,
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: assign usage plan: %w", err)
	}
	return nil
}

func (s *Store) PurgeUsage(ctx context.Context, before usage.Period) (int64, error) {
	res, err := s.mdb.NewDelete((*usageModel)(nil)).
		Filter(bson.M{"period": bson.M{"$lt": string(before)}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("billing/mongo: purge usage: %w", err)
	}
	return res.DeletedCount(), nil
}

// ==================== Webhook Receipts ====================

func (s *Store) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var m receiptModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": eventID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return false, nil
		}
		return false, fmt.Errorf("billing/mongo: check receipt: %w", err)
	}
	return true, nil
}

func (s *Store) RecordProcessedEvent(ctx context.Context, r *webhook.Receipt) error {
	_, err := s.mdb.NewInsert(toReceiptModel(r)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: record receipt: %w", err)
	}
	return nil
}

func (s *Store) PurgeProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*receiptModel)(nil)).
		Filter(bson.M{"processed_at": bson.M{"$lt": before.UTC()}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("billing/mongo: purge receipts: %w", err)
	}
	return res.DeletedCount(), nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// newUsageDoc is the document of a fresh record, without its _id.
func newUsageDoc(planID plan.ID, period usage.Period, at time.Time) bson.M {
	return bson.M{
		"record_id":  id.NewUsageRecordID().String(),
		"plan_id":    string(planID),
		"period":     string(period),
		"audits":     int64(0),
		"stacks":     int64(0),
		"api_calls":  int64(0),
		"reset_at":   at,
		"created_at": at,
		"updated_at": at,
	}
}

func counterField(c usage.Counter) (string, error) {
	switch c {
	case usage.CounterAudits:
		return "audits", nil
	case usage.CounterStacks:
		return "stacks", nil
	case usage.CounterAPICalls:
		return "api_calls", nil
	default:
		return "", fmt.Errorf("billing/mongo: unknown counter %q", c)
	}
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all billing collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colCustomers: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "external_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "customer_id", Value: 1}}},
		},
		colCache: {
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
		colUsage: {
			{Keys: bson.D{{Key: "period", Value: 1}}},
		},
		colReceipts: {
			{Keys: bson.D{{Key: "processed_at", Value: 1}}},
		},
	}
}
