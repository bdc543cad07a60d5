package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the sqlite migration executor
	"github.com/xraph/grove/migrate"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("billing/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("billing/sqlite: migration failed: %w", err)
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
	res, err := s.sdb.NewInsert(toCustomerModel(c)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return wrap("create customer", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrap("create customer", err)
	}
	if rows == 0 {
		return billing.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, accountID string) (*customer.Customer, error) {
	m := new(customerModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrNotFound
		}
		return nil, wrap("get customer", err)
	}
	return fromCustomerModel(m)
}

func (s *Store) GetCustomerByExternalID(ctx context.Context, externalID string) (*customer.Customer, error) {
	m := new(customerModel)
	err := s.sdb.NewSelect(m).
		Where("external_id = ?", externalID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrNotFound
		}
		return nil, wrap("get customer by external id", err)
	}
	return fromCustomerModel(m)
}

func (s *Store) UpdateCustomer(ctx context.Context, c *customer.Customer) error {
	m := toCustomerModel(c)
	m.UpdatedAt = formatTime(now())
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return wrap("update customer", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrap("update customer", err)
	}
	if rows == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, subID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrNotFound
		}
		return nil, wrap("get subscription", err)
	}
	sub, err := fromSubscriptionModel(m)
	if err != nil {
		return nil, wrap("get subscription", err)
	}
	return sub, nil
}

func (s *Store) PutSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.sdb.NewInsert(toSubscriptionModel(sub)).
		OnConflict("(id) DO UPDATE").
		Set("customer_id = EXCLUDED.customer_id").
		Set("account_id = EXCLUDED.account_id").
		Set("plan_id = EXCLUDED.plan_id").
		Set("price_id = EXCLUDED.price_id").
		Set("item_id = EXCLUDED.item_id").
		Set("status = EXCLUDED.status").
		Set("current_period_start = EXCLUDED.current_period_start").
		Set("current_period_end = EXCLUDED.current_period_end").
		Set("cancel_at_period_end = EXCLUDED.cancel_at_period_end").
		Set("cancel_at = EXCLUDED.cancel_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return wrap("put subscription", err)
}

// ==================== Subscription Cache ====================

func (s *Store) GetCachedSubscription(ctx context.Context, customerID string) (*subscription.Entry, error) {
	m := new(subscriptionCacheModel)
	err := s.sdb.NewSelect(m).
		Where("customer_id = ?", customerID).
		Where("expires_at > ?", formatTime(now())).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrCacheMiss
		}
		return nil, wrap("get cached subscription", err)
	}
	return fromSubscriptionCacheModel(m)
}

func (s *Store) SetCachedSubscription(ctx context.Context, customerID string, e *subscription.Entry, ttl time.Duration) error {
	m, err := toSubscriptionCacheModel(customerID, e, now().Add(ttl))
	if err != nil {
		return wrap("encode cached subscription", err)
	}
	_, err = s.sdb.NewInsert(m).
		OnConflict("(customer_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("fetched_at = EXCLUDED.fetched_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return wrap("set cached subscription", err)
}

func (s *Store) InvalidateSubscription(ctx context.Context, customerID string) error {
	_, err := s.sdb.NewDelete((*subscriptionCacheModel)(nil)).
		Where("customer_id = ?", customerID).
		Exec(ctx)
	return wrap("invalidate subscription", err)
}

func (s *Store) PurgeExpiredSubscriptions(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*subscriptionCacheModel)(nil)).
		Where("expires_at <= ?", formatTime(at)).
		Exec(ctx)
	if err != nil {
		return 0, wrap("purge subscription cache", err)
	}
	return res.RowsAffected()
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, accountID string) (*usage.Record, error) {
	m := new(usageModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrNotFound
		}
		return nil, wrap("get usage", err)
	}
	return fromUsageModel(m)
}

// ReconcileUsage upserts the record; the conflict branch only rolls forward
// from an older period. Requires SQLite 3.35 for RETURNING.
func (s *Store) ReconcileUsage(ctx context.Context, accountID string, defaultPlan plan.ID, period usage.Period, at time.Time) (*usage.Record, error) {
	var recID string
	ts := formatTime(at)
	err := s.sdb.NewRaw(`
		INSERT INTO billing_usage (id, account_id, plan_id, period, audits, stacks, api_calls, reset_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, 0, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			period = EXCLUDED.period,
			audits = 0,
			stacks = 0,
			api_calls = 0,
			reset_at = EXCLUDED.reset_at,
			updated_at = EXCLUDED.updated_at
		WHERE billing_usage.period < EXCLUDED.period
		RETURNING id
	`, id.NewUsageRecordID().String(), accountID, string(defaultPlan), string(period), ts, ts, ts).Scan(ctx, &recID)
	if err != nil && !isNoRows(err) {
		return nil, wrap("reconcile usage", err)
	}
	return s.GetUsage(ctx, accountID)
}

// IncrementUsage relies on SQLite serializing writers: the conditional
// UPDATE either bumps the counter below limit or matches nothing.
func (s *Store) IncrementUsage(ctx context.Context, accountID string, period usage.Period, counter usage.Counter, limit int64) (int64, error) {
	col, err := counterColumn(counter)
	if err != nil {
		return 0, err
	}

	var used int64
	err = s.sdb.NewRaw(fmt.Sprintf(`
		UPDATE billing_usage SET %[1]s = %[1]s + 1, updated_at = ?
		WHERE account_id = ? AND period = ? AND (? < 0 OR %[1]s < ?)
		RETURNING %[1]s
	`, col), formatTime(now()), accountID, string(period), limit, limit).Scan(ctx, &used)
	if err == nil {
		return used, nil
	}
	if !isNoRows(err) {
		return 0, wrap("increment usage", err)
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
	var recID string
	t := formatTime(now())
	err := s.sdb.NewRaw(`
		INSERT INTO billing_usage (id, account_id, plan_id, period, audits, stacks, api_calls, reset_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, 0, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, id.NewUsageRecordID().String(), accountID, string(planID), string(period), t, t, t).Scan(ctx, &recID)
	return wrap("assign usage plan", err)
}

func (s *Store) PurgeUsage(ctx context.Context, before usage.Period) (int64, error) {
	res, err := s.sdb.NewDelete((*usageModel)(nil)).
		Where("period < ?", string(before)).
		Exec(ctx)
	if err != nil {
		return 0, wrap("purge usage", err)
	}
	return res.RowsAffected()
}

// ==================== Webhook Receipts ====================

func (s *Store) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var n int64
	err := s.sdb.NewRaw(`SELECT COUNT(*) FROM billing_webhook_receipts WHERE event_id = ?`, eventID).Scan(ctx, &n)
	if err != nil {
		return false, wrap("check receipt", err)
	}
	return n > 0, nil
}

func (s *Store) RecordProcessedEvent(ctx context.Context, r *webhook.Receipt) error {
	res, err := s.sdb.NewInsert(toReceiptModel(r)).
		OnConflict("(event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return wrap("record receipt", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrap("record receipt", err)
	}
	if rows == 0 {
		return billing.ErrAlreadyExists
	}
	return nil
}

func (s *Store) PurgeProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*receiptModel)(nil)).
		Where("processed_at < ?", formatTime(before)).
		Exec(ctx)
	if err != nil {
		return 0, wrap("purge receipts", err)
	}
	return res.RowsAffected()
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// counterColumn maps a counter onto its column. Only these names are ever
// interpolated into SQL.
func counterColumn(c usage.Counter) (string, error) {
	switch c {
	case usage.CounterAudits:
		return "audits", nil
	case usage.CounterStacks:
		return "stacks", nil
	case usage.CounterAPICalls:
		return "api_calls", nil
	default:
		return "", fmt.Errorf("billing/sqlite: unknown counter %q", c)
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("billing/sqlite: %s: %w", op, err)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
