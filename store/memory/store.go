// Package memory is an in-process store.Store. It is meant for tests and
// single-instance development; all state is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	// Customer storage, keyed by account id
	customers  map[string]*customer.Customer
	byExternal map[string]string

	// Subscription mirror
	subscriptions map[string]*subscription.Subscription

	// Subscription cache, keyed by processor customer id
	cache       map[string]*subscription.Entry
	cacheExpiry map[string]time.Time

	// Usage records, keyed by account id
	usage map[string]*usage.Record

	// Webhook receipts, keyed by event id
	receipts map[string]*webhook.Receipt
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:           time.Now,
		customers:     make(map[string]*customer.Customer),
		byExternal:    make(map[string]string),
		subscriptions: make(map[string]*subscription.Subscription),
		cache:         make(map[string]*subscription.Entry),
		cacheExpiry:   make(map[string]time.Time),
		usage:         make(map[string]*usage.Record),
		receipts:      make(map[string]*webhook.Receipt),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Customer Store implementation
func (s *Store) CreateCustomer(_ context.Context, c *customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[c.AccountID]; exists {
		return billing.ErrAlreadyExists
	}
	if _, exists := s.byExternal[c.ExternalID]; exists {
		return billing.ErrAlreadyExists
	}
	cp := *c
	s.customers[c.AccountID] = &cp
	s.byExternal[c.ExternalID] = c.AccountID
	return nil
}

func (s *Store) GetCustomer(_ context.Context, accountID string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.customers[accountID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, billing.ErrNotFound
}

func (s *Store) GetCustomerByExternalID(_ context.Context, externalID string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if accountID, ok := s.byExternal[externalID]; ok {
		cp := *s.customers[accountID]
		return &cp, nil
	}
	return nil, billing.ErrNotFound
}

func (s *Store) UpdateCustomer(_ context.Context, c *customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[c.AccountID]
	if !ok {
		return billing.ErrNotFound
	}
	if existing.ExternalID != c.ExternalID {
		delete(s.byExternal, existing.ExternalID)
		s.byExternal[c.ExternalID] = c.AccountID
	}
	cp := *c
	s.customers[c.AccountID] = &cp
	return nil
}

// Subscription mirror implementation
func (s *Store) GetSubscription(_ context.Context, subID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID]; ok {
		return sub.Clone(), nil
	}
	return nil, billing.ErrNotFound
}

func (s *Store) PutSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID] = sub.Clone()
	return nil
}

// Subscription cache implementation
func (s *Store) GetCachedSubscription(_ context.Context, customerID string) (*subscription.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.cache[customerID]
	if !ok || !s.now().Before(s.cacheExpiry[customerID]) {
		return nil, billing.ErrCacheMiss
	}
	return &subscription.Entry{Subscription: e.Subscription.Clone(), FetchedAt: e.FetchedAt}, nil
}

func (s *Store) SetCachedSubscription(_ context.Context, customerID string, e *subscription.Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[customerID] = &subscription.Entry{Subscription: e.Subscription.Clone(), FetchedAt: e.FetchedAt}
	s.cacheExpiry[customerID] = s.now().Add(ttl)
	return nil
}

func (s *Store) InvalidateSubscription(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, customerID)
	delete(s.cacheExpiry, customerID)
	return nil
}

func (s *Store) PurgeExpiredSubscriptions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for customerID, expiry := range s.cacheExpiry {
		if !now.Before(expiry) {
			delete(s.cache, customerID)
			delete(s.cacheExpiry, customerID)
			n++
		}
	}
	return n, nil
}

// Usage Store implementation
func (s *Store) GetUsage(_ context.Context, accountID string) (*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.usage[accountID]; ok {
		return rec.Clone(), nil
	}
	return nil, billing.ErrNotFound
}

func (s *Store) ReconcileUsage(_ context.Context, accountID string, defaultPlan plan.ID, period usage.Period, at time.Time) (*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[accountID]
	if !ok {
		rec = usage.NewRecord(accountID, defaultPlan, period, at)
		s.usage[accountID] = rec
		return rec.Clone(), nil
	}
	rec.Rollover(period, at)
	return rec.Clone(), nil
}

func (s *Store) IncrementUsage(_ context.Context, accountID string, period usage.Period, counter usage.Counter, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[accountID]
	if !ok || rec.Period != period {
		return 0, billing.ErrNotFound
	}
	used := rec.Counters.Get(counter)
	if limit >= 0 && used >= limit {
		return used, billing.ErrLimitReached
	}
	rec.Counters.Add(counter, 1)
	rec.UpdatedAt = s.now().UTC()
	return used + 1, nil
}

func (s *Store) AssignUsagePlan(_ context.Context, accountID string, planID plan.ID, period usage.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[accountID]
	if !ok {
		s.usage[accountID] = usage.NewRecord(accountID, planID, period, s.now())
		return nil
	}
	rec.PlanID = planID
	rec.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) PurgeUsage(_ context.Context, before usage.Period) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for accountID, rec := range s.usage {
		if rec.Period.Before(before) {
			delete(s.usage, accountID)
			n++
		}
	}
	return n, nil
}

// Webhook receipt implementation
func (s *Store) HasProcessedEvent(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.receipts[eventID]
	return ok, nil
}

func (s *Store) RecordProcessedEvent(_ context.Context, r *webhook.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[r.EventID]; exists {
		return billing.ErrAlreadyExists
	}
	cp := *r
	s.receipts[r.EventID] = &cp
	return nil
}

func (s *Store) PurgeProcessedEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for eventID, r := range s.receipts {
		if r.ProcessedAt.Before(before) {
			delete(s.receipts, eventID)
			n++
		}
	}
	return n, nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
