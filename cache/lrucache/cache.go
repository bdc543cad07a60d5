// Package lrucache is a bounded in-process subscription.Cache. Entries are
// evicted least-recently-used first and expire after the ttl given to
// SetCachedSubscription.
package lrucache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
)

// DefaultSize is the number of customers kept when New is given size <= 0.
const DefaultSize = 10_000

var _ subscription.Cache = (*Cache)(nil)

type entry struct {
	value     subscription.Entry
	expiresAt time.Time
}

// Cache implements subscription.Cache on top of an LRU.
type Cache struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache holding at most size customers.
func New(size int, opts ...Option) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	// lru.New only errors on a non-positive size.
	l, _ := lru.New[string, entry](size) //nolint:errcheck // size guarded above
	c := &Cache{lru: l, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) GetCachedSubscription(_ context.Context, customerID string) (*subscription.Entry, error) {
	e, ok := c.lru.Get(customerID)
	if !ok {
		return nil, billing.ErrCacheMiss
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(customerID)
		return nil, billing.ErrCacheMiss
	}
	return &subscription.Entry{
		Subscription: e.value.Subscription.Clone(),
		FetchedAt:    e.value.FetchedAt,
	}, nil
}

func (c *Cache) SetCachedSubscription(_ context.Context, customerID string, e *subscription.Entry, ttl time.Duration) error {
	c.lru.Add(customerID, entry{
		value: subscription.Entry{
			Subscription: e.Subscription.Clone(),
			FetchedAt:    e.FetchedAt,
		},
		expiresAt: c.now().Add(ttl),
	})
	return nil
}

func (c *Cache) InvalidateSubscription(_ context.Context, customerID string) error {
	c.lru.Remove(customerID)
	return nil
}

// Len reports the number of entries held, expired ones included.
func (c *Cache) Len() int { return c.lru.Len() }
