// Package rediscache shares the subscription cache between engine
// instances through Redis. Entries are JSON under a key prefix and expire
// with the Redis TTL.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "billing:subscription:"

var _ subscription.Cache = (*Cache)(nil)

// Cache implements subscription.Cache on Redis.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// New wraps an existing client. The caller keeps ownership of it.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, url string, opts ...Option) (*Cache, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("billing/redis: parse url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("billing/redis: failed to connect: %w", err)
	}
	return New(client, opts...), nil
}

func (c *Cache) key(customerID string) string {
	return c.prefix + customerID
}

func (c *Cache) GetCachedSubscription(ctx context.Context, customerID string) (*subscription.Entry, error) {
	data, err := c.client.Get(ctx, c.key(customerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, billing.ErrCacheMiss
		}
		return nil, fmt.Errorf("billing/redis: get: %w", err)
	}

	var e subscription.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is dropped and reported as a miss.
		c.client.Del(ctx, c.key(customerID))
		return nil, billing.ErrCacheMiss
	}
	return &e, nil
}

func (c *Cache) SetCachedSubscription(ctx context.Context, customerID string, e *subscription.Entry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("billing/redis: encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(customerID), data, ttl).Err(); err != nil {
		return fmt.Errorf("billing/redis: set: %w", err)
	}
	return nil
}

func (c *Cache) InvalidateSubscription(ctx context.Context, customerID string) error {
	if err := c.client.Del(ctx, c.key(customerID)).Err(); err != nil {
		return fmt.Errorf("billing/redis: del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
