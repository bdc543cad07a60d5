package subscription

import (
	"context"
	"time"
)

// Cache holds active-subscription lookups per processor customer.
// GetCachedSubscription returns billing.ErrCacheMiss when no entry exists.
type Cache interface {
	GetCachedSubscription(ctx context.Context, customerID string) (*Entry, error)
	SetCachedSubscription(ctx context.Context, customerID string, e *Entry, ttl time.Duration) error
	InvalidateSubscription(ctx context.Context, customerID string) error
}

// Store mirrors the last status observed for each subscription so webhook
// deliveries can be checked against the lifecycle.
type Store interface {
	GetSubscription(ctx context.Context, subID string) (*Subscription, error)
	PutSubscription(ctx context.Context, s *Subscription) error
}
