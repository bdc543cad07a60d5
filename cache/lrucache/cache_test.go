package lrucache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/cache/lrucache"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
)

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := lrucache.New(4)

	_, err := c.GetCachedSubscription(ctx, "cus_1")
	require.ErrorIs(t, err, billing.ErrCacheMiss)

	sub := &subscription.Subscription{ID: "sub_1", CustomerID: "cus_1", PlanID: plan.Pro, Status: subscription.StatusActive}
	require.NoError(t, c.SetCachedSubscription(ctx, "cus_1", &subscription.Entry{Subscription: sub, FetchedAt: time.Now()}, time.Minute))

	got, err := c.GetCachedSubscription(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, plan.Pro, got.Subscription.PlanID)

	got.Subscription.PlanID = plan.Free
	again, err := c.GetCachedSubscription(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, plan.Pro, again.Subscription.PlanID, "caller mutation leaked into the cache")

	require.NoError(t, c.InvalidateSubscription(ctx, "cus_1"))
	_, err = c.GetCachedSubscription(ctx, "cus_1")
	assert.ErrorIs(t, err, billing.ErrCacheMiss)
}

func TestCacheRemembersAbsence(t *testing.T) {
	ctx := context.Background()
	c := lrucache.New(4)

	require.NoError(t, c.SetCachedSubscription(ctx, "cus_none", &subscription.Entry{FetchedAt: time.Now()}, time.Minute))
	got, err := c.GetCachedSubscription(ctx, "cus_none")
	require.NoError(t, err)
	assert.Nil(t, got.Subscription)
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := lrucache.New(4, lrucache.WithClock(func() time.Time { return now }))

	require.NoError(t, c.SetCachedSubscription(ctx, "cus_1", &subscription.Entry{FetchedAt: now}, time.Minute))

	now = now.Add(59 * time.Second)
	_, err := c.GetCachedSubscription(ctx, "cus_1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = c.GetCachedSubscription(ctx, "cus_1")
	assert.ErrorIs(t, err, billing.ErrCacheMiss)
	assert.Equal(t, 0, c.Len())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := lrucache.New(2)
	e := &subscription.Entry{FetchedAt: time.Now()}

	require.NoError(t, c.SetCachedSubscription(ctx, "a", e, time.Minute))
	require.NoError(t, c.SetCachedSubscription(ctx, "b", e, time.Minute))
	_, err := c.GetCachedSubscription(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.SetCachedSubscription(ctx, "c", e, time.Minute))

	_, err = c.GetCachedSubscription(ctx, "b")
	assert.ErrorIs(t, err, billing.ErrCacheMiss)
	_, err = c.GetCachedSubscription(ctx, "a")
	assert.NoError(t, err)
}
