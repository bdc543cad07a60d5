package billing

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
)

// Subscriptions manages processor subscriptions and the cache of each
// customer's active one.
type Subscriptions struct {
	e     *Engine
	group singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

// CheckoutRequest starts a hosted checkout for Account on PlanID. Empty
// URLs fall back to the engine's app URL.
type CheckoutRequest struct {
	Account    customer.Account
	PlanID     plan.ID
	SuccessURL string
	CancelURL  string
}

// GetActive returns the customer's entitled subscription, or nil when it
// has none. Results are cached for the configured TTL; concurrent misses
// for one customer share a single processor call.
func (s *Subscriptions) GetActive(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrCustomerNotFound
	}

	entry, err := s.e.cache.GetCachedSubscription(ctx, customerID)
	switch {
	case err == nil && entry.Fresh(s.e.now(), s.e.cacheTTL):
		return entry.Subscription.Clone(), nil
	case err != nil && !errors.Is(err, ErrCacheMiss):
		s.e.logger.Warn("billing: subscription cache read failed",
			"customer_id", customerID,
			"error", err,
		)
	}

	// The shared refresh is detached from this caller; a canceled caller
	// stops waiting without failing the others.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(customerID, func() (any, error) {
		return s.refresh(flightCtx, customerID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sub, _ := res.Val.(*subscription.Subscription) //nolint:errcheck // nil means no subscription
		return sub.Clone(), nil
	}
}

func (s *Subscriptions) refresh(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	gen := s.generation(customerID)

	sub, err := s.e.provider.ActiveSubscription(ctx, customerID)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodeSubscriptionFetchFailed, "failed to fetch subscription", err)
	}
	if sub != nil {
		s.normalize(sub)
	}

	// An invalidation that landed while the processor call was in flight
	// wins over this result.
	if s.generation(customerID) != gen {
		return sub, nil
	}
	entry := &subscription.Entry{Subscription: sub, FetchedAt: s.e.now()}
	if err := s.e.cache.SetCachedSubscription(ctx, customerID, entry, s.e.cacheTTL); err != nil {
		s.e.logger.Warn("billing: subscription cache write failed",
			"customer_id", customerID,
			"error", err,
		)
		return sub, nil
	}
	if s.generation(customerID) != gen {
		if err := s.e.cache.InvalidateSubscription(ctx, customerID); err != nil {
			s.e.logger.Warn("billing: subscription cache invalidation failed",
				"customer_id", customerID,
				"error", err,
			)
		}
	}

	return sub, nil
}

// normalize resolves the plan of a subscription whose metadata did not
// name a known plan.
func (s *Subscriptions) normalize(sub *subscription.Subscription) {
	if s.e.catalog.Has(sub.PlanID) {
		return
	}
	sub.PlanID = s.e.catalog.ResolvePriceID(sub.PriceID).ID
}

func (s *Subscriptions) generation(customerID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[customerID]
}

// Invalidate drops the cached subscription of customerID. A refresh
// already in flight in this process will not repopulate the cache; one in
// another process sharing the cache can, until the entry's TTL expires.
func (s *Subscriptions) Invalidate(ctx context.Context, customerID string) error {
	if customerID == "" {
		return nil
	}
	s.mu.Lock()
	s.gens[customerID]++
	s.mu.Unlock()

	s.group.Forget(customerID)
	return s.e.cache.InvalidateSubscription(ctx, customerID)
}

func (s *Subscriptions) invalidate(ctx context.Context, customerID string) {
	if err := s.Invalidate(ctx, customerID); err != nil {
		s.e.logger.Warn("billing: subscription cache invalidation failed",
			"customer_id", customerID,
			"error", err,
		)
	}
}

// CreateCheckoutSession starts a hosted checkout for a paid plan.
func (s *Subscriptions) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*provider.CheckoutSession, error) {
	p, ok := s.e.catalog.Lookup(req.PlanID)
	if !ok || !p.IsPaid() || p.PriceID == "" {
		return nil, ErrInvalidPlan
	}

	cust, err := s.e.customers.GetOrCreate(ctx, req.Account)
	if err != nil {
		return nil, err
	}

	active, err := s.GetActive(ctx, cust.ExternalID)
	if err != nil {
		s.e.logger.Warn("billing: active subscription check failed before checkout",
			"account_id", cust.AccountID,
			"error", err,
		)
	} else if active != nil && active.PlanID == p.ID {
		return nil, ErrAlreadySubscribed
	}

	params := provider.CheckoutParams{
		CustomerID: cust.ExternalID,
		AccountID:  cust.AccountID,
		PlanID:     p.ID,
		PriceID:    p.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}
	if params.SuccessURL == "" {
		params.SuccessURL = s.e.appURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if params.CancelURL == "" {
		params.CancelURL = s.e.appURL + "/billing/cancel"
	}

	sess, err := s.e.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, wrapFailure(CodeCheckoutFailed, "failed to create checkout session", err)
	}

	s.e.logger.Info("billing checkout started",
		"account_id", cust.AccountID,
		"plan", p.ID,
		"session_id", sess.ID,
	)
	s.e.plugins.EmitCheckoutStarted(ctx, cust.AccountID, p.ID, sess.ID)

	return sess, nil
}

// CreatePortalSession opens the processor's self-service billing portal.
func (s *Subscriptions) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*provider.PortalSession, error) {
	if returnURL == "" {
		returnURL = s.e.appURL + "/dashboard"
	}
	sess, err := s.e.provider.CreatePortalSession(ctx, customerID, returnURL)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodePortalFailed, "failed to create portal session", err)
	}
	return sess, nil
}

// Owned fetches subID and checks that it belongs to customerID. A
// subscription of any other customer reports SUBSCRIPTION_NOT_FOUND.
func (s *Subscriptions) Owned(ctx context.Context, customerID, subID string) (*subscription.Subscription, error) {
	if customerID == "" || subID == "" {
		return nil, ErrSubscriptionNotFound
	}
	sub, err := s.e.provider.GetSubscription(ctx, subID)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodeSubscriptionFetchFailed, "failed to fetch subscription", err)
	}
	if sub.CustomerID != customerID {
		return nil, ErrSubscriptionNotFound
	}
	s.normalize(sub)
	return sub, nil
}

// Cancel schedules the subscription to end at the close of its current
// period.
func (s *Subscriptions) Cancel(ctx context.Context, subID string) (*subscription.Subscription, error) {
	cancel := true
	sub, err := s.e.provider.UpdateSubscription(ctx, subID, provider.SubscriptionUpdate{CancelAtPeriodEnd: &cancel})
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodeCancelFailed, "failed to cancel subscription", err)
	}
	if sub.CancelAt == nil && !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		sub.CancelAt = &end
	}
	s.normalize(sub)

	s.invalidate(ctx, sub.CustomerID)
	s.e.logger.Info("billing subscription cancellation scheduled",
		"subscription_id", sub.ID,
		"cancel_at", sub.CancelAt,
	)
	s.e.plugins.EmitSubscriptionCanceled(ctx, sub)

	return sub, nil
}

// Reactivate clears a scheduled cancellation. A subscription that has
// already ended cannot be reactivated.
func (s *Subscriptions) Reactivate(ctx context.Context, subID string) (*subscription.Subscription, error) {
	cur, err := s.e.provider.GetSubscription(ctx, subID)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodeReactivateFailed, "failed to reactivate subscription", err)
	}
	if cur.Status.Terminal() {
		return nil, ErrSubscriptionCanceled
	}

	keep := false
	sub, err := s.e.provider.UpdateSubscription(ctx, subID, provider.SubscriptionUpdate{CancelAtPeriodEnd: &keep})
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodeReactivateFailed, "failed to reactivate subscription", err)
	}
	s.normalize(sub)

	s.invalidate(ctx, sub.CustomerID)
	s.e.plugins.EmitSubscriptionReactivated(ctx, sub)

	return sub, nil
}

// ChangePlan moves the subscription to planID with prorations.
func (s *Subscriptions) ChangePlan(ctx context.Context, subID string, planID plan.ID) (*subscription.Subscription, error) {
	p, ok := s.e.catalog.Lookup(planID)
	if !ok || !p.IsPaid() || p.PriceID == "" {
		return nil, ErrInvalidPlan
	}

	cur, err := s.e.provider.GetSubscription(ctx, subID)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodePlanChangeFailed, "failed to change plan", err)
	}
	if cur.Status.Terminal() {
		return nil, ErrSubscriptionCanceled
	}
	s.normalize(cur)
	if cur.PlanID == p.ID {
		return nil, ErrAlreadySubscribed
	}

	sub, err := s.e.provider.UpdateSubscription(ctx, subID, provider.SubscriptionUpdate{
		ItemID:  cur.ItemID,
		PriceID: p.PriceID,
		PlanID:  p.ID,
		Prorate: true,
	})
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodePlanChangeFailed, "failed to change plan", err)
	}
	s.normalize(sub)

	s.invalidate(ctx, sub.CustomerID)
	s.e.logger.Info("billing plan changed",
		"subscription_id", sub.ID,
		"from", cur.PlanID,
		"to", sub.PlanID,
	)
	s.e.plugins.EmitSubscriptionChanged(ctx, sub, cur.PlanID, sub.PlanID)

	return sub, nil
}

// Invoices lists the customer's most recent invoices, newest first. A
// non-positive limit means DefaultInvoiceLimit.
func (s *Subscriptions) Invoices(ctx context.Context, customerID string, limit int) ([]provider.Invoice, error) {
	if limit <= 0 {
		limit = DefaultInvoiceLimit
	}
	invs, err := s.e.provider.ListInvoices(ctx, customerID, limit)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodeInvoicesFailed, "failed to list invoices", err)
	}
	return invs, nil
}
