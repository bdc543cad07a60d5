package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// Webhooks verifies and dispatches payment-processor events.
type Webhooks struct {
	e *Engine
}

// Verify authenticates a raw delivery. Nothing in the payload is trusted
// before this succeeds.
func (w *Webhooks) Verify(payload []byte, header string) (*webhook.Event, error) {
	if w.e.verifier == nil {
		return nil, &Error{Code: CodeInvalidWebhook, Message: "webhook secret not configured"}
	}
	ev, err := w.e.verifier.Verify(payload, header)
	if errors.Is(err, provider.ErrWebhookNotConfigured) {
		return nil, &Error{Code: CodeInvalidWebhook, Message: "webhook secret not configured", Err: err}
	}
	if err != nil {
		return nil, &Error{Code: CodeInvalidWebhook, Message: "invalid webhook signature", Err: err}
	}
	return ev, nil
}

// Receive verifies a delivery and processes it. The error is non-nil only
// when verification fails; handler failures are reported in the result.
func (w *Webhooks) Receive(ctx context.Context, payload []byte, header string) (webhook.Result, error) {
	ev, err := w.Verify(payload, header)
	if err != nil {
		return webhook.Result{}, err
	}
	return w.Process(ctx, ev), nil
}

// Process handles a verified event once. Redeliveries of an event id that
// was already handled successfully are reported as duplicates.
func (w *Webhooks) Process(ctx context.Context, ev *webhook.Event) webhook.Result {
	start := time.Now()

	seen, err := w.e.store.HasProcessedEvent(ctx, ev.ID)
	if err != nil {
		w.e.logger.Warn("billing: webhook dedupe lookup failed",
			"event_id", ev.ID,
			"error", err,
		)
	}
	if seen {
		res := webhook.Result{EventID: ev.ID, Type: ev.Type, Kind: ev.Kind, Duplicate: true}
		w.e.logger.Debug("billing webhook duplicate", "event_id", ev.ID, "type", ev.Type)
		w.e.plugins.EmitWebhookProcessed(ctx, res, time.Since(start))
		return res
	}

	w.e.plugins.EmitWebhookReceived(ctx, ev)

	res := w.Handle(ctx, ev)

	if res.Err == nil {
		if err := w.e.store.RecordProcessedEvent(ctx, webhook.NewReceipt(ev, w.e.now())); err != nil && !errors.Is(err, ErrAlreadyExists) {
			w.e.logger.Warn("billing: webhook receipt not recorded",
				"event_id", ev.ID,
				"error", err,
			)
		}
	} else {
		w.e.logger.Error("billing webhook handler failed",
			"event_id", ev.ID,
			"type", ev.Type,
			"error", res.Err,
		)
	}

	w.e.plugins.EmitWebhookProcessed(ctx, res, time.Since(start))
	return res
}

// Handle dispatches ev by kind. Unhandled kinds report Handled=false with
// no error. Panics are captured into the result.
func (w *Webhooks) Handle(ctx context.Context, ev *webhook.Event) (res webhook.Result) {
	res = webhook.Result{EventID: ev.ID, Type: ev.Type, Kind: ev.Kind}

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("webhook handler panic: %v", r)
		}
	}()

	payload, err := ev.Decode()
	if err != nil {
		res.Err = err
		return res
	}

	switch payload.Kind {
	case webhook.KindCheckoutCompleted:
		res.Handled = true
		res.Err = w.checkoutCompleted(ctx, payload.Checkout, &res)
	case webhook.KindSubscriptionCreated, webhook.KindSubscriptionUpdated:
		res.Handled = true
		res.Err = w.subscriptionChanged(ctx, payload.Kind, payload.Subscription, &res)
	case webhook.KindSubscriptionDeleted:
		res.Handled = true
		res.Err = w.subscriptionDeleted(ctx, payload.Subscription, &res)
	case webhook.KindInvoicePaid, webhook.KindInvoicePaymentFailed:
		res.Handled = true
		res.Err = w.invoice(ctx, payload.Kind, payload.Invoice, &res)
	case webhook.KindUnhandled:
		w.e.logger.Debug("billing webhook ignored", "event_id", ev.ID, "type", ev.Type)
	}

	return res
}

func (w *Webhooks) checkoutCompleted(ctx context.Context, s *webhook.CheckoutSession, res *webhook.Result) error {
	res.CustomerID = s.Customer
	res.SubscriptionID = s.Subscription
	res.AccountID = s.Metadata[webhook.MetaAccountID]
	planID := plan.ID(s.Metadata[webhook.MetaPlanID])

	if res.AccountID == "" {
		return errors.New("checkout session has no account metadata")
	}
	if !w.e.catalog.Has(planID) {
		return fmt.Errorf("checkout session names unknown plan %q", planID)
	}
	res.PlanID = planID

	if err := w.e.usage.AssignPlan(ctx, res.AccountID, planID); err != nil {
		return err
	}
	w.e.subscriptions.invalidate(ctx, s.Customer)

	if s.Customer != "" {
		w.ensureCustomer(ctx, res.AccountID, s.Customer, s.CustomerEmail)
	}

	w.e.logger.Info("billing checkout completed",
		"account_id", res.AccountID,
		"plan", planID,
		"subscription_id", s.Subscription,
	)
	return nil
}

// ensureCustomer records the account-to-customer mapping when checkout
// completed for an account this process never mapped.
func (w *Webhooks) ensureCustomer(ctx context.Context, accountID, externalID, email string) {
	if _, err := w.e.store.GetCustomer(ctx, accountID); err == nil || !errors.Is(err, ErrNotFound) {
		return
	}
	cust := &customer.Customer{
		Entity:     types.EntityAt(w.e.now()),
		ID:         id.NewCustomerID(),
		AccountID:  accountID,
		ExternalID: externalID,
		Email:      email,
	}
	if err := w.e.store.CreateCustomer(ctx, cust); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			w.e.logger.Warn("billing: customer mapping not recorded",
				"account_id", accountID,
				"customer_id", externalID,
				"error", err,
			)
		}
		return
	}
	w.e.plugins.EmitCustomerCreated(ctx, cust)
}

func (w *Webhooks) subscriptionChanged(ctx context.Context, kind webhook.Kind, s *webhook.Subscription, res *webhook.Result) error {
	status, err := subscription.ParseStatus(s.Status)
	if err != nil {
		return err
	}
	res.SubscriptionID = s.ID
	res.CustomerID = s.Customer
	res.Status = string(status)

	accountID, err := w.accountFor(ctx, s)
	if err != nil {
		return err
	}
	res.AccountID = accountID

	sub := w.toSubscription(s, status, accountID)
	res.PlanID = sub.PlanID

	prev, err := w.e.store.GetSubscription(ctx, s.ID)
	switch {
	case err == nil:
		if !subscription.CanTransition(prev.Status, status) {
			// Out-of-order delivery for a subscription that already moved on.
			res.Skipped = true
			w.e.subscriptions.invalidate(ctx, s.Customer)
			w.e.logger.Info("billing webhook stale transition skipped",
				"subscription_id", s.ID,
				"from", prev.Status,
				"to", status,
			)
			return nil
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if err := w.e.store.PutSubscription(ctx, sub); err != nil {
		return err
	}

	switch {
	case status.Entitled():
		if err := w.e.usage.AssignPlan(ctx, accountID, sub.PlanID); err != nil {
			return err
		}
	case status.Terminal():
		if err := w.e.usage.AssignPlan(ctx, accountID, w.e.catalog.Lowest().ID); err != nil {
			return err
		}
	}
	w.e.subscriptions.invalidate(ctx, s.Customer)

	switch {
	case status.Terminal():
		w.e.plugins.EmitSubscriptionCanceled(ctx, sub)
	case kind == webhook.KindSubscriptionCreated || prev == nil:
		w.e.plugins.EmitSubscriptionCreated(ctx, sub)
	case prev.PlanID != sub.PlanID:
		w.e.plugins.EmitSubscriptionChanged(ctx, sub, prev.PlanID, sub.PlanID)
	}

	w.e.logger.Info("billing subscription synced",
		"account_id", accountID,
		"subscription_id", s.ID,
		"status", status,
		"plan", sub.PlanID,
	)
	return nil
}

func (w *Webhooks) subscriptionDeleted(ctx context.Context, s *webhook.Subscription, res *webhook.Result) error {
	res.SubscriptionID = s.ID
	res.CustomerID = s.Customer
	res.Status = string(subscription.StatusCanceled)

	accountID, err := w.accountFor(ctx, s)
	if err != nil {
		return err
	}
	res.AccountID = accountID

	sub := w.toSubscription(s, subscription.StatusCanceled, accountID)
	if err := w.e.store.PutSubscription(ctx, sub); err != nil {
		return err
	}

	lowest := w.e.catalog.Lowest().ID
	res.PlanID = lowest
	if err := w.e.usage.AssignPlan(ctx, accountID, lowest); err != nil {
		return err
	}
	w.e.subscriptions.invalidate(ctx, s.Customer)
	w.e.plugins.EmitSubscriptionCanceled(ctx, sub)

	w.e.logger.Info("billing subscription deleted",
		"account_id", accountID,
		"subscription_id", s.ID,
	)
	return nil
}

func (w *Webhooks) invoice(ctx context.Context, kind webhook.Kind, inv *webhook.Invoice, res *webhook.Result) error {
	res.InvoiceID = inv.ID
	res.CustomerID = inv.Customer
	res.SubscriptionID = inv.Subscription
	res.AttemptCount = inv.AttemptCount

	if cust, err := w.e.store.GetCustomerByExternalID(ctx, inv.Customer); err == nil {
		res.AccountID = cust.AccountID
	}

	w.e.subscriptions.invalidate(ctx, inv.Customer)

	if kind == webhook.KindInvoicePaid {
		res.Amount = inv.AmountPaid
		w.e.plugins.EmitPaymentSucceeded(ctx, inv)
		return nil
	}

	res.Amount = inv.AmountDue
	w.e.logger.Warn("billing invoice payment failed",
		"invoice_id", inv.ID,
		"customer_id", inv.Customer,
		"attempt", inv.AttemptCount,
	)
	w.e.plugins.EmitPaymentFailed(ctx, inv)
	return nil
}

// accountFor resolves the account of a subscription from its metadata,
// falling back to the local customer mapping.
func (w *Webhooks) accountFor(ctx context.Context, s *webhook.Subscription) (string, error) {
	if accountID := s.Metadata[webhook.MetaAccountID]; accountID != "" {
		return accountID, nil
	}
	cust, err := w.e.store.GetCustomerByExternalID(ctx, s.Customer)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("subscription %s: no account for customer %s", s.ID, s.Customer)
	}
	if err != nil {
		return "", err
	}
	return cust.AccountID, nil
}

func (w *Webhooks) toSubscription(s *webhook.Subscription, status subscription.Status, accountID string) *subscription.Subscription {
	sub := &subscription.Subscription{
		ID:                 s.ID,
		CustomerID:         s.Customer,
		AccountID:          accountID,
		PriceID:            s.FirstPriceID(),
		ItemID:             s.FirstItemID(),
		Status:             status,
		CurrentPeriodStart: unixTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		UpdatedAt:          w.e.now().UTC(),
	}
	if s.CancelAt > 0 {
		t := unixTime(s.CancelAt)
		sub.CancelAt = &t
	}

	if p := plan.ID(s.Metadata[webhook.MetaPlanID]); w.e.catalog.Has(p) {
		sub.PlanID = p
	} else {
		sub.PlanID = w.e.catalog.ResolvePriceID(sub.PriceID).ID
	}
	return sub
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
