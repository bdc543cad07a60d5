// Package stripe implements provider.Provider and provider.Verifier on top
// of the Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// Compile-time interface check.
var _ provider.Provider = (*Client)(nil)

// Client is a Stripe-backed provider. It holds its own API client and never
// touches the package-level stripe.Key.
type Client struct {
	api *client.API
}

// Option configures a Client.
type Option func(*config)

type config struct {
	backends *stripelib.Backends
}

// WithBackends overrides the HTTP backends, e.g. to point at a test server.
func WithBackends(b *stripelib.Backends) Option {
	return func(c *config) { c.backends = b }
}

// WithBaseURL points the API backend at url.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.backends = &stripelib.Backends{
			API: stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
				URL:               stripelib.String(url),
				MaxNetworkRetries: stripelib.Int64(0),
			}),
		}
	}
}

// New creates a Client for secretKey.
func New(secretKey string, opts ...Option) *Client {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{api: client.New(secretKey, cfg.backends)}
}

// ──────────────────────────────────────────────────
// Customers
// ──────────────────────────────────────────────────

func (c *Client) FindCustomer(ctx context.Context, email, accountID string) (*provider.Customer, error) {
	params := &stripelib.CustomerListParams{Email: stripelib.String(email)}
	params.Context = ctx
	params.Limit = stripelib.Int64(10)

	var first *stripelib.Customer
	it := c.api.Customers.List(params)
	for it.Next() {
		cust := it.Customer()
		if cust.Deleted {
			continue
		}
		if accountID != "" && cust.Metadata[webhook.MetaAccountID] == accountID {
			return toCustomer(cust), nil
		}
		if first == nil {
			first = cust
		}
	}
	if err := it.Err(); err != nil {
		return nil, mapError("list customers", err)
	}
	if first == nil {
		return nil, provider.ErrNotFound
	}
	return toCustomer(first), nil
}

func (c *Client) CreateCustomer(ctx context.Context, in provider.CustomerParams) (*provider.Customer, error) {
	params := &stripelib.CustomerParams{Email: stripelib.String(in.Email)}
	if in.Name != "" {
		params.Name = stripelib.String(in.Name)
	}
	params.Context = ctx
	params.AddMetadata(webhook.MetaAccountID, in.AccountID)
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	cust, err := c.api.Customers.New(params)
	if err != nil {
		return nil, mapError("create customer", err)
	}
	return toCustomer(cust), nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*provider.Customer, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx

	cust, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, mapError("get customer", err)
	}
	if cust.Deleted {
		return nil, provider.ErrNotFound
	}
	return toCustomer(cust), nil
}

func (c *Client) UpdateCustomer(ctx context.Context, customerID string, u customer.Update) (*provider.Customer, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx
	if u.Email != nil {
		params.Email = stripelib.String(*u.Email)
	}
	if u.Name != nil {
		params.Name = stripelib.String(*u.Name)
	}

	cust, err := c.api.Customers.Update(customerID, params)
	if err != nil {
		return nil, mapError("update customer", err)
	}
	return toCustomer(cust), nil
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]provider.PaymentMethod, error) {
	params := &stripelib.PaymentMethodListParams{
		Customer: stripelib.String(customerID),
		Type:     stripelib.String(string(stripelib.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	var out []provider.PaymentMethod
	it := c.api.PaymentMethods.List(params)
	for it.Next() {
		pm := it.PaymentMethod()
		m := provider.PaymentMethod{ID: pm.ID, Type: string(pm.Type)}
		if pm.Card != nil {
			m.Brand = string(pm.Card.Brand)
			m.Last4 = pm.Card.Last4
			m.ExpMonth = pm.Card.ExpMonth
			m.ExpYear = pm.Card.ExpYear
		}
		out = append(out, m)
	}
	if err := it.Err(); err != nil {
		return nil, mapError("list payment methods", err)
	}
	return out, nil
}

func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripelib.PaymentMethodDetachParams{}
	params.Context = ctx

	if _, err := c.api.PaymentMethods.Detach(paymentMethodID, params); err != nil {
		return mapError("detach payment method", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

func (c *Client) CreateCheckoutSession(ctx context.Context, in provider.CheckoutParams) (*provider.CheckoutSession, error) {
	params := &stripelib.CheckoutSessionParams{
		Customer: stripelib.String(in.CustomerID),
		Mode:     stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{Price: stripelib.String(in.PriceID), Quantity: stripelib.Int64(1)},
		},
		SuccessURL:          stripelib.String(in.SuccessURL),
		CancelURL:           stripelib.String(in.CancelURL),
		AllowPromotionCodes: stripelib.Bool(true),
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				webhook.MetaAccountID: in.AccountID,
				webhook.MetaPlanID:    string(in.PlanID),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(webhook.MetaAccountID, in.AccountID)
	params.AddMetadata(webhook.MetaPlanID, string(in.PlanID))

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapError("create checkout session", err)
	}
	return &provider.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*provider.PortalSession, error) {
	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(returnURL),
	}
	params.Context = ctx

	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, mapError("create portal session", err)
	}
	return &provider.PortalSession{URL: sess.URL}, nil
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func (c *Client) ActiveSubscription(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
	}
	params.Context = ctx
	params.Limit = stripelib.Int64(10)

	it := c.api.Subscriptions.List(params)
	for it.Next() {
		sub := toSubscription(it.Subscription())
		if sub.Entitled() {
			return sub, nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, mapError("list subscriptions", err)
	}
	return nil, nil
}

func (c *Client) GetSubscription(ctx context.Context, subID string) (*subscription.Subscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(subID, params)
	if err != nil {
		return nil, mapError("get subscription", err)
	}
	return toSubscription(sub), nil
}

func (c *Client) UpdateSubscription(ctx context.Context, subID string, u provider.SubscriptionUpdate) (*subscription.Subscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	if u.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripelib.Bool(*u.CancelAtPeriodEnd)
	}
	if u.PriceID != "" {
		params.Items = []*stripelib.SubscriptionItemsParams{
			{ID: stripelib.String(u.ItemID), Price: stripelib.String(u.PriceID)},
		}
	}
	if u.Prorate {
		params.ProrationBehavior = stripelib.String("create_prorations")
	}
	if u.PlanID != "" {
		params.AddMetadata(webhook.MetaPlanID, string(u.PlanID))
	}

	sub, err := c.api.Subscriptions.Update(subID, params)
	if err != nil {
		return nil, mapError("update subscription", err)
	}
	return toSubscription(sub), nil
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func (c *Client) ListInvoices(ctx context.Context, customerID string, limit int) ([]provider.Invoice, error) {
	if limit <= 0 {
		limit = 10
	}
	params := &stripelib.InvoiceListParams{Customer: stripelib.String(customerID)}
	params.Context = ctx
	params.Limit = stripelib.Int64(int64(limit))

	out := make([]provider.Invoice, 0, limit)
	it := c.api.Invoices.List(params)
	for len(out) < limit && it.Next() {
		inv := it.Invoice()
		out = append(out, provider.Invoice{
			ID:          inv.ID,
			Number:      inv.Number,
			Status:      string(inv.Status),
			AmountDue:   inv.AmountDue,
			AmountPaid:  inv.AmountPaid,
			Currency:    string(inv.Currency),
			Created:     unix(inv.Created),
			PeriodStart: unix(inv.PeriodStart),
			PeriodEnd:   unix(inv.PeriodEnd),
			HostedURL:   inv.HostedInvoiceURL,
			PDFURL:      inv.InvoicePDF,
		})
	}
	if err := it.Err(); err != nil {
		return nil, mapError("list invoices", err)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Mapping
// ──────────────────────────────────────────────────

func toCustomer(c *stripelib.Customer) *provider.Customer {
	return &provider.Customer{
		ID:       c.ID,
		Email:    c.Email,
		Name:     c.Name,
		Metadata: c.Metadata,
	}
}

func toSubscription(s *stripelib.Subscription) *subscription.Subscription {
	status, err := subscription.ParseStatus(string(s.Status))
	if err != nil {
		status = subscription.StatusIncomplete
	}

	out := &subscription.Subscription{
		ID:                 s.ID,
		AccountID:          s.Metadata[webhook.MetaAccountID],
		PlanID:             plan.ID(s.Metadata[webhook.MetaPlanID]),
		Status:             status,
		CurrentPeriodStart: unix(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unix(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		UpdatedAt:          time.Now().UTC(),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CancelAt > 0 {
		t := unix(s.CancelAt)
		out.CancelAt = &t
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			out.ItemID = item.ID
			out.PriceID = item.Price.ID
			break
		}
	}
	return out
}

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// mapError translates Stripe errors into provider sentinels. The returned
// error keeps the original message but never the request or credentials.
func mapError(op string, err error) error {
	var serr *stripelib.Error
	if !errors.As(err, &serr) {
		return fmt.Errorf("stripe: %s: %w", op, err)
	}

	msg := strings.TrimSpace(serr.Msg)
	switch {
	case serr.Code == stripelib.ErrorCodeResourceMissing:
		return fmt.Errorf("stripe: %s: %s: %w", op, msg, provider.ErrNotFound)
	case serr.Type == stripelib.ErrorTypeCard:
		return fmt.Errorf("stripe: %s: %s: %w", op, msg, provider.ErrPaymentDeclined)
	default:
		return fmt.Errorf("stripe: %s: %s (%s)", op, msg, serr.Type)
	}
}
