// Package providertest provides an in-memory payment processor for tests.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

var (
	_ provider.Provider = (*Fake)(nil)
	_ provider.Verifier = (*Verifier)(nil)
)

// Fake is a concurrency-safe in-memory processor. Create calls honour
// idempotency keys the way the real processor does.
type Fake struct {
	mu             sync.Mutex
	seq            int
	customers      map[string]*provider.Customer
	idempotent     map[string]string
	subscriptions  map[string]*subscription.Subscription
	paymentMethods map[string][]provider.PaymentMethod
	invoices       map[string][]provider.Invoice
	sessions       []provider.CheckoutParams

	// Latency delays every call, widening race windows in tests.
	Latency time.Duration
	// Err, when set, is returned by every call.
	Err error

	createCustomerCalls atomic.Int64
	activeCalls         atomic.Int64
}

func New() *Fake {
	return &Fake{
		customers:      make(map[string]*provider.Customer),
		idempotent:     make(map[string]string),
		subscriptions:  make(map[string]*subscription.Subscription),
		paymentMethods: make(map[string][]provider.PaymentMethod),
		invoices:       make(map[string][]provider.Invoice),
	}
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Latency > 0 {
		select {
		case <-time.After(f.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.Err
	f.mu.Unlock()
	return err
}

// SetErr makes every subsequent call fail with err. nil clears it.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

// CustomerCount returns how many distinct customers exist.
func (f *Fake) CustomerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.customers)
}

// CreateCustomerCalls returns how many CreateCustomer calls were made.
func (f *Fake) CreateCustomerCalls() int64 { return f.createCustomerCalls.Load() }

// ActiveSubscriptionCalls returns how many ActiveSubscription calls were made.
func (f *Fake) ActiveSubscriptionCalls() int64 { return f.activeCalls.Load() }

// Sessions returns the checkout sessions requested so far.
func (f *Fake) Sessions() []provider.CheckoutParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.CheckoutParams, len(f.sessions))
	copy(out, f.sessions)
	return out
}

// AddCustomer seeds a customer as if created outside the engine.
func (f *Fake) AddCustomer(c provider.Customer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := c
	f.customers[c.ID] = &cp
}

// PutSubscription seeds or replaces a subscription.
func (f *Fake) PutSubscription(s *subscription.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[s.ID] = s.Clone()
}

// AddPaymentMethod seeds a card for customerID.
func (f *Fake) AddPaymentMethod(customerID string, pm provider.PaymentMethod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentMethods[customerID] = append(f.paymentMethods[customerID], pm)
}

// AddInvoice seeds an invoice for customerID. Newest first.
func (f *Fake) AddInvoice(customerID string, inv provider.Invoice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices[customerID] = append([]provider.Invoice{inv}, f.invoices[customerID]...)
}

func (f *Fake) FindCustomer(ctx context.Context, email, accountID string) (*provider.Customer, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var first *provider.Customer
	for _, c := range f.customers {
		if !strings.EqualFold(c.Email, email) {
			continue
		}
		if accountID != "" && c.Metadata[webhook.MetaAccountID] == accountID {
			cp := *c
			return &cp, nil
		}
		if first == nil || c.ID < first.ID {
			first = c
		}
	}
	if first == nil {
		return nil, provider.ErrNotFound
	}
	cp := *first
	return &cp, nil
}

func (f *Fake) CreateCustomer(ctx context.Context, params provider.CustomerParams) (*provider.Customer, error) {
	f.createCustomerCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if params.IdempotencyKey != "" {
		if existing, ok := f.idempotent[params.IdempotencyKey]; ok {
			cp := *f.customers[existing]
			return &cp, nil
		}
	}

	c := &provider.Customer{
		ID:       f.nextID("cus"),
		Email:    params.Email,
		Name:     params.Name,
		Metadata: map[string]string{webhook.MetaAccountID: params.AccountID},
	}
	f.customers[c.ID] = c
	if params.IdempotencyKey != "" {
		f.idempotent[params.IdempotencyKey] = c.ID
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) GetCustomer(ctx context.Context, customerID string) (*provider.Customer, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.customers[customerID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) UpdateCustomer(ctx context.Context, customerID string, u customer.Update) (*provider.Customer, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.customers[customerID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	if u.Email != nil {
		c.Email = *u.Email
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) ListPaymentMethods(ctx context.Context, customerID string) ([]provider.PaymentMethod, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.customers[customerID]; !ok {
		return nil, provider.ErrNotFound
	}
	out := make([]provider.PaymentMethod, len(f.paymentMethods[customerID]))
	copy(out, f.paymentMethods[customerID])
	return out, nil
}

func (f *Fake) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for cust, pms := range f.paymentMethods {
		for i, pm := range pms {
			if pm.ID == paymentMethodID {
				f.paymentMethods[cust] = append(pms[:i:i], pms[i+1:]...)
				return nil
			}
		}
	}
	return provider.ErrNotFound
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, params provider.CheckoutParams) (*provider.CheckoutSession, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.customers[params.CustomerID]; !ok {
		return nil, provider.ErrNotFound
	}
	f.sessions = append(f.sessions, params)
	id := f.nextID("cs")
	return &provider.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (f *Fake) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*provider.PortalSession, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.customers[customerID]; !ok {
		return nil, provider.ErrNotFound
	}
	return &provider.PortalSession{URL: "https://portal.test/" + customerID + "?return=" + returnURL}, nil
}

func (f *Fake) ActiveSubscription(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	f.activeCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.subscriptions {
		if s.CustomerID == customerID && s.Entitled() {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (f *Fake) GetSubscription(ctx context.Context, subID string) (*subscription.Subscription, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.subscriptions[subID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return s.Clone(), nil
}

func (f *Fake) UpdateSubscription(ctx context.Context, subID string, u provider.SubscriptionUpdate) (*subscription.Subscription, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.subscriptions[subID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	if u.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
	}
	if u.PriceID != "" {
		s.PriceID = u.PriceID
	}
	if u.PlanID != "" {
		s.PlanID = u.PlanID
	}
	s.UpdatedAt = time.Now().UTC()
	return s.Clone(), nil
}

func (f *Fake) ListInvoices(ctx context.Context, customerID string, limit int) ([]provider.Invoice, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.customers[customerID]; !ok {
		return nil, provider.ErrNotFound
	}
	invs := f.invoices[customerID]
	if limit > 0 && len(invs) > limit {
		invs = invs[:limit]
	}
	out := make([]provider.Invoice, len(invs))
	copy(out, invs)
	return out, nil
}

// ──────────────────────────────────────────────────
// Verifier
// ──────────────────────────────────────────────────

// Verifier accepts payloads whose header equals Secret. The payload must be
// a processor event envelope.
type Verifier struct {
	Secret string
}

func (v *Verifier) Verify(payload []byte, header string) (*webhook.Event, error) {
	if v.Secret == "" {
		return nil, provider.ErrWebhookNotConfigured
	}
	if header != v.Secret {
		return nil, provider.ErrInvalidSignature
	}
	var env struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, provider.ErrInvalidSignature
	}
	return webhook.NewEvent(env.ID, env.Type, env.Data.Object, time.Now()), nil
}

// Envelope builds an event payload for eventType around object.
func Envelope(eventID, eventType string, object any) []byte {
	data, err := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return data
}
