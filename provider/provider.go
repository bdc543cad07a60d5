// Package provider defines the payment-processor boundary. The engine never
// talks to a processor SDK directly; it goes through Provider and Verifier.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

var (
	// ErrNotFound is returned when the processor has no such object.
	ErrNotFound = errors.New("provider: not found")
	// ErrPaymentDeclined is returned for card and payment errors.
	ErrPaymentDeclined = errors.New("provider: payment declined")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("provider: invalid webhook signature")
	// ErrWebhookNotConfigured is returned when no signing secret is set.
	ErrWebhookNotConfigured = errors.New("provider: webhook secret not configured")
)

// Provider is the subset of a payment processor the engine consumes. Calls
// are not retried; callers own retry policy.
type Provider interface {
	// FindCustomer searches by email, preferring a customer whose metadata
	// names accountID. It returns ErrNotFound when nothing matches.
	FindCustomer(ctx context.Context, email, accountID string) (*Customer, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	UpdateCustomer(ctx context.Context, customerID string, u customer.Update) (*Customer, error)

	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error

	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)

	// ActiveSubscription returns the customer's entitled subscription, or
	// nil with no error when there is none.
	ActiveSubscription(ctx context.Context, customerID string) (*subscription.Subscription, error)
	GetSubscription(ctx context.Context, subID string) (*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, subID string, u SubscriptionUpdate) (*subscription.Subscription, error)

	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)
}

// Verifier authenticates webhook deliveries.
type Verifier interface {
	Verify(payload []byte, header string) (*webhook.Event, error)
}

type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CustomerParams creates a customer. IdempotencyKey makes a retried create
// return the first result.
type CustomerParams struct {
	AccountID      string
	Email          string
	Name           string
	IdempotencyKey string
}

type PaymentMethod struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int64  `json:"expMonth,omitempty"`
	ExpYear  int64  `json:"expYear,omitempty"`
}

type CheckoutParams struct {
	CustomerID string
	AccountID  string
	PlanID     plan.ID
	PriceID    string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

type PortalSession struct {
	URL string `json:"url"`
}

// SubscriptionUpdate mutates a subscription. Zero fields are left alone.
type SubscriptionUpdate struct {
	CancelAtPeriodEnd *bool
	ItemID            string
	PriceID           string
	PlanID            plan.ID
	Prorate           bool
}

type Invoice struct {
	ID          string    `json:"id"`
	Number      string    `json:"number,omitempty"`
	Status      string    `json:"status"`
	AmountDue   int64     `json:"amountDue"`
	AmountPaid  int64     `json:"amountPaid"`
	Currency    string    `json:"currency"`
	Created     time.Time `json:"created"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	HostedURL   string    `json:"hostedInvoiceUrl,omitempty"`
	PDFURL      string    `json:"pdfUrl,omitempty"`
}
