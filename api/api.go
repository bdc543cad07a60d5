// Package api exposes the billing engine over HTTP.
//
// Routes are mounted on a chi router. Identity comes from the host's auth
// layer: by default the caller is read from the request context (see
// WithIdentity), and WithIdentityResolver swaps that for any other source.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
)

// MaxWebhookBytes caps the webhook request body.
const MaxWebhookBytes = 1 << 20

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Stripe-Signature"

// IdentityResolver extracts the authenticated caller from a request.
type IdentityResolver func(r *http.Request) (billing.Identity, bool)

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id billing.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (billing.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(billing.Identity)
	return id, ok && id.AccountID != ""
}

func contextIdentity(r *http.Request) (billing.Identity, bool) {
	return IdentityFrom(r.Context())
}

// API serves the billing routes.
type API struct {
	eng      *billing.Engine
	identity IdentityResolver
	logger   *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithIdentityResolver replaces the context-based identity lookup.
func WithIdentityResolver(fn IdentityResolver) Option {
	return func(a *API) {
		if fn != nil {
			a.identity = fn
		}
	}
}

// WithLogger sets the logger. The engine's logger is the default.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New returns an API over eng.
func New(eng *billing.Engine, opts ...Option) *API {
	a := &API{
		eng:      eng,
		identity: contextIdentity,
		logger:   eng.Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "billing-api")
	return a
}

// Routes returns the billing router. Everything except the webhook and
// pricing routes needs an identity, and routes naming an account only
// serve the caller's own.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	// Signature verification needs the untouched body.
	r.Post("/webhook", a.handleWebhook)
	r.Get("/pricing", a.handlePricing)

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)
		jsonOnly := chimw.AllowContentType("application/json")

		r.With(jsonOnly).Post("/checkout", a.handleCheckout)
		r.With(jsonOnly).Post("/portal", a.handlePortal)
		r.Post("/subscriptions/{id}/cancel", a.handleCancel)
		r.Post("/subscriptions/{id}/reactivate", a.handleReactivate)
		r.With(jsonOnly).Post("/subscriptions/{id}/change-plan", a.handleChangePlan)
		r.Delete("/payment-methods/{id}", a.handleDeletePaymentMethod)

		r.Group(func(r chi.Router) {
			r.Use(a.sameAccount)
			r.Get("/usage/{accountID}", a.handleUsage)
			r.Get("/subscription/{accountID}", a.handleSubscription)
			r.Get("/customers/{accountID}", a.handleGetCustomer)
			r.With(jsonOnly).Patch("/customers/{accountID}", a.handleUpdateCustomer)
			r.Get("/customers/{accountID}/invoices", a.handleInvoices)
			r.Get("/customers/{accountID}/payment-methods", a.handlePaymentMethods)
		})
	})

	return r
}

// authenticate resolves the caller and stores it in the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := a.identity(r)
		if !ok || id.AccountID == "" {
			writeError(w, billing.ErrNoAuth)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// sameAccount rejects requests whose {accountID} is not the caller's.
func (a *API) sameAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "accountID") != caller(r).AccountID {
			writeError(w, billing.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// caller returns the identity placed by authenticate.
func caller(r *http.Request) billing.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}
