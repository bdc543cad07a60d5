package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
)

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, billing.CodeInvalidWebhook, "payload too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, billing.CodeInvalidWebhook, "failed to read body")
		return
	}

	header := r.Header.Get(SignatureHeader)
	if header == "" {
		writeMessage(w, http.StatusBadRequest, billing.CodeInvalidWebhook, "missing "+SignatureHeader+" header")
		return
	}

	res, err := a.eng.Webhooks().Receive(r.Context(), payload, header)
	if err != nil {
		a.logger.Warn("webhook verification failed", "error", err)
		writeError(w, err)
		return
	}
	if res.Failed() {
		a.logger.Error("webhook handler failed",
			"event_id", res.EventID,
			"type", res.Type,
			"error", res.Err,
		)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (a *API) handlePricing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": a.eng.Catalog().Pricing()})
}

type checkoutRequest struct {
	PlanID     plan.ID `json:"planId"`
	Email      string  `json:"email,omitempty"`
	Name       string  `json:"name,omitempty"`
	SuccessURL string  `json:"successUrl,omitempty"`
	CancelURL  string  `json:"cancelUrl,omitempty"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	id := caller(r)

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, billing.CodeInvalidPlan, "invalid request body")
		return
	}
	if req.Email == "" {
		req.Email = id.Email
	}

	sess, err := a.eng.Subscriptions().CreateCheckoutSession(r.Context(), billing.CheckoutRequest{
		Account:    customer.Account{ID: id.AccountID, Email: req.Email, Name: req.Name},
		PlanID:     req.PlanID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handlePortal(w http.ResponseWriter, r *http.Request) {
	id := caller(r)

	var req struct {
		ReturnURL string `json:"returnUrl,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeMessage(w, http.StatusBadRequest, "", "invalid request body")
			return
		}
	}

	cust, err := a.eng.Customers().Lookup(r.Context(), id.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := a.eng.Subscriptions().CreatePortalSession(r.Context(), cust.ExternalID, req.ReturnURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleUsage(w http.ResponseWriter, r *http.Request) {
	snap, err := a.eng.Usage().Get(r.Context(), caller(r).AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type subscriptionResponse struct {
	AccountID    string                     `json:"accountId"`
	Plan         plan.ID                    `json:"plan"`
	Subscription *subscription.Subscription `json:"subscription"`
}

// handleSubscription reports the entitled subscription. Accounts without
// a customer mapping have none and sit on their effective plan.
func (a *API) handleSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := caller(r).AccountID
	resp := subscriptionResponse{AccountID: accountID}

	cust, err := a.eng.Customers().Lookup(ctx, accountID)
	switch {
	case errors.Is(err, billing.ErrCustomerNotFound):
	case err != nil:
		writeError(w, err)
		return
	default:
		if resp.Subscription, err = a.eng.Subscriptions().GetActive(ctx, cust.ExternalID); err != nil {
			writeError(w, err)
			return
		}
	}

	p, err := a.eng.Usage().EffectivePlan(ctx, accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp.Plan = p.ID
	writeJSON(w, http.StatusOK, resp)
}

// ownedSubscription checks that {id} belongs to the caller and returns
// it, writing the error response itself on failure. Subscriptions of
// other customers are reported as missing.
func (a *API) ownedSubscription(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	cust, err := a.eng.Customers().Lookup(ctx, caller(r).AccountID)
	if errors.Is(err, billing.ErrCustomerNotFound) {
		err = billing.ErrSubscriptionNotFound
	}
	if err != nil {
		writeError(w, err)
		return "", false
	}

	sub, err := a.eng.Subscriptions().Owned(ctx, cust.ExternalID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return "", false
	}
	return sub.ID, true
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	subID, ok := a.ownedSubscription(w, r)
	if !ok {
		return
	}
	sub, err := a.eng.Subscriptions().Cancel(r.Context(), subID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleReactivate(w http.ResponseWriter, r *http.Request) {
	subID, ok := a.ownedSubscription(w, r)
	if !ok {
		return
	}
	sub, err := a.eng.Subscriptions().Reactivate(r.Context(), subID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID plan.ID `json:"planId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, billing.CodeInvalidPlan, "invalid request body")
		return
	}

	subID, ok := a.ownedSubscription(w, r)
	if !ok {
		return
	}
	sub, err := a.eng.Subscriptions().ChangePlan(r.Context(), subID, req.PlanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// lookupCustomer resolves the caller to its mapping, writing the error
// response itself on failure.
func (a *API) lookupCustomer(w http.ResponseWriter, r *http.Request) (*customer.Customer, bool) {
	cust, err := a.eng.Customers().Lookup(r.Context(), caller(r).AccountID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return cust, true
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	cust, ok := a.lookupCustomer(w, r)
	if !ok {
		return
	}
	remote, err := a.eng.Customers().Get(r.Context(), cust.ExternalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remote)
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var u customer.Update
	if err := decodeJSON(r, &u); err != nil {
		writeMessage(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if u.IsEmpty() {
		writeMessage(w, http.StatusBadRequest, "", "nothing to update")
		return
	}

	cust, ok := a.lookupCustomer(w, r)
	if !ok {
		return
	}
	remote, err := a.eng.Customers().Update(r.Context(), cust.ExternalID, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remote)
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	cust, ok := a.lookupCustomer(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	invs, err := a.eng.Subscriptions().Invoices(r.Context(), cust.ExternalID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invs})
}

func (a *API) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	cust, ok := a.lookupCustomer(w, r)
	if !ok {
		return
	}
	pms, err := a.eng.Customers().PaymentMethods(r.Context(), cust.ExternalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paymentMethods": pms})
}

func (a *API) handleDeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	cust, ok := a.lookupCustomer(w, r)
	if !ok {
		return
	}
	if err := a.eng.Customers().DeletePaymentMethod(r.Context(), cust.ExternalID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
