package stripe

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	stripelib "github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	evt "github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

const testSecret = "whsec_test_secret"

func signedPayload(t *testing.T, secret, payload string) ([]byte, string) {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestVerifierAcceptsSignedPayload(t *testing.T) {
	payload := `{"id":"evt_1","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_1","status":"canceled"}}}`
	body, header := signedPayload(t, testSecret, payload)

	ev, err := NewVerifier(testSecret).Verify(body, header)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ev.ID != "evt_1" || ev.Kind != evt.KindSubscriptionDeleted || ev.ObjectID != "sub_1" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestVerifierRejects(t *testing.T) {
	payload := `{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	body, header := signedPayload(t, testSecret, payload)
	tampered := []byte(strings.Replace(string(body), "in_1", "in_2", 1))

	tests := []struct {
		name     string
		verifier *Verifier
		body     []byte
		header   string
		want     error
	}{
		{"tampered body", NewVerifier(testSecret), tampered, header, provider.ErrInvalidSignature},
		{"wrong secret", NewVerifier("whsec_other"), body, header, provider.ErrInvalidSignature},
		{"missing header", NewVerifier(testSecret), body, "", provider.ErrInvalidSignature},
		{"no secret", NewVerifier(""), body, header, provider.ErrWebhookNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.Verify(tt.body, tt.header)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMapError(t *testing.T) {
	missing := &stripelib.Error{Code: stripelib.ErrorCodeResourceMissing, Type: stripelib.ErrorTypeInvalidRequest, Msg: "No such customer"}
	if err := mapError("get customer", missing); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("resource_missing should map to ErrNotFound, got %v", err)
	}

	card := &stripelib.Error{Type: stripelib.ErrorTypeCard, Msg: "Your card was declined."}
	if err := mapError("update subscription", card); !errors.Is(err, provider.ErrPaymentDeclined) {
		t.Errorf("card error should map to ErrPaymentDeclined, got %v", err)
	}

	api := &stripelib.Error{Type: stripelib.ErrorTypeAPI, Msg: "boom"}
	err := mapError("list invoices", api)
	if errors.Is(err, provider.ErrNotFound) || errors.Is(err, provider.ErrPaymentDeclined) {
		t.Errorf("api error should not map to a sentinel, got %v", err)
	}

	plain := fmt.Errorf("dial tcp: timeout")
	if err := mapError("get subscription", plain); !errors.Is(err, plain) {
		t.Errorf("non-stripe errors should be wrapped, got %v", err)
	}
}

func TestCreateCheckoutSessionSendsMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		want := map[string]string{
			"customer":                            "cus_1",
			"mode":                                "subscription",
			"allow_promotion_codes":               "true",
			"line_items[0][price]":                "price_pro_monthly",
			"metadata[userId]":                    "acct_1",
			"metadata[planId]":                    "pro",
			"subscription_data[metadata][userId]": "acct_1",
			"subscription_data[metadata][planId]": "pro",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s: got %q, want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example/cs_test_1"}`))
	}))
	defer srv.Close()

	c := New("sk_test_123", WithBaseURL(srv.URL))
	sess, err := c.CreateCheckoutSession(t.Context(), provider.CheckoutParams{
		CustomerID: "cus_1",
		AccountID:  "acct_1",
		PlanID:     "pro",
		PriceID:    "price_pro_monthly",
		SuccessURL: "https://app.example/billing/success",
		CancelURL:  "https://app.example/pricing",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession error: %v", err)
	}
	if sess.ID != "cs_test_1" || sess.URL != "https://checkout.example/cs_test_1" {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestGetCustomerNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such customer: 'cus_gone'"}}`))
	}))
	defer srv.Close()

	c := New("sk_test_123", WithBaseURL(srv.URL))
	if _, err := c.GetCustomer(t.Context(), "cus_gone"); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
