package stripe

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	evt "github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

var _ provider.Verifier = (*Verifier)(nil)

// Verifier checks the Stripe-Signature header against a signing secret.
type Verifier struct {
	secret string
	now    func() time.Time
}

// NewVerifier returns a verifier for secret. An empty secret rejects every
// payload with provider.ErrWebhookNotConfigured.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret), now: time.Now}
}

func (v *Verifier) Verify(payload []byte, header string) (*evt.Event, error) {
	if v.secret == "" {
		return nil, provider.ErrWebhookNotConfigured
	}
	if strings.TrimSpace(header) == "" {
		return nil, provider.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, provider.ErrInvalidSignature
	}

	var raw []byte
	if event.Data != nil {
		raw = event.Data.Raw
	}
	return evt.NewEvent(event.ID, string(event.Type), raw, v.now()), nil
}
