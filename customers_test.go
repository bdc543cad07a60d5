package billing_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

func TestGetOrCreateConcurrentCreatesOneCustomer(t *testing.T) {
	h := newHarness(t)
	h.fake.Latency = 5 * time.Millisecond
	ctx := context.Background()
	acct := customer.Account{ID: "acct_1", Email: "one@example.com"}

	const n = 20
	var (
		wg  sync.WaitGroup
		ids = make([]string, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := h.eng.Customers().GetOrCreate(ctx, acct)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			ids[i] = c.ExternalID
		}()
	}
	wg.Wait()

	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("caller %d got customer %s, caller 0 got %s", i, id, ids[0])
		}
	}
	if got := h.fake.CustomerCount(); got != 1 {
		t.Errorf("processor customers: got %d, want 1", got)
	}
	if got := h.fake.CreateCustomerCalls(); got != 1 {
		t.Errorf("CreateCustomer calls: got %d, want 1", got)
	}
}

func TestGetOrCreateAcrossEnginesConverges(t *testing.T) {
	// Two engines over one store and one processor behave like two
	// processes: the idempotency key and the store's uniqueness agree.
	a := newHarness(t)
	b := billing.New(a.store, a.fake, billing.WithClock(a.clock.Now), billing.WithSweepSchedule(""))

	ctx := context.Background()
	acct := customer.Account{ID: "acct_1", Email: "one@example.com"}

	var wg sync.WaitGroup
	results := make([]*customer.Customer, 2)
	for i, eng := range []*billing.Engine{a.eng, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := eng.Customers().GetOrCreate(ctx, acct)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			results[i] = c
		}()
	}
	wg.Wait()

	if results[0] == nil || results[1] == nil {
		t.FailNow()
	}
	if results[0].ExternalID != results[1].ExternalID {
		t.Errorf("engines disagree: %s vs %s", results[0].ExternalID, results[1].ExternalID)
	}
	if got := a.fake.CustomerCount(); got != 1 {
		t.Errorf("processor customers: got %d, want 1", got)
	}
}

func TestGetOrCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		acct customer.Account
	}{
		{"missing id", customer.Account{Email: "a@example.com"}},
		{"missing email", customer.Account{ID: "acct_1"}},
		{"blank", customer.Account{ID: "  ", Email: " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.eng.Customers().GetOrCreate(ctx, tt.acct)
			if !errors.Is(err, billing.ErrInvalidAccount) {
				t.Fatalf("got %v, want ErrInvalidAccount", err)
			}
			if billing.StatusCode(err) != http.StatusBadRequest {
				t.Errorf("status: got %d", billing.StatusCode(err))
			}
		})
	}
	if h.fake.CreateCustomerCalls() != 0 {
		t.Error("invalid account reached the processor")
	}
}

func TestGetOrCreateAdoptsProcessorCustomer(t *testing.T) {
	h := newHarness(t)
	h.fake.AddCustomer(provider.Customer{
		ID:       "cus_existing",
		Email:    "a@example.com",
		Metadata: map[string]string{webhook.MetaAccountID: "acct_1"},
	})

	c, err := h.eng.Customers().GetOrCreate(context.Background(), customer.Account{ID: "acct_1", Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if c.ExternalID != "cus_existing" {
		t.Errorf("ExternalID: got %s, want cus_existing", c.ExternalID)
	}
	if h.fake.CreateCustomerCalls() != 0 {
		t.Error("created a customer although one existed")
	}
}

func TestGetOrCreateIgnoresOtherAccountsCustomer(t *testing.T) {
	h := newHarness(t)
	h.fake.AddCustomer(provider.Customer{
		ID:       "cus_other",
		Email:    "shared@example.com",
		Metadata: map[string]string{webhook.MetaAccountID: "acct_other"},
	})

	c, err := h.eng.Customers().GetOrCreate(context.Background(), customer.Account{ID: "acct_1", Email: "shared@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if c.ExternalID == "cus_other" {
		t.Error("adopted a customer belonging to another account")
	}

	lookup, err := h.eng.Customers().Lookup(context.Background(), "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if lookup.ExternalID != c.ExternalID {
		t.Errorf("Lookup: got %s, want %s", lookup.ExternalID, c.ExternalID)
	}
}

func TestGetOrCreateProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.SetErr(errors.New("connection reset"))

	_, err := h.eng.Customers().GetOrCreate(context.Background(), customer.Account{ID: "acct_1", Email: "a@example.com"})
	if billing.CodeOf(err) != billing.CodeCustomerCreateFailed {
		t.Fatalf("code: got %q, want CUSTOMER_CREATE_FAILED", billing.CodeOf(err))
	}
	if !billing.IsRetryable(err) {
		t.Error("transport failure not retryable")
	}
	if billing.StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("status: got %d", billing.StatusCode(err))
	}
}

func TestCustomerLookupAndGet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.eng.Customers().Lookup(ctx, "nobody"); !errors.Is(err, billing.ErrCustomerNotFound) {
		t.Errorf("Lookup: got %v", err)
	}
	if _, err := h.eng.Customers().Get(ctx, "cus_missing"); billing.CodeOf(err) != billing.CodeCustomerNotFound {
		t.Errorf("Get missing: got %v", err)
	}

	c, err := h.eng.Customers().GetOrCreate(ctx, customer.Account{ID: "acct_1", Email: "a@example.com", Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.eng.Customers().Get(ctx, c.ExternalID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Ada" || got.Metadata[webhook.MetaAccountID] != "acct_1" {
		t.Errorf("processor customer: %+v", got)
	}
}

func TestCustomerUpdateMirrorsLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.eng.Customers().GetOrCreate(ctx, customer.Account{ID: "acct_1", Email: "old@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	email := "new@example.com"
	if _, err := h.eng.Customers().Update(ctx, c.ExternalID, customer.Update{Email: &email}); err != nil {
		t.Fatal(err)
	}

	local, err := h.eng.Customers().Lookup(ctx, "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if local.Email != email {
		t.Errorf("local email: got %s, want %s", local.Email, email)
	}

	if _, err := h.eng.Customers().Update(ctx, "cus_missing", customer.Update{Email: &email}); !errors.Is(err, billing.ErrCustomerNotFound) {
		t.Errorf("stale id: got %v", err)
	}
}

func TestPaymentMethods(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.eng.Customers().GetOrCreate(ctx, customer.Account{ID: "acct_1", Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	h.fake.AddPaymentMethod(c.ExternalID, provider.PaymentMethod{ID: "pm_1", Type: "card", Brand: "visa", Last4: "4242"})

	pms, err := h.eng.Customers().PaymentMethods(ctx, c.ExternalID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pms) != 1 || pms[0].Last4 != "4242" {
		t.Fatalf("payment methods: %+v", pms)
	}

	other, err := h.eng.Customers().GetOrCreate(ctx, customer.Account{ID: "acct_other", Email: "other@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.eng.Customers().DeletePaymentMethod(ctx, other.ExternalID, "pm_1"); !errors.Is(err, billing.ErrPaymentMethodNotFound) {
		t.Errorf("detach through another customer: got %v", err)
	}
	if pms, _ := h.eng.Customers().PaymentMethods(ctx, c.ExternalID); len(pms) != 1 {
		t.Fatalf("foreign detach removed the card: %+v", pms)
	}

	if err := h.eng.Customers().DeletePaymentMethod(ctx, c.ExternalID, "pm_1"); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.Customers().DeletePaymentMethod(ctx, c.ExternalID, "pm_1"); billing.CodeOf(err) != billing.CodePaymentMethodNotFound {
		t.Errorf("second detach: got %v", err)
	}
	if _, err := h.eng.Customers().PaymentMethods(ctx, "cus_missing"); !errors.Is(err, billing.ErrCustomerNotFound) {
		t.Errorf("stale id: got %v", err)
	}

	h.fake.SetErr(errors.New("timeout"))
	if _, err := h.eng.Customers().PaymentMethods(ctx, c.ExternalID); billing.CodeOf(err) != billing.CodePaymentMethodsFailed {
		t.Errorf("transport failure: got %v", err)
	}
}
