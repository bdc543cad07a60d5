package billing

import (
	"context"
	"errors"
	"slices"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/BitCodeHub/stackaudit-ai-sub001/customer"
	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
	"github.com/BitCodeHub/stackaudit-ai-sub001/webhook"
)

// Customers maps accounts to processor customers.
type Customers struct {
	e     *Engine
	group singleflight.Group
}

// IdempotencyKey is the processor idempotency key used when creating the
// customer of accountID.
func IdempotencyKey(accountID string) string {
	return "customer-" + accountID
}

// GetOrCreate returns the customer mapped to acct, creating it on first
// use. Concurrent calls for the same account in this process share one
// creation; across processes the idempotency key and the store's unique
// account constraint converge on a single customer.
func (c *Customers) GetOrCreate(ctx context.Context, acct customer.Account) (*customer.Customer, error) {
	acct.ID = strings.TrimSpace(acct.ID)
	acct.Email = strings.TrimSpace(acct.Email)
	if acct.ID == "" || acct.Email == "" {
		return nil, ErrInvalidAccount
	}

	cust, err := c.e.store.GetCustomer(ctx, acct.ID)
	if err == nil {
		return cust, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, wrapFailure(CodeCustomerCreateFailed, "failed to load customer", err)
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(acct.ID, func() (any, error) {
		return c.create(flightCtx, acct)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*customer.Customer), nil //nolint:errcheck // create always returns *customer.Customer
	}
}

func (c *Customers) create(ctx context.Context, acct customer.Account) (*customer.Customer, error) {
	// A flight that finished just before this one was scheduled may have
	// created the mapping already.
	if cust, err := c.e.store.GetCustomer(ctx, acct.ID); err == nil {
		return cust, nil
	}

	ext, err := c.e.provider.FindCustomer(ctx, acct.Email, acct.ID)
	if err == nil && ext.Metadata[webhook.MetaAccountID] != "" && ext.Metadata[webhook.MetaAccountID] != acct.ID {
		ext, err = nil, provider.ErrNotFound
	}
	if errors.Is(err, provider.ErrNotFound) {
		ext, err = c.e.provider.CreateCustomer(ctx, provider.CustomerParams{
			AccountID:      acct.ID,
			Email:          acct.Email,
			Name:           acct.Name,
			IdempotencyKey: IdempotencyKey(acct.ID),
		})
	}
	if err != nil {
		return nil, wrapFailure(CodeCustomerCreateFailed, "failed to create customer", err)
	}

	cust := &customer.Customer{
		Entity:     types.EntityAt(c.e.now()),
		ID:         id.NewCustomerID(),
		AccountID:  acct.ID,
		ExternalID: ext.ID,
		Email:      acct.Email,
		Name:       acct.Name,
	}
	if err := c.e.store.CreateCustomer(ctx, cust); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return c.e.store.GetCustomer(ctx, acct.ID)
		}
		return nil, wrapFailure(CodeCustomerCreateFailed, "failed to save customer", err)
	}

	c.e.logger.Info("billing customer created",
		"account_id", acct.ID,
		"customer_id", ext.ID,
	)
	c.e.plugins.EmitCustomerCreated(ctx, cust)

	return cust, nil
}

// Lookup returns the local mapping of accountID without calling the
// processor.
func (c *Customers) Lookup(ctx context.Context, accountID string) (*customer.Customer, error) {
	cust, err := c.e.store.GetCustomer(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	return cust, err
}

// Get fetches a customer from the processor. Any failure reports
// CUSTOMER_NOT_FOUND.
func (c *Customers) Get(ctx context.Context, externalID string) (*provider.Customer, error) {
	cust, err := c.e.provider.GetCustomer(ctx, externalID)
	if err != nil {
		return nil, &Error{Code: CodeCustomerNotFound, Message: "customer not found", Detail: err.Error(), Err: err}
	}
	return cust, nil
}

// Update pushes profile changes to the processor and mirrors them locally.
func (c *Customers) Update(ctx context.Context, externalID string, u customer.Update) (*provider.Customer, error) {
	cust, err := c.e.provider.UpdateCustomer(ctx, externalID, u)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodeCustomerUpdateFailed, "failed to update customer", err)
	}

	if local, err := c.e.store.GetCustomerByExternalID(ctx, externalID); err == nil {
		if u.Email != nil {
			local.Email = *u.Email
		}
		if u.Name != nil {
			local.Name = *u.Name
		}
		local.Touch()
		if err := c.e.store.UpdateCustomer(ctx, local); err != nil {
			c.e.logger.Warn("billing: failed to mirror customer update",
				"customer_id", externalID,
				"error", err,
			)
		}
	}

	return cust, nil
}

// PaymentMethods lists the customer's cards.
func (c *Customers) PaymentMethods(ctx context.Context, externalID string) ([]provider.PaymentMethod, error) {
	pms, err := c.e.provider.ListPaymentMethods(ctx, externalID)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, wrapFailure(CodePaymentMethodsFailed, "failed to list payment methods", err)
	}
	return pms, nil
}

// DeletePaymentMethod detaches one of externalID's payment methods. A
// method attached to any other customer reports PAYMENT_METHOD_NOT_FOUND.
func (c *Customers) DeletePaymentMethod(ctx context.Context, externalID, paymentMethodID string) error {
	pms, err := c.PaymentMethods(ctx, externalID)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(pms, func(pm provider.PaymentMethod) bool { return pm.ID == paymentMethodID }) {
		return ErrPaymentMethodNotFound
	}

	err = c.e.provider.DetachPaymentMethod(ctx, paymentMethodID)
	if errors.Is(err, provider.ErrNotFound) {
		return ErrPaymentMethodNotFound
	}
	return wrapFailure(CodePaymentMethodsFailed, "failed to detach payment method", err)
}
