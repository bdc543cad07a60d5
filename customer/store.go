package customer

import "context"

// Store persists customer mappings. CreateCustomer returns
// billing.ErrAlreadyExists when the account is already mapped.
type Store interface {
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, accountID string) (*Customer, error)
	GetCustomerByExternalID(ctx context.Context, externalID string) (*Customer, error)
	UpdateCustomer(ctx context.Context, c *Customer) error
}
