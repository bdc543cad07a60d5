// Package customer maps local accounts to payment-processor customers.
package customer

import (
	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
)

// Customer is the persisted account ↔ processor mapping. An account has at
// most one customer.
type Customer struct {
	types.Entity
	ID         id.CustomerID `json:"id"`
	AccountID  string        `json:"account_id"`
	ExternalID string        `json:"external_id"`
	Email      string        `json:"email"`
	Name       string        `json:"name,omitempty"`
}

// Account is the identity handed over by the session layer.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Update carries optional profile changes pushed to the processor.
type Update struct {
	Email *string `json:"email,omitempty"`
	Name  *string `json:"name,omitempty"`
}

// IsEmpty reports whether u changes nothing.
func (u Update) IsEmpty() bool {
	return u.Email == nil && u.Name == nil
}
