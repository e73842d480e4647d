package billing

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCustomerLink is returned by stores for a link without owner or customer id.
var ErrInvalidCustomerLink = errors.New("customer link requires owner and customer id")

// CustomerLink ties an application user to a payment-processor customer.
type CustomerLink struct {
	OwnerID    string
	TenantID   string
	CustomerID string
	UpdatedAt  time.Time
}

// Validate reports ErrInvalidCustomerLink when a required id is blank.
func (l *CustomerLink) Validate() error {
	if l == nil || l.OwnerID == "" || l.CustomerID == "" {
		return ErrInvalidCustomerLink
	}
	return nil
}

// CustomerStore persists customer links. GetCustomerLink returns
// ErrCustomerNotFound when no link exists.
type CustomerStore interface {
	GetCustomerLink(ctx context.Context, ownerID string) (*CustomerLink, error)
	SetCustomerLink(ctx context.Context, link *CustomerLink) error
}
