package billing

import (
	"context"
	"net/http"
)

// Provider is the interface the HTTP surface needs from a payment backend.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that verifies and reconciles events.
	WebhookHandler() http.Handler

	// CheckoutURL opens a hosted checkout for plan and returns its URL.
	CheckoutURL(ctx context.Context, owner Owner, plan, successURL, cancelURL string) (string, error)

	// PortalURL opens a self-service billing portal session for the owner.
	PortalURL(ctx context.Context, ownerID, returnURL string) (string, error)

	// Customer returns the owner's customer link.
	Customer(ctx context.Context, ownerID string) (*CustomerLink, error)
}

// Owner identifies the application user paying for a plan.
type Owner struct {
	ID       string
	TenantID string
	Email    string
}
