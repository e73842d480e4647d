package api

import "time"

// CheckoutRequest opens a hosted checkout for a plan.
type CheckoutRequest struct {
	Plan       string `json:"plan" validate:"required,max=64"`
	Mode       string `json:"mode,omitempty" validate:"omitempty,oneof=subscription payment"`
	SuccessURL string `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

// PortalRequest opens a billing portal session.
type PortalRequest struct {
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`
}

// SessionResponse carries the hosted page the client should be redirected to.
type SessionResponse struct {
	URL string `json:"url"`
}

// CustomerResponse is the caller's link to the payment processor.
type CustomerResponse struct {
	OwnerID    string    `json:"owner_id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	CustomerID string    `json:"customer_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
