// Package api exposes authenticated JSON endpoints for starting checkouts,
// opening the billing portal and inspecting the caller's customer link.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
)

const (
	defaultMaxBodyBytes = 64 << 10

	modeSubscription = "subscription"
	modePayment      = "payment"
)

var (
	errUnauthorized   = errors.New("authentication required")
	errInvalidRequest = errors.New("invalid request")
	errModeNotAllowed = errors.New("checkout mode not supported by provider")
)

// paymentCheckout is implemented by providers that support one-time payments.
type paymentCheckout interface {
	CheckoutURLForPayment(ctx context.Context, owner billing.Owner, plan, successURL, cancelURL string) (string, error)
}

// Handler provides HTTP endpoints for billing self-service
type Handler struct {
	config   Config
	validate *validator.Validate
	logger   logging.Logger
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// Checkout handles POST /billing/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.config.GetPrincipal(r)
	if !ok {
		h.handleError(w, r, errUnauthorized)
		return
	}

	var req CheckoutRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	owner := billing.Owner{
		ID:       principal.SubjectID,
		TenantID: principal.TenantID,
		Email:    principal.Email,
	}
	successURL := firstNonEmpty(req.SuccessURL, h.config.DefaultSuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, h.config.DefaultCancelURL)

	var (
		url string
		err error
	)
	switch req.Mode {
	case "", modeSubscription:
		url, err = h.config.Provider.CheckoutURL(r.Context(), owner, req.Plan, successURL, cancelURL)
	case modePayment:
		pc, ok := h.config.Provider.(paymentCheckout)
		if !ok {
			err = errModeNotAllowed
			break
		}
		url, err = pc.CheckoutURLForPayment(r.Context(), owner, req.Plan, successURL, cancelURL)
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{URL: url})
}

// Portal handles POST /billing/portal.
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.config.GetPrincipal(r)
	if !ok {
		h.handleError(w, r, errUnauthorized)
		return
	}

	var req PortalRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	url, err := h.config.Provider.PortalURL(r.Context(), principal.SubjectID,
		firstNonEmpty(req.ReturnURL, h.config.DefaultReturnURL))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{URL: url})
}

// GetCustomer handles GET /billing/customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.config.GetPrincipal(r)
	if !ok {
		h.handleError(w, r, errUnauthorized)
		return
	}

	link, err := h.config.Provider.Customer(r.Context(), principal.SubjectID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CustomerResponse{
		OwnerID:    link.OwnerID,
		TenantID:   link.TenantID,
		CustomerID: link.CustomerID,
		UpdatedAt:  link.UpdatedAt,
	})
}

// decode reads a JSON body into dst and validates it. An empty body is
// treated as an empty object.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	return nil
}

// statusFor maps an error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, errUnauthorized.Error()
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, errInvalidRequest.Error()
	case errors.Is(err, errModeNotAllowed):
		return http.StatusBadRequest, errModeNotAllowed.Error()
	case errors.Is(err, billing.ErrPlanNotConfigured):
		return http.StatusBadRequest, "unknown plan"
	case errors.Is(err, billing.ErrMissingMetadata):
		return http.StatusBadRequest, errInvalidRequest.Error()
	case errors.Is(err, billing.ErrCustomerNotFound):
		return http.StatusNotFound, "customer not found"
	case errors.Is(err, identity.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("billing api request failed",
			logging.F("path", r.URL.Path),
			logging.F("status", code),
			logging.F("error", err),
		)
	}
	writeJSON(w, code, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // Response already committed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
