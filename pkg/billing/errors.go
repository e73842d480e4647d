package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a signed webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrMissingMetadata is returned when an event lacks the fields reconciliation needs.
	// The redelivered event carries the same defect, so it is never retried.
	ErrMissingMetadata = errors.New("event metadata missing")

	// ErrConflict is returned when the event owner and the processor customer disagree
	ErrConflict = errors.New("event owner conflicts with customer record")

	// ErrDependencyFailure is returned when a collaborator failed after the retry budget
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrCustomerNotFound is returned when a customer cannot be found in the provider or store
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrPlanNotConfigured is returned when a plan is not in the plan catalogue
	ErrPlanNotConfigured = errors.New("plan not configured")
)

// ErrorKind is the reconciliation error taxonomy.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidSignature
	KindInvalidPayload
	KindMissingMetadata
	KindConflict
	KindDependencyFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidSignature:
		return "invalid_signature"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindMissingMetadata:
		return "missing_metadata"
	case KindConflict:
		return "conflict"
	case KindDependencyFailure:
		return "dependency_failure"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidSignature:
		return ErrInvalidWebhookSignature
	case KindInvalidPayload:
		return ErrInvalidWebhookPayload
	case KindMissingMetadata:
		return ErrMissingMetadata
	case KindConflict:
		return ErrConflict
	case KindDependencyFailure:
		return ErrDependencyFailure
	default:
		return nil
	}
}

// ReconcileError is a classified reconciliation failure.
type ReconcileError struct {
	Kind    ErrorKind
	EventID string
	Err     error
}

// NewReconcileError classifies err under kind.
func NewReconcileError(kind ErrorKind, eventID string, err error) *ReconcileError {
	return &ReconcileError{Kind: kind, EventID: eventID, Err: err}
}

func (e *ReconcileError) Error() string {
	msg := e.Kind.String()
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.EventID != "" {
		msg = fmt.Sprintf("%s (event %s)", msg, e.EventID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *ReconcileError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf classifies err. Unclassified errors are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidWebhookSignature):
		return KindInvalidSignature
	case errors.Is(err, ErrInvalidWebhookPayload):
		return KindInvalidPayload
	case errors.Is(err, ErrMissingMetadata):
		return KindMissingMetadata
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrDependencyFailure):
		return KindDependencyFailure
	}
	return KindUnknown
}

// Retryable reports whether redelivering the same event may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindDependencyFailure
}

// StatusCode maps err to the HTTP status returned to the payment processor.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindInvalidSignature, KindInvalidPayload, KindMissingMetadata:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindDependencyFailure:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
