package billing

import (
	"time"

	"github.com/mihaimyh/toxbook/pkg/entitlement"
)

// EventKind is the closed set of processor events the reconciler distinguishes.
type EventKind int

const (
	// EventUnrecognized is any event type this service does not know. It is acknowledged and ignored.
	EventUnrecognized EventKind = iota
	EventPaymentSucceeded
	EventCheckoutCompleted
	EventPaymentFailed
	EventCustomerCreated
)

func (k EventKind) String() string {
	switch k {
	case EventPaymentSucceeded:
		return "payment_succeeded"
	case EventCheckoutCompleted:
		return "checkout_completed"
	case EventPaymentFailed:
		return "payment_failed"
	case EventCustomerCreated:
		return "customer_created"
	default:
		return "unrecognized"
	}
}

// State is a reconciliation state.
type State int

const (
	StateVerifying State = iota
	StateDispatching
	StateApplying
	StateIgnoring
	StateDone
)

func (s State) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateDispatching:
		return "dispatching"
	case StateApplying:
		return "applying"
	case StateIgnoring:
		return "ignoring"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome labels for logs and metrics.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeFailed  = "failed"
)

// Result is the terminal outcome of reconciling one webhook delivery.
type Result struct {
	EventID   string
	EventType string
	Kind      EventKind

	// State is the last state reached. StateDone on success, the failing state otherwise.
	State State

	// Grant is set when the event reached Applying.
	Grant *entitlement.GrantRequest

	// Created is the processor's event timestamp.
	Created time.Time

	Err error
}

// Applied reports whether group membership was granted.
func (r *Result) Applied() bool {
	return r.Err == nil && r.Grant != nil && !r.Grant.Empty()
}

// Outcome is applied, ignored or failed.
func (r *Result) Outcome() string {
	switch {
	case r.Err != nil:
		return OutcomeFailed
	case r.Applied():
		return OutcomeApplied
	default:
		return OutcomeIgnored
	}
}

// StatusCode is the HTTP status for this result.
func (r *Result) StatusCode() int {
	return StatusCode(r.Err)
}
