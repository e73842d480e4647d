package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// Stripe event type tags this service reacts to.
const (
	eventPaymentIntentSucceeded = "payment_intent.succeeded"
	eventPaymentIntentFailed    = "payment_intent.payment_failed"
	eventCheckoutCompleted      = "checkout.session.completed"
	eventCustomerCreated        = "customer.created"
)

// Checkout session payment states that mean the money is in.
const (
	paymentStatusPaid              = "paid"
	paymentStatusNoPaymentRequired = "no_payment_required"
)

// Event is a verified Stripe event reduced to what reconciliation reads.
type Event struct {
	ID      string
	Type    string
	Kind    billing.EventKind
	Created time.Time

	// ObjectID is the id of data.object (pi_..., cs_..., cus_...).
	ObjectID   string
	CustomerID string
	Metadata   map[string]string

	// PaymentStatus is set for checkout sessions.
	PaymentStatus string

	// InvoiceID is set for payment intents raised by a subscription invoice.
	InvoiceID string
}

// Successful reports whether the event confirms a payment.
func (e *Event) Successful() bool {
	switch e.Kind {
	case billing.EventPaymentSucceeded:
		return true
	case billing.EventCheckoutCompleted:
		return e.PaymentStatus == paymentStatusPaid || e.PaymentStatus == paymentStatusNoPaymentRequired
	default:
		return false
	}
}

// ClassifyEventType maps a Stripe event type to its EventKind.
func ClassifyEventType(t string) billing.EventKind {
	switch t {
	case eventPaymentIntentSucceeded:
		return billing.EventPaymentSucceeded
	case eventCheckoutCompleted:
		return billing.EventCheckoutCompleted
	case eventPaymentIntentFailed:
		return billing.EventPaymentFailed
	case eventCustomerCreated:
		return billing.EventCustomerCreated
	default:
		return billing.EventUnrecognized
	}
}

// eventObject covers the data.object fields of payment intents, checkout
// sessions and customers. In webhook payloads "customer" and "invoice" are
// id strings unless expanded.
type eventObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	Customer      json.RawMessage   `json:"customer"`
	Invoice       json.RawMessage   `json:"invoice"`
	Metadata      map[string]string `json:"metadata"`
	PaymentStatus string            `json:"payment_status"`
}

// expandableID reads an id field that is either a string or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err == nil {
		return expanded.ID
	}
	return ""
}

// decodeEvent reduces a stripe.Event. Unrecognized kinds are not decoded further.
func decodeEvent(se *stripe.Event) (*Event, error) {
	ev := &Event{
		ID:      se.ID,
		Type:    string(se.Type),
		Kind:    ClassifyEventType(string(se.Type)),
		Created: time.Unix(se.Created, 0).UTC(),
	}
	if ev.Kind == billing.EventUnrecognized {
		return ev, nil
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", billing.ErrInvalidWebhookPayload, se.ID)
	}

	var obj eventObject
	if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", billing.ErrInvalidWebhookPayload, ev.Type, err)
	}

	ev.ObjectID = obj.ID
	ev.Metadata = obj.Metadata
	ev.PaymentStatus = obj.PaymentStatus
	ev.InvoiceID = expandableID(obj.Invoice)
	if ev.Kind == billing.EventCustomerCreated {
		ev.CustomerID = obj.ID
	} else {
		ev.CustomerID = expandableID(obj.Customer)
	}
	return ev, nil
}
