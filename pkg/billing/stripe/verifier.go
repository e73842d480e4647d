package stripe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// Verifier authenticates Stripe webhook deliveries.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a verifier. The signing secret is required.
// A zero tolerance uses Stripe's default of five minutes.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook signing secret is empty", billing.ErrProviderNotConfigured)
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}, nil
}

// Verify checks the signature over the exact payload bytes and decodes the event.
// It performs no I/O and has no side effects.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (*Event, error) {
	se, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, billing.NewReconcileError(billing.KindInvalidSignature, "", err)
		}
		return nil, billing.NewReconcileError(billing.KindInvalidPayload, "", err)
	}

	ev, err := decodeEvent(&se)
	if err != nil {
		return nil, billing.NewReconcileError(billing.KindInvalidPayload, se.ID, err)
	}
	return ev, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
