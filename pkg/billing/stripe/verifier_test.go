package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("   ", 0)
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}

func TestVerifier_Valid(t *testing.T) {
	v, err := NewVerifier(testSecret, 0)
	require.NoError(t, err)

	d := sign(paymentSucceeded(t, "evt_1", testOwner, "g1,g2", testCustomerID))
	ev, err := v.Verify(d.payload, d.header)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "payment_intent.succeeded", ev.Type)
	assert.Equal(t, billing.EventPaymentSucceeded, ev.Kind)
	assert.Equal(t, testCustomerID, ev.CustomerID)
	assert.Equal(t, "pi_evt_1", ev.ObjectID)
	assert.Equal(t, testOwner, ev.Metadata["user_id"])
	assert.True(t, ev.Successful())
}

func TestVerifier_SignatureFailures(t *testing.T) {
	v, err := NewVerifier(testSecret, time.Minute)
	require.NoError(t, err)

	payload := paymentSucceeded(t, "evt_1", testOwner, "g1", testCustomerID)
	other := paymentSucceeded(t, "evt_1", "attacker", "admin", testCustomerID)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "malformed header", header: "garbage"},
		{name: "signature over different body", header: signPayload(testSecret, other, time.Now())},
		{name: "wrong secret", header: signPayload("whsec_other", payload, time.Now())},
		{name: "too old", header: signPayload(testSecret, payload, time.Now().Add(-time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := v.Verify(payload, tt.header)
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
			assert.Equal(t, billing.KindInvalidSignature, billing.KindOf(err))
			assert.Equal(t, 400, billing.StatusCode(err))
		})
	}
}

func TestVerifier_SignedGarbageIsInvalidPayload(t *testing.T) {
	v, err := NewVerifier(testSecret, 0)
	require.NoError(t, err)

	d := sign([]byte("not json"))
	_, err = v.Verify(d.payload, d.header)
	assert.ErrorIs(t, err, billing.ErrInvalidWebhookPayload)
	assert.NotErrorIs(t, err, billing.ErrInvalidWebhookSignature)
}

func TestClassifyEventType(t *testing.T) {
	assert.Equal(t, billing.EventPaymentSucceeded, ClassifyEventType("payment_intent.succeeded"))
	assert.Equal(t, billing.EventCheckoutCompleted, ClassifyEventType("checkout.session.completed"))
	assert.Equal(t, billing.EventPaymentFailed, ClassifyEventType("payment_intent.payment_failed"))
	assert.Equal(t, billing.EventCustomerCreated, ClassifyEventType("customer.created"))
	assert.Equal(t, billing.EventUnrecognized, ClassifyEventType("invoice.finalized"))
	assert.Equal(t, billing.EventUnrecognized, ClassifyEventType(""))
}
