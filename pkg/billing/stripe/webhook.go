package stripe

import (
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/billing/internal"
	"github.com/mihaimyh/toxbook/pkg/logging"
	"github.com/mihaimyh/toxbook/pkg/retry"
)

// handleWebhook verifies and reconciles one Stripe delivery. Every path answers
// exactly once through the Responder. Retries stop once the request context is
// done (client gone, router timeout) or the Responder has already answered.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	resp := internal.NewResponder(w)
	internal.SetSecurityHeaders(resp)

	if r.Method != http.MethodPost {
		resp.Header().Set("Allow", http.MethodPost)
		resp.Respond(http.StatusMethodNotAllowed, internal.ErrorBody("method not allowed"))
		return
	}

	body, err := internal.ReadBodyStrict(resp, r, p.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			resp.Respond(http.StatusRequestEntityTooLarge, internal.ErrorBody("payload too large"))
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			resp.Respond(http.StatusBadRequest, internal.ErrorBody("invalid payload"))
			p.metrics.RecordWebhookError(providerName, billing.KindInvalidPayload.String())
		}
		return
	}

	res := p.reconciler.Reconcile(r.Context(), body, r.Header.Get("Stripe-Signature"), requestSignal(r, resp))

	kind := res.Kind.String()
	p.metrics.RecordWebhookEvent(providerName, kind, res.Outcome())
	p.metrics.RecordWebhookProcessingDuration(providerName, kind, time.Since(startTime))

	if res.Err != nil {
		errKind := billing.KindOf(res.Err)
		p.metrics.RecordWebhookError(providerName, errKind.String())
		if !resp.Respond(res.StatusCode(), internal.ErrorBody(publicMessage(errKind))) {
			p.logger.Warn("webhook already answered, dropping late error",
				logging.F("event_id", res.EventID),
				logging.F("status", resp.Status()),
			)
		}
		return
	}

	resp.Respond(http.StatusOK, internal.StatusBody(res.Outcome()))
}

// requestSignal reports done once the request context ends or a response was written.
func requestSignal(r *http.Request, resp *internal.Responder) retry.Signal {
	return retry.SignalFunc(func() bool {
		return r.Context().Err() != nil || resp.Done()
	})
}

// publicMessage is the only error text sent back to the processor.
func publicMessage(kind billing.ErrorKind) string {
	switch kind {
	case billing.KindInvalidSignature:
		return "invalid signature"
	case billing.KindInvalidPayload:
		return "invalid payload"
	case billing.KindMissingMetadata:
		return "missing metadata"
	case billing.KindConflict:
		return "conflict"
	case billing.KindDependencyFailure:
		return "upstream unavailable"
	default:
		return "internal error"
	}
}
