package billing

import "time"

// Metrics defines the interface for tracking billing operations.
// All methods are optional - components fall back to NoopMetrics when nil.
type Metrics interface {
	// RecordWebhookEvent records a reconciled webhook delivery.
	// kind: EventKind label, outcome: applied, ignored or failed
	RecordWebhookEvent(provider, kind, outcome string)

	// RecordWebhookProcessingDuration records how long it took to reconcile a webhook.
	RecordWebhookProcessingDuration(provider, kind string, duration time.Duration)

	// RecordWebhookError records a webhook failure by error kind
	// (e.g., "invalid_signature", "conflict", "payload_too_large").
	RecordWebhookError(provider, errorKind string)

	// RecordRetryAttempt records a failed attempt that will be retried.
	RecordRetryAttempt(operation string)

	// RecordGrant records group memberships granted for a subject.
	RecordGrant(provider string, groups int)

	// RecordAPICall records an outbound call.
	// target: "stripe" or "identity"; endpoint e.g. "/customers/{id}"; status "success" or "error"
	RecordAPICall(target, endpoint, status string)

	// RecordAPICallDuration records how long an outbound call took.
	RecordAPICallDuration(target, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordRetryAttempt(_ string)                                  {}
func (n *NoopMetrics) RecordGrant(_ string, _ int)                                  {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}

// OrNoop returns m, or NoopMetrics when m is nil.
func OrNoop(m Metrics) Metrics {
	if m == nil {
		return &NoopMetrics{}
	}
	return m
}
