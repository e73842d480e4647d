package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	retryAttemptsTotal        *prometheus.CounterVec
	grantsTotal               *prometheus.CounterVec
	grantedGroupsTotal        *prometheus.CounterVec
	apiCallsTotal             *prometheus.CounterVec
	apiCallDuration           *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation for billing.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of reconciled webhook deliveries by event kind and outcome.",
		}, []string{"provider", "kind", "outcome"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook reconciliation in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "kind"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook failures by error kind.",
		}, []string{"provider", "error_kind"}),

		retryAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "retry_attempts_total",
			Help:      "Total number of failed attempts that were retried.",
		}, []string{"operation"}),

		grantsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "entitlement_grants_total",
			Help:      "Total number of applied entitlement grants.",
		}, []string{"provider"}),

		grantedGroupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "entitlement_groups_granted_total",
			Help:      "Total number of group memberships granted.",
		}, []string{"provider"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_calls_total",
			Help:      "Total number of outbound API calls.",
		}, []string{"target", "endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of outbound API calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target", "endpoint"}),
	}
}

func (m *Metrics) RecordWebhookEvent(provider, kind, outcome string) {
	m.webhookEventsTotal.WithLabelValues(provider, kind, outcome).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(provider, kind string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(provider, errorKind string) {
	m.webhookErrorsTotal.WithLabelValues(provider, errorKind).Inc()
}

func (m *Metrics) RecordRetryAttempt(operation string) {
	m.retryAttemptsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordGrant(provider string, groups int) {
	m.grantsTotal.WithLabelValues(provider).Inc()
	m.grantedGroupsTotal.WithLabelValues(provider).Add(float64(groups))
}

func (m *Metrics) RecordAPICall(target, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(target, endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(target, endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(target, endpoint).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) billing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

var _ billing.Metrics = (*Metrics)(nil)
