// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightbank_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "freightbank_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightbank_provider_requests_total",
		Help: "Logical provider calls by operation and outcome",
	}, []string{"op", "outcome"})

	providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "freightbank_provider_request_duration_seconds",
		Help:    "Provider call latency including retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})

	ApplicationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightbank_application_transitions_total",
		Help: "Banking application status changes by edge and trigger",
	}, []string{"from", "to", "source"})

	IgnoredTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightbank_application_ignored_transitions_total",
		Help: "Status updates dropped by the regression guard",
	}, []string{"from", "to", "source"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightbank_webhook_events_total",
		Help: "Webhook deliveries by event type and result",
	}, []string{"type", "result"})

	PollerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightbank_poller_runs_total",
		Help: "Reconciliation poller passes by result",
	}, []string{"result"})

	PollerChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "freightbank_poller_application_checks_total",
		Help: "Applications reconciled by the poller",
	})
)

// NewProviderTimer starts a latency observation for a provider operation.
func NewProviderTimer(op string) *prometheus.Timer {
	return prometheus.NewTimer(providerDuration.WithLabelValues(op))
}
