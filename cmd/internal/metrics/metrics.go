// Package metrics provides Prometheus metrics for the CRM console auth core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionOperations counts session controller operations by outcome.
	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Name:      "session_operations_total",
			Help:      "Total number of session controller operations",
		},
		[]string{"op", "result"},
	)

	// SessionOperationDuration measures session operation latency, network call included.
	SessionOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crm",
			Name:      "session_operation_seconds",
			Help:      "Duration of session controller operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// TokenBackendFailures counts per-backend token store failures.
	TokenBackendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Name:      "token_backend_failures_total",
			Help:      "Total number of token store backend failures",
		},
		[]string{"backend", "op"},
	)

	// GuardDecisions counts route guard settlements.
	GuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Name:      "guard_decisions_total",
			Help:      "Total number of route guard decisions",
		},
		[]string{"outcome", "reason"},
	)

	// StreamSubscribers tracks connected session stream websockets.
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crm",
			Name:      "session_stream_subscribers",
			Help:      "Number of connected session stream subscribers",
		},
	)
)

// RecordSessionOp records one finished session operation.
func RecordSessionOp(op, result string, seconds float64) {
	SessionOperations.WithLabelValues(op, result).Inc()
	SessionOperationDuration.WithLabelValues(op).Observe(seconds)
}

// RecordBackendFailure records a token backend failure for op ("save", "load", "clear").
func RecordBackendFailure(backend, op string) {
	TokenBackendFailures.WithLabelValues(backend, op).Inc()
}

// RecordGuardDecision records a route guard settlement.
func RecordGuardDecision(outcome, reason string) {
	GuardDecisions.WithLabelValues(outcome, reason).Inc()
}
