// Package metrics exposes the engine's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts gateway webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "titan",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total gateway webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "titan",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Gateway webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// EventOutcomes counts processed ledger events by outcome.
	EventOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "titan",
		Subsystem: "billing",
		Name:      "event_outcomes_total",
		Help:      "Processed payment events by outcome.",
	}, []string{"outcome"})

	// ProfilesByStatus tracks the number of subscription profiles in each status.
	ProfilesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "titan",
		Subsystem: "billing",
		Name:      "profiles_by_status",
		Help:      "Number of subscription profiles by lifecycle status.",
	}, []string{"status"})

	// SweeperExpirations counts profiles expired by the reconciliation sweep.
	SweeperExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "titan",
		Subsystem: "billing",
		Name:      "sweeper_expirations_total",
		Help:      "Subscription profiles expired by the reconciliation sweep.",
	})

	// AuditIssues tracks the issue count of the last consistency audit.
	AuditIssues = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "titan",
		Subsystem: "audit",
		Name:      "issues",
		Help:      "Issues found by the last consistency audit run.",
	})
)
