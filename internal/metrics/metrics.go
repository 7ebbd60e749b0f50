// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccountsByEntitlementState tracks the number of accounts in each entitlement state.
	AccountsByEntitlementState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bookline",
		Subsystem: "billing",
		Name:      "accounts_by_entitlement_state",
		Help:      "Number of accounts by entitlement state.",
	}, []string{"state"})

	// WebhookRequestsTotal counts provider webhook requests by notification kind and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookline",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total payment provider webhook requests by notification kind and HTTP status.",
	}, []string{"kind", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bookline",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Payment provider webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// ReconciliationsTotal counts reconciliation attempts by kind and outcome.
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookline",
		Subsystem: "billing",
		Name:      "reconciliations_total",
		Help:      "Entitlement reconciliations by notification kind and outcome.",
	}, []string{"kind", "outcome"})

	// StaleNotificationsTotal counts notifications applied although they were
	// created before the account's last reconciliation.
	StaleNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookline",
		Subsystem: "billing",
		Name:      "stale_notifications_total",
		Help:      "Notifications older than the account's last reconciliation, by kind.",
	}, []string{"kind"})

	// AuditWriteFailuresTotal counts audit entries that fell back to the process log.
	AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookline",
		Subsystem: "audit",
		Name:      "write_failures_total",
		Help:      "Audit entries that could not be persisted and were written to the process log instead.",
	})

	// EmailsTotal counts transactional email dispatches by template and outcome.
	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookline",
		Subsystem: "email",
		Name:      "dispatch_total",
		Help:      "Transactional email dispatches by template and outcome.",
	}, []string{"template", "outcome"})
)
