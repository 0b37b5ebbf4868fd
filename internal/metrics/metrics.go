// Package metrics exposes the workflow's Prometheus instruments.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_orders_created_total",
			Help: "Orders created, by product type and outcome",
		},
		[]string{"product_type", "outcome"},
	)

	PaymentSessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_payment_sessions_created_total",
			Help: "Payment sessions created",
		},
	)

	GatewayConfirms = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_gateway_confirms_total",
			Help: "Gateway confirmation attempts, by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_verifications_total",
			Help: "Payment verifications, by outcome",
		},
		[]string{"outcome"},
	)

	FollowUpDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_followup_dispatches_total",
			Help: "Follow-up order dispatches, by outcome",
		},
		[]string{"outcome"},
	)

	AttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkout_attempt_duration_seconds",
			Help:    "Wall time from order creation to a terminal state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

// Register registers all instruments with the default registerer.
func Register() {
	prometheus.MustRegister(
		OrdersCreated,
		PaymentSessionsCreated,
		GatewayConfirms,
		Verifications,
		FollowUpDispatches,
		AttemptDuration,
	)
}
