package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for the order lifecycle.
// Labels stay low-cardinality: no order, product or actor IDs.
type BusinessMetrics struct {
	// Checkout
	CheckoutsTotal  *prometheus.CounterVec
	CheckoutLines   prometheus.Histogram
	CheckoutValue   prometheus.Histogram
	CartValidations *prometheus.CounterVec
	CartWarnings    *prometheus.CounterVec

	// Approval
	DecisionsTotal    *prometheus.CounterVec
	DecisionLatency   prometheus.Histogram
	DecisionConflicts prometheus.Counter

	// State machine
	TransitionsTotal *prometheus.CounterVec
	TransitionErrors *prometheus.CounterVec

	// Stock ledger
	StockOperations *prometheus.CounterVec
	StockConflicts  *prometheus.CounterVec
	StockExhausted  *prometheus.CounterVec

	// Background workers
	ReaperCancellations *prometheus.CounterVec
	ReaperRuns          prometheus.Counter
	OutboxDispatched    *prometheus.CounterVec
	OutboxBacklog       prometheus.Gauge

	// Idempotency
	IdempotentReplays *prometheus.CounterVec
}

// NewBusinessMetrics creates and registers all business metrics on reg.
// A nil reg registers on the default registry.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	if namespace == "" {
		namespace = "franchise"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	subsystem := "orders"
	factory := promauto.With(reg)

	m := &BusinessMetrics{
		// =======================================================================
		// Checkout
		// =======================================================================
		CheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkouts_total",
				Help:      "Checkout attempts by outcome",
			},
			[]string{"result"}, // result: created, invalid, insufficient_stock, conflict, error
		),
		CheckoutLines: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_lines",
				Help:      "Number of lines per successful checkout",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		CheckoutValue: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_value_cents",
				Help:      "Subtotal of successful checkouts in cents",
				Buckets:   prometheus.ExponentialBuckets(1000, 4, 8),
			},
		),
		CartValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cart_validations_total",
				Help:      "Cart validations by outcome",
			},
			[]string{"valid"},
		),
		CartWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cart_warnings_total",
				Help:      "Non-blocking cart warnings by kind",
			},
			[]string{"kind"},
		),

		// =======================================================================
		// Approval
		// =======================================================================
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "decisions_total",
				Help:      "Approval decisions by requested decision and outcome",
			},
			[]string{"decision", "result"}, // result: won, already_decided, invalid, error
		),
		DecisionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "decision_latency_seconds",
				Help:      "Time from submission to the winning decision",
				Buckets:   []float64{60, 300, 900, 3600, 4 * 3600, 12 * 3600, 24 * 3600, 72 * 3600},
			},
		),
		DecisionConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "decision_conflicts_total",
				Help:      "Approval writes that lost the version race",
			},
		),

		// =======================================================================
		// State machine
		// =======================================================================
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transitions_total",
				Help:      "Accepted status transitions",
			},
			[]string{"from", "to"},
		),
		TransitionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transition_errors_total",
				Help:      "Rejected transitions by event and error code",
			},
			[]string{"event", "code"},
		),

		// =======================================================================
		// Stock ledger
		// =======================================================================
		StockOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stock",
				Name:      "operations_total",
				Help:      "Stock ledger operations by kind and outcome",
			},
			[]string{"operation", "result"},
		),
		StockConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stock",
				Name:      "version_conflicts_total",
				Help:      "Conditional stock writes that hit a version mismatch",
			},
			[]string{"operation"},
		),
		StockExhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stock",
				Name:      "retries_exhausted_total",
				Help:      "Stock operations that surfaced a conflict after all retries",
			},
			[]string{"operation"},
		),

		// =======================================================================
		// Background workers
		// =======================================================================
		ReaperCancellations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "cancellations_total",
				Help:      "Pending orders auto-cancelled after the approval SLA",
			},
			[]string{"result"}, // result: cancelled, skipped, error
		),
		ReaperRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "runs_total",
				Help:      "Reaper sweeps executed",
			},
		),
		OutboxDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "dispatched_total",
				Help:      "Outbox events handed to the broker",
			},
			[]string{"type", "result"},
		),
		OutboxBacklog: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "last_batch_size",
				Help:      "Size of the most recent claimed outbox batch",
			},
		),

		// =======================================================================
		// Idempotency
		// =======================================================================
		IdempotentReplays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "idempotent_replays_total",
				Help:      "Requests answered from the idempotency store",
			},
			[]string{"route"},
		),
	}

	return m
}

// Global instance for easy access from services and workers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace, reg)
	return Business
}
