package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Payments
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Transaction state transitions applied",
		},
		[]string{"from", "to", "source"}, // source: initiate|retry|status|webhook|refund
	)
	GatewayCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Latency of outbound gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)

	// Webhooks
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Gateway notifications by outcome",
		},
		[]string{"source", "outcome"},
	)

	// Request shaping
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"category"},
	)
	LimiterFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_store_fallback_total",
			Help: "Limiter decisions served by the in-process store because the shared store failed",
		},
	)
	CsrfFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "csrf_failures_total",
			Help: "Requests rejected by the CSRF guard",
		},
	)

	// Reconciliation
	ReconciliationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_runs_total",
			Help: "Reconciliation runs by final status",
		},
		[]string{"status"},
	)
	Discrepancies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_discrepancies_total",
			Help: "Discrepancies found by type",
		},
		[]string{"type"},
	)

	// Worker kuyruğu
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)

	initOnce sync.Once
)

// /metrics endpoint'i için handler
var Handler = promhttp.Handler

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPLatency,
			TransitionsTotal,
			GatewayCalls,
			WebhookEvents,
			RateLimitRejected,
			LimiterFallbacks,
			CsrfFailures,
			ReconciliationRuns,
			Discrepancies,
			WorkerQueueDepth,
		)
	})
}
