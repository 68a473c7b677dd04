// Package metrics exposes the engine's Prometheus metrics, grounded on
// eCo13rus's pkg/metrics (promauto registration, a dedicated /metrics
// HTTP server) but scoped to the signals the saga orchestrator and
// outbox publisher are required to expose: compensation failures,
// non-terminal sagas discovered at startup, and dead-lettered events.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SagaCompensationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_saga_compensation_failures_total",
			Help: "Count of saga compensation attempts that themselves failed, by saga definition and step.",
		},
		[]string{"saga", "step"},
	)

	// SagaNonTerminalAtStartup is set once, at startup, to the count of
	// saga instances the recovery sweep found outside a terminal status and
	// attempted to resume. The count includes instances whose resume
	// failed; those failures are logged, not subtracted.
	SagaNonTerminalAtStartup = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxpay_saga_non_terminal_at_startup",
			Help: "Sagas found in a non-terminal status by the startup recovery sweep.",
		},
	)

	OutboxDeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_outbox_dead_letters_total",
			Help: "Count of outbox events that exhausted their retry budget and moved to FAILED.",
		},
		[]string{"aggregate_type", "event_type"},
	)

	OutboxPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxpay_outbox_publish_duration_seconds",
			Help:    "Time to publish one claimed outbox batch to the broker.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

// Handler returns the /metrics HTTP handler for mounting on the service's
// own mux, alongside health/readiness endpoints.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOutboxPublish records the wall-clock duration of one publisher
// poll-and-dispatch cycle.
func RecordOutboxPublish(d time.Duration) {
	OutboxPublishDuration.Observe(d.Seconds())
}
