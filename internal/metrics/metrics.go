// Package metrics holds the Prometheus collectors for the poll pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_ticks_total",
			Help: "Scheduler ticks by outcome",
		},
		[]string{"status"}, // status: completed|skipped
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockpulse_tick_duration_seconds",
			Help:    "Duration of one full scheduler tick",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	UsersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_users_processed_total",
			Help: "Per-user pipeline runs by trigger and status",
		},
		[]string{"trigger", "status"}, // status: ok|error|panic|busy
	)

	EventsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_events_detected_total",
			Help: "Abnormal events produced by the classifier",
		},
		[]string{"severity"},
	)

	EventsSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_events_suppressed_total",
			Help: "Events dropped because the ledger already covers them",
		},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_deliveries_total",
			Help: "Plan deliveries by channel and status",
		},
		[]string{"channel", "status"}, // status: success|error
	)

	ComposerFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_composer_fallbacks_total",
			Help: "Plans built from the deterministic template",
		},
		[]string{"reason"}, // reason: nlg_error|malformed|disabled
	)

	LedgerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_ledger_failures_total",
			Help: "Ledger store errors by operation",
		},
		[]string{"op"}, // op: read|write|sweep
	)

	ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_provider_errors_total",
			Help: "External provider call failures",
		},
		[]string{"provider"},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Ticks,
			TickDuration,
			UsersProcessed,
			EventsDetected,
			EventsSuppressed,
			Deliveries,
			ComposerFallbacks,
			LedgerFailures,
			ProviderErrors,
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
