package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

//nolint:gochecknoglobals // One registry per process, mirroring the logger's global.
var (
	// registry is the engine's own prometheus registry, served on /healthz.
	registry = prometheus.NewRegistry()

	// activeSessions tracks sessions currently in a non-terminal state.
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian",
		Name:      "active_sessions",
		Help:      "Number of alert sessions in a non-terminal state.",
	})

	// triggersTotal counts normalized trigger outcomes by source.
	triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Name:      "triggers_total",
		Help:      "Trigger inputs by source and outcome.",
	}, []string{"source", "outcome"})

	// attemptsTotal counts notification attempt outcomes.
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Name:      "notification_attempts_total",
		Help:      "Notification attempt outcomes by channel and status.",
	}, []string{"channel", "status"})

	// fallbacksTotal counts fallback dispatch escalations.
	fallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guardian",
		Name:      "fallbacks_total",
		Help:      "Sessions escalated to fallback dispatch.",
	})

	// locationSamplesTotal counts appended location samples.
	locationSamplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guardian",
		Name:      "location_samples_total",
		Help:      "Location samples appended to sessions.",
	})

	// locationGapsTotal counts sampling ticks without a fix.
	locationGapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guardian",
		Name:      "location_gaps_total",
		Help:      "Sampling ticks that produced no location fix.",
	})
)

func init() { //nolint:gochecknoinits // Collectors must exist before the first scrape.
	registry.MustRegister(
		activeSessions,
		triggersTotal,
		attemptsTotal,
		fallbacksTotal,
		locationSamplesTotal,
		locationGapsTotal,
	)
}

// Registry returns the engine's prometheus registry for scraping.
func Registry() *prometheus.Registry {
	return registry
}

// SessionOpened marks one more active session.
func SessionOpened() {
	activeSessions.Inc()
}

// SessionClosed marks one fewer active session.
func SessionClosed() {
	activeSessions.Dec()
}

// ObserveTrigger records a trigger outcome ("accepted", "rejected", "duplicate", "ignored").
func ObserveTrigger(source, outcome string) {
	triggersTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveAttempt records a notification attempt outcome.
func ObserveAttempt(channel, status string) {
	attemptsTotal.WithLabelValues(channel, status).Inc()
}

// FallbackEscalated records a session flagged for fallback dispatch.
func FallbackEscalated() {
	fallbacksTotal.Inc()
}

// LocationSampleAppended records a successful location append.
func LocationSampleAppended() {
	locationSamplesTotal.Inc()
}

// LocationGapRecorded records a sampling tick without a fix.
func LocationGapRecorded() {
	locationGapsTotal.Inc()
}
