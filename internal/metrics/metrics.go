package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed history backfills.
	OutcomeSuccess = "success"
	// OutcomeError labels failed history backfills.
	OutcomeError = "error"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outagex_sync",
			Name:      "events_total",
			Help:      "Total inbound events dispatched, partitioned by event type.",
		},
		[]string{"type"},
	)

	malformedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outagex_sync",
			Name:      "malformed_events_total",
			Help:      "Inbound items dropped for missing required fields, partitioned by stream.",
		},
		[]string{"stream"},
	)

	staleContextDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outagex_sync",
			Name:      "stale_context_drops_total",
			Help:      "Events or responses discarded because their context no longer matches the selection.",
		},
	)

	reconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outagex_sync",
			Name:      "reconnect_attempts_total",
			Help:      "Websocket reconnect attempts against the upstream event source.",
		},
	)

	logEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outagex_sync",
			Name:      "log_evictions_total",
			Help:      "Log entries evicted from the capped in-memory sequence.",
		},
	)

	offPathTransitionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outagex_sync",
			Name:      "off_path_transitions_total",
			Help:      "Status transitions applied outside the documented forward path.",
		},
	)

	backfillTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outagex_sync",
			Name:      "backfills_total",
			Help:      "History backfill requests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	backfillDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "outagex_sync",
			Name:      "backfill_seconds",
			Help:      "History backfill latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)
)

// Register attaches the sync-engine collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsTotal,
		malformedEventsTotal,
		staleContextDropsTotal,
		reconnectAttemptsTotal,
		logEvictionsTotal,
		offPathTransitionsTotal,
		backfillTotal,
		backfillDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// EventDispatched counts one inbound event of the given type.
func EventDispatched(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// MalformedDropped counts items dropped from the named stream.
func MalformedDropped(stream string, n int) {
	if n <= 0 {
		return
	}
	malformedEventsTotal.WithLabelValues(stream).Add(float64(n))
}

// StaleContextDropped counts one stale-context discard.
func StaleContextDropped() {
	staleContextDropsTotal.Inc()
}

// ReconnectAttempt counts one reconnect attempt.
func ReconnectAttempt() {
	reconnectAttemptsTotal.Inc()
}

// LogsEvicted counts entries evicted from the log ring.
func LogsEvicted(n int) {
	if n <= 0 {
		return
	}
	logEvictionsTotal.Add(float64(n))
}

// OffPathTransition counts one transition outside the documented path.
func OffPathTransition() {
	offPathTransitionsTotal.Inc()
}

// ObserveBackfill records a backfill duration and outcome label.
func ObserveBackfill(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	backfillTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	backfillDurationSeconds.Observe(duration.Seconds())
}
