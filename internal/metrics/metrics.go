// Package metrics exposes Prometheus counters for the scheduling core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	intentDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetgrid",
			Name:      "intent_dispatched_total",
			Help:      "Count of mutation intents dispatched, by kind.",
		},
		[]string{"kind"},
	)

	intentFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetgrid",
			Name:      "intent_failed_total",
			Help:      "Count of mutation intents the collaborator rejected, by kind.",
		},
		[]string{"kind"},
	)

	staleResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetgrid",
			Name:      "stale_responses_discarded_total",
			Help:      "Count of late collaborator responses discarded by revision or window identity.",
		},
	)

	conflictsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetgrid",
			Name:      "conflicts_detected_total",
			Help:      "Count of buffer-inclusive conflicts detected during ghost placement.",
		},
	)

	viewFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetgrid",
			Name:      "view_fetch_total",
			Help:      "Count of schedule view fetches, by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(intentDispatched, intentFailed, staleResponses, conflictsDetected, viewFetches)
	})
}

func IncIntentDispatched(kind string) {
	intentDispatched.WithLabelValues(kind).Inc()
}

func IncIntentFailed(kind string) {
	intentFailed.WithLabelValues(kind).Inc()
}

func IncStaleResponse() {
	staleResponses.Inc()
}

func IncConflictDetected() {
	conflictsDetected.Inc()
}

func IncViewFetch(result string) {
	viewFetches.WithLabelValues(result).Inc()
}
