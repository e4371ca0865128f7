package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courtslot"

var (
	once sync.Once

	backendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend collaborator calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	gridComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_computations_total",
			Help:      "Slot grid computations by outcome (ok, closed, degraded, stale).",
		},
		[]string{"outcome"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_attempts_total",
			Help:      "Reservation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	conflictingSlots = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicting_slots_total",
			Help:      "Selected slots pruned because of holds or unavailability.",
		},
	)

	resolverFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_fallbacks_total",
			Help:      "Court resolution results by source.",
		},
		[]string{"source"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			backendRequests,
			gridComputations,
			reservations,
			conflictingSlots,
			resolverFallbacks,
			httpRequests,
		)
	})
}

func IncBackend(endpoint, outcome string) {
	backendRequests.WithLabelValues(endpoint, outcome).Inc()
}

func IncGrid(outcome string) {
	gridComputations.WithLabelValues(outcome).Inc()
}

func IncReservation(outcome string) {
	reservations.WithLabelValues(outcome).Inc()
}

func AddConflicts(n int) {
	if n > 0 {
		conflictingSlots.Add(float64(n))
	}
}

func IncResolver(source string) {
	resolverFallbacks.WithLabelValues(source).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
