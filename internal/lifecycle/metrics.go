package lifecycle

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the lifecycle engine.
type Metrics struct {
	EntriesCreated       prometheus.Counter
	OccurrencesRecorded  prometheus.Counter
	Transitions          *prometheus.CounterVec
	SignificanceRequests prometheus.Counter
}

// NewMetrics creates and registers lifecycle metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		EntriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "lifecycle",
			Name:      "entries_created_total",
			Help:      "Total ritual entries created (first match of a signature).",
		}),
		OccurrencesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "lifecycle",
			Name:      "occurrences_recorded_total",
			Help:      "Total occurrence records appended.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total state machine transitions by edge.",
		}, []string{"from", "to"}),
		SignificanceRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "lifecycle",
			Name:      "significance_requests_total",
			Help:      "Total one-time significance requests issued on establishment.",
		}),
	}

	reg.MustRegister(
		m.EntriesCreated,
		m.OccurrencesRecorded,
		m.Transitions,
		m.SignificanceRequests,
	)

	return m
}
