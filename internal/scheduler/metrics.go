package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the maintenance sweeper.
type Metrics struct {
	SweepsTotal        prometheus.Counter
	RelationshipsSwept prometheus.Counter
	SweepErrors        prometheus.Counter
	SweepDuration      prometheus.Histogram
}

// NewMetrics creates and registers sweeper metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "sweeper",
			Name:      "sweeps_total",
			Help:      "Total completed maintenance sweep cycles.",
		}),
		RelationshipsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "sweeper",
			Name:      "relationships_swept_total",
			Help:      "Total relationships fully processed across all sweeps.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "sweeper",
			Name:      "errors_total",
			Help:      "Total errors logged during sweeps.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mazoea",
			Subsystem: "sweeper",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each full sweep cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.SweepsTotal,
		m.RelationshipsSwept,
		m.SweepErrors,
		m.SweepDuration,
	)

	return m
}
