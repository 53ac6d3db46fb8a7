package breaks

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for break detection.
type Metrics struct {
	BreaksDetected prometheus.Counter
	BreaksResumed  prometheus.Counter
}

// NewMetrics creates and registers break detection metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		BreaksDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "breaks",
			Name:      "detected_total",
			Help:      "Total break records created for missed expectation windows.",
		}),
		BreaksResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "breaks",
			Name:      "resumed_total",
			Help:      "Total breaks resolved by a later occurrence of the ritual.",
		}),
	}

	reg.MustRegister(m.BreaksDetected, m.BreaksResumed)
	return m
}
