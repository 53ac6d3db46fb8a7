package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for message ingestion.
type Metrics struct {
	MessagesEnqueued  prometheus.Counter
	MessagesDropped   prometheus.Counter
	MessagesProcessed prometheus.Counter
	MessagesFailed    prometheus.Counter
	Candidates        prometheus.Counter
}

// NewMetrics creates and registers pipeline metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		MessagesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "pipeline",
			Name:      "messages_enqueued_total",
			Help:      "Total messages accepted into a worker queue.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "pipeline",
			Name:      "messages_dropped_total",
			Help:      "Total messages dropped because a worker queue was full.",
		}),
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "pipeline",
			Name:      "messages_processed_total",
			Help:      "Total messages fully processed by a worker.",
		}),
		MessagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "pipeline",
			Name:      "messages_failed_total",
			Help:      "Total downstream failures swallowed during processing.",
		}),
		Candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mazoea",
			Subsystem: "pipeline",
			Name:      "candidates_extracted_total",
			Help:      "Total pattern candidates produced by extraction.",
		}),
	}

	reg.MustRegister(
		m.MessagesEnqueued,
		m.MessagesDropped,
		m.MessagesProcessed,
		m.MessagesFailed,
		m.Candidates,
	)

	return m
}

func (m *Metrics) observeEnqueued() {
	if m != nil {
		m.MessagesEnqueued.Inc()
	}
}

func (m *Metrics) observeDropped() {
	if m != nil {
		m.MessagesDropped.Inc()
	}
}

func (m *Metrics) observeProcessed(candidates int) {
	if m != nil {
		m.MessagesProcessed.Inc()
		m.Candidates.Add(float64(candidates))
	}
}

func (m *Metrics) observeFailed() {
	if m != nil {
		m.MessagesFailed.Inc()
	}
}
