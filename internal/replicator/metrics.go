package replicator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments a Controller updates on every
// state transition and progress event.
//
// Grounded on the WebhookMetrics constructor pattern in
// ipiton-alert-history-service (internal/infrastructure/publishing/webhook_metrics.go):
// a struct of *CounterVec/*GaugeVec fields, built and registered together,
// with an instance label distinguishing concurrent controllers.
type Metrics struct {
	StateTransitionsTotal *prometheus.CounterVec
	ChangesProcessed      *prometheus.GaugeVec
	ChangesTotal          *prometheus.GaugeVec
}

// NewMetrics creates and registers replicator Prometheus metrics. registry
// may be nil, in which case the metrics are created but never registered
// (useful for tests that don't want to touch the default registry).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		StateTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replicator_state_transitions_total",
				Help: "Total number of replicator controller state transitions",
			},
			[]string{"instance", "to"},
		),
		ChangesProcessed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replicator_changes_processed",
				Help: "Number of changes processed by the current or most recent replication job",
			},
			[]string{"instance"},
		),
		ChangesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replicator_changes_total",
				Help: "Total number of changes the current or most recent replication job expects to process",
			},
			[]string{"instance"},
		),
	}

	if registry != nil {
		registry.MustRegister(m.StateTransitionsTotal, m.ChangesProcessed, m.ChangesTotal)
	}
	return m
}
