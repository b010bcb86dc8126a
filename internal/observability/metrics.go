// Package observability holds the Prometheus metrics for the run loop.
// Metrics are exposed on the approval daemon's /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "polish"

// Metrics holds all counters and gauges for a process. Initialize once at
// startup; all operations are safe for concurrent use.
type Metrics struct {
	IterationsTotal *prometheus.CounterVec
	EditsTotal      *prometheus.CounterVec
	ApprovalsTotal  *prometheus.CounterVec
	OracleRetries   prometheus.Counter
	Score           *prometheus.GaugeVec
}

// New registers the polish metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in the daemon and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IterationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed iterations by phase.",
		}, []string{"phase"}),
		EditsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Planned edits by outcome (applied, skipped_mismatch, skipped_not_found).",
		}, []string{"result"}),
		ApprovalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Resolved approval checkpoints by action.",
		}, []string{"action"}),
		OracleRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_retries_total",
			Help:      "Retried oracle calls.",
		}),
		Score: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "score",
			Help:      "Latest oracle score by run.",
		}, []string{"run_id"}),
	}
}
