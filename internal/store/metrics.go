package store

import "github.com/prometheus/client_golang/prometheus"

// Mutation outcomes recorded by Metrics.
const (
	outcomeApplied    = "applied"
	outcomeConfirmed  = "confirmed"
	outcomeRolledBack = "rolled_back"
	outcomeAborted    = "aborted"
	outcomeSuperseded = "superseded"
)

// Metrics counts store activity. A nil *Metrics records nothing.
type Metrics struct {
	mutations  *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	conflicts  prometheus.Counter
}

// NewMetrics creates the store counters and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "store",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "store",
			Name:      "reconciled_total",
			Help:      "Reconciliation events merged into the store by kind.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "store",
			Name:      "conflicts_total",
			Help:      "Reconciliation events that superseded a pending optimistic change.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.mutations, m.reconciled, m.conflicts)
	}
	return m
}

func (m *Metrics) mutation(op, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) reconcile(kind string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(kind).Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}
