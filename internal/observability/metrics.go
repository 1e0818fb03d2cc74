// Package observability exposes prometheus collectors for the settlement
// core. Collectors are explicit process state, registered once at startup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core's collectors.
type Metrics struct {
	TransactionsCreated   prometheus.Counter
	TransactionsValidated prometheus.Counter
	TransactionsTimedOut  prometheus.Counter
	DisputesRaised        prometheus.Counter
	DisputesResolved      prometheus.Counter
	AutomationApplied     *prometheus.CounterVec
	TimeoutWarnings       prometheus.Counter
	InFlight              prometheus.Gauge
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handoff_transactions_created_total",
			Help: "Transactions created.",
		}),
		TransactionsValidated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handoff_transactions_validated_total",
			Help: "Transactions settled by dual confirmation or automation.",
		}),
		TransactionsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handoff_transactions_timed_out_total",
			Help: "Transactions expired by the timeout scheduler.",
		}),
		DisputesRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handoff_disputes_raised_total",
			Help: "Disputes raised.",
		}),
		DisputesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handoff_disputes_resolved_total",
			Help: "Disputes closed by acceptance or arbitration.",
		}),
		AutomationApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_automation_applied_total",
			Help: "Automation rule actions applied, by action.",
		}, []string{"action"}),
		TimeoutWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handoff_timeout_warnings_total",
			Help: "Escalation warnings emitted near deadline expiry.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_transactions_in_flight",
			Help: "Transactions currently in INITIATED or SENT.",
		}),
	}
	reg.MustRegister(
		m.TransactionsCreated,
		m.TransactionsValidated,
		m.TransactionsTimedOut,
		m.DisputesRaised,
		m.DisputesResolved,
		m.AutomationApplied,
		m.TimeoutWarnings,
		m.InFlight,
	)
	return m
}

// NewNop returns collectors registered nowhere, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
