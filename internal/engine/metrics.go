package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intent_transitions_total",
		Help: "State transitions applied to payment intents",
	}, []string{"from", "to"})

	absorbedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_absorbed_total",
		Help: "Canonical events absorbed as no-ops (illegal or stale)",
	}, []string{"gateway", "reason"})

	ledgerWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_ledger_writes_total",
		Help: "Ledger write attempts bridging intents to transactions",
	}, []string{"outcome"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_completion_notifications_total",
		Help: "Completion notifier deliveries",
	}, []string{"outcome"})

	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_sweep_runs_total",
		Help: "Reconciliation sweep executions",
	}, []string{"outcome"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_sweep_duration_seconds",
		Help:    "Duration of a full sweep pass",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
	})
)
