package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classsync_mutations_recorded_total",
		Help: "Optimistic mutations recorded, by kind",
	}, []string{"kind"})

	mutationsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classsync_mutations_terminal_total",
		Help: "Terminal mutation transitions, by kind and outcome",
	}, []string{"kind", "outcome"})

	mutationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classsync_mutations_pending",
		Help: "Mutations awaiting a push result",
	})

	confirmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classsync_mutation_confirm_seconds",
		Help:    "Time from record to confirmation",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
	}, []string{"kind"})
)
