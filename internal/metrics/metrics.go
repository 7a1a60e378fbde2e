package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Engine holds the collectors updated by the reconciliation loop and the start scheduler.
type Engine struct {
	Finalized        *prometheus.CounterVec
	FinalizeFailures *prometheus.CounterVec
	Delivered        prometheus.Counter
	DeliveryDropped  prometheus.Counter
	StatisticsBatch  *prometheus.CounterVec
	PassDuration     prometheus.Histogram
	ScheduledStarts  prometheus.Gauge
	QuizStarts       prometheus.Counter
}

// New creates the collectors and registers them when reg is not nil.
func New(reg prometheus.Registerer) *Engine {
	m := &Engine{
		Finalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_submissions_finalized_total",
				Help: "Submissions turned into participations, by submission type",
			},
			[]string{"type"},
		),
		FinalizeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_finalize_failures_total",
				Help: "Finalize attempts that failed, by outcome",
			},
			[]string{"outcome"},
		),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_participations_delivered_total",
			Help: "Participations pushed to their owners",
		}),
		DeliveryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_participations_dropped_total",
			Help: "Participations dropped before delivery",
		}),
		StatisticsBatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_statistics_batches_total",
				Help: "Result batches handed to the statistics sink, by status",
			},
			[]string{"status"},
		),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_reconciliation_pass_duration_seconds",
			Help:    "Duration of one reconciliation pass",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		ScheduledStarts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_scheduled_starts",
			Help: "Quiz start tasks currently pending",
		}),
		QuizStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_starts_fired_total",
			Help: "Quiz start tasks that fired",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Finalized,
			m.FinalizeFailures,
			m.Delivered,
			m.DeliveryDropped,
			m.StatisticsBatch,
			m.PassDuration,
			m.ScheduledStarts,
			m.QuizStarts,
		)
	}
	return m
}
