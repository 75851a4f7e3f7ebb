// Package metrics holds the Prometheus collectors for the governance core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afaap",
		Subsystem: "ledger",
		Name:      "appends_total",
		Help:      "Ledger entries appended, by subject table and operation.",
	}, []string{"subject_table", "operation"})

	LedgerAppendConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "afaap",
		Subsystem: "ledger",
		Name:      "append_conflicts_total",
		Help:      "Appends that lost the race for a chain tail and were retried.",
	})

	LedgerAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "afaap",
		Subsystem: "ledger",
		Name:      "append_duration_seconds",
		Help:      "Wall time of a ledger append including retries.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	LedgerVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afaap",
		Subsystem: "ledger",
		Name:      "verifications_total",
		Help:      "Chain verifications, by result (valid|broken).",
	}, []string{"result"})

	GateVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afaap",
		Subsystem: "gate",
		Name:      "verdicts_total",
		Help:      "Deployment gate verdicts, by verdict (admitted|blocked).",
	}, []string{"verdict"})

	DecisionsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afaap",
		Subsystem: "decisions",
		Name:      "classified_total",
		Help:      "Decisions classified, by risk tier.",
	}, []string{"tier"})

	Reviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afaap",
		Name:      "reviews_total",
		Help:      "Completed reviews, by SLA outcome (met|missed|untracked).",
	}, []string{"sla"})

	SLAOverdue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "afaap",
		Subsystem: "sla",
		Name:      "overdue_decisions",
		Help:      "High and Medium decisions past their deadline without a review.",
	})
)
