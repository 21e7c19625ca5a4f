package gini

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for solve status.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
)

var (
	solveSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smtbridge_gini_solve_seconds",
			Help:    "Duration of a full script run in the gini backend, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"language"},
	)

	solvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtbridge_gini_solves_total",
			Help: "Total number of scripts processed by the gini backend.",
		},
		[]string{"language", "status"},
	)
)

func init() {
	prometheus.MustRegister(solveSeconds)
	prometheus.MustRegister(solvesTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, lang := range SupportedLanguages {
		solvesTotal.WithLabelValues(lang, statusCompleted)
		solvesTotal.WithLabelValues(lang, statusFailed)
	}
}
