package solver

import "github.com/prometheus/client_golang/prometheus"

var (
	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtbridge_solver_checks_total",
		Help: "Total satisfiability checks, by answer.",
	}, []string{"result"})

	solveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smtbridge_solver_check_duration_seconds",
		Help:    "Time spent inside the SAT solver per check.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(checksTotal, solveDuration)
	for _, r := range []string{"sat", "unsat", "unknown"} {
		checksTotal.WithLabelValues(r)
	}
}
