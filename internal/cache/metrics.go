package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtbridge_cache_hits_total",
		Help: "Result cache lookups that found an entry.",
	}, []string{"kind"})

	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtbridge_cache_misses_total",
		Help: "Result cache lookups that found nothing.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses)
	for _, kind := range []string{KindMemory, KindRedis} {
		cacheHits.WithLabelValues(kind)
		cacheMisses.WithLabelValues(kind)
	}
}
