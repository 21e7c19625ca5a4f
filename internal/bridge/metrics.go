package bridge

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeResolved = "resolved"
	outcomeRejected = "rejected"
)

var (
	tasksScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smtbridge_bridge_tasks_scheduled_total",
		Help: "Total callables scheduled onto the worker pool.",
	})

	tasksSettled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtbridge_bridge_tasks_settled_total",
		Help: "Total futures settled, by outcome.",
	}, []string{"outcome"})

	tasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smtbridge_bridge_tasks_in_flight",
		Help: "Tasks submitted to the pool whose completion has not run on the loop.",
	})

	poolQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smtbridge_bridge_pool_queue_depth",
		Help: "Work items waiting for a pool worker.",
	})

	taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smtbridge_bridge_task_duration_seconds",
		Help:    "Time from Schedule to settlement.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	})

	taskQueueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smtbridge_bridge_task_queue_wait_seconds",
		Help:    "Time a task waited for a worker.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(tasksScheduled, tasksSettled, tasksInFlight, poolQueueDepth, taskDuration, taskQueueWait)
	tasksSettled.WithLabelValues(outcomeResolved)
	tasksSettled.WithLabelValues(outcomeRejected)
}
