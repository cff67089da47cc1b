package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "queue_tasks_enqueued_total", Help: "Tasks persisted into the queue"}, []string{"type"})
	EnqueueFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_enqueue_failures_total", Help: "Tasks that could not be persisted"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	TaskSuccess       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "queue_tasks_completed_total", Help: "Tasks run successfully and removed"}, []string{"type"})
	TaskFailures      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "queue_tasks_failed_total", Help: "Task runs that failed and will retry"}, []string{"type"})
	TasksPruned       = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_tasks_pruned_total", Help: "Inventory entries dropped because their body was missing"})
	TasksExpired      = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_tasks_expired_total", Help: "Tasks deleted by expiry cleanup"})
	DrainsStarted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_drains_started_total", Help: "Drains that actually traversed storage"})
	DrainsCoalesced   = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_drains_coalesced_total", Help: "Run requests that joined an in-flight drain"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_depth", Help: "Inventory length after the last mutation"})
	DrainRunningGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_drain_running", Help: "1 while a drain is in flight"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			EnqueueFailures,
			RateLimitRejects,
			TaskSuccess,
			TaskFailures,
			TasksPruned,
			TasksExpired,
			DrainsStarted,
			DrainsCoalesced,
			QueueDepthGauge,
			DrainRunningGauge,
		)
	})
	return promhttp.Handler()
}
