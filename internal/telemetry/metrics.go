package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued    = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_jobs_enqueued_total", Help: "Total enqueued sync jobs"})
	JobsCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_jobs_completed_total", Help: "Sync jobs completed successfully"})
	JobsRetried     = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_jobs_retried_total", Help: "Sync jobs requeued for retry"})
	JobsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_jobs_failed_total", Help: "Sync jobs terminally failed"})
	JobsReclaimed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_jobs_reclaimed_total", Help: "Stale processing jobs returned to pending"})
	JobsPurged      = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_jobs_purged_total", Help: "Terminal jobs deleted by housekeeping"})
	EnqueueRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_enqueue_rejects_total", Help: "Enqueue requests rejected by the API rate limiter"})
	ProviderCalls   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sync_provider_calls_total", Help: "Outbound provider calls by outcome"}, []string{"outcome"})
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "sync_queue_depth", Help: "Pending jobs ready to run"})
	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "sync_jobs_inflight", Help: "Jobs currently processing in this worker"})
	RateUtilization = prometheus.NewGauge(prometheus.GaugeOpts{Name: "sync_rate_limiter_utilization", Help: "Used fraction of the provider call window"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			JobsReclaimed,
			JobsPurged,
			EnqueueRejects,
			ProviderCalls,
			QueueDepthGauge,
			InFlightGauge,
			RateUtilization,
		)
	})
	return promhttp.Handler()
}
