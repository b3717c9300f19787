package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	EngineOps      *prometheus.CounterVec
	EngineLatency  *prometheus.HistogramVec
	Notifications  *prometheus.CounterVec
	SchedulerRuns  *prometheus.CounterVec
	StatsRefreshes *prometheus.CounterVec
	Errors         *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			EngineOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_operations_total",
				Help:      "Total engine operations by name and outcome.",
			}, []string{"op", "status"}),
			EngineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total chat notifications by type and delivery outcome.",
			}, []string{"type", "status"}),
			SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_runs_total",
				Help:      "Total scheduler job runs by job and outcome.",
			}, []string{"job", "status"}),
			StatsRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stats_refreshes_total",
				Help:      "Total statistics snapshot refreshes by trigger.",
			}, []string{"trigger"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.EngineOps,
			metricsInstance.EngineLatency,
			metricsInstance.Notifications,
			metricsInstance.SchedulerRuns,
			metricsInstance.StatsRefreshes,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
