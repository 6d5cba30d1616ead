// Package metrics exposes Prometheus counters for jobs, notifications and
// search index writes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the application's metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	jobsEnqueued  *prometheus.CounterVec
	jobsStarted   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	indexOps      *prometheus.CounterVec
	notifications *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogjobs_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		}, []string{"task"}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogjobs_jobs_started_total",
			Help: "Total number of jobs picked up by a worker",
		}, []string{"task"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogjobs_jobs_finished_total",
			Help: "Total number of jobs finished, by final status",
		}, []string{"task", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blogjobs_job_duration_seconds",
			Help:    "Job execution time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		indexOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogjobs_search_index_operations_total",
			Help: "Search index writes, by operation and result",
		}, []string{"op", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogjobs_notifications_created_total",
			Help: "Notifications written to user feeds",
		}, []string{"name"}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.jobsEnqueued,
		c.jobsStarted,
		c.jobsFinished,
		c.jobDuration,
		c.indexOps,
		c.notifications,
	)
	return c
}

func (c *Collector) JobEnqueued(task string) {
	if c == nil {
		return
	}
	c.jobsEnqueued.WithLabelValues(task).Inc()
}

func (c *Collector) JobStarted(task string) {
	if c == nil {
		return
	}
	c.jobsStarted.WithLabelValues(task).Inc()
}

func (c *Collector) JobFinished(task, status string, seconds float64) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(task, status).Inc()
	c.jobDuration.WithLabelValues(task).Observe(seconds)
}

// IndexOp records a search index write.
func (c *Collector) IndexOp(op string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.indexOps.WithLabelValues(op, result).Inc()
}

func (c *Collector) NotificationAdded(name string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(name).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
