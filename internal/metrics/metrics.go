// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/edgard/zapbot/internal/queue"
)

const namespace = "zapbot"

// Metrics groups the application collectors.
type Metrics struct {
	Registry *prometheus.Registry

	ingested    *prometheus.CounterVec
	routed      *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	delivered   *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_events_total",
			Help:      "Gateway events by ingestion outcome.",
		}, []string{"outcome"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routed_messages_total",
			Help:      "Routed messages by action.",
		}, []string{"action"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle events.",
		}, []string{"queue", "type", "event"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler run time per attempt.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"queue", "type"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound messages by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingested, m.routed, m.jobs, m.jobDuration, m.delivered,
	)
	return m
}

func (m *Metrics) Ingested(outcome string) {
	m.ingested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Routed(action string) {
	m.routed.WithLabelValues(action).Inc()
}

// JobEvent records one job lifecycle event.
func (m *Metrics) JobEvent(queueName, jobType, event string, d time.Duration) {
	m.jobs.WithLabelValues(queueName, jobType, event).Inc()
	m.jobDuration.WithLabelValues(queueName, jobType).Observe(d.Seconds())
}

func (m *Metrics) Delivered(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.delivered.WithLabelValues(result).Inc()
}

// RegisterQueues exports live job counts of every queue of mgr.
func (m *Metrics) RegisterQueues(mgr *queue.Manager) error {
	return m.Registry.Register(&queueCollector{mgr: mgr})
}

var queueDepthDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "queue", "jobs"),
	"Jobs per queue and status.",
	[]string{"queue", "status"}, nil,
)

type queueCollector struct {
	mgr *queue.Manager
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueDepthDesc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.mgr.Names() {
		q, ok := c.mgr.Queue(name)
		if !ok {
			continue
		}
		s := q.Stats()
		for status, n := range map[queue.Status]int{
			queue.StatusWaiting:   s.Waiting,
			queue.StatusDelayed:   s.Delayed,
			queue.StatusActive:    s.Active,
			queue.StatusCompleted: s.Completed,
			queue.StatusFailed:    s.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(n), name, string(status))
		}
	}
}
