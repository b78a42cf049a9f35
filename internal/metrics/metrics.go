// Package metrics exposes Prometheus collectors for the dispatcher.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "herd"

// Job status label values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
	StatusInvalid   = "invalid"
)

type Metrics struct {
	JobsTotal      *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobsInFlight   prometheus.Gauge
	Rejections     *prometheus.CounterVec
	FeedbackTotal  *prometheus.CounterVec
	OpenJobs       prometheus.GaugeFunc
	WorkersCurrent prometheus.GaugeFunc
}

// New creates collectors and registers them with reg. openJobs and workers
// are sampled at scrape time.
func New(reg prometheus.Registerer, openJobs, workers func() int) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "jobs_total", Help: "Processed jobs by type and final status"},
			[]string{"type", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "job_duration_seconds", Help: "Handler wall time", Buckets: prometheus.DefBuckets},
			[]string{"type"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "jobs_in_flight", Help: "Jobs whose handler is running"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "admission_rejections_total", Help: "Jobs rejected because no worker passed their constraints"},
			[]string{"type"},
		),
		FeedbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "constraint_feedback_total", Help: "Feedback applications by constraint and outcome"},
			[]string{"constraint", "outcome"},
		),
		OpenJobs: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: "open_jobs", Help: "Jobs waiting in the queue"},
			func() float64 { return float64(openJobs()) },
		),
		WorkersCurrent: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: "workers", Help: "Registered workers"},
			func() float64 { return float64(workers()) },
		),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.JobsTotal, m.JobDuration, m.JobsInFlight, m.Rejections, m.FeedbackTotal, m.OpenJobs, m.WorkersCurrent,
	}
}

func (m *Metrics) ObserveJob(jobType, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, status).Inc()
	if status == StatusSucceeded || status == StatusFailed {
		m.JobDuration.WithLabelValues(jobType).Observe(took.Seconds())
	}
	if status == StatusRejected {
		m.Rejections.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) HandlerStarted() {
	if m != nil {
		m.JobsInFlight.Inc()
	}
}

func (m *Metrics) HandlerDone() {
	if m != nil {
		m.JobsInFlight.Dec()
	}
}

func (m *Metrics) Feedback(constraint, outcome string) {
	if m != nil {
		m.FeedbackTotal.WithLabelValues(constraint, outcome).Inc()
	}
}
