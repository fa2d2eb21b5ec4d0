// Package metrics exposes worker throughput as prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoflow"

// Outcome label values of jobs_finished_total.
const (
	OutcomeSuccess  = "success"
	OutcomeRetrying = "retrying"
	OutcomeFailed   = "failed"
)

type Metrics struct {
	JobsStarted  prometheus.Counter
	JobsFinished *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	JobsActive   prometheus.Gauge
	WorkerErrors prometheus.Counter
}

// New creates the worker collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Workflow jobs picked up by the worker.",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Workflow jobs finished, by outcome.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent executing a workflow job.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"outcome"}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Workflow jobs currently executing.",
		}),
		WorkerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_errors_total",
			Help:      "Broker errors seen by the worker loop.",
		}),
	}

	reg.MustRegister(m.JobsStarted, m.JobsFinished, m.JobDuration, m.JobsActive, m.WorkerErrors)

	return m
}

// Handler serves the collectors of gatherer in the prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
