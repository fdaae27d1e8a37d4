package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dcvalidate/metric"
)

const (
	outcomeSuccess      = "success"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
)

// Metrics counts job outcomes. Methods are nil-safe so a worker without
// metrics costs nothing.
type Metrics struct {
	jobsProcessed *prometheus.CounterVec
	deadLettered  prometheus.Counter
}

// NewMetrics registers the worker metrics with the registry.
func NewMetrics(registry *metric.Registry) (*Metrics, error) {
	m := &Metrics{
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_jobs_processed_total",
			Help: "Jobs handled by the worker, by outcome",
		}, []string{"outcome"}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_jobs_dead_lettered_total",
			Help: "Jobs parked on the dead-letter subject",
		}),
	}

	const serviceName = "worker"
	if err := registry.RegisterCounterVec(serviceName, "jobs_processed_total", m.jobsProcessed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(serviceName, "jobs_dead_lettered_total", m.deadLettered); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) incJob(outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incDeadLettered() {
	if m == nil {
		return
	}
	m.deadLettered.Inc()
}
