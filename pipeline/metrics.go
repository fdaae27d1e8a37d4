package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dcvalidate/metric"
)

// Metrics exposes the engine's stage counters. All methods are nil-safe so
// an engine without metrics costs nothing.
type Metrics struct {
	payloadsProduced prometheus.Counter
	resultsPersisted prometheus.Counter
	transformTime    prometheus.Histogram
	runDuration      *prometheus.HistogramVec
}

// NewMetrics registers the pipeline metrics with the registry.
func NewMetrics(registry *metric.Registry) (*Metrics, error) {
	m := &Metrics{
		payloadsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_payloads_produced_total",
			Help: "Payloads emitted by the produce stage",
		}),
		resultsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_results_persisted_total",
			Help: "Results accepted by the primary sink",
		}),
		transformTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_transform_duration_seconds",
			Help:    "Time spent evaluating one payload",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "End to end duration of validation runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"outcome"}),
	}

	const serviceName = "pipeline"
	if err := registry.RegisterCounter(serviceName, "payloads_produced_total", m.payloadsProduced); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(serviceName, "results_persisted_total", m.resultsPersisted); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(serviceName, "run_duration_seconds", m.runDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(serviceName, "transform_duration_seconds", m.transformTime); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) incProduced() {
	if m == nil {
		return
	}
	m.payloadsProduced.Inc()
}

func (m *Metrics) addPersisted(n int) {
	if m == nil {
		return
	}
	m.resultsPersisted.Add(float64(n))
}

func (m *Metrics) observeTransform(d time.Duration) {
	if m == nil {
		return
	}
	m.transformTime.Observe(d.Seconds())
}

func (m *Metrics) observeRun(d time.Duration, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
