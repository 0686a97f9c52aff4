package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes simulation counters on a private prometheus registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	step      prometheus.Histogram
	particles prometheus.Gauge
	ticks     prometheus.Counter
	fallbacks prometheus.Counter
	anomalies prometheus.Counter
	polarity  prometheus.Gauge
}

// NewMetrics creates and registers the flock metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		step: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flock",
			Name:      "step_duration_seconds",
			Help:      "Wall time of one simulation step.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		particles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flock",
			Name:      "particles",
			Help:      "Current particle count.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "ticks_total",
			Help:      "Completed simulation steps.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "backend_fallbacks_total",
			Help:      "Times the simulation fell back to the host backend.",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "numeric_anomalies_total",
			Help:      "Non-finite particle values repaired after integration.",
		}),
		polarity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flock",
			Name:      "polarization",
			Help:      "Length of the mean heading at the last sample.",
		}),
	}
	m.registry.MustRegister(m.step, m.particles, m.ticks, m.fallbacks, m.anomalies, m.polarity)
	return m
}

// ObserveStep records a completed step.
func (m *Metrics) ObserveStep(d time.Duration, particles int) {
	if m == nil {
		return
	}
	m.step.Observe(d.Seconds())
	m.particles.Set(float64(particles))
	m.ticks.Inc()
}

// IncFallback records a switch to the host backend.
func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// AddAnomalies records repaired non-finite values.
func (m *Metrics) AddAnomalies(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.anomalies.Add(float64(n))
}

// ObserveFlock records flock statistics.
func (m *Metrics) ObserveFlock(s FlockStats) {
	if m == nil {
		return
	}
	m.polarity.Set(s.Polarization)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
