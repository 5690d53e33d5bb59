// Package metric provides Prometheus instrumentation for the binding
// layer and the HTTP server that exposes it for scraping.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/livebind/errors"
)

// BindingMetrics contains all binding-layer metrics. It implements
// binding.Metrics.
type BindingMetrics struct {
	BindsTotal      *prometheus.CounterVec
	RebindsTotal    *prometheus.CounterVec
	UnbindsTotal    prometheus.Counter
	ActiveBindings  prometheus.Gauge
	ResolveDuration *prometheus.HistogramVec
	SyncErrorsTotal *prometheus.CounterVec
}

// NewBindingMetrics creates the binding metric collectors, unregistered.
func NewBindingMetrics() *BindingMetrics {
	return &BindingMetrics{
		BindsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livebind",
				Subsystem: "bindings",
				Name:      "binds_total",
				Help:      "Total number of bind operations started",
			},
			[]string{"mode"},
		),

		RebindsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livebind",
				Subsystem: "bindings",
				Name:      "rebinds_total",
				Help:      "Total number of binds that replaced an existing binding",
			},
			[]string{"mode"},
		),

		UnbindsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "livebind",
				Subsystem: "bindings",
				Name:      "unbinds_total",
				Help:      "Total number of bindings torn down",
			},
		),

		ActiveBindings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "livebind",
				Subsystem: "bindings",
				Name:      "active",
				Help:      "Number of currently active bindings",
			},
		),

		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "livebind",
				Subsystem: "bindings",
				Name:      "resolve_duration_seconds",
				Help:      "Time from bind call to result settlement in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode", "status"},
		),

		SyncErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "livebind",
				Subsystem: "sync",
				Name:      "errors_total",
				Help:      "Total number of synchronization failures by error class",
			},
			[]string{"mode", "class"},
		),
	}
}

// Register registers all collectors with the given registerer.
func (m *BindingMetrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.BindsTotal,
		m.RebindsTotal,
		m.UnbindsTotal,
		m.ActiveBindings,
		m.ResolveDuration,
		m.SyncErrorsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return errors.WrapFatal(err, "BindingMetrics", "Register", "collector registration")
		}
	}
	return nil
}

// BindStarted records a bind operation, counting rebinds separately.
func (m *BindingMetrics) BindStarted(mode string, rebind bool) {
	m.BindsTotal.WithLabelValues(mode).Inc()
	if rebind {
		m.RebindsTotal.WithLabelValues(mode).Inc()
	}
}

// BindSettled records a bind result settling with its latency.
func (m *BindingMetrics) BindSettled(mode string, d time.Duration, err error) {
	status := "resolved"
	if err != nil {
		status = "rejected"
		m.SyncErrorsTotal.WithLabelValues(mode, errors.Classify(err).String()).Inc()
	}
	m.ResolveDuration.WithLabelValues(mode, status).Observe(d.Seconds())
}

// Unbound records one binding teardown.
func (m *BindingMetrics) Unbound() {
	m.UnbindsTotal.Inc()
}

// SetActive updates the active-bindings gauge.
func (m *BindingMetrics) SetActive(n int) {
	m.ActiveBindings.Set(float64(n))
}

// Registry bundles a dedicated Prometheus registry with the binding
// collectors registered on it.
type Registry struct {
	registry *prometheus.Registry
	bindings *BindingMetrics
}

// NewRegistry creates a registry with the binding metrics registered.
func NewRegistry() (*Registry, error) {
	reg := prometheus.NewRegistry()
	bindings := NewBindingMetrics()
	if err := bindings.Register(reg); err != nil {
		return nil, err
	}
	return &Registry{registry: reg, bindings: bindings}, nil
}

// Bindings returns the binding metric collectors.
func (r *Registry) Bindings() *BindingMetrics {
	return r.bindings
}

// PrometheusRegistry returns the underlying registry for scraping.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}
