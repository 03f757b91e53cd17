// Package telemetry wraps prometheus/client_golang behind a small
// namespaced registry, grounded on the teacher's
// metrics/prometheus/prometheus.go (a Gatherer over a registry) and
// utils/metered_cache.go (namespaced gauges/counters updated at a
// sampling frequency, never on every hot-path operation). Each owning
// component (sniffer, noncemgr, txbuilder) holds its own *Registry
// instance passed in at construction; there is no package-level global
// registry, per spec.md §9 ("Global mutable state... Metrics are
// atomics; no hidden globals").
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a namespaced set of counters/gauges/histograms.
type Registry struct {
	namespace string
	reg       *prometheus.Registry
}

// NewRegistry returns a fresh, unregistered registry under namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{namespace: namespace, reg: prometheus.NewRegistry()}
}

// Gatherer exposes the underlying prometheus.Gatherer for wiring into an
// HTTP /metrics handler (external to this repo, per spec.md §1).
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      help,
	}, labels)
	r.reg.MustRegister(c)
	return c
}

func (r *Registry) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      help,
	}, labels)
	r.reg.MustRegister(g)
	return g
}

func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	r.reg.MustRegister(h)
	return h
}
