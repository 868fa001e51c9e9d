// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors on a private registry so tests can
// build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Requests           *prometheus.CounterVec
	Failures           *prometheus.CounterVec
	CompilationDefects prometheus.Counter
	RegionsPerRequest  prometheus.Histogram
	RenderDuration     prometheus.Histogram
	RendersInFlight    prometheus.Gauge
	HTTPDuration       *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veil_redactions_total",
				Help: "Redaction requests by outcome",
			},
			[]string{"outcome"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veil_failures_total",
				Help: "Failed redactions by failure kind",
			},
			[]string{"kind"},
		),
		CompilationDefects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veil_compilation_defects_total",
			Help: "Graph compiler invariant violations",
		}),
		RegionsPerRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "veil_regions_per_request",
			Help:    "Number of face regions per redaction",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "veil_render_duration_seconds",
			Help:    "Wall time of ffmpeg renders",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		RendersInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "veil_renders_in_flight",
			Help: "Renders currently holding a slot",
		}),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veil_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
	}

	m.Registry.MustRegister(
		m.Requests,
		m.Failures,
		m.CompilationDefects,
		m.RegionsPerRequest,
		m.RenderDuration,
		m.RendersInFlight,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
