// Package metrics owns the process Prometheus registry and its scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry shared by every component plus the process-level
// collectors.
type Metrics struct {
	Registry     *prometheus.Registry
	BuildInfo    *prometheus.GaugeVec
	BreakerState *prometheus.GaugeVec
}

// New creates a registry with Go runtime and process collectors.
func New(version string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	m := &Metrics{
		Registry: reg,
		BuildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certledger_build_info",
			Help: "Build information, always 1",
		}, []string{"version"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certledger_circuit_breaker_open",
			Help: "1 while the named circuit breaker is not closed",
		}, []string{"breaker"}),
	}
	m.BuildInfo.WithLabelValues(version).Set(1)
	return m
}

// SetBreakerOpen records whether a breaker currently rejects calls.
func (m *Metrics) SetBreakerOpen(name string, open bool) {
	value := 0.0
	if open {
		value = 1
	}
	m.BreakerState.WithLabelValues(name).Set(value)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
