package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for certificate lifecycle operations.
type Metrics struct {
	Operations          *prometheus.CounterVec
	Failures            *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	RenderDuration      prometheus.Histogram
	ArtifactCleanup     *prometheus.CounterVec
	InvariantViolations prometheus.Counter
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_certificate_operations_total",
			Help: "Completed certificate lifecycle operations by kind",
		}, []string{"operation"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_certificate_failures_total",
			Help: "Failed certificate lifecycle operations by kind and cause",
		}, []string{"operation", "cause"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certledger_certificate_operation_duration_seconds",
			Help:    "Latency of certificate lifecycle operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		RenderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certledger_document_render_duration_seconds",
			Help:    "Latency of document generator calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		ArtifactCleanup: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_artifact_cleanup_total",
			Help: "Artifact deletions by outcome",
		}, []string{"outcome"}),
		InvariantViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "certledger_invariant_violations_total",
			Help: "Active references that did not point at an active certificate",
		}),
	}
}

func (m *Metrics) IncOperation(op string) {
	m.Operations.WithLabelValues(op).Inc()
}

func (m *Metrics) IncFailure(op, cause string) {
	m.Failures.WithLabelValues(op, cause).Inc()
}

func (m *Metrics) ObserveOperation(op string, seconds float64) {
	m.OperationDuration.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) ObserveRender(seconds float64) {
	m.RenderDuration.Observe(seconds)
}

func (m *Metrics) IncArtifactCleanup(outcome string) {
	m.ArtifactCleanup.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncInvariantViolation() {
	m.InvariantViolations.Inc()
}
