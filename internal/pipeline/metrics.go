package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's prometheus instruments.
type Metrics struct {
	Decisions *prometheus.CounterVec

	StageDuration *prometheus.HistogramVec

	// Denials by the stage that produced them.
	Denials *prometheus.CounterVec

	AuditFallbacks prometheus.Counter
}

// NewMetrics registers the pipeline instruments. A nil registerer gets a
// private registry, which keeps tests and embedded use collision-free.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_decisions_total",
			Help: "Total governance decisions by outcome.",
		}, []string{"outcome", "tool"}),

		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolgate_stage_duration_seconds",
			Help:    "Histogram of per-stage latencies.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"stage"}),

		Denials: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_denials_total",
			Help: "Total denials by the stage that produced them.",
		}, []string{"stage"}),

		AuditFallbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "toolgate_audit_fallback_total",
			Help: "Audit entries that degraded to the fallback sink.",
		}),
	}
}
