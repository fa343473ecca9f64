package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the audit chain instrumentation.
type Metrics struct {
	// Appends by result: ok, invalid_input, not_found, lock_timeout, unavailable, conflict, error.
	AppendTotal *prometheus.CounterVec

	// End-to-end append latency including the gate wait.
	AppendDuration prometheus.Histogram

	// Time spent waiting for the organization's append section.
	GateWait prometheus.Histogram

	// Verifications by result: valid, invalid, error.
	VerifyTotal *prometheus.CounterVec

	// Best-effort publish failures after a successful append.
	PublishFailures prometheus.Counter
}

// New registers the collectors on reg. A nil reg gets a private registry so
// callers that do not expose metrics can still pass a usable *Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		AppendTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_append_total",
			Help: "Total number of append attempts by result.",
		}, []string{"result"}),

		AppendDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "auditchain_append_duration_seconds",
			Help:    "Histogram of append latencies.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		GateWait: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "auditchain_gate_wait_seconds",
			Help:    "Histogram of time spent acquiring the per-organization append section.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}),

		VerifyTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_verify_total",
			Help: "Total number of chain verifications by result.",
		}, []string{"result"}),

		PublishFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditchain_publish_failures_total",
			Help: "Appended events that could not be published to subscribers.",
		}),
	}
}
