package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the decision loop. A nil *Metrics
// records nothing.
type Metrics struct {
	Sessions      *prometheus.CounterVec
	Iterations    prometheus.Histogram
	Dispatches    *prometheus.CounterVec
	ModelLatency  prometheus.Histogram
	ModelFailures prometheus.Counter
	ReviewFlags   prometheus.Counter
}

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcheck_sessions_total",
				Help: "Decision sessions by terminal state",
			},
			[]string{"state"},
		),
		Iterations: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcheck_session_iterations",
				Help:    "Iterations used per finished session",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 7, 10, 15},
			},
		),
		Dispatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcheck_tool_dispatches_total",
				Help: "Tool dispatches by tool and result",
			},
			[]string{"tool", "result"}, // result: ok, unknown_tool, invalid_arguments, handler_error
		),
		ModelLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcheck_model_call_duration_seconds",
				Help:    "Latency of model calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		ModelFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcheck_model_failures_total",
				Help: "Sessions aborted by a model failure",
			},
		),
		ReviewFlags: f.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcheck_review_required_total",
				Help: "Verdicts flagged for human review",
			},
		),
	}
}

func (m *Metrics) observeModel(d time.Duration) {
	if m == nil {
		return
	}
	m.ModelLatency.Observe(d.Seconds())
}

func (m *Metrics) observeDispatch(tool, result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) observeModelFailure() {
	if m == nil {
		return
	}
	m.ModelFailures.Inc()
}

func (m *Metrics) observeVerdict(v Verdict) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(string(v.State)).Inc()
	m.Iterations.Observe(float64(v.Iterations))
	if v.ReviewRequired {
		m.ReviewFlags.Inc()
	}
}
