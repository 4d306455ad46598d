// Package observability exposes Prometheus metrics for the agent runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime's Prometheus collectors.
type Metrics struct {
	Iterations       prometheus.Counter
	ToolExecutions   *prometheus.CounterVec
	Compressions     *prometheus.CounterVec
	CompressionTime  prometheus.Histogram
	TokensUsed       prometheus.Gauge
	HookFailures     *prometheus.CounterVec
	RateLimitDenials prometheus.Counter
	PhaseAdvances    *prometheus.CounterVec
}

// NewMetrics creates and registers the runtime collectors on the given
// registerer. A nil registerer uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepplan",
			Name:      "loop_iterations_total",
			Help:      "Agent loop iterations executed.",
		}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepplan",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		Compressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepplan",
			Name:      "compressions_total",
			Help:      "Compression passes by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		CompressionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deepplan",
			Name:      "compression_seconds",
			Help:      "Compression pass duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		TokensUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepplan",
			Name:      "context_tokens_used",
			Help:      "Token count of the live conversation.",
		}),
		HookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepplan",
			Name:      "hook_failures_total",
			Help:      "Hook errors and panics by kind.",
		}, []string{"kind"}),
		RateLimitDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepplan",
			Name:      "compression_rate_limit_denials_total",
			Help:      "LLM compression requests denied by the rate limiter.",
		}),
		PhaseAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepplan",
			Name:      "phase_advances_total",
			Help:      "Phase transitions by target phase.",
		}, []string{"phase"}),
	}
	reg.MustRegister(
		m.Iterations, m.ToolExecutions, m.Compressions, m.CompressionTime,
		m.TokensUsed, m.HookFailures, m.RateLimitDenials, m.PhaseAdvances,
	)
	return m
}
