package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects generation counters on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stepsTotal     *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	toolCallsTotal *prometheus.CounterVec
	tokensTotal    *prometheus.CounterVec
	generateMs     *prometheus.HistogramVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisdk_steps_total",
			Help: "Model steps completed, by step type and finish reason.",
		}, []string{"provider", "step_type", "finish_reason"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisdk_retries_total",
			Help: "Backend calls retried after a transient failure.",
		}, []string{"provider"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisdk_tool_calls_total",
			Help: "Tool calls resolved, by tool and outcome.",
		}, []string{"tool", "status"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisdk_tokens_total",
			Help: "Tokens reported by backends.",
		}, []string{"provider", "kind"}),
		generateMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aisdk_generate_latency_ms",
			Help:    "End to end generation latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
		}, []string{"provider", "status"}),
	}
	r.MustRegister(m.stepsTotal, m.retriesTotal, m.toolCallsTotal, m.tokensTotal, m.generateMs)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveStep(provider, stepType, finishReason string, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(provider, stepType, finishReason).Inc()
	m.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	m.tokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}

func (m *Metrics) ObserveRetry(provider string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveToolCall(tool string, isError bool) {
	if m == nil {
		return
	}
	status := "ok"
	if isError {
		status = "error"
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) ObserveGenerate(provider, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.generateMs.WithLabelValues(provider, status).Observe(float64(dur.Milliseconds()))
}
