package metrics

import "github.com/prometheus/client_golang/prometheus"

// AgentMetrics exposes counters/histograms for chat turns and tool calls.
type AgentMetrics struct {
	turnsTotal        *prometheus.CounterVec
	toolInvocations   *prometheus.CounterVec
	inferenceLatency  *prometheus.HistogramVec
	analysisCacheHits prometheus.Counter
}

func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	m := &AgentMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxassist",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Total agent turns by route and outcome",
		}, []string{"route", "outcome"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxassist",
			Subsystem: "agent",
			Name:      "tool_invocations_total",
			Help:      "Total tool invocations by capability and outcome",
		}, []string{"capability", "outcome"}),
		inferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rxassist",
			Subsystem: "vision",
			Name:      "inference_duration_seconds",
			Help:      "Latency of vision inference calls",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120, 180},
		}, []string{"outcome"}),
		analysisCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rxassist",
			Subsystem: "agent",
			Name:      "analysis_cache_hits_total",
			Help:      "Prescription analyses served from a completed record",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.toolInvocations, m.inferenceLatency, m.analysisCacheHits)
	return m
}

func (m *AgentMetrics) ObserveTurn(route, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(route, outcome).Inc()
}

func (m *AgentMetrics) ObserveTool(capability, outcome string) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(capability, outcome).Inc()
}

func (m *AgentMetrics) ObserveInference(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.inferenceLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *AgentMetrics) ObserveAnalysisCacheHit() {
	if m == nil {
		return
	}
	m.analysisCacheHits.Inc()
}
