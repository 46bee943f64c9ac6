package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Event flow through the runtime (by kind and direction)
//   - LLM request performance and token usage
//   - Tool execution patterns and latencies
//   - Delegation outcomes
//   - Active agent executions for capacity planning
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.EventReceived("1111")
//	defer metrics.RecordLLMRequest("anthropic", model, "success", elapsed, in, out)
type Metrics struct {
	// EventCounter tracks events by kind and direction.
	// Labels: kind, direction (inbound|outbound)
	EventCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// DelegationCounter counts completed delegations by outcome.
	// Labels: status (complete|timed_out|cancelled)
	DelegationCounter *prometheus.CounterVec

	// ActiveExecutions is a gauge tracking in-flight agent turns.
	ActiveExecutions prometheus.Gauge

	// ExecutionDuration measures agent turn lifetime in seconds.
	// Labels: agent
	ExecutionDuration *prometheus.HistogramVec

	// StreamFlushCounter counts streaming buffer flushes.
	// Labels: reason (interval|latency|final)
	StreamFlushCounter *prometheus.CounterVec

	// PublishRetryCounter counts publish retries against the relay.
	PublishRetryCounter prometheus.Counter

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (engine|tool|provider|transport), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		EventCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_events_total",
				Help: "Total number of events processed by kind and direction",
			},
			[]string{"kind", "direction"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenex_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenex_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		DelegationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_delegations_total",
				Help: "Total number of completed delegations by outcome",
			},
			[]string{"status"},
		),

		ActiveExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenex_active_executions",
				Help: "Current number of in-flight agent executions",
			},
		),

		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenex_execution_duration_seconds",
				Help:    "Duration of agent turns in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"agent"},
		),

		StreamFlushCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_stream_flushes_total",
				Help: "Total number of streaming buffer flushes by reason",
			},
			[]string{"reason"},
		),

		PublishRetryCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenex_publish_retries_total",
				Help: "Total number of event publish retries",
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenex_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// EventReceived increments the inbound event counter for a kind.
func (m *Metrics) EventReceived(kind string) {
	m.EventCounter.WithLabelValues(kind, "inbound").Inc()
}

// EventPublished increments the outbound event counter for a kind.
func (m *Metrics) EventPublished(kind string) {
	m.EventCounter.WithLabelValues(kind, "outbound").Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordDelegation records the outcome of a completed delegation.
func (m *Metrics) RecordDelegation(status string) {
	m.DelegationCounter.WithLabelValues(status).Inc()
}

// ExecutionStarted increments the active executions gauge.
func (m *Metrics) ExecutionStarted() {
	m.ActiveExecutions.Inc()
}

// ExecutionEnded decrements the active executions gauge and records the
// turn duration.
func (m *Metrics) ExecutionEnded(agent string, durationSeconds float64) {
	m.ActiveExecutions.Dec()
	m.ExecutionDuration.WithLabelValues(agent).Observe(durationSeconds)
}

// RecordStreamFlush counts one streaming buffer flush.
func (m *Metrics) RecordStreamFlush(reason string) {
	m.StreamFlushCounter.WithLabelValues(reason).Inc()
}

// RecordPublishRetry counts one publish retry.
func (m *Metrics) RecordPublishRetry() {
	m.PublishRetryCounter.Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
