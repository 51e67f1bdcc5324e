// Package metrics counts profiling activity with Prometheus collectors
// kept on a private registry. A batch run has no scrape endpoint, so the
// registry is written to a node_exporter textfile when a session ends.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/parser"
	"github.com/zealscott/autoprofiler/internal/tools"
)

const namespace = "autoprofiler"

// Recorder owns the collectors. It satisfies the step, tool and call
// observer interfaces of the agent, retriever and llm packages.
type Recorder struct {
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	stepFailures *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	modelCalls   *prometheus.CounterVec
	modelTokens  *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	cycles       *prometheus.CounterVec
	sessions     *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// Labels: agent, step
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "step_attempts_total",
			Help:      "Structured step attempts by agent and step",
		}, []string{"agent", "step"}),

		// Labels: agent, step, reason (parse, overflow)
		stepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "step_failures_total",
			Help:      "Rejected step attempts by agent, step and reason",
		}, []string{"agent", "step", "reason"}),

		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retriever",
			Name:      "tool_calls_total",
			Help:      "Executed tool calls by tool and status",
		}, []string{"tool", "status"}),

		toolLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retriever",
			Name:      "tool_latency_seconds",
			Help:      "Tool execution latency",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tool"}),

		modelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Successful model calls by agent and model",
		}, []string{"agent", "model"}),

		// Labels: model, direction (input, output)
		modelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens by model and direction",
		}, []string{"model", "direction"}),

		modelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Model call latency",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		// Labels: action (reason, retrieval, search, finish)
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "actions_total",
			Help:      "Profiler decisions by action",
		}, []string{"action"}),

		// Labels: status (complete, partial, failed)
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Finished sessions by status",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry as a gatherer.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// StepAttempt records one attempt of a structured step.
func (r *Recorder) StepAttempt(agent, step string, _ int, err error) {
	r.steps.WithLabelValues(agent, step).Inc()
	if err == nil {
		return
	}
	reason := "parse"
	var pe *parser.ParseError
	if errors.As(err, &pe) && pe.ContextOverflow() {
		reason = "overflow"
	}
	r.stepFailures.WithLabelValues(agent, step, reason).Inc()
}

// ToolExecuted records one tool call made by the retriever.
func (r *Recorder) ToolExecuted(tool string, status tools.Status, elapsed time.Duration) {
	r.toolCalls.WithLabelValues(tool, string(status)).Inc()
	r.toolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveCall records a successful model call.
func (r *Recorder) ObserveCall(_ context.Context, agent, model string, resp *llm.ChatResponse) {
	r.modelCalls.WithLabelValues(agent, model).Inc()
	if resp == nil {
		return
	}
	r.modelTokens.WithLabelValues(model, "input").Add(float64(resp.InputTokens))
	r.modelTokens.WithLabelValues(model, "output").Add(float64(resp.OutputTokens))
	r.modelLatency.WithLabelValues(model).Observe(resp.Duration.Seconds())
}

// Action records one profiler decision.
func (r *Recorder) Action(action string) {
	r.cycles.WithLabelValues(action).Inc()
}

// SessionFinished records the terminal status of a session.
func (r *Recorder) SessionFinished(status string) {
	r.sessions.WithLabelValues(status).Inc()
}

// WriteTextfile writes the registry in text exposition format. The
// write goes through a temp file and rename so a collector never reads
// a partial file. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
