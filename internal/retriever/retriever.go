// Package retriever implements the evidence-gathering role: a bounded
// tool-calling loop that turns a profiler request into one tool result.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zealscott/autoprofiler/internal/agent"
	"github.com/zealscott/autoprofiler/internal/memory"
	"github.com/zealscott/autoprofiler/internal/parser"
	"github.com/zealscott/autoprofiler/internal/prompts"
	"github.com/zealscott/autoprofiler/internal/tools"
)

// Name is the retriever's sender name.
const Name = "retriever"

// DefaultMaxIters bounds the loop when no limit is configured.
const DefaultMaxIters = 20

// ExhaustedThought is reported when no iteration produced a usable
// tool result.
const ExhaustedThought = "I have failed to generate a response in the maximum iterations. Please provide a " +
	"more detailed instruction For example, directly ask me to retrieval more user's comments history."

// Outcome is what the retriever hands back to the profiler.
type Outcome struct {
	Status     tools.Status
	Thought    string
	Results    string
	Iterations int
}

// Content is the structured message body the profiler receives.
func (o Outcome) Content() map[string]any {
	if o.Status == tools.StatusSuccess {
		return map[string]any{"results": o.Results}
	}
	return map[string]any{"status": string(o.Status), "thought": o.Thought, "results": o.Results}
}

// Message wraps the outcome as a reply from the retriever.
func (o Outcome) Message() memory.Message {
	return memory.Message{Sender: Name, Role: memory.RoleAssistant, Content: o.Content()}
}

// ToolObserver is told about every executed tool call.
type ToolObserver interface {
	ToolExecuted(tool string, status tools.Status, elapsed time.Duration)
}

// Retriever runs tool calls on behalf of the profiler.
type Retriever struct {
	agent    *agent.Agent
	registry *tools.Registry
	parser   *parser.Parser
	maxIters int
	observer ToolObserver
	logger   *slog.Logger
}

// New creates a retriever over registry. The tool catalogue is rendered
// into the persona once, so every tool must be registered first.
func New(caller agent.ModelCaller, registry *tools.Registry, maxIters int, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if maxIters <= 0 {
		maxIters = DefaultMaxIters
	}
	return &Retriever{
		agent:    agent.New(Name, prompts.RetrieverSystemPrompt(registry.Instructions()), caller, logger),
		registry: registry,
		parser: parser.New([]parser.Field{
			{Name: "thought", Hint: `"how to retrieve the information"`},
			{Name: "function", Hint: registry.CallingFormat()},
		}, "function"),
		maxIters: maxIters,
		logger:   logger.With("component", "retriever"),
	}
}

// Agent returns the underlying agent.
func (r *Retriever) Agent() *agent.Agent { return r.agent }

// SetObserver registers o for tool executions.
func (r *Retriever) SetObserver(o ToolObserver) { r.observer = o }

// Run serves one request. Each iteration is one model reply: a reply
// that does not parse, or a tool call that fails, is fed back as
// corrective context and uses up the iteration. The first successful
// tool call ends the loop. Only fatal model errors are returned.
func (r *Retriever) Run(ctx context.Context, instruction memory.Message) (Outcome, error) {
	r.agent.Reset()
	r.agent.Add(instruction)

	for i := 1; i <= r.maxIters; i++ {
		reply, err := r.agent.Step(ctx, agent.StepSpec{
			Name:     "retrieve",
			Parser:   r.parser,
			Validate: validateCall,
			Persist:  true,
			Attempts: 1,
		})
		if err != nil {
			var pe *parser.ParseError
			if errors.As(err, &pe) {
				r.logger.Debug("iteration rejected", "iter", i, "error", pe.Message)
				continue
			}
			return Outcome{}, fmt.Errorf("retrieve: %w", err)
		}

		call, _ := tools.DecodeCall(reply.Parsed["function"])
		started := time.Now()
		res := r.registry.Execute(ctx, call)
		if r.observer != nil {
			r.observer.ToolExecuted(call.Name, res.Status, time.Since(started))
		}

		if !res.OK() {
			execErr := &tools.ExecutionError{Tool: call.Name, Reason: res.Payload}
			r.logger.Info("tool call failed", "iter", i, "tool", call.Name, "error", execErr)
			r.agent.Add(memory.Message{Sender: "system", Role: memory.RoleSystem, Content: execErr.Error()})
			continue
		}

		r.logger.Info("retrieved", "iter", i, "tool", call.Name, "bytes", len(res.Payload))
		return Outcome{Status: tools.StatusSuccess, Results: res.Payload, Iterations: i}, nil
	}

	r.logger.Warn("retriever exhausted its iterations", "max_iters", r.maxIters)
	return Outcome{Status: tools.StatusFail, Thought: ExhaustedThought, Iterations: r.maxIters}, nil
}

func validateCall(res parser.Result) error {
	if _, err := tools.DecodeCall(res["function"]); err != nil {
		return &parser.ParseError{Message: fmt.Sprintf("The function field is invalid: %v.", err)}
	}
	return nil
}
