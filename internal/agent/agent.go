// Package agent implements the structured-reply protocol shared by every
// role: build a prompt from the agent's log, call the model, parse, and
// recover from malformed or oversized replies.
package agent

import (
	"context"
	"log/slog"

	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/memory"
)

// ModelCaller sends a prompt on behalf of a named agent. *llm.Caller
// satisfies it.
type ModelCaller interface {
	Call(ctx context.Context, agent string, messages []llm.Message) (string, error)
}

// StepObserver is told about every attempt of every step.
type StepObserver interface {
	StepAttempt(agent, step string, attempt int, err error)
}

// Agent is one role with its own message log. The log starts with the
// persona as a system message.
type Agent struct {
	name     string
	persona  string
	log      *memory.Log
	caller   ModelCaller
	observer StepObserver
	logger   *slog.Logger
}

// New creates an agent whose log is seeded with persona.
func New(name, persona string, caller ModelCaller, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		name:    name,
		persona: persona,
		log:     memory.NewLog(),
		caller:  caller,
		logger:  logger.With("agent", name),
	}
	a.Reset()
	return a
}

// Name returns the agent's identity, used as the sender of its replies.
func (a *Agent) Name() string { return a.name }

// Persona returns the system prompt the log is seeded with.
func (a *Agent) Persona() string { return a.persona }

// Log exposes the agent's message log.
func (a *Agent) Log() *memory.Log { return a.log }

// SetObserver registers o for step attempts.
func (a *Agent) SetObserver(o StepObserver) { a.observer = o }

// Reset clears the log and reseeds it with the persona.
func (a *Agent) Reset() {
	a.log.Clear()
	if a.persona != "" {
		a.log.Add(memory.Message{Sender: "system", Role: memory.RoleSystem, Content: a.persona})
	}
}

// Clear empties the log without reseeding the persona.
func (a *Agent) Clear() {
	a.log.Clear()
}

// Add appends messages to the log.
func (a *Agent) Add(msgs ...memory.Message) {
	a.log.Add(msgs...)
}

// Reply wraps content in a message sent by this agent.
func (a *Agent) Reply(content any) memory.Message {
	return memory.Message{Sender: a.name, Role: memory.RoleAssistant, Content: content}
}

// toLLM renders log messages followed by ephemeral system messages.
func toLLM(msgs []memory.Message, ephemeral ...string) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+len(ephemeral))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Text()})
	}
	for _, e := range ephemeral {
		if e != "" {
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: e})
		}
	}
	return out
}
