// Package summarizer implements the role that consolidates inferences
// between reasoning rounds and writes the final prose profile.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zealscott/autoprofiler/internal/agent"
	"github.com/zealscott/autoprofiler/internal/memory"
	"github.com/zealscott/autoprofiler/internal/parser"
	"github.com/zealscott/autoprofiler/internal/profile"
	"github.com/zealscott/autoprofiler/internal/prompts"
)

// Name is the summarizer's sender name.
const Name = "summarizer"

// CheckOverflow is the directive appended when a CHECK prompt overflows.
const CheckOverflow = "The attributes information is too long. Merge similar attributes or discard " +
	"irrelevant/low-confidence attributes for next check. You also do not need to provide the thought."

var (
	checkParser = parser.New([]parser.Field{
		{Name: "thought", Hint: `"how do you check and summarize the inferred information"`},
		{Name: "results", Hint: `[{"type": "{attribute name}", "confidence": "{confidence score}", "evidence": "{detailed facts for guessing}", "guess": "{inferred information}"}]`},
	}, "results")

	summaryParser = parser.New([]parser.Field{
		{Name: "think", Hint: `"how do you summarize the inferred information"`},
		{Name: "summary", Hint: `"the natural language summary of the inferred information"`},
	}, "summary")
)

// Summarizer checks and summarizes inferences. Every call starts from a
// fresh log and keeps nothing.
type Summarizer struct {
	agent  *agent.Agent
	logger *slog.Logger

	checkPrompt   string
	summaryPrompt string
}

// New creates a summarizer for targets.
func New(caller agent.ModelCaller, targets []string, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		agent:         agent.New(Name, "", caller, logger),
		logger:        logger.With("component", "summarizer"),
		checkPrompt:   prompts.CheckPrompt(targets),
		summaryPrompt: prompts.SummaryPrompt(),
	}
}

// Agent returns the underlying agent.
func (s *Summarizer) Agent() *agent.Agent { return s.agent }

// Check consolidates infs. The returned list replaces the caller's
// working set; malformed entries in the reply are dropped with a warning.
func (s *Summarizer) Check(ctx context.Context, from string, infs []profile.Inference) ([]profile.Inference, error) {
	s.agent.Clear()
	s.agent.Add(
		memory.Message{Sender: "system", Role: memory.RoleSystem, Content: s.checkPrompt},
		memory.Message{Sender: from, Role: memory.RoleAssistant, Content: nonNil(infs)},
	)

	reply, err := s.agent.Step(ctx, agent.StepSpec{
		Name:     "check",
		Parser:   checkParser,
		Validate: parser.IsList("results"),
		Overflow: CheckOverflow,
	})
	if err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}

	checked, rejected := profile.Decode(reply.Parsed["results"])
	for _, err := range rejected {
		s.logger.Warn("skipping malformed inference", "error", err)
	}
	s.logger.Info("checked inferences", "in", len(infs), "out", len(checked))
	return checked, nil
}

// Summary writes a prose profile of infs. An empty summary is returned
// as "".
func (s *Summarizer) Summary(ctx context.Context, infs []profile.Inference) (string, error) {
	s.agent.Clear()
	s.agent.Add(
		memory.Message{Sender: "system", Role: memory.RoleSystem, Content: s.summaryPrompt},
		memory.Message{Sender: "user", Role: memory.RoleUser, Content: nonNil(infs)},
	)

	reply, err := s.agent.Step(ctx, agent.StepSpec{
		Name:   "summary",
		Prompt: s.summaryPrompt,
		Parser: summaryParser,
	})
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	if reply.Parsed["summary"] == nil {
		return "", nil
	}
	return reply.Parsed.String("summary"), nil
}

// nonNil keeps an empty list rendering as [] rather than null.
func nonNil(infs []profile.Inference) []profile.Inference {
	if infs == nil {
		return []profile.Inference{}
	}
	return infs
}
