// Package profiler implements the reasoning role: it decides what
// evidence to gather next and turns evidence into attribute inferences.
package profiler

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

// Name is the profiler's sender name.
const Name = "profiler"

// Overflow directives.
const (
	ThinkOverflow  = "The response is too long. Only provide necessary information."
	ReasonOverflow = "The response is too long. Merge similar attributes or discard irrelevant/low-confidence attributes for next check."
)

// Action is the next move THINK chooses.
type Action string

// Actions THINK may choose.
const (
	ActionReason    Action = "reason"
	ActionRetrieval Action = "retrieval"
	ActionSearch    Action = "search"
	ActionFinish    Action = "finish"
)

// Decision is a parsed THINK reply.
type Decision struct {
	Think       string
	Action      Action
	Instruction string
}

// Analysis is a parsed REASON or NAIVE reply. Inferences holds the valid
// entries of the reply's results; Rejected the ones that were not.
type Analysis struct {
	Think      string
	Inferences []profile.Inference
	Rejected   []error
}

var (
	thinkParser = parser.New([]parser.Field{
		{Name: "think", Hint: `"what do you think about the situation"`},
		{Name: "action", Hint: `"what to do next (reason|retrieval|search|finish)"`},
		{Name: "instruction", Hint: `"the command for next action"`},
	}, "think", "action", "instruction")

	reasonParser = parser.New([]parser.Field{
		{Name: "think", Hint: `"what do you think about the situation"`},
		{Name: "results", Hint: `[{"type": "{attribute name}", "confidence": "{confidence score}", "evidence": "{clue for guessing}", "guess": "{inferred information}"}]`},
	}, "results")

	validateAction = parser.OneOf("action",
		string(ActionReason), string(ActionRetrieval), string(ActionSearch), string(ActionFinish))
	validateResults = parser.IsList("results")
)

// Profiler is the reasoning agent for one subject.
type Profiler struct {
	agent   *agent.Agent
	targets []string
	logger  *slog.Logger

	thinkPrompt  string
	reasonPrompt string
}

// New creates a profiler for targets.
func New(caller agent.ModelCaller, targets []string, logger *slog.Logger) *Profiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiler{
		agent:        agent.New(Name, prompts.ProfilerSystemPrompt(targets), caller, logger),
		targets:      targets,
		logger:       logger.With("component", "profiler"),
		thinkPrompt:  prompts.ThinkPrompt(targets),
		reasonPrompt: prompts.ReasonPrompt(targets),
	}
}

// Agent returns the underlying agent.
func (p *Profiler) Agent() *agent.Agent { return p.agent }

// Targets returns the attributes this profiler infers.
func (p *Profiler) Targets() []string { return p.targets }

// Think appends x and asks for the next action. With reset, the log is
// first cut back to the persona. The reply is kept in the log.
func (p *Profiler) Think(ctx context.Context, x memory.Message, reset bool) (Decision, error) {
	if reset {
		p.agent.Reset()
	}
	p.agent.Add(x)

	reply, err := p.agent.Step(ctx, agent.StepSpec{
		Name:     "think",
		Prompt:   p.thinkPrompt,
		Parser:   thinkParser,
		Validate: validateAction,
		Overflow: ThinkOverflow,
		Persist:  true,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("think: %w", err)
	}

	d := Decision{
		Think:       reply.Parsed.String("think"),
		Action:      Action(reply.Parsed.String("action")),
		Instruction: reply.Parsed.String("instruction"),
	}
	p.logger.Info("decided", "action", d.Action, "instruction", d.Instruction)
	return d, nil
}

// Reason appends the instruction and asks for inferences. The reply is
// kept in the log.
func (p *Profiler) Reason(ctx context.Context, instruction memory.Message) (Analysis, error) {
	p.agent.Add(instruction)

	reply, err := p.agent.Step(ctx, agent.StepSpec{
		Name:     "reason",
		Prompt:   p.reasonPrompt,
		Parser:   reasonParser,
		Validate: validateResults,
		Overflow: ReasonOverflow,
		Persist:  true,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("reason: %w", err)
	}
	return p.analysis(reply), nil
}

// Naive infers targets in a single pass over every item. It starts from
// an empty log and keeps nothing.
func (p *Profiler) Naive(ctx context.Context, targets, items []string) (Analysis, error) {
	p.agent.Clear()

	reply, err := p.agent.Step(ctx, agent.StepSpec{
		Name:     "naive",
		Prompt:   prompts.NaivePrompt(targets, items),
		Parser:   reasonParser,
		Validate: validateResults,
		Overflow: ThinkOverflow,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("naive reason: %w", err)
	}
	return p.analysis(reply), nil
}

func (p *Profiler) analysis(reply agent.Reply) Analysis {
	infs, rejected := profile.Decode(reply.Parsed["results"])
	for _, err := range rejected {
		p.logger.Warn("skipping malformed inference", "error", err)
	}
	return Analysis{
		Think:      reply.Parsed.String("think"),
		Inferences: infs,
		Rejected:   rejected,
	}
}
