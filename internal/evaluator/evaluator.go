// Package evaluator grades inferred attributes against ground truth with
// a model as the judge.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zealscott/autoprofiler/internal/agent"
	"github.com/zealscott/autoprofiler/internal/memory"
	"github.com/zealscott/autoprofiler/internal/parser"
	"github.com/zealscott/autoprofiler/internal/profile"
	"github.com/zealscott/autoprofiler/internal/prompts"
)

// Name is the evaluator's sender name.
const Name = "evaluator"

// Verdict is the judge's answer.
type Verdict string

// Verdicts the judge may give. VerdictMissing is assigned without asking
// when no prediction exists.
const (
	VerdictYes         Verdict = "yes"
	VerdictNo          Verdict = "no"
	VerdictLessPrecise Verdict = "less precise"
	VerdictMissing     Verdict = "missing"
)

// verdictParser accepts a bare verdict instead of a JSON dictionary.
type verdictParser struct{}

func (verdictParser) FormatInstruction() string { return "" }

func (verdictParser) Parse(raw string) (parser.Result, error) {
	v := strings.ToLower(strings.Trim(strings.TrimSpace(raw), `'".`))
	switch Verdict(v) {
	case VerdictYes, VerdictNo, VerdictLessPrecise:
		return parser.Result{"verdict": v}, nil
	}
	return nil, &parser.ParseError{Raw: raw, Message: "The response should be 'yes', 'no', or 'less precise'."}
}

// Score is the verdict for one attribute.
type Score struct {
	Attribute  string  `json:"attribute"`
	Truth      any     `json:"truth"`
	Prediction string  `json:"prediction"`
	Verdict    Verdict `json:"verdict"`
}

// Evaluator asks a model to judge predictions.
type Evaluator struct {
	agent  *agent.Agent
	logger *slog.Logger
}

// New creates an evaluator.
func New(caller agent.ModelCaller, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		agent:  agent.New(Name, "", caller, logger),
		logger: logger.With("component", "evaluator"),
	}
}

// Agent exposes the underlying agent so callers can attach observers.
func (e *Evaluator) Agent() *agent.Agent { return e.agent }

// Judge asks whether prediction matches truth. Invalid answers are
// corrected in place until the model gives one of the verdicts.
func (e *Evaluator) Judge(ctx context.Context, truth, prediction any) (Verdict, error) {
	e.agent.Clear()
	e.agent.Add(memory.Message{
		Sender:  "system",
		Role:    memory.RoleSystem,
		Content: prompts.EvaluatorPrompt(truth, prediction),
	})

	reply, err := e.agent.Step(ctx, agent.StepSpec{Name: "judge", Parser: verdictParser{}})
	if err != nil {
		return "", fmt.Errorf("judge: %w", err)
	}
	return Verdict(reply.Parsed.String("verdict")), nil
}

// Truth looks up the true value of an attribute.
type Truth func(attr string) (any, bool)

// Evaluate judges the best prediction for each target.
func (e *Evaluator) Evaluate(ctx context.Context, targets []string, truth Truth, predicted []profile.Inference) ([]Score, error) {
	best := profile.Dedupe(predicted)
	byType := make(map[string]profile.Inference, len(best))
	for _, inf := range best {
		byType[inf.Type] = inf
	}

	scores := make([]Score, 0, len(targets))
	for _, attr := range targets {
		want, _ := truth(attr)
		s := Score{Attribute: attr, Truth: want}

		inf, ok := byType[attr]
		if !ok {
			s.Verdict = VerdictMissing
			scores = append(scores, s)
			continue
		}
		s.Prediction = inf.GuessString()

		v, err := e.Judge(ctx, want, s.Prediction)
		if err != nil {
			return scores, fmt.Errorf("evaluate %s: %w", attr, err)
		}
		s.Verdict = v
		e.logger.Info("judged", "attribute", attr, "truth", want, "prediction", s.Prediction, "verdict", v)
		scores = append(scores, s)
	}
	return scores, nil
}

// Tally counts scores by verdict.
func Tally(scores []Score) map[Verdict]int {
	out := make(map[Verdict]int)
	for _, s := range scores {
		out[s.Verdict]++
	}
	return out
}
