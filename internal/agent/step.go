package agent

import (
	"context"
	"errors"

	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/memory"
	"github.com/zealscott/autoprofiler/internal/parser"
)

// DefaultOverflowDirective is appended after pruning an oversized log
// when a step does not set its own.
const DefaultOverflowDirective = "The response is too long. Only provide necessary information."

// overflowKeep is the number of leading messages kept on overflow: the
// persona and the first task message.
const overflowKeep = 2

// ResponseParser turns a raw reply into a result. *parser.Parser
// satisfies it.
type ResponseParser interface {
	Parse(raw string) (parser.Result, error)
	FormatInstruction() string
}

// StepSpec describes one structured exchange with the model.
type StepSpec struct {
	// Name labels the step in logs and metrics (think, reason, check).
	Name string

	// Prompt is an ephemeral system message sent after the log. It is
	// never stored.
	Prompt string

	Parser ResponseParser

	// Validate runs after a successful parse. A returned error is
	// treated as a parse failure.
	Validate func(parser.Result) error

	// Overflow is the directive appended after a context overflow.
	Overflow string

	// Persist keeps the successful reply in the log, replacing anything
	// failed attempts left behind.
	Persist bool

	// Attempts bounds the number of model replies. Zero retries until a
	// reply parses; the model caller's own ceiling still applies.
	Attempts int
}

// Reply is a successfully parsed model reply.
type Reply struct {
	Raw    string
	Parsed parser.Result
}

// Step runs spec against the current log.
//
// On success, messages appended by failed attempts are removed and, if
// spec.Persist is set, the reply is appended. On a parse failure the raw
// reply and the error are appended as corrective context. On a context
// overflow the log is cut back to the persona and first task message and
// a directive is appended, which then stays in the log. Errors other than parse failures (notably
// llm.ErrModelUnavailable) are returned immediately.
func (a *Agent) Step(ctx context.Context, spec StepSpec) (Reply, error) {
	start := a.log.Size()
	overflow := spec.Overflow
	if overflow == "" {
		overflow = DefaultOverflowDirective
	}

	var lastErr error
	for attempt := 1; spec.Attempts == 0 || attempt <= spec.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}

		prompt := toLLM(a.log.Get(), spec.Prompt, spec.Parser.FormatInstruction())
		raw, err := a.caller.Call(ctx, a.name, prompt)

		var result parser.Result
		if err != nil {
			var co *llm.ContextOverflowError
			if !errors.As(err, &co) {
				return Reply{}, err
			}
			err = &parser.ParseError{Raw: co.Body, Message: co.Error()}
		} else {
			result, err = spec.Parser.Parse(raw)
			if err == nil && spec.Validate != nil {
				err = spec.Validate(result)
			}
		}

		if a.observer != nil {
			a.observer.StepAttempt(a.name, spec.Name, attempt, err)
		}

		if err == nil {
			if a.log.Size() > start {
				a.log.Truncate(start)
			}
			if spec.Persist {
				a.log.Add(a.Reply(raw))
			}
			a.logger.Debug("step succeeded", "step", spec.Name, "attempt", attempt)
			return Reply{Raw: raw, Parsed: result}, nil
		}

		pe := asParseError(err, raw)
		lastErr = pe

		if pe.ContextOverflow() {
			a.logger.Warn("context overflow, pruning log",
				"step", spec.Name,
				"attempt", attempt,
				"log_size", a.log.Size(),
			)
			a.log.Truncate(overflowKeep)
			a.log.Add(memory.Message{Sender: "system", Role: memory.RoleSystem, Content: overflow})
			// The directive survives a later success; failures after it do not.
			start = a.log.Size()
			continue
		}

		a.logger.Info("reply rejected",
			"step", spec.Name,
			"attempt", attempt,
			"error", pe.Message,
		)
		a.log.Add(
			a.Reply(pe.Raw),
			memory.Message{Sender: "system", Role: memory.RoleSystem, Content: pe.Message},
		)
	}
	return Reply{}, lastErr
}

func asParseError(err error, raw string) *parser.ParseError {
	var pe *parser.ParseError
	if !errors.As(err, &pe) {
		pe = &parser.ParseError{Message: err.Error()}
	}
	if pe.Raw == "" {
		pe.Raw = raw
	}
	return pe
}
