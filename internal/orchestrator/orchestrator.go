// Package orchestrator drives one profiling session: the profiler
// thinks, the retriever gathers evidence, the profiler reasons and the
// summarizer consolidates, until the whole history has been read and
// the profiler decides to finish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zealscott/autoprofiler/internal/events"
	"github.com/zealscott/autoprofiler/internal/history"
	"github.com/zealscott/autoprofiler/internal/memory"
	"github.com/zealscott/autoprofiler/internal/metrics"
	"github.com/zealscott/autoprofiler/internal/profile"
	"github.com/zealscott/autoprofiler/internal/profiler"
	"github.com/zealscott/autoprofiler/internal/prompts"
	"github.com/zealscott/autoprofiler/internal/retriever"
	"github.com/zealscott/autoprofiler/internal/runstore"
	"github.com/zealscott/autoprofiler/internal/tools"
	"github.com/zealscott/autoprofiler/internal/usage"
)

// ErrCycleLimit is returned when a session reaches Config.MaxCycles
// without finishing.
var ErrCycleLimit = errors.New("cycle limit reached")

// SummarizerSender names the summarizer when its output is handed to
// the profiler as the next task.
const SummarizerSender = "Summarizer"

// Profiler is the reasoning role.
type Profiler interface {
	Think(ctx context.Context, x memory.Message, reset bool) (profiler.Decision, error)
	Reason(ctx context.Context, instruction memory.Message) (profiler.Analysis, error)
	Naive(ctx context.Context, targets, items []string) (profiler.Analysis, error)
}

// Retriever is the evidence-gathering role.
type Retriever interface {
	Run(ctx context.Context, instruction memory.Message) (retriever.Outcome, error)
}

// Summarizer is the consolidation role.
type Summarizer interface {
	Check(ctx context.Context, from string, infs []profile.Inference) ([]profile.Inference, error)
	Summary(ctx context.Context, infs []profile.Inference) (string, error)
}

// Config describes one session.
type Config struct {
	User    string
	Model   string
	Targets []string

	// CycleInterval spaces THINK calls. Zero disables pacing.
	CycleInterval time.Duration
	// MaxCycles bounds the number of reset THINK cycles. Zero is
	// unlimited.
	MaxCycles int
}

// Deps are the collaborators of a session. Bus, Runs and Metrics are
// optional.
type Deps struct {
	Profiler   Profiler
	Retriever  Retriever
	Summarizer Summarizer
	Corpus     *history.Corpus
	Tracker    *history.Tracker

	Bus     *events.Bus
	Runs    *runstore.Store
	Metrics *metrics.Recorder
}

// Outcome is the result of a finished session.
type Outcome struct {
	SessionID  string              `json:"session_id"`
	User       string              `json:"user"`
	Model      string              `json:"model"`
	Attributes []profile.Inference `json:"attributes"`
	Summary    string              `json:"summary"`
	Partial    bool                `json:"partial"`
	Cycles     int                 `json:"cycles"`
	Visited    int                 `json:"visited"`
	Total      int                 `json:"total"`
	Elapsed    time.Duration       `json:"elapsed"`
}

// Session holds the state of one run. It is not safe for concurrent
// use; Run is called once.
type Session struct {
	id  string
	cfg Config
	d   Deps

	limiter *rate.Limiter
	logger  *slog.Logger

	// durable only grows: target-typed inferences from every REASON
	// and from the final naive pass.
	durable []profile.Inference
	// working is replaced by each CHECK and seeds the next cycle.
	working []profile.Inference
	cycles  int
}

// New creates a session with a fresh UUIDv7 id.
func New(cfg Config, d Deps, logger *slog.Logger) (*Session, error) {
	if d.Profiler == nil || d.Retriever == nil || d.Summarizer == nil {
		return nil, fmt.Errorf("profiler, retriever and summarizer are required")
	}
	if d.Corpus == nil || d.Tracker == nil {
		return nil, fmt.Errorf("corpus and tracker are required")
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no target attributes for user %s", cfg.User)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:  id.String(),
		cfg: cfg,
		d:   d,
		logger: logger.With(
			"component", "orchestrator",
			"session_id", id.String(),
			"user", cfg.User,
		),
	}
	if cfg.CycleInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.CycleInterval), 1)
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Durable returns a copy of the durable set.
func (s *Session) Durable() []profile.Inference { return slices.Clone(s.durable) }

// Working returns a copy of the working set.
func (s *Session) Working() []profile.Inference { return slices.Clone(s.working) }

// Run executes the session to completion. Model unavailability and
// cancellation abort it; every other failure is recovered inside the
// roles.
func (s *Session) Run(ctx context.Context) (*Outcome, error) {
	ctx = usage.WithSession(ctx, s.id)
	ctx = tools.WithSubject(tools.WithSessionID(ctx, s.id), s.cfg.User)
	started := time.Now()

	rec := &runstore.Record{
		ID:        s.id,
		User:      s.cfg.User,
		Model:     s.cfg.Model,
		Targets:   s.cfg.Targets,
		Total:     s.d.Tracker.Total(),
		StartedAt: started,
	}
	if s.d.Runs != nil {
		if err := s.d.Runs.Start(ctx, rec); err != nil {
			s.logger.Warn("failed to record session start", "error", err)
		}
	}

	s.logger.Info("session started",
		"model", s.cfg.Model,
		"targets", s.cfg.Targets,
		"items", s.d.Tracker.Total(),
	)
	s.emit(events.SourceSession, events.KindSessionStart, map[string]any{
		"user":    s.cfg.User,
		"model":   s.cfg.Model,
		"targets": s.cfg.Targets,
		"total":   s.d.Tracker.Total(),
	})

	out, err := s.loop(ctx)
	elapsed := time.Since(started)

	rec.Cycles = s.cycles
	rec.Visited = s.d.Tracker.Visited()
	rec.CompletedAt = time.Now()
	rec.DurationMs = elapsed.Milliseconds()

	if err != nil {
		rec.Status = runstore.StatusFailed
		rec.Error = err.Error()
		rec.Attributes = profile.Dedupe(s.durable)
		s.finishRecord(ctx, rec)
		s.observeSession(runstore.StatusFailed)
		s.logger.Error("session failed", "cycles", s.cycles, "error", err)
		s.emit(events.SourceSession, events.KindSessionFailed, map[string]any{
			"error":  err.Error(),
			"cycles": s.cycles,
		})
		return nil, err
	}

	out.Elapsed = elapsed
	rec.Status = runstore.StatusComplete
	if out.Partial {
		rec.Status = runstore.StatusPartial
	}
	rec.Attributes = out.Attributes
	rec.Summary = out.Summary
	s.finishRecord(ctx, rec)
	s.observeSession(rec.Status)

	s.logger.Info("session complete",
		"attributes", len(out.Attributes),
		"partial", out.Partial,
		"cycles", out.Cycles,
		"elapsed", elapsed.Truncate(time.Millisecond),
	)
	s.emit(events.SourceSession, events.KindSessionComplete, map[string]any{
		"attributes": profile.Types(out.Attributes),
		"partial":    out.Partial,
		"cycles":     out.Cycles,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return out, nil
}

func (s *Session) loop(ctx context.Context) (*Outcome, error) {
	x := memory.Message{Sender: "user", Role: memory.RoleUser, Content: prompts.Kickoff}

	for {
		if s.cfg.MaxCycles > 0 && s.cycles >= s.cfg.MaxCycles {
			return nil, fmt.Errorf("%w (%d cycles)", ErrCycleLimit, s.cycles)
		}
		s.cycles++

		d, err := s.think(ctx, x, true)
		if err != nil {
			return nil, err
		}

		for d.Action == profiler.ActionRetrieval || d.Action == profiler.ActionSearch {
			outcome, err := s.d.Retriever.Run(ctx, fromProfiler(d.Instruction))
			if err != nil {
				return nil, err
			}
			s.emit(events.SourceRetriever, events.KindRetrieved, map[string]any{
				"status":     string(outcome.Status),
				"iterations": outcome.Iterations,
				"visited":    s.d.Tracker.Visited(),
				"total":      s.d.Tracker.Total(),
			})

			d, err = s.think(ctx, outcome.Message(), false)
			if err != nil {
				return nil, err
			}
		}

		switch d.Action {
		case profiler.ActionFinish:
			if s.d.Tracker.Complete() {
				return s.finish(ctx)
			}
			s.logger.Info("finish deferred, history not fully visited",
				"visited", s.d.Tracker.Visited(),
				"total", s.d.Tracker.Total(),
			)
			s.emit(events.SourceProfiler, events.KindFinishDeferred, map[string]any{
				"visited": s.d.Tracker.Visited(),
				"total":   s.d.Tracker.Total(),
			})
			x = memory.Message{Sender: "user", Role: memory.RoleUser, Content: prompts.KeepGoing(x.Text())}

		case profiler.ActionReason:
			if err := s.reason(ctx, d.Instruction); err != nil {
				return nil, err
			}
			x = memory.Message{Sender: SummarizerSender, Role: memory.RoleAssistant, Content: s.Working()}

		default:
			// THINK validates the action, so this is a programming error.
			return nil, fmt.Errorf("unexpected action %q", d.Action)
		}
	}
}

func (s *Session) think(ctx context.Context, x memory.Message, reset bool) (profiler.Decision, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return profiler.Decision{}, err
		}
	}
	d, err := s.d.Profiler.Think(ctx, x, reset)
	if err != nil {
		return d, err
	}
	if s.d.Metrics != nil {
		s.d.Metrics.Action(string(d.Action))
	}
	s.emit(events.SourceProfiler, events.KindThink, map[string]any{
		"cycle":  s.cycles,
		"action": string(d.Action),
		"reset":  reset,
	})
	return d, nil
}

// reason runs REASON then CHECK. Target-typed inferences extend the
// durable set; all of them join the working set before the check
// replaces it.
func (s *Session) reason(ctx context.Context, instruction string) error {
	a, err := s.d.Profiler.Reason(ctx, fromProfiler(instruction))
	if err != nil {
		return err
	}

	for _, inf := range a.Inferences {
		if !slices.Contains(s.cfg.Targets, inf.Type) {
			s.logger.Info("inference outside target attributes", "type", inf.Type)
			continue
		}
		s.durable = append(s.durable, inf)
	}
	s.working = append(s.working, a.Inferences...)

	s.emit(events.SourceProfiler, events.KindReasoned, map[string]any{
		"inferences": len(a.Inferences),
		"durable":    len(s.durable),
		"rejected":   len(a.Rejected),
	})

	checked, err := s.d.Summarizer.Check(ctx, profiler.Name, s.working)
	if err != nil {
		return err
	}
	s.working = checked
	s.emit(events.SourceSummarizer, events.KindChecked, map[string]any{
		"working": len(s.working),
	})
	return nil
}

// finish runs the naive pass over the whole history, merges it into the
// durable set, checks and deduplicates the result, and summarizes it.
func (s *Session) finish(ctx context.Context) (*Outcome, error) {
	a, err := s.d.Profiler.Naive(ctx, s.cfg.Targets, s.d.Corpus.Items)
	if err != nil {
		return nil, err
	}
	s.durable = append(s.durable, profile.OfTypes(a.Inferences, s.cfg.Targets)...)

	checked, err := s.d.Summarizer.Check(ctx, profiler.Name, s.Durable())
	if err != nil {
		return nil, err
	}
	final := profile.OfTypes(profile.Dedupe(checked), s.cfg.Targets)

	summary, err := s.d.Summarizer.Summary(ctx, final)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		SessionID:  s.id,
		User:       s.cfg.User,
		Model:      s.cfg.Model,
		Attributes: final,
		Summary:    summary,
		Partial:    len(final) < len(s.cfg.Targets),
		Cycles:     s.cycles,
		Visited:    s.d.Tracker.Visited(),
		Total:      s.d.Tracker.Total(),
	}, nil
}

func (s *Session) emit(source, kind string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = s.id
	s.d.Bus.Emit(source, kind, data)
}

func (s *Session) finishRecord(ctx context.Context, rec *runstore.Record) {
	if s.d.Runs == nil {
		return
	}
	if err := s.d.Runs.Finish(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to record session result", "error", err)
	}
}

func (s *Session) observeSession(status string) {
	if s.d.Metrics != nil {
		s.d.Metrics.SessionFinished(status)
	}
}

func fromProfiler(instruction string) memory.Message {
	return memory.Message{Sender: profiler.Name, Role: memory.RoleAssistant, Content: instruction}
}
