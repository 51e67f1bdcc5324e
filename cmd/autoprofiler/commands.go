package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zealscott/autoprofiler/internal/database"
	"github.com/zealscott/autoprofiler/internal/evaluator"
	"github.com/zealscott/autoprofiler/internal/history"
	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/orchestrator"
	"github.com/zealscott/autoprofiler/internal/report"
	"github.com/zealscott/autoprofiler/internal/runstore"
	"github.com/zealscott/autoprofiler/internal/usage"
)

// profileResult is one user's line of output.
type profileResult struct {
	*orchestrator.Outcome
	Files   report.Paths  `json:"files"`
	Usage   *usage.Totals `json:"usage,omitempty"`
	Skipped string        `json:"skipped,omitempty"`
}

// runProfile handles "autoprofiler profile <user>...". Users are
// profiled one after another. A user without ground truth or without a
// history is skipped; an unavailable model stops the batch.
func runProfile(ctx context.Context, stdout, stderr io.Writer, opts options, users []string) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	gt, err := history.LoadGroundTruth(history.GroundTruthPath(cfg.DataDir))
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.preflight(ctx); err != nil {
		return err
	}
	a.startBridge(ctx)

	var failed int
	for _, user := range users {
		targets, err := gt.Targets(user)
		if errors.Is(err, history.ErrNoGroundTruth) {
			logger.Warn("skipping user without target attributes", "user", user)
			writeProfileResult(stdout, opts.outputFmt, profileResult{
				Outcome: &orchestrator.Outcome{User: user},
				Skipped: "no target attributes",
			})
			continue
		}

		out, err := a.profileUser(ctx, user, targets)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, llm.ErrModelUnavailable) {
				return fmt.Errorf("profile %s: %w", user, err)
			}
			logger.Error("profiling failed", "user", user, "error", err)
			failed++
			continue
		}

		paths, err := a.reports.Write(out.Model, user, out.Attributes, out.Summary, out.Partial)
		if err != nil {
			return fmt.Errorf("save result for %s: %w", user, err)
		}
		if out.Partial {
			logger.Warn("inferred attributes are incomplete",
				"user", user, "got", len(out.Attributes), "want", len(targets))
		}
		result := profileResult{Outcome: out, Files: paths}
		if cfg.Agents.CountTokens {
			t, err := a.usage.Totals(ctx, usage.Filter{SessionID: out.SessionID})
			if err != nil {
				logger.Warn("failed to read session usage", "session_id", out.SessionID, "error", err)
			} else {
				result.Usage = &t
			}
		}
		writeProfileResult(stdout, opts.outputFmt, result)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d users failed", failed, len(users))
	}
	return nil
}

func writeProfileResult(w io.Writer, outputFmt string, r profileResult) {
	if outputFmt == "json" {
		_ = json.NewEncoder(w).Encode(r)
		return
	}
	if r.Skipped != "" {
		fmt.Fprintf(w, "%s: skipped (%s)\n", r.User, r.Skipped)
		return
	}

	status := "complete"
	if r.Partial {
		status = "partial"
	}
	fmt.Fprintf(w, "%s: %s, %d cycles, %d/%d comments read\n", r.User, status, r.Cycles, r.Visited, r.Total)
	for _, inf := range r.Attributes {
		fmt.Fprintf(w, "  %-20s %-30s confidence %g\n", inf.Type, inf.GuessString(), float64(inf.Confidence))
	}
	if r.Summary != "" {
		fmt.Fprintf(w, "  summary: %s\n", r.Summary)
	}
	if r.Usage != nil {
		fmt.Fprintf(w, "  tokens: %d in, %d out over %d calls ($%.4f)\n",
			r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.Calls, r.Usage.CostUSD)
	}
	fmt.Fprintf(w, "  saved: %s\n", r.Files.Attributes)
}

// evaluation is one user's scored result.
type evaluation struct {
	User   string                    `json:"user"`
	Model  string                    `json:"model"`
	Scores []evaluator.Score         `json:"scores"`
	Tally  map[evaluator.Verdict]int `json:"tally"`
}

// runEvaluate handles "autoprofiler evaluate <user>...". It reads the
// attributes saved by a previous profile run for the selected model and
// has the evaluator judge each one against ground truth.
func runEvaluate(ctx context.Context, stdout, stderr io.Writer, opts options, users []string) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	gt, err := history.LoadGroundTruth(history.GroundTruthPath(cfg.DataDir))
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.preflight(ctx); err != nil {
		return err
	}

	ev := evaluator.New(a.caller, logger)
	ev.Agent().SetObserver(a.metrics)

	for _, user := range users {
		targets, err := gt.Targets(user)
		if errors.Is(err, history.ErrNoGroundTruth) {
			logger.Warn("skipping user without target attributes", "user", user)
			continue
		}

		attrs, err := a.reports.LoadAttributes(cfg.Models.Default, user)
		if err != nil {
			return fmt.Errorf("load attributes for %s (run profile first): %w", user, err)
		}

		truth := func(attr string) (any, bool) { return gt.Value(user, attr) }
		scores, err := ev.Evaluate(ctx, targets, truth, attrs)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", user, err)
		}
		writeEvaluation(stdout, opts.outputFmt, evaluation{
			User:   user,
			Model:  cfg.Models.Default,
			Scores: scores,
			Tally:  evaluator.Tally(scores),
		})
	}
	return nil
}

func writeEvaluation(w io.Writer, outputFmt string, e evaluation) {
	if outputFmt == "json" {
		_ = json.NewEncoder(w).Encode(e)
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", e.User, e.Model)
	fmt.Fprintf(w, "  %-20s %-25s %-25s %s\n", "ATTRIBUTE", "TRUTH", "PREDICTION", "VERDICT")
	for _, s := range e.Scores {
		fmt.Fprintf(w, "  %-20s %-25s %-25s %s\n", s.Attribute, clip(fmt.Sprint(s.Truth), 25), clip(s.Prediction, 25), s.Verdict)
	}
	fmt.Fprintf(w, "  correct %d/%d\n", e.Tally[evaluator.VerdictYes], len(e.Scores))
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// usageReport is the output of "autoprofiler usage".
type usageReport struct {
	Since   time.Time     `json:"since"`
	Totals  usage.Totals  `json:"totals"`
	ByModel []usage.Group `json:"by_model"`
	ByAgent []usage.Group `json:"by_agent"`
}

// runUsage handles "autoprofiler usage [window]": token and cost totals
// recorded over the window (default 24h), broken down by model and by
// agent. Only sessions run with agents.count_tokens contribute.
func runUsage(ctx context.Context, stdout, stderr io.Writer, opts options, window string) error {
	d := 24 * time.Hour
	if window != "" {
		var err error
		if d, err = time.ParseDuration(window); err != nil || d <= 0 {
			return fmt.Errorf("invalid usage window %q (e.g. 24h, 90m)", window)
		}
	}

	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := usage.NewStore(db)
	if err != nil {
		return err
	}
	if !cfg.Agents.CountTokens {
		logger.Info("agents.count_tokens is off; new sessions are not recorded")
	}

	r := usageReport{Since: time.Now().Add(-d)}
	f := usage.Filter{Since: r.Since}
	if r.Totals, err = store.Totals(ctx, f); err != nil {
		return err
	}
	if r.ByModel, err = store.Breakdown(ctx, f, usage.ByModel); err != nil {
		return err
	}
	if r.ByAgent, err = store.Breakdown(ctx, f, usage.ByAgent); err != nil {
		return err
	}
	return writeUsage(stdout, opts.outputFmt, r)
}

func writeUsage(w io.Writer, outputFmt string, r usageReport) error {
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "Usage since %s\n", r.Since.Format(time.RFC3339))
	fmt.Fprintf(w, "  %d calls, %d input tokens, %d output tokens, $%.4f\n",
		r.Totals.Calls, r.Totals.InputTokens, r.Totals.OutputTokens, r.Totals.CostUSD)
	for _, sec := range []struct {
		title  string
		groups []usage.Group
	}{{"MODEL", r.ByModel}, {"AGENT", r.ByAgent}} {
		if len(sec.groups) == 0 {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %-30s %6s %12s %12s %10s\n", sec.title, "CALLS", "INPUT", "OUTPUT", "COST")
		for _, g := range sec.groups {
			fmt.Fprintf(w, "  %-30s %6d %12d %12d %10.4f\n", clip(g.Key, 30), g.Calls, g.InputTokens, g.OutputTokens, g.CostUSD)
		}
	}
	return nil
}

// runsLimit bounds the listing printed by "autoprofiler runs".
const runsLimit = 20

// runRuns handles "autoprofiler runs [user|session-id]". A session id
// prints that session in full; otherwise the most recent sessions are
// listed, optionally for one user.
func runRuns(ctx context.Context, stdout, stderr io.Writer, opts options, arg string) error {
	cfg, _, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := runstore.NewStore(db)
	if err != nil {
		return err
	}

	if _, err := uuid.Parse(arg); err == nil {
		rec, err := store.Get(ctx, arg)
		if err != nil {
			return fmt.Errorf("session %s: %w", arg, err)
		}
		return writeRun(stdout, opts.outputFmt, rec)
	}

	recs, err := store.List(ctx, arg, runsLimit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(stdout, "No sessions recorded.")
		return nil
	}
	fmt.Fprintf(stdout, "%-36s  %-16s  %-20s  %-9s  %6s  %9s  %s\n",
		"SESSION", "USER", "MODEL", "STATUS", "CYCLES", "READ", "STARTED")
	for _, r := range recs {
		fmt.Fprintf(stdout, "%-36s  %-16s  %-20s  %-9s  %6d  %9s  %s\n",
			r.ID, clip(r.User, 16), clip(r.Model, 20), r.Status, r.Cycles,
			fmt.Sprintf("%d/%d", r.Visited, r.Total), r.StartedAt.Local().Format(time.DateTime))
	}
	return nil
}

func writeRun(w io.Writer, outputFmt string, r *runstore.Record) error {
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "session %s\n", r.ID)
	fmt.Fprintf(w, "  user:     %s\n", r.User)
	fmt.Fprintf(w, "  model:    %s\n", r.Model)
	fmt.Fprintf(w, "  status:   %s\n", r.Status)
	fmt.Fprintf(w, "  targets:  %s\n", strings.Join(r.Targets, ", "))
	fmt.Fprintf(w, "  progress: %d cycles, %d/%d comments read\n", r.Cycles, r.Visited, r.Total)
	fmt.Fprintf(w, "  elapsed:  %s\n", time.Duration(r.DurationMs)*time.Millisecond)
	if r.Error != "" {
		fmt.Fprintf(w, "  error:    %s\n", r.Error)
	}
	for _, inf := range r.Attributes {
		fmt.Fprintf(w, "  %-20s %-30s confidence %g\n", inf.Type, inf.GuessString(), float64(inf.Confidence))
	}
	if r.Summary != "" {
		fmt.Fprintf(w, "  summary: %s\n", r.Summary)
	}
	return nil
}
