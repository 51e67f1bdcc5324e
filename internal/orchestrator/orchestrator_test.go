package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/zealscott/autoprofiler/internal/database"
	"github.com/zealscott/autoprofiler/internal/events"
	"github.com/zealscott/autoprofiler/internal/history"
	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/memory"
	"github.com/zealscott/autoprofiler/internal/metrics"
	"github.com/zealscott/autoprofiler/internal/profile"
	"github.com/zealscott/autoprofiler/internal/profiler"
	"github.com/zealscott/autoprofiler/internal/prompts"
	"github.com/zealscott/autoprofiler/internal/retriever"
	"github.com/zealscott/autoprofiler/internal/runstore"
	"github.com/zealscott/autoprofiler/internal/summarizer"
	"github.com/zealscott/autoprofiler/internal/tools"
)

// scriptedCaller serves a separate queue of replies per agent.
type scriptedCaller struct {
	mu     sync.Mutex
	queues map[string][]string
	calls  map[string][][]llm.Message
}

func (c *scriptedCaller) Call(_ context.Context, agent string, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string][][]llm.Message{}
	}
	c.calls[agent] = append(c.calls[agent], messages)
	q := c.queues[agent]
	if len(q) == 0 {
		return "", fmt.Errorf("scriptedCaller: no more responses for %s", agent)
	}
	c.queues[agent] = q[1:]
	return q[0], nil
}

func fenced(body string) string { return "```json\n" + body + "\n```" }

func think(action, instruction string) string {
	return fenced(fmt.Sprintf(`{"think": "t", "action": %q, "instruction": %q}`, action, instruction))
}

func results(key, body string) string {
	return fenced(fmt.Sprintf(`{%q: "t", "results": %s}`, key, body))
}

func testCorpus(n int) *history.Corpus {
	c := &history.Corpus{User: "user1"}
	for i := range n {
		c.Items = append(c.Items, fmt.Sprintf("comment %d", i+1))
	}
	return c
}

func collect(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(evs []events.Event) []string {
	var out []string
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}

func countKind(evs []events.Event, kind string) int {
	n := 0
	for _, e := range evs {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Twelve history items, targets {age, sex}, chunks of five: finish is
// only honored once all twelve have been read.
func TestRun_EndToEnd(t *testing.T) {
	targets := []string{"age", "sex"}
	getNew := fenced(`{"thought": "read on", "function": {"name": "get_new_history", "arguments": {"n": 5}}}`)

	caller := &scriptedCaller{queues: map[string][]string{
		profiler.Name: {
			think("retrieval", "get the first comments"),
			think("reason", "infer from these comments"),
			results("think", `[{"type": "age", "confidence": 4, "evidence": "grad school", "guess": "30"}]`),
			think("finish", ""),
			think("retrieval", "get more comments"),
			think("retrieval", "and more"),
			think("reason", "infer again"),
			results("think", `[{"type": "sex", "confidence": 3, "evidence": "my wife", "guess": "male"},
				{"type": "occupation", "confidence": 2, "evidence": "grading", "guess": "teacher"}]`),
			think("finish", ""),
			results("think", `[{"type": "age", "confidence": 5, "evidence": "born 1993", "guess": "31"},
				{"type": "sex", "confidence": 4, "evidence": "my wife", "guess": "male"}]`),
		},
		summarizer.Name: {
			results("thought", `[{"type": "age", "confidence": 4, "evidence": "grad school", "guess": "30"}]`),
			results("thought", `[{"type": "age", "confidence": 4, "evidence": "grad school", "guess": "30"},
				{"type": "sex", "confidence": 3, "evidence": "my wife", "guess": "male"},
				{"type": "occupation", "confidence": 2, "evidence": "grading", "guess": "teacher"}]`),
			results("thought", `[{"type": "age", "confidence": 4, "evidence": "grad school", "guess": "30"},
				{"type": "age", "confidence": 5, "evidence": "born 1993", "guess": "31"},
				{"type": "sex", "confidence": 4, "evidence": "my wife", "guess": "male"}]`),
			fenced(`{"think": "t", "summary": "A 31 year old man."}`),
		},
		retriever.Name: {getNew, getNew, getNew},
	}}

	corpus := testCorpus(12)
	tracker := history.NewTracker(corpus.Len())
	reg := tools.NewRegistry(nil)
	history.Register(reg, &history.Source{Corpus: corpus, Tracker: tracker, ChunkSize: 5})

	db, err := database.Open(database.DriverPure, ":memory:")
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	runs, err := runstore.NewStore(db)
	if err != nil {
		t.Fatalf("runstore.NewStore: %v", err)
	}

	bus := events.New()
	sub := bus.Subscribe(256)
	defer sub.Close()

	rec := metrics.New()
	sess, err := New(Config{User: "user1", Model: "test-model", Targets: targets}, Deps{
		Profiler:   profiler.New(caller, targets, nil),
		Retriever:  retriever.New(caller, reg, 20, nil),
		Summarizer: summarizer.New(caller, targets, nil),
		Corpus:     corpus,
		Tracker:    tracker,
		Bus:        bus,
		Runs:       runs,
		Metrics:    rec,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := sess.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !tracker.Complete() || out.Visited != 12 || out.Total != 12 {
		t.Errorf("visited %d/%d, complete=%v", out.Visited, out.Total, tracker.Complete())
	}
	if out.Cycles != 4 {
		t.Errorf("Cycles = %d, want 4", out.Cycles)
	}
	if out.Partial {
		t.Error("Partial = true, want false")
	}
	if got := profile.Types(out.Attributes); !slices.Equal(got, targets) {
		t.Fatalf("attribute types = %v, want %v", got, targets)
	}
	if out.Attributes[0].GuessString() != "31" {
		t.Errorf("age = %q, want the higher-confidence 31", out.Attributes[0].GuessString())
	}
	if out.Summary != "A 31 year old man." {
		t.Errorf("Summary = %q", out.Summary)
	}

	// Durable set: age from the first REASON, sex from the second, then
	// both naive inferences. Occupation never enters it.
	durable := profile.Types(sess.Durable())
	if len(sess.Durable()) != 4 || slices.Contains(durable, "occupation") {
		t.Errorf("durable = %+v", sess.Durable())
	}

	evs := collect(sub.C)
	if n := countKind(evs, events.KindFinishDeferred); n != 1 {
		t.Errorf("finish_deferred events = %d, want 1 (%v)", n, kinds(evs))
	}
	if n := countKind(evs, events.KindRetrieved); n != 3 {
		t.Errorf("retrieved events = %d, want 3", n)
	}
	if last := evs[len(evs)-1]; last.Kind != events.KindSessionComplete || last.Data["session_id"] != sess.ID() {
		t.Errorf("last event = %+v", last)
	}

	stored, err := runs.Get(t.Context(), sess.ID())
	if err != nil {
		t.Fatalf("runs.Get: %v", err)
	}
	if stored.Status != runstore.StatusComplete || len(stored.Attributes) != 2 || stored.Cycles != 4 {
		t.Errorf("stored = %+v", stored)
	}

	for agent, q := range caller.queues {
		if len(q) != 0 {
			t.Errorf("%s has %d unused replies", agent, len(q))
		}
	}
}

// fakeProfiler replays decisions and analyses.
type fakeProfiler struct {
	decisions []profiler.Decision
	analyses  []profiler.Analysis
	naive     profiler.Analysis
	thinkErr  error

	thinks   []memory.Message
	resets   []bool
	onReason func()
}

func (f *fakeProfiler) Think(_ context.Context, x memory.Message, reset bool) (profiler.Decision, error) {
	f.thinks = append(f.thinks, x)
	f.resets = append(f.resets, reset)
	if f.thinkErr != nil {
		return profiler.Decision{}, f.thinkErr
	}
	if len(f.decisions) == 0 {
		return profiler.Decision{Action: profiler.ActionFinish}, nil
	}
	d := f.decisions[0]
	f.decisions = f.decisions[1:]
	return d, nil
}

func (f *fakeProfiler) Reason(context.Context, memory.Message) (profiler.Analysis, error) {
	if f.onReason != nil {
		defer f.onReason()
	}
	if len(f.analyses) == 0 {
		return profiler.Analysis{}, nil
	}
	a := f.analyses[0]
	f.analyses = f.analyses[1:]
	return a, nil
}

func (f *fakeProfiler) Naive(context.Context, []string, []string) (profiler.Analysis, error) {
	return f.naive, nil
}

// fakeRetriever marks the next chunk visited on every run.
type fakeRetriever struct {
	tracker *history.Tracker
	runs    int
}

func (f *fakeRetriever) Run(context.Context, memory.Message) (retriever.Outcome, error) {
	f.runs++
	f.tracker.Next(5)
	return retriever.Outcome{Status: tools.StatusSuccess, Results: "comments", Iterations: 1}, nil
}

// passSummarizer returns its input unchanged.
type passSummarizer struct {
	checks int
}

func (p *passSummarizer) Check(_ context.Context, _ string, infs []profile.Inference) ([]profile.Inference, error) {
	p.checks++
	return slices.Clone(infs), nil
}

func (p *passSummarizer) Summary(context.Context, []profile.Inference) (string, error) {
	return "summary", nil
}

func inf(typ string, conf float64, guess string) profile.Inference {
	return profile.Inference{Type: typ, Confidence: profile.Confidence(conf), Evidence: "e", Guess: guess}
}

func newFakeSession(t *testing.T, cfg Config, p *fakeProfiler, items int) (*Session, *history.Tracker, *fakeRetriever) {
	t.Helper()
	corpus := testCorpus(items)
	tracker := history.NewTracker(corpus.Len())
	r := &fakeRetriever{tracker: tracker}
	if cfg.User == "" {
		cfg.User = "user1"
	}
	if cfg.Targets == nil {
		cfg.Targets = []string{"age", "sex"}
	}
	sess, err := New(cfg, Deps{
		Profiler:   p,
		Retriever:  r,
		Summarizer: &passSummarizer{},
		Corpus:     corpus,
		Tracker:    tracker,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sess, tracker, r
}

func TestRun_DurableSetOnlyGrows(t *testing.T) {
	p := &fakeProfiler{
		decisions: []profiler.Decision{
			{Action: profiler.ActionRetrieval}, {Action: profiler.ActionReason},
			{Action: profiler.ActionReason},
			{Action: profiler.ActionRetrieval}, {Action: profiler.ActionReason},
		},
		analyses: []profiler.Analysis{
			{Inferences: []profile.Inference{inf("age", 2, "40"), inf("hobby", 3, "chess")}},
			{Inferences: []profile.Inference{inf("sex", 3, "female")}},
			{Inferences: []profile.Inference{inf("age", 4, "42")}},
		},
		naive: profiler.Analysis{Inferences: []profile.Inference{inf("age", 1, "50")}},
	}
	sess, _, _ := newFakeSession(t, Config{}, p, 10)

	var snapshots [][]profile.Inference
	p.onReason = func() { snapshots = append(snapshots, sess.Durable()) }

	out, err := sess.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Each snapshot is taken before that REASON's inferences are merged,
	// so it must be a prefix of every later state.
	final := sess.Durable()
	for i, snap := range snapshots {
		if len(snap) > len(final) || !slices.EqualFunc(snap, final[:len(snap)], sameInference) {
			t.Errorf("snapshot %d is not a prefix of the final durable set", i)
		}
		if i > 0 && len(snap) < len(snapshots[i-1]) {
			t.Errorf("durable set shrank between snapshots %d and %d", i-1, i)
		}
	}
	if got := profile.Types(final); slices.Contains(got, "hobby") {
		t.Errorf("non-target type in durable set: %v", got)
	}
	if len(final) != 4 {
		t.Errorf("durable = %+v, want 4 entries", final)
	}
	if len(out.Attributes) != 2 || out.Attributes[0].GuessString() != "42" {
		t.Errorf("attributes = %+v", out.Attributes)
	}
}

func sameInference(a, b profile.Inference) bool {
	return a.Type == b.Type && a.Confidence == b.Confidence && a.GuessString() == b.GuessString()
}

func TestRun_FinishDeferredUntilVisited(t *testing.T) {
	p := &fakeProfiler{
		decisions: []profiler.Decision{
			{Action: profiler.ActionFinish},
			{Action: profiler.ActionRetrieval}, {Action: profiler.ActionFinish},
			{Action: profiler.ActionRetrieval}, {Action: profiler.ActionFinish},
		},
	}
	sess, tracker, r := newFakeSession(t, Config{}, p, 8)

	out, err := sess.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !tracker.Complete() || r.runs != 2 {
		t.Errorf("complete=%v runs=%d", tracker.Complete(), r.runs)
	}
	if out.Cycles != 3 {
		t.Errorf("Cycles = %d, want 3", out.Cycles)
	}

	// The second cycle starts from a reset log with the keep-going nudge
	// wrapping the kickoff message.
	if len(p.thinks) < 2 || !p.resets[1] {
		t.Fatalf("thinks = %d resets = %v", len(p.thinks), p.resets)
	}
	want := prompts.KeepGoing(prompts.Kickoff)
	if got := p.thinks[1].Text(); got != want {
		t.Errorf("second task = %q\nwant %q", got, want)
	}
	if p.resets[2] {
		t.Error("THINK after a retrieval must not reset the log")
	}
	if !out.Partial {
		t.Error("no inferences at all should be partial")
	}
}

func TestRun_ModelUnavailableAborts(t *testing.T) {
	p := &fakeProfiler{thinkErr: fmt.Errorf("think: %w", llm.ErrModelUnavailable)}
	corpus := testCorpus(3)
	tracker := history.NewTracker(corpus.Len())

	db, err := database.Open(database.DriverPure, ":memory:")
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	runs, err := runstore.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	bus := events.New()
	sub := bus.Subscribe(16)
	defer sub.Close()

	sess, err := New(Config{User: "u", Targets: []string{"age"}}, Deps{
		Profiler:   p,
		Retriever:  &fakeRetriever{tracker: tracker},
		Summarizer: &passSummarizer{},
		Corpus:     corpus,
		Tracker:    tracker,
		Bus:        bus,
		Runs:       runs,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := sess.Run(t.Context())
	if !errors.Is(err, llm.ErrModelUnavailable) {
		t.Fatalf("Run error = %v, want ErrModelUnavailable", err)
	}
	if out != nil {
		t.Errorf("Outcome = %+v, want nil", out)
	}
	if len(p.thinks) != 1 {
		t.Errorf("thinks = %d, want 1", len(p.thinks))
	}

	stored, err := runs.Get(t.Context(), sess.ID())
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != runstore.StatusFailed || stored.Error == "" {
		t.Errorf("stored = %+v", stored)
	}
	evs := collect(sub.C)
	if evs[len(evs)-1].Kind != events.KindSessionFailed {
		t.Errorf("events = %v", kinds(evs))
	}
}

func TestRun_CycleLimit(t *testing.T) {
	p := &fakeProfiler{}
	for range 10 {
		p.decisions = append(p.decisions, profiler.Decision{Action: profiler.ActionFinish})
	}
	sess, _, _ := newFakeSession(t, Config{MaxCycles: 3}, p, 4)

	_, err := sess.Run(t.Context())
	if !errors.Is(err, ErrCycleLimit) {
		t.Fatalf("Run error = %v, want ErrCycleLimit", err)
	}
	if len(p.thinks) != 3 {
		t.Errorf("thinks = %d, want 3", len(p.thinks))
	}
}

func TestRun_Pacing(t *testing.T) {
	p := &fakeProfiler{decisions: []profiler.Decision{
		{Action: profiler.ActionRetrieval}, {Action: profiler.ActionFinish},
	}}
	sess, _, _ := newFakeSession(t, Config{CycleInterval: 30 * time.Millisecond}, p, 5)

	start := time.Now()
	if _, err := sess.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Two THINK calls: the first is immediate, the second waits.
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("elapsed = %v, want at least one interval", elapsed)
	}
}

func TestRun_CancelledWhilePacing(t *testing.T) {
	p := &fakeProfiler{decisions: []profiler.Decision{
		{Action: profiler.ActionFinish}, {Action: profiler.ActionFinish},
	}}
	sess, _, _ := newFakeSession(t, Config{CycleInterval: time.Hour}, p, 5)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if _, err := sess.Run(ctx); err == nil {
		t.Fatal("Run should fail when the context ends while pacing")
	}
}

func TestNew_Validation(t *testing.T) {
	corpus := testCorpus(1)
	tracker := history.NewTracker(1)
	full := Deps{
		Profiler:   &fakeProfiler{},
		Retriever:  &fakeRetriever{tracker: tracker},
		Summarizer: &passSummarizer{},
		Corpus:     corpus,
		Tracker:    tracker,
	}

	tests := []struct {
		name string
		cfg  Config
		deps func(Deps) Deps
	}{
		{"no targets", Config{User: "u"}, func(d Deps) Deps { return d }},
		{"no profiler", Config{Targets: []string{"age"}}, func(d Deps) Deps { d.Profiler = nil; return d }},
		{"no corpus", Config{Targets: []string{"age"}}, func(d Deps) Deps { d.Corpus = nil; return d }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.deps(full), nil); err == nil {
				t.Error("New should fail")
			}
		})
	}

	s1, err := New(Config{Targets: []string{"age"}}, full, nil)
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := New(Config{Targets: []string{"age"}}, full, nil)
	if s1.ID() == "" || s1.ID() == s2.ID() {
		t.Errorf("session ids %q and %q should be distinct", s1.ID(), s2.ID())
	}
}
