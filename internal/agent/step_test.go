package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/memory"
	"github.com/zealscott/autoprofiler/internal/parser"
)

// mockCaller returns scripted replies and records every prompt.
type mockCaller struct {
	mu        sync.Mutex
	responses []mockResponse
	callIndex int
	calls     [][]llm.Message
}

type mockResponse struct {
	raw string
	err error
}

func (m *mockCaller) Call(_ context.Context, _ string, messages []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if m.callIndex >= len(m.responses) {
		return "", fmt.Errorf("mockCaller: no more responses (call %d)", m.callIndex)
	}
	r := m.responses[m.callIndex]
	m.callIndex++
	return r.raw, r.err
}

type countingObserver struct{ attempts, failures int }

func (c *countingObserver) StepAttempt(_, _ string, _ int, err error) {
	c.attempts++
	if err != nil {
		c.failures++
	}
}

var testParser = parser.New([]parser.Field{
	{Name: "think", Hint: `"..."`},
	{Name: "action", Hint: `"reason|finish"`},
}, "think", "action")

const goodReply = "```json\n{\"think\": \"ok\", \"action\": \"reason\"}\n```"

func newTestAgent(c *mockCaller) *Agent {
	a := New("profiler", "persona", c, nil)
	a.Add(memory.Message{Sender: "user", Role: memory.RoleUser, Content: "task"})
	return a
}

func assistantCount(l *memory.Log) int {
	n := 0
	for _, m := range l.Get() {
		if m.Role == memory.RoleAssistant {
			n++
		}
	}
	return n
}

func TestStep_SuccessPersists(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{{raw: goodReply}}}
	a := newTestAgent(c)

	reply, err := a.Step(t.Context(), StepSpec{Name: "think", Parser: testParser, Persist: true})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if reply.Parsed.String("action") != "reason" {
		t.Errorf("action = %q", reply.Parsed.String("action"))
	}
	if a.Log().Size() != 3 {
		t.Errorf("log size = %d, want 3 (persona, task, reply)", a.Log().Size())
	}
}

func TestStep_EphemeralMessagesNotStored(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{{raw: goodReply}}}
	a := newTestAgent(c)

	if _, err := a.Step(t.Context(), StepSpec{Name: "think", Prompt: "think prompt", Parser: testParser}); err != nil {
		t.Fatal(err)
	}

	sent := c.calls[0]
	if len(sent) != 4 {
		t.Fatalf("prompt has %d messages, want 4 (persona, task, prompt, instruction)", len(sent))
	}
	if sent[2].Content != "think prompt" || !strings.Contains(sent[3].Content, "```json") {
		t.Errorf("ephemeral tail = %q / %q", sent[2].Content, sent[3].Content)
	}
	if a.Log().Size() != 2 {
		t.Errorf("log size = %d, want 2 without Persist", a.Log().Size())
	}
}

func TestStep_NoResidueAfterRetries(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{
		{raw: "not json at all"},
		{raw: "```json\n{\"think\": \"missing action\"}\n```"},
		{raw: "{broken"},
		{raw: goodReply},
	}}
	obs := &countingObserver{}
	a := newTestAgent(c)
	a.SetObserver(obs)

	if _, err := a.Step(t.Context(), StepSpec{Name: "think", Parser: testParser, Persist: true}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if got := assistantCount(a.Log()); got != 1 {
		t.Errorf("assistant messages = %d, want exactly 1", got)
	}
	if a.Log().Size() != 3 {
		t.Errorf("log size = %d, want 3", a.Log().Size())
	}
	if last, _ := a.Log().Last(); last.Text() != goodReply {
		t.Errorf("last message = %q, want the successful reply", last.Text())
	}
	if obs.attempts != 4 || obs.failures != 3 {
		t.Errorf("observer = %+v, want 4 attempts / 3 failures", obs)
	}
}

func TestStep_FailedAttemptsBecomeCorrectiveContext(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{
		{raw: "nope"},
		{raw: goodReply},
	}}
	a := newTestAgent(c)

	if _, err := a.Step(t.Context(), StepSpec{Name: "think", Parser: testParser}); err != nil {
		t.Fatal(err)
	}

	second := c.calls[1]
	// persona, task, raw reply, error, instruction
	if len(second) != 5 {
		t.Fatalf("second prompt has %d messages, want 5", len(second))
	}
	if second[2].Role != llm.RoleAssistant || second[2].Content != "nope" {
		t.Errorf("raw reply not fed back: %+v", second[2])
	}
	if second[3].Role != llm.RoleSystem || !strings.Contains(second[3].Content, "JSON") {
		t.Errorf("error message not fed back: %+v", second[3])
	}
}

func TestStep_ValidateFailureRetries(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{
		{raw: "```json\n{\"think\": \"t\", \"action\": \"dance\"}\n```"},
		{raw: goodReply},
	}}
	a := newTestAgent(c)

	reply, err := a.Step(t.Context(), StepSpec{
		Name:     "think",
		Parser:   testParser,
		Validate: parser.OneOf("action", "reason", "finish"),
		Persist:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Parsed.String("action") != "reason" {
		t.Errorf("action = %q", reply.Parsed.String("action"))
	}
	if c.callIndex != 2 {
		t.Errorf("calls = %d, want 2", c.callIndex)
	}
}

func TestStep_ContextOverflowPrunesToThree(t *testing.T) {
	for _, k := range []int{3, 5, 12} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			c := &mockCaller{responses: []mockResponse{
				{err: &llm.ContextOverflowError{Model: "m", Body: `{"error":{"code":"context_length_exceeded"}}`}},
			}}
			a := newTestAgent(c)
			for a.Log().Size() < k {
				a.Add(a.Reply("filler"))
			}

			_, err := a.Step(t.Context(), StepSpec{Name: "reason", Parser: testParser, Overflow: "be brief", Attempts: 1})
			var pe *parser.ParseError
			if !errors.As(err, &pe) || !pe.ContextOverflow() {
				t.Fatalf("err = %v, want overflow ParseError", err)
			}

			msgs := a.Log().Get()
			if len(msgs) != 3 {
				t.Fatalf("log size = %d, want 3", len(msgs))
			}
			if msgs[0].Text() != "persona" || msgs[1].Text() != "task" || msgs[2].Text() != "be brief" {
				t.Errorf("log = %q, %q, %q", msgs[0].Text(), msgs[1].Text(), msgs[2].Text())
			}
		})
	}
}

func TestStep_OverflowMarkerInReply(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{
		{raw: "Error: This model's maximum context length is 8192 tokens."},
		{raw: goodReply},
	}}
	a := newTestAgent(c)
	for range 6 {
		a.Add(a.Reply("filler"))
	}

	if _, err := a.Step(t.Context(), StepSpec{Name: "think", Parser: testParser}); err != nil {
		t.Fatal(err)
	}
	second := c.calls[1]
	if second[2].Content != DefaultOverflowDirective {
		t.Errorf("directive = %q, want default", second[2].Content)
	}
}

func TestStep_OverflowThenParseFailure(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{
		{err: &llm.ContextOverflowError{Model: "m", Body: "prompt is too long"}},
		{raw: "not json"},
		{raw: goodReply},
	}}
	a := newTestAgent(c)
	a.Add(a.Reply("earlier answer"))
	a.Add(memory.Message{Sender: "retriever", Role: memory.RoleUser, Content: "comments"})

	if _, err := a.Step(t.Context(), StepSpec{Name: "think", Parser: testParser, Overflow: "be brief", Persist: true}); err != nil {
		t.Fatal(err)
	}

	msgs := a.Log().Get()
	if len(msgs) != 4 {
		t.Fatalf("log size = %d, want 4 (persona, task, directive, reply)", len(msgs))
	}
	if msgs[2].Text() != "be brief" {
		t.Errorf("msgs[2] = %q, want the directive", msgs[2].Text())
	}
	if msgs[3].Text() != goodReply {
		t.Errorf("msgs[3] = %q, want the accepted reply", msgs[3].Text())
	}
	if n := assistantCount(a.Log()); n != 1 {
		t.Errorf("assistant messages = %d, want 1", n)
	}
}

func TestStep_BoundedAttempts(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{{raw: "x"}, {raw: "y"}, {raw: goodReply}}}
	a := newTestAgent(c)

	_, err := a.Step(t.Context(), StepSpec{Name: "function", Parser: testParser, Attempts: 2})
	var pe *parser.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if c.callIndex != 2 {
		t.Errorf("calls = %d, want 2", c.callIndex)
	}
	// Corrective context from failed attempts stays in the log.
	if a.Log().Size() != 6 {
		t.Errorf("log size = %d, want 6", a.Log().Size())
	}
}

func TestStep_ModelUnavailableIsFatal(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{
		{err: fmt.Errorf("%w: m failed after 20 attempts", llm.ErrModelUnavailable)},
		{raw: goodReply},
	}}
	a := newTestAgent(c)

	_, err := a.Step(t.Context(), StepSpec{Name: "think", Parser: testParser})
	if !errors.Is(err, llm.ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
	if c.callIndex != 1 {
		t.Errorf("calls = %d, want 1", c.callIndex)
	}
	if a.Log().Size() != 2 {
		t.Errorf("log size = %d, want 2 (untouched)", a.Log().Size())
	}
}

func TestStep_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	a := newTestAgent(&mockCaller{})

	if _, err := a.Step(ctx, StepSpec{Name: "think", Parser: testParser}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReset(t *testing.T) {
	a := newTestAgent(&mockCaller{})
	a.Add(a.Reply("x"))
	a.Reset()

	msgs := a.Log().Get()
	if len(msgs) != 1 || msgs[0].Role != memory.RoleSystem || msgs[0].Text() != "persona" {
		t.Errorf("after Reset log = %+v", msgs)
	}
	a.Clear()
	if a.Log().Size() != 0 {
		t.Errorf("after Clear size = %d", a.Log().Size())
	}
}
