package summarizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/profile"
)

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

func fenced(body string) string { return "```json\n" + body + "\n```" }

var sample = []profile.Inference{
	{Type: "age", Confidence: 3, Evidence: "e1", Guess: "30"},
	{Type: "age", Confidence: 4, Evidence: "e2", Guess: "32"},
}

func TestCheck(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{
		{raw: fenced(`{"thought": "merge", "results": "age is 32"}`)},
		{raw: fenced(`{"thought": "merge", "results": [{"type": "age", "confidence": 4, "evidence": "e1, e2", "guess": "32"}]}`)},
	}}
	s := New(c, []string{"age"}, nil)

	got, err := s.Check(t.Context(), "profiler", sample)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(got) != 1 || got[0].Guess != "32" {
		t.Fatalf("checked = %+v", got)
	}

	first := c.calls[0]
	if len(first) != 3 {
		t.Fatalf("first prompt has %d messages, want 3 (check prompt, input, format)", len(first))
	}
	if !strings.Contains(first[1].Content, `"guess":"30"`) {
		t.Errorf("input not rendered as JSON: %q", first[1].Content)
	}

	retry := c.calls[1]
	if !strings.Contains(retry[3].Content, "The results should be a list of dict, not string.") {
		t.Errorf("retry corrective message = %q", retry[3].Content)
	}
	if s.Agent().Log().Size() != 2 {
		t.Errorf("log size = %d, want 2 (nothing persisted)", s.Agent().Log().Size())
	}
}

func TestCheck_OverflowPrunesToThree(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{
		{raw: fenced(`{"results": 1}`)},
		{raw: fenced(`{"results": 2}`)},
		{err: &llm.ContextOverflowError{Model: "m", Body: "context_length_exceeded"}},
		{raw: fenced(`{"results": []}`)},
	}}
	s := New(c, []string{"age"}, nil)

	got, err := s.Check(t.Context(), "profiler", sample)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("checked = %+v, want empty", got)
	}

	last := c.calls[3]
	// check prompt, input, directive, then the format instruction.
	if len(last) != 4 {
		t.Fatalf("prompt after overflow has %d messages, want 4", len(last))
	}
	if last[2].Content != CheckOverflow {
		t.Errorf("directive = %q", last[2].Content)
	}
}

func TestCheck_EmptyInputRendersList(t *testing.T) {
	c := &mockCaller{responses: []mockResponse{{raw: fenced(`{"results": []}`)}}}
	s := New(c, []string{"age"}, nil)
	if _, err := s.Check(t.Context(), "profiler", nil); err != nil {
		t.Fatal(err)
	}
	if c.calls[0][1].Content != "[]" {
		t.Errorf("input = %q, want []", c.calls[0][1].Content)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name, reply, want string
	}{
		{"text", fenced(`{"think": "t", "summary": "A 32 year old."}`), "A 32 year old."},
		{"null", fenced(`{"think": "t", "summary": null}`), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCaller{responses: []mockResponse{{raw: tt.reply}}}
			s := New(c, []string{"age"}, nil)
			got, err := s.Summary(t.Context(), sample[:1])
			if err != nil {
				t.Fatalf("Summary: %v", err)
			}
			if got != tt.want {
				t.Errorf("Summary = %q, want %q", got, tt.want)
			}
		})
	}
}
