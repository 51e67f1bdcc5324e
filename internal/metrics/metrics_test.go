package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zealscott/autoprofiler/internal/llm"
	"github.com/zealscott/autoprofiler/internal/parser"
	"github.com/zealscott/autoprofiler/internal/tools"
)

func TestStepAttempt(t *testing.T) {
	r := New()

	r.StepAttempt("profiler", "think", 1, &parser.ParseError{Raw: "junk", Message: "missing key"})
	r.StepAttempt("profiler", "think", 2, &parser.ParseError{Raw: "maximum context length is 8192", Message: "overflow"})
	r.StepAttempt("profiler", "think", 3, nil)

	if got := testutil.ToFloat64(r.steps.WithLabelValues("profiler", "think")); got != 3 {
		t.Errorf("step attempts = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.stepFailures.WithLabelValues("profiler", "think", "parse")); got != 1 {
		t.Errorf("parse failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.stepFailures.WithLabelValues("profiler", "think", "overflow")); got != 1 {
		t.Errorf("overflow failures = %v, want 1", got)
	}
}

func TestStepAttempt_PlainError(t *testing.T) {
	r := New()
	r.StepAttempt("retriever", "call", 1, errors.New("boom"))
	if got := testutil.ToFloat64(r.stepFailures.WithLabelValues("retriever", "call", "parse")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}

func TestToolExecuted(t *testing.T) {
	r := New()
	r.ToolExecuted("get_new_history", tools.StatusSuccess, 10*time.Millisecond)
	r.ToolExecuted("get_new_history", tools.StatusFail, time.Millisecond)
	r.ToolExecuted("web_search", tools.StatusSuccess, time.Second)

	tests := []struct {
		tool, status string
		want         float64
	}{
		{"get_new_history", "success", 1},
		{"get_new_history", "fail", 1},
		{"web_search", "success", 1},
		{"web_search", "fail", 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(r.toolCalls.WithLabelValues(tt.tool, tt.status)); got != tt.want {
			t.Errorf("tool_calls{%s,%s} = %v, want %v", tt.tool, tt.status, got, tt.want)
		}
	}
}

func TestObserveCall(t *testing.T) {
	r := New()
	resp := &llm.ChatResponse{InputTokens: 120, OutputTokens: 30, Duration: 2 * time.Second}
	r.ObserveCall(context.Background(), "profiler", "qwen2.5:72b", resp)
	r.ObserveCall(context.Background(), "summarizer", "qwen2.5:72b", resp)
	r.ObserveCall(context.Background(), "summarizer", "qwen2.5:72b", nil)

	if got := testutil.ToFloat64(r.modelCalls.WithLabelValues("summarizer", "qwen2.5:72b")); got != 2 {
		t.Errorf("summarizer calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.modelTokens.WithLabelValues("qwen2.5:72b", "input")); got != 240 {
		t.Errorf("input tokens = %v, want 240", got)
	}
	if got := testutil.ToFloat64(r.modelTokens.WithLabelValues("qwen2.5:72b", "output")); got != 60 {
		t.Errorf("output tokens = %v, want 60", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.Action("retrieval")
	r.Action("finish")
	r.SessionFinished("complete")

	path := filepath.Join(t.TempDir(), "autoprofiler.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`autoprofiler_session_actions_total{action="retrieval"} 1`,
		`autoprofiler_session_finished_total{status="complete"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}

func TestWriteTextfile_EmptyPath(t *testing.T) {
	if err := New().WriteTextfile(""); err != nil {
		t.Errorf("WriteTextfile(\"\") = %v, want nil", err)
	}
}
