package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/zealscott/autoprofiler/internal/config"
)

func TestOllamaClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req.Stream {
			t.Error("stream = true, want false")
		}
		if req.Options == nil || req.Options.NumCtx != 32768 {
			t.Errorf("options = %+v, want num_ctx 32768", req.Options)
		}
		w.Write([]byte(`{"model":"qwen","message":{"role":"assistant","content":"ok"},"done":true,
			"done_reason":"length","prompt_eval_count":40,"eval_count":7}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil, WithContextWindow(32768))
	resp, err := c.Chat(t.Context(), "qwen", []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "ok" || resp.InputTokens != 40 || resp.OutputTokens != 7 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.StopReason != StopLength {
		t.Errorf("stop reason = %q, want %q", resp.StopReason, StopLength)
	}
}

func TestOllamaClient_TraceLogging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"qwen","message":{"role":"assistant","content":"traced reply"}}`))
	}))
	defer srv.Close()

	tests := []struct {
		level slog.Level
		want  bool
	}{
		{config.LevelTrace, true},
		{slog.LevelDebug, false},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := config.NewLogger(&buf, tt.level, "text")
			if _, err := NewOllamaClient(srv.URL, logger).Chat(t.Context(), "qwen", nil); err != nil {
				t.Fatalf("Chat: %v", err)
			}
			out := buf.String()
			if got := strings.Contains(out, "traced reply"); got != tt.want {
				t.Errorf("payload logged = %v, want %v\n%s", got, tt.want, out)
			}
			if tt.want && !strings.Contains(out, "level=TRACE") {
				t.Errorf("trace records not named TRACE:\n%s", out)
			}
		})
	}
}

func TestOllamaClient_DefaultOmitsOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "options") {
			t.Errorf("request = %s, want no options", body)
		}
		w.Write([]byte(`{"model":"qwen","message":{"role":"assistant","content":"ok"}}`))
	}))
	defer srv.Close()

	if _, err := NewOllamaClient(srv.URL, nil).Chat(t.Context(), "qwen", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestOllamaClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'qwen' not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, nil).Chat(t.Context(), "qwen", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 *APIError", err)
	}
	if !strings.Contains(apiErr.Body, "not found") {
		t.Errorf("body = %q", apiErr.Body)
	}
}

func TestOllamaClient_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, nil).Chat(t.Context(), "qwen", nil)
	if _, ok := err.(*APIError); !ok {
		t.Fatalf("err = %T %v, want *APIError", err, err)
	}
}

func TestOllamaClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"qwen2.5:72b"},{"name":"llama3.1:8b"}]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	if err := c.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	got, err := c.ListModels(t.Context())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if want := []string{"qwen2.5:72b", "llama3.1:8b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListModels = %v, want %v", got, want)
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"hey"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":9,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient("sk", srv.URL+"/v1/", nil).Chat(t.Context(), "gpt-4o", []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "hey" || resp.InputTokens != 9 || resp.OutputTokens != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-4o","choices":[]}`))
	}))
	defer srv.Close()

	if _, err := NewOpenAIClient("", srv.URL, nil).Chat(t.Context(), "gpt-4o", nil); err == nil {
		t.Fatal("Chat with no choices should error")
	}
}
