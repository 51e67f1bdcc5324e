package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zealscott/autoprofiler/internal/httpkit"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to a local or remote Ollama server.
type OllamaClient struct {
	api    endpoint
	numCtx int
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithContextWindow sets num_ctx on every chat request. Ollama otherwise
// loads models with a small window and silently drops the start of
// longer prompts, so the overflow recovery never sees an error.
func WithContextWindow(tokens int) OllamaOption {
	return func(c *OllamaClient) { c.numCtx = tokens }
}

// NewOllamaClient creates a client for baseURL.
func NewOllamaClient(baseURL string, logger *slog.Logger, opts ...OllamaOption) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	// Loading a large model can take minutes before the first header.
	c := &OllamaClient{
		api: newEndpoint("ollama", baseURL, nil, 5*time.Minute, logger,
			httpkit.WithRetry(2, time.Second)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumCtx int `json:"num_ctx,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Chat sends a non-streaming chat request.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	start := time.Now()
	req := ollamaChatRequest{Model: model, Messages: messages}
	if c.numCtx > 0 {
		req.Options = &ollamaOptions{NumCtx: c.numCtx}
	}

	var out ollamaChatResponse
	if err := c.api.call(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	// Ollama reports some failures in a 200 body.
	if out.Error != "" {
		return nil, &APIError{Provider: "ollama", StatusCode: http.StatusOK, Body: out.Error}
	}

	return c.api.received(ctx, &ChatResponse{
		Model:        out.Model,
		Message:      Message{Role: RoleAssistant, Content: out.Message.Content},
		StopReason:   normalizeStop(out.DoneReason),
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}, start), nil
}

// Ping checks that the server answers.
func (c *OllamaClient) Ping(ctx context.Context) error {
	return c.api.call(ctx, http.MethodGet, "/api/tags", nil, nil)
}

// ListModels returns the names of the installed models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	var tags ollamaTags
	if err := c.api.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
