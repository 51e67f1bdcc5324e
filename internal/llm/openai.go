package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to any endpoint implementing the OpenAI chat
// completions API (OpenAI, vLLM, FastChat, OpenRouter).
type OpenAIClient struct {
	api endpoint
}

// NewOpenAIClient creates a client for baseURL, which includes the API
// version prefix. An empty baseURL targets api.openai.com. Self-hosted
// servers often need no key.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	return &OpenAIClient{api: newEndpoint("openai", baseURL, header, 120*time.Second, logger)}
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	start := time.Now()

	var out openAIResponse
	if err := c.api.call(ctx, http.MethodPost, "/chat/completions", openAIRequest{Model: model, Messages: messages}, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	choice := out.Choices[0]
	return c.api.received(ctx, &ChatResponse{
		Model:        out.Model,
		Message:      Message{Role: RoleAssistant, Content: choice.Message.Content},
		StopReason:   normalizeStop(choice.FinishReason),
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, start), nil
}

// Ping lists models, which checks both reachability and the key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	return c.api.call(ctx, http.MethodGet, "/models", nil, nil)
}
