package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
	anthropicPingModel  = "claude-3-5-haiku-latest"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	api endpoint
}

// NewAnthropicClient creates a client authenticated with apiKey.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	header := http.Header{}
	header.Set("x-api-key", apiKey)
	header.Set("anthropic-version", anthropicAPIVersion)
	return &AnthropicClient{api: newEndpoint("anthropic", anthropicBaseURL, header, 120*time.Second, logger)}
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends the log as a Messages API request.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	start := time.Now()
	turns, system := convertToAnthropic(messages)

	var out anthropicResponse
	err := c.api.call(ctx, http.MethodPost, "/v1/messages", anthropicRequest{
		Model:     model,
		System:    system,
		Messages:  turns,
		MaxTokens: anthropicMaxTokens,
	}, &out)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return c.api.received(ctx, &ChatResponse{
		Model:        out.Model,
		Message:      Message{Role: RoleAssistant, Content: text.String()},
		StopReason:   normalizeStop(out.StopReason),
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, start), nil
}

// Ping spends one output token to verify the key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	return c.api.call(ctx, http.MethodPost, "/v1/messages", anthropicRequest{
		Model:     anthropicPingModel,
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}, nil)
}

// convertToAnthropic maps an agent log onto the Messages API shape.
// Leading system messages become the system prompt. Later system
// messages (corrective errors, directives) are sent as user turns, and
// consecutive turns of the same role are joined: the API requires
// strict alternation starting with user.
func convertToAnthropic(messages []Message) ([]Message, string) {
	var system []string
	i := 0
	for ; i < len(messages) && messages[i].Role == RoleSystem; i++ {
		system = append(system, messages[i].Content)
	}

	var turns []Message
	for _, msg := range messages[i:] {
		role := RoleUser
		if msg.Role == RoleAssistant {
			role = RoleAssistant
		}
		switch n := len(turns); {
		case n == 0 && role == RoleAssistant:
			turns = append(turns, Message{Role: RoleUser, Content: "Continue."}, Message{Role: role, Content: msg.Content})
		case n > 0 && turns[n-1].Role == role:
			turns[n-1].Content += "\n\n" + msg.Content
		default:
			turns = append(turns, Message{Role: role, Content: msg.Content})
		}
	}
	return turns, strings.Join(system, "\n\n")
}
