package llm

import "context"

// Client is the interface every chat provider implements.
type Client interface {
	// Chat sends the conversation and returns the model's reply.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
