package llm

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// MultiClient routes each model to the provider that serves it. Models
// without an explicit route go to the fallback provider.
type MultiClient struct {
	clients  map[string]Client // provider name -> client
	routes   map[string]string // model name -> provider name
	fallback Client
}

// NewMultiClient creates a router whose unrouted models go to fallback.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		routes:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client under a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel routes a model to a provider.
func (m *MultiClient) AddModel(model, provider string) {
	m.routes[model] = provider
}

// Route returns the client serving model. A model routed to a provider
// that was never registered is an error rather than a silent fallback,
// since it usually means a missing API key.
func (m *MultiClient) Route(model string) (Client, error) {
	if provider, ok := m.routes[model]; ok {
		client, ok := m.clients[provider]
		if !ok {
			return nil, fmt.Errorf("model %q is routed to provider %q, which is not configured", model, provider)
		}
		return client, nil
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return m.fallback, nil
}

// Chat sends a request to the provider serving model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	client, err := m.Route(model)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, model, messages)
}

// Ping checks the fallback provider.
func (m *MultiClient) Ping(ctx context.Context) error {
	if m.fallback == nil {
		return fmt.Errorf("no fallback client configured")
	}
	return m.fallback.Ping(ctx)
}

// modelLister is implemented by providers that can enumerate installed
// models (Ollama).
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Preflight checks that the provider serving model is reachable and,
// where the provider can tell, that the model is installed. Failures
// wrap ErrModelUnavailable.
func (m *MultiClient) Preflight(ctx context.Context, model string) error {
	client, err := m.Route(model)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModelUnavailable, model, err)
	}

	lister, ok := client.(modelLister)
	if !ok {
		return nil
	}
	installed, err := lister.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModelUnavailable, model, err)
	}
	if !slices.ContainsFunc(installed, func(name string) bool { return sameModel(name, model) }) {
		return fmt.Errorf("%w: %s is not installed (have %s)", ErrModelUnavailable, model, strings.Join(installed, ", "))
	}
	return nil
}

// sameModel compares Ollama model names, where an omitted tag means
// "latest".
func sameModel(a, b string) bool {
	if !strings.Contains(a, ":") {
		a += ":latest"
	}
	if !strings.Contains(b, ":") {
		b += ":latest"
	}
	return a == b
}
