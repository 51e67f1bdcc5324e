package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zealscott/autoprofiler/internal/httpkit"
)

// CallObserver is notified after every successful model call. The usage
// ledger and metrics hang off this.
type CallObserver interface {
	ObserveCall(ctx context.Context, agent, model string, resp *ChatResponse)
}

// CallerConfig bounds a Caller.
type CallerConfig struct {
	Model       string
	MaxAttempts int           // default 20
	Backoff     time.Duration // first retry delay, doubled per attempt; default 1s
	MaxBackoff  time.Duration // default 30s
}

// Caller wraps a Client with a fixed model, a bounded retry budget for
// transient failures and context overflow classification.
type Caller struct {
	client      Client
	model       string
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	observers   []CallObserver
	logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a Caller for cfg.Model.
func NewCaller(client Client, cfg CallerConfig, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Caller{
		client:      client,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
		logger:      logger.With("component", "llm_caller", "model", cfg.Model),
		sleep:       sleepContext,
	}
}

// Observe registers o for successful calls.
func (c *Caller) Observe(o CallObserver) {
	if o != nil {
		c.observers = append(c.observers, o)
	}
}

// Model returns the model every call is sent to.
func (c *Caller) Model() string { return c.model }

// Call sends messages on behalf of agent and returns the reply text.
//
// A context overflow returns *ContextOverflowError immediately. Other
// failures are retried with exponential backoff; after MaxAttempts the
// error wraps ErrModelUnavailable. Authentication and unknown-model
// responses fail fast with ErrModelUnavailable.
func (c *Caller) Call(ctx context.Context, agent string, messages []Message) (string, error) {
	var lastErr error
	delay := c.backoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.client.Chat(ctx, c.model, messages)
		if err == nil {
			if resp.StopReason == StopLength {
				c.logger.Warn("reply cut off at the output token limit",
					"agent", agent,
					"output_tokens", resp.OutputTokens,
				)
			}
			for _, o := range c.observers {
				o.ObserveCall(ctx, agent, c.model, resp)
			}
			return resp.Message.Content, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if IsContextOverflow(apiErr.Body) {
				return "", &ContextOverflowError{Model: c.model, Body: apiErr.Body}
			}
			if isPermanentStatus(apiErr.StatusCode) {
				return "", fmt.Errorf("%w: %s: %w", ErrModelUnavailable, c.model, err)
			}
		}

		lastErr = err
		c.logger.Warn("model call failed",
			"agent", agent,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", err,
		)
		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
		delay = min(delay*2, c.maxBackoff)
	}

	return "", fmt.Errorf("%w: %s failed after %d attempts: %w", ErrModelUnavailable, c.model, c.maxAttempts, lastErr)
}

func isPermanentStatus(code int) bool {
	if httpkit.IsRetryableStatus(code) {
		return false
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
