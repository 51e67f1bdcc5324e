// Package llm provides chat model clients and the bounded caller every
// agent uses to reach them.
package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the provider-neutral reply. Wire format conversion
// happens at provider boundaries.
type ChatResponse struct {
	Model   string
	Message Message

	// StopReason is StopEnd, StopLength, or the provider's own value
	// when it maps to neither.
	StopReason string

	InputTokens  int
	OutputTokens int

	// Duration is the wall time of the request as seen by the client.
	Duration time.Duration
}

// Normalized stop reasons.
const (
	StopEnd    = "stop"
	StopLength = "length"
)

// normalizeStop maps provider stop reasons onto StopEnd and StopLength.
func normalizeStop(reason string) string {
	switch reason {
	case "stop", "end_turn", "stop_sequence":
		return StopEnd
	case "length", "max_tokens":
		return StopLength
	}
	return reason
}

// ErrModelUnavailable is returned when a model call keeps failing after
// the configured number of attempts. It is fatal for a session.
var ErrModelUnavailable = errors.New("model unavailable")

// APIError is a non-200 response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// overflowMarkers are substrings providers use when the prompt does not
// fit the model's context window.
var overflowMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"prompt is too long",
}

// IsContextOverflow reports whether s carries a context-length marker.
func IsContextOverflow(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range overflowMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ContextOverflowError reports that the prompt exceeded the model's
// context window. Retrying the same prompt cannot succeed.
type ContextOverflowError struct {
	Model string
	Body  string
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow on %s: %s", e.Model, e.Body)
}
