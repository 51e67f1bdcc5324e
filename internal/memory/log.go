// Package memory holds the per-agent message log that forms each model
// prompt.
package memory

import (
	"encoding/json"
	"fmt"
)

// Role is the chat role a message is sent with.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a Log. Content is either text or a structured
// value that is rendered as JSON when the prompt is built. Index is
// assigned by the Log and reflects the message's current position.
type Message struct {
	Sender  string `json:"sender"`
	Role    Role   `json:"role"`
	Content any    `json:"content"`
	Index   int    `json:"index"`
}

// Text renders Content for a prompt.
func (m Message) Text() string {
	switch c := m.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case fmt.Stringer:
		return c.String()
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(b)
	}
}

// Log is an ordered message history with contiguous 0-based indices.
// Each Log belongs to a single agent and is not safe for concurrent use.
type Log struct {
	msgs []Message
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Add appends messages in order, assigning their indices.
func (l *Log) Add(msgs ...Message) {
	for _, m := range msgs {
		m.Index = len(l.msgs)
		l.msgs = append(l.msgs, m)
	}
}

// Get returns a copy of the messages in order.
func (l *Log) Get() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Size returns the number of messages.
func (l *Log) Size() int {
	return len(l.msgs)
}

// Last returns the most recent message.
func (l *Log) Last() (Message, bool) {
	if len(l.msgs) == 0 {
		return Message{}, false
	}
	return l.msgs[len(l.msgs)-1], true
}

// Delete removes the messages at the given indices. Unknown or repeated
// indices are ignored. Survivors keep their relative order and are
// re-indexed contiguously.
func (l *Log) Delete(indices ...int) {
	if len(indices) == 0 || len(l.msgs) == 0 {
		return
	}
	drop := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(l.msgs) {
			drop[i] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return
	}

	kept := l.msgs[:0]
	for i, m := range l.msgs {
		if _, ok := drop[i]; ok {
			continue
		}
		m.Index = len(kept)
		kept = append(kept, m)
	}
	clear(l.msgs[len(kept):])
	l.msgs = kept
}

// Truncate deletes every message at index start or later.
func (l *Log) Truncate(start int) {
	if start < 0 {
		start = 0
	}
	if start >= len(l.msgs) {
		return
	}
	clear(l.msgs[start:])
	l.msgs = l.msgs[:start]
}

// Clear removes all messages.
func (l *Log) Clear() {
	l.msgs = nil
}
