package tools

import (
	"context"
	"testing"
)

func TestSessionContext(t *testing.T) {
	ctx := context.Background()
	if SessionIDFromContext(ctx) != "" || SubjectFromContext(ctx) != "" {
		t.Error("empty context should carry no session or subject")
	}

	ctx = WithSubject(WithSessionID(ctx, "s-1"), "alice")
	if got := SessionIDFromContext(ctx); got != "s-1" {
		t.Errorf("SessionIDFromContext = %q, want s-1", got)
	}
	if got := SubjectFromContext(ctx); got != "alice" {
		t.Errorf("SubjectFromContext = %q, want alice", got)
	}
}
