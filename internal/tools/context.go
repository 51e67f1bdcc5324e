package tools

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	subjectKey   contextKey = "subject"
)

// WithSessionID adds the profiling session ID to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session ID. Returns "" if not set.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// WithSubject adds the profiled user to the context.
func WithSubject(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, subjectKey, user)
}

// SubjectFromContext extracts the profiled user. Returns "" if not set.
func SubjectFromContext(ctx context.Context) string {
	u, _ := ctx.Value(subjectKey).(string)
	return u
}
