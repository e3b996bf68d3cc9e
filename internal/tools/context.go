package tools

import "context"

type contextKey string

const userIDKey contextKey = "user_id"
const progressKey contextKey = "progress"

// WithUserID adds the calling user's id to the context. Handlers that
// touch per-user state read it back with UserIDFromContext.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext extracts the user id from the context. Returns
// "default" if not set.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}

// ProgressFunc receives human-readable progress strings emitted while
// a tool runs. Progress is observational only; it never feeds back
// into the conversation.
type ProgressFunc func(msg string)

// WithProgress adds a progress sink to the context. Nil sinks are
// ignored (the original context is returned unchanged).
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey, fn)
}

// Progress emits a progress string to the context's sink, if any.
func Progress(ctx context.Context, msg string) {
	if fn, ok := ctx.Value(progressKey).(ProgressFunc); ok {
		fn(msg)
	}
}
