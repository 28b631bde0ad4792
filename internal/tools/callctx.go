package tools

import "context"

// Caller carries the identity a tool call runs on behalf of — the user and
// platform from the InboundMessage that triggered the agentic loop turn.
// The orchestrator sets this on the context before dispatching to the
// registry; tools that need to scope state per user (memory, schedules,
// failure log) read it back instead of taking a parameter on every call.
type Caller struct {
	UserID   string
	Platform string
}

type callerKey struct{}
type approvedKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// WithApproved marks a context as carrying a human-granted approval — set
// by the orchestrator on re-execution after RequestApproval returns true, so
// a tool's security check can be bypassed on the second pass without
// re-prompting.
func WithApproved(ctx context.Context) context.Context {
	return context.WithValue(ctx, approvedKey{}, true)
}

func IsApproved(ctx context.Context) bool {
	v, _ := ctx.Value(approvedKey{}).(bool)
	return v
}

// CallerFromContext returns the caller, defaulting to a single-user "local"
// identity on the "cli" platform when none was set — the common case for a
// personal agent driven from its own command line.
func CallerFromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok {
		return c
	}
	return Caller{UserID: "local", Platform: "cli"}
}
