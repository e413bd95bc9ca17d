package agent

import "context"

type sessionIDKey struct{}

// WithSessionID tags ctx with a conversation ID for log correlation.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFrom returns the conversation ID stored by WithSessionID.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
