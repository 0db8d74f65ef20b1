package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// SignedInFromContext returns the session when it belongs to a signed-in
// actor, nil for anonymous or missing sessions.
func SignedInFromContext(ctx context.Context) *Session {
	sess := SessionFromContext(ctx)
	if sess.ActorID() == 0 {
		return nil
	}
	return sess
}
