package transport

import (
	"context"

	"github.com/recordbase/recordbase-server/internal/model"
)

type connIDKey struct{}
type sessionKey struct{}

// WithConnID tags ctx with the ID of the connection it arrived on
func WithConnID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnID returns the connection ID set by the connection tracker
func ConnID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(connIDKey{}).(uint64)
	return id, ok
}

// WithSession attaches the authorized session
func WithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session authorized for this call
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*model.Session)
	return sess, ok && sess != nil
}
