package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
	"go.uber.org/zap"
)

// SessionRegistry holds the sessions created by Connect. A session is bound
// to the connection that created it and dies with it.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	byConn   map[uint64]map[string]struct{}

	authenticator      *Authenticator
	revalidateInterval time.Duration
	logger             *zap.Logger
	onChange           func(active int)
	now                func() time.Time
}

// SessionConfig configures the registry
type SessionConfig struct {
	// RevalidateInterval is how often a session's token is re-checked against
	// the revocation store; 0 checks on every call
	RevalidateInterval time.Duration
	// OnChange is called with the session count after every change
	OnChange func(active int)
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry(cfg SessionConfig, authenticator *Authenticator, logger *zap.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions:           make(map[string]*model.Session),
		byConn:             make(map[uint64]map[string]struct{}),
		authenticator:      authenticator,
		revalidateInterval: cfg.RevalidateInterval,
		logger:             logger,
		onChange:           cfg.OnChange,
		now:                time.Now,
	}
}

// Create registers a session for a verified token on connection connID
func (r *SessionRegistry) Create(connID uint64, claims *Claims, defaultTimeoutMs int64) *model.Session {
	now := r.now()
	sess := &model.Session{
		ID:               uuid.NewString(),
		Principal:        claims.Subject,
		TokenID:          claims.TokenID,
		TokenExpiresAt:   claims.ExpiresAt,
		DefaultTimeoutMs: defaultTimeoutMs,
		ConnID:           connID,
		CreatedAt:        now,
		LastValidated:    now,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	ids, ok := r.byConn[connID]
	if !ok {
		ids = make(map[string]struct{})
		r.byConn[connID] = ids
	}
	ids[sess.ID] = struct{}{}
	count := len(r.sessions)
	r.mu.Unlock()

	r.notify(count)
	r.logger.Info("Session created",
		zap.String("session_id", sess.ID),
		zap.String("principal", sess.Principal),
		zap.Uint64("conn_id", connID),
		zap.Time("token_expires_at", sess.TokenExpiresAt))

	copied := *sess
	return &copied
}

// Authorize checks that sessionID is live, bound to connID and still backed
// by a valid token. A session that fails any check is dropped.
func (r *SessionRegistry) Authorize(ctx context.Context, sessionID string, connID uint64) (*model.Session, error) {
	if sessionID == "" {
		return nil, errors.AuthenticationFailed("missing session", nil)
	}

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.AuthenticationFailed("unknown or closed session", nil)
	}
	if sess.ConnID != connID {
		r.mu.Unlock()
		// a session ID presented on another connection is not the owner's
		return nil, errors.AuthenticationFailed("session is bound to another connection", nil)
	}
	now := r.now()
	if sess.Expired(now) {
		r.removeLocked(sessionID)
		count := len(r.sessions)
		r.mu.Unlock()
		r.notify(count)
		r.logger.Info("Session token expired", zap.String("session_id", sessionID))
		return nil, errors.AuthenticationFailed("session token expired", nil)
	}
	revalidate := now.Sub(sess.LastValidated) >= r.revalidateInterval
	snapshot := *sess
	r.mu.Unlock()

	if revalidate && r.authenticator != nil {
		if err := r.authenticator.CheckRevoked(ctx, snapshot.TokenID); err != nil {
			r.Remove(sessionID)
			r.logger.Info("Session dropped on revalidation",
				zap.String("session_id", sessionID),
				zap.Error(err))
			return nil, err
		}
		r.mu.Lock()
		if live, ok := r.sessions[sessionID]; ok {
			live.LastValidated = now
		}
		r.mu.Unlock()
		snapshot.LastValidated = now
	}

	return &snapshot, nil
}

// Remove drops a single session
func (r *SessionRegistry) Remove(sessionID string) bool {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	if ok {
		r.removeLocked(sessionID)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.notify(count)
	}
	return ok
}

// DropConnection removes every session created on connID
func (r *SessionRegistry) DropConnection(connID uint64) int {
	r.mu.Lock()
	ids := r.byConn[connID]
	for id := range ids {
		delete(r.sessions, id)
	}
	delete(r.byConn, connID)
	dropped := len(ids)
	count := len(r.sessions)
	r.mu.Unlock()

	if dropped > 0 {
		r.notify(count)
		r.logger.Debug("Dropped sessions of closed connection",
			zap.Uint64("conn_id", connID),
			zap.Int("sessions", dropped))
	}
	return dropped
}

// Count returns the number of live sessions
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) removeLocked(sessionID string) {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	if ids, ok := r.byConn[sess.ConnID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(r.byConn, sess.ConnID)
		}
	}
}

func (r *SessionRegistry) notify(count int) {
	if r.onChange != nil {
		r.onChange(count)
	}
}
