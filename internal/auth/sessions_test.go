package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, interval time.Duration) (*SessionRegistry, *TokenManager, *MemoryRevocationStore) {
	t.Helper()
	tokens := newTestTokens(t, TokenConfig{})
	store := NewMemoryRevocationStore()
	r := NewSessionRegistry(SessionConfig{RevalidateInterval: interval}, NewAuthenticator(tokens, store), zap.NewNop())
	return r, tokens, store
}

func TestSessionRegistry_CreateAndAuthorize(t *testing.T) {
	r, tokens, _ := newTestRegistry(t, time.Minute)
	_, claims, err := tokens.Issue("alice", time.Minute)
	require.NoError(t, err)

	sess := r.Create(7, claims, 1500)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "alice", sess.Principal)
	assert.Equal(t, int64(1500), sess.DefaultTimeoutMs)
	assert.Equal(t, 1, r.Count())

	got, err := r.Authorize(context.Background(), sess.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestSessionRegistry_Rejects(t *testing.T) {
	r, tokens, _ := newTestRegistry(t, time.Minute)
	_, claims, err := tokens.Issue("alice", time.Minute)
	require.NoError(t, err)
	sess := r.Create(7, claims, 0)

	_, err = r.Authorize(context.Background(), "", 7)
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))

	_, err = r.Authorize(context.Background(), "no-such-session", 7)
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))

	_, err = r.Authorize(context.Background(), sess.ID, 8)
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))

	// the owner still holds it
	_, err = r.Authorize(context.Background(), sess.ID, 7)
	assert.NoError(t, err)
}

func TestSessionRegistry_ExpiredTokenDropsSession(t *testing.T) {
	r, tokens, _ := newTestRegistry(t, time.Minute)
	_, claims, err := tokens.Issue("alice", time.Minute)
	require.NoError(t, err)
	sess := r.Create(1, claims, 0)

	r.now = func() time.Time { return claims.ExpiresAt.Add(time.Second) }

	_, err = r.Authorize(context.Background(), sess.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))
	assert.Equal(t, 0, r.Count())
}

func TestSessionRegistry_RevocationSeenOnRevalidate(t *testing.T) {
	ctx := context.Background()
	r, tokens, store := newTestRegistry(t, 0)
	_, claims, err := tokens.Issue("alice", time.Minute)
	require.NoError(t, err)
	sess := r.Create(1, claims, 0)

	require.NoError(t, store.Revoke(ctx, claims.TokenID, claims.ExpiresAt))

	_, err = r.Authorize(ctx, sess.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))
	assert.Equal(t, 0, r.Count())

	// never silently re-established
	_, err = r.Authorize(ctx, sess.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))
}

func TestSessionRegistry_RevalidateInterval(t *testing.T) {
	ctx := context.Background()
	r, tokens, store := newTestRegistry(t, time.Hour)
	_, claims, err := tokens.Issue("alice", 2*time.Hour)
	require.NoError(t, err)
	sess := r.Create(1, claims, 0)

	require.NoError(t, store.Revoke(ctx, claims.TokenID, claims.ExpiresAt))

	// within the interval the cached validation stands
	_, err = r.Authorize(ctx, sess.ID, 1)
	assert.NoError(t, err)

	base := time.Now()
	r.now = func() time.Time { return base.Add(61 * time.Minute) }
	_, err = r.Authorize(ctx, sess.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))
}

func TestSessionRegistry_DropConnection(t *testing.T) {
	var last atomic.Int64
	tokens := newTestTokens(t, TokenConfig{})
	r := NewSessionRegistry(SessionConfig{
		OnChange: func(active int) { last.Store(int64(active)) },
	}, NewAuthenticator(tokens, nil), zap.NewNop())

	_, claims, err := tokens.Issue("alice", time.Minute)
	require.NoError(t, err)
	a := r.Create(1, claims, 0)
	r.Create(1, claims, 0)
	c := r.Create(2, claims, 0)
	assert.Equal(t, int64(3), last.Load())

	assert.Equal(t, 2, r.DropConnection(1))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, int64(1), last.Load())

	_, err = r.Authorize(context.Background(), a.ID, 1)
	assert.Error(t, err)
	_, err = r.Authorize(context.Background(), c.ID, 2)
	assert.NoError(t, err)

	assert.True(t, r.Remove(c.ID))
	assert.False(t, r.Remove(c.ID))
	assert.Equal(t, 0, r.DropConnection(2))
}
