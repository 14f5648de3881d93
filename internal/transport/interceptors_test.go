package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/recordbase/recordbase-server/internal/auth"
	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/service"
	"github.com/recordbase/recordbase-server/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/stats"
	"google.golang.org/grpc/status"
)

func info(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

func withPeer(ctx context.Context, addr string) context.Context {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return peer.NewContext(ctx, &peer.Peer{Addr: tcp})
}

func withSessionHeader(ctx context.Context, id string) context.Context {
	return metadata.NewIncomingContext(ctx, metadata.Pairs(wire.SessionHeader, id))
}

func TestRecovery(t *testing.T) {
	interceptor := Recovery(zap.NewNop())
	_, err := interceptor(context.Background(), nil, info(wire.GetMethod), func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestAcceptedAt(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	interceptor := AcceptedAt(func() time.Time { return fixed })

	_, err := interceptor(context.Background(), nil, info(wire.GetMethod), func(ctx context.Context, _ interface{}) (interface{}, error) {
		at, ok := service.AcceptedAt(ctx)
		assert.True(t, ok)
		assert.Equal(t, fixed, at)
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestErrorMapping(t *testing.T) {
	interceptor := ErrorMapping()
	_, err := interceptor(context.Background(), nil, info(wire.GetMethod), func(context.Context, interface{}) (interface{}, error) {
		return nil, errors.NotFound("jet", "alex")
	})
	assert.Equal(t, codes.NotFound, status.Code(err))

	resp, err := interceptor(context.Background(), nil, info(wire.GetMethod), func(context.Context, interface{}) (interface{}, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestLogging_PassesThrough(t *testing.T) {
	interceptor := Logging(zap.NewNop())
	_, err := interceptor(context.Background(), nil, info(wire.MergeMethod), func(context.Context, interface{}) (interface{}, error) {
		return nil, errors.InvalidRequest("bad", nil)
	})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidRequest))
}

func TestSessionAuth(t *testing.T) {
	sessions := auth.NewSessionRegistry(auth.SessionConfig{RevalidateInterval: time.Hour}, nil, zap.NewNop())
	sess := sessions.Create(7, &auth.Claims{
		Subject:   "alice",
		TokenID:   "jti-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}, 1000)
	interceptor := SessionAuth(sessions, auth.NewPeerLimiter(0, 0), nil, zap.NewNop())

	var seen *model.Session
	next := func(ctx context.Context, _ interface{}) (interface{}, error) {
		seen, _ = SessionFromContext(ctx)
		return "ok", nil
	}

	t.Run("authorized", func(t *testing.T) {
		ctx := withSessionHeader(WithConnID(context.Background(), 7), sess.ID)
		resp, err := interceptor(ctx, nil, info(wire.GetMethod), next)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
		require.NotNil(t, seen)
		assert.Equal(t, "alice", seen.Principal)
	})

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"untracked connection", withSessionHeader(context.Background(), sess.ID)},
		{"missing session", WithConnID(context.Background(), 7)},
		{"unknown session", withSessionHeader(WithConnID(context.Background(), 7), "nope")},
		{"other connection", withSessionHeader(WithConnID(context.Background(), 8), sess.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := interceptor(tt.ctx, nil, info(wire.MergeMethod), next)
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}

	t.Run("connect skips session check", func(t *testing.T) {
		_, err := interceptor(context.Background(), nil, info(wire.ConnectMethod), next)
		assert.NoError(t, err)
	})
}

func TestSessionAuth_ConnectRateLimit(t *testing.T) {
	sessions := auth.NewSessionRegistry(auth.SessionConfig{}, nil, zap.NewNop())
	interceptor := SessionAuth(sessions, auth.NewPeerLimiter(0.001, 2), nil, zap.NewNop())
	next := func(context.Context, interface{}) (interface{}, error) { return nil, nil }

	ctx := withPeer(context.Background(), "10.0.0.1:5000")
	for i := 0; i < 2; i++ {
		_, err := interceptor(ctx, nil, info(wire.ConnectMethod), next)
		require.NoError(t, err)
	}
	_, err := interceptor(ctx, nil, info(wire.ConnectMethod), next)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	// limited per host, not per port
	_, err = interceptor(withPeer(context.Background(), "10.0.0.1:6000"), nil, info(wire.ConnectMethod), next)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	_, err = interceptor(withPeer(context.Background(), "10.0.0.2:5000"), nil, info(wire.ConnectMethod), next)
	assert.NoError(t, err)
}

func TestConnTracker(t *testing.T) {
	var closed []uint64
	tracker := NewConnTracker(func(id uint64) { closed = append(closed, id) }, nil, zap.NewNop())

	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234}
	ctx1 := tracker.TagConn(context.Background(), &stats.ConnTagInfo{RemoteAddr: addr})
	ctx2 := tracker.TagConn(context.Background(), &stats.ConnTagInfo{RemoteAddr: addr})

	id1, ok := ConnID(ctx1)
	require.True(t, ok)
	id2, ok := ConnID(ctx2)
	require.True(t, ok)
	assert.NotEqual(t, id1, id2)

	tracker.HandleConn(ctx1, &stats.ConnBegin{})
	tracker.HandleConn(ctx1, &stats.ConnEnd{})
	tracker.HandleConn(context.Background(), &stats.ConnEnd{})
	assert.Equal(t, []uint64{id1}, closed)
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "Merge", methodName(wire.MergeMethod))
	assert.Equal(t, "plain", methodName("plain"))
}
