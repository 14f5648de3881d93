package transport

import (
	"context"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/recordbase/recordbase-server/internal/auth"
	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/logging"
	"github.com/recordbase/recordbase-server/internal/metrics"
	"github.com/recordbase/recordbase-server/internal/service"
	"github.com/recordbase/recordbase-server/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Recovery turns a handler panic into codes.Internal
func Recovery(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logging.WithContext(ctx, logger).Error("panic recovered",
					zap.Any("error", r),
					zap.String("method", info.FullMethod),
					zap.ByteString("stack", debug.Stack()))
				resp, err = nil, status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// AcceptedAt stamps the moment the server accepted the call; deadlines are
// measured from it
func AcceptedAt(now func() time.Time) grpc.UnaryServerInterceptor {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(service.WithAcceptedAt(ctx, now()), req)
	}
}

// Logging assigns a request ID and logs each call with its outcome
func Logging(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		requestID := firstMetadata(ctx, wire.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx = logging.WithFields(ctx,
			zap.String("request_id", requestID),
			zap.String("method", info.FullMethod))
		_ = grpc.SetHeader(ctx, metadata.Pairs(wire.RequestIDHeader, requestID))

		resp, err := handler(ctx, req)

		code := status.Code(errors.ToGRPC(err))
		fields := []zap.Field{
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", peerAddr(ctx)),
		}
		l := logging.WithContext(ctx, logger)
		switch errors.CodeFromGRPC(code) {
		case errors.ErrCodeOK:
			l.Debug("RPC completed", fields...)
		case errors.ErrCodeInternalStorage:
			l.Error("RPC failed", append(fields, zap.Error(err))...)
		default:
			l.Info("RPC rejected", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// Metrics records request counts and latency by method and code
func Metrics(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.RecordRequest(methodName(info.FullMethod), status.Code(errors.ToGRPC(err)).String(), time.Since(start))
		return resp, err
	}
}

// SessionAuth authorizes every call except Connect against the session
// registry. Connect attempts are rate limited per peer instead.
func SessionAuth(sessions *auth.SessionRegistry, limiter *auth.PeerLimiter, m *metrics.Metrics, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod == wire.ConnectMethod {
			if !limiter.Allow(peerHost(ctx)) {
				m.RecordConnectRateLimited()
				return nil, errors.ToGRPC(errors.ConnectionFailed("too many connect attempts", nil))
			}
			return handler(ctx, req)
		}

		connID, ok := ConnID(ctx)
		if !ok {
			m.RecordAuthFailure("no_connection")
			return nil, errors.ToGRPC(errors.AuthenticationFailed("connection is not tracked", nil))
		}

		sessionID := firstMetadata(ctx, wire.SessionHeader)
		sess, err := sessions.Authorize(ctx, sessionID, connID)
		if err != nil {
			m.RecordAuthFailure("session")
			logging.WithContext(ctx, logger).Info("Session rejected",
				zap.String("session_id", sessionID),
				zap.Uint64("conn_id", connID),
				zap.Error(err))
			return nil, errors.ToGRPC(err)
		}

		ctx = logging.WithFields(ctx,
			zap.String("session_id", sess.ID),
			zap.String("principal", sess.Principal))
		return handler(WithSession(ctx, sess), req)
	}
}

// ErrorMapping converts StorageErrors returned by handlers into gRPC status
func ErrorMapping() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, errors.ToGRPC(err)
		}
		return resp, nil
	}
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

func peerHost(ctx context.Context) string {
	addr := peerAddr(ctx)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func methodName(fullMethod string) string {
	for i := len(fullMethod) - 1; i >= 0; i-- {
		if fullMethod[i] == '/' {
			return fullMethod[i+1:]
		}
	}
	return fullMethod
}
