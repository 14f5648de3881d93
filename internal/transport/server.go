package transport

import (
	"crypto/tls"
	"time"

	"github.com/recordbase/recordbase-server/internal/auth"
	"github.com/recordbase/recordbase-server/internal/metrics"
	"github.com/recordbase/recordbase-server/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

// ServerConfig tunes the gRPC server
type ServerConfig struct {
	MaxConnections  int
	MaxRecvMsgBytes int
	MaxSendMsgBytes int
	KeepaliveTime   time.Duration
}

// ServerDeps are the collaborators the interceptor chain needs
type ServerDeps struct {
	Sessions *auth.SessionRegistry
	Limiter  *auth.PeerLimiter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// NewGRPCServer creates a TLS-only gRPC server with RecordService registered.
// Plaintext clients fail the handshake.
func NewGRPCServer(cfg ServerConfig, tlsConfig *tls.Config, srv wire.RecordServiceServer, deps ServerDeps) *grpc.Server {
	tracker := NewConnTracker(func(connID uint64) {
		deps.Sessions.DropConnection(connID)
	}, deps.Metrics, deps.Logger)

	opts := []grpc.ServerOption{
		grpc.Creds(credentials.NewTLS(tlsConfig)),
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.StatsHandler(tracker),
		grpc.ChainUnaryInterceptor(
			Recovery(deps.Logger),
			AcceptedAt(nil),
			Logging(deps.Logger),
			Metrics(deps.Metrics),
			SessionAuth(deps.Sessions, deps.Limiter, deps.Metrics, deps.Logger),
			ErrorMapping(),
		),
	}
	if cfg.MaxConnections > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.MaxConnections)))
	}
	if cfg.MaxRecvMsgBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(cfg.MaxRecvMsgBytes))
	}
	if cfg.MaxSendMsgBytes > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(cfg.MaxSendMsgBytes))
	}
	if cfg.KeepaliveTime > 0 {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: cfg.KeepaliveTime}))
	}

	server := grpc.NewServer(opts...)
	wire.RegisterRecordServiceServer(server, srv)
	return server
}
