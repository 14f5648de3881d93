package transport

import (
	"context"
	"sync/atomic"

	"github.com/recordbase/recordbase-server/internal/metrics"
	"go.uber.org/zap"
	"google.golang.org/grpc/stats"
)

// ConnTracker gives every transport connection an ID and drops the
// connection's sessions when it closes
type ConnTracker struct {
	nextID  atomic.Uint64
	onClose func(connID uint64)
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConnTracker creates a tracker. onClose may be nil.
func NewConnTracker(onClose func(connID uint64), m *metrics.Metrics, logger *zap.Logger) *ConnTracker {
	return &ConnTracker{onClose: onClose, metrics: m, logger: logger}
}

func (t *ConnTracker) TagConn(ctx context.Context, info *stats.ConnTagInfo) context.Context {
	id := t.nextID.Add(1)
	t.logger.Debug("Connection accepted",
		zap.Uint64("conn_id", id),
		zap.Stringer("remote_addr", info.RemoteAddr))
	return WithConnID(ctx, id)
}

func (t *ConnTracker) HandleConn(ctx context.Context, s stats.ConnStats) {
	switch s.(type) {
	case *stats.ConnBegin:
		t.metrics.ConnectionOpened()
	case *stats.ConnEnd:
		t.metrics.ConnectionClosed()
		id, ok := ConnID(ctx)
		if !ok {
			return
		}
		t.logger.Debug("Connection closed", zap.Uint64("conn_id", id))
		if t.onClose != nil {
			t.onClose(id)
		}
	}
}

func (t *ConnTracker) TagRPC(ctx context.Context, _ *stats.RPCTagInfo) context.Context {
	return ctx
}

func (t *ConnTracker) HandleRPC(context.Context, stats.RPCStats) {}
