// Package client is the Go binding for a recordbase server.
//
//	sess, err := client.Connect(ctx, "tls://db.example.com:7443", "$RECORDBASE_TOKEN", 5000)
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	rec, err := sess.Merge(ctx, client.StructuredRecord{
//		Tenant:     "jet",
//		PrimaryKey: "alex",
//		Attributes: map[string][]byte{"a": []byte("bin")},
//	}, 1000)
package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/recordbase/recordbase-server/internal/auth"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/validation"
	"github.com/recordbase/recordbase-server/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

type (
	Record           = model.Record
	MergeInput       = model.MergeInput
	SerializedBytes  = model.SerializedBytes
	StructuredRecord = model.StructuredRecord
)

// NewRecord creates an empty record for tenant and primaryKey
func NewRecord(tenant, primaryKey string) *Record {
	return model.NewRecord(tenant, primaryKey)
}

// SetAttribute sets a single attribute on the record. It does not touch the server.
func SetAttribute(rec *Record, key string, value []byte) {
	model.SetAttribute(rec, key, value)
}

// EncodeRecord encodes a record as a MessagePack payload for SerializedBytes
func EncodeRecord(rec *Record) (SerializedBytes, error) {
	b, err := model.EncodeSerialized(rec)
	return SerializedBytes(b), err
}

// Session is an authenticated connection to one server. It is safe for
// concurrent use. There is no implicit session; every call goes through one.
type Session struct {
	conn             *grpc.ClientConn
	rpc              wire.RecordServiceClient
	id               string
	principal        string
	expiresAt        time.Time
	defaultTimeoutMs int64
	logger           *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// Connect opens a TLS connection to endpoint ("tls://host:port"), presents
// the token named by tokenRef and opens a session. connectTimeoutMs bounds
// the handshake and the Connect call; 0 fails immediately, a negative value
// leaves Connect unbounded and lets the server pick the session default.
func Connect(ctx context.Context, endpoint, tokenRef string, connectTimeoutMs int64, opts ...Option) (*Session, error) {
	o := &options{
		logger:          zap.NewNop(),
		maxMessageBytes: wire.MaxMessageBytes(validation.MaxRecordSize),
	}
	for _, opt := range opts {
		opt(o)
	}

	host, target, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	token, err := auth.ResolveTokenRef(tokenRef)
	if err != nil {
		return nil, fromRPC(err)
	}

	if connectTimeoutMs == 0 {
		return nil, fmt.Errorf("%w: connect timeout is zero", ErrDeadlineExceeded)
	}
	if connectTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(connectTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(credentials.NewTLS(o.tlsConfig(host))),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(o.maxMessageBytes),
			grpc.MaxCallSendMsgSize(o.maxMessageBytes),
		),
	}, o.dialOptions...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	rpc := wire.NewRecordServiceClient(conn)
	callCtx := metadata.AppendToOutgoingContext(ctx, wire.AuthorizationHeader, "Bearer "+token)
	resp, err := rpc.Connect(callCtx, &wire.ConnectRequest{
		TimeoutMs:  connectTimeoutMs,
		ClientName: o.clientName,
	})
	if err != nil {
		_ = conn.Close()
		o.logger.Debug("Connect failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fromRPC(err)
	}

	o.logger.Debug("Connected",
		zap.String("endpoint", endpoint),
		zap.String("session_id", resp.SessionID),
		zap.String("principal", resp.Principal))

	return &Session{
		conn:             conn,
		rpc:              rpc,
		id:               resp.SessionID,
		principal:        resp.Principal,
		expiresAt:        time.UnixMilli(resp.ExpiresAtMs),
		defaultTimeoutMs: resp.DefaultTimeoutMs,
		logger:           o.logger,
	}, nil
}

func parseEndpoint(endpoint string) (host, target string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad endpoint %q: %v", ErrConnectionFailed, endpoint, err)
	}
	if u.Scheme != "tls" {
		return "", "", fmt.Errorf("%w: endpoint %q must use the tls:// scheme", ErrConnectionFailed, endpoint)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" || port == "" {
		return "", "", fmt.Errorf("%w: endpoint %q must be tls://host:port", ErrConnectionFailed, endpoint)
	}
	return host, u.Host, nil
}

// ID returns the server-assigned session ID
func (s *Session) ID() string { return s.id }

// Principal returns the token subject the session runs as
func (s *Session) Principal() string { return s.principal }

// ExpiresAt returns when the session's token expires
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// DefaultTimeoutMs is used by calls made with a negative timeout
func (s *Session) DefaultTimeoutMs() int64 { return s.defaultTimeoutMs }

// Merge merges input into the stored record and returns the new version.
// A negative timeoutMs uses the session default; 0 always fails with
// ErrDeadlineExceeded.
func (s *Session) Merge(ctx context.Context, input MergeInput, timeoutMs int64) (*Record, error) {
	req := &wire.MergeRequest{TimeoutMs: timeoutMs}
	switch in := input.(type) {
	case SerializedBytes:
		req.Serialized = in
	case StructuredRecord:
		req.Tenant = in.Tenant
		req.PrimaryKey = in.PrimaryKey
		req.Attributes = wire.AttributesFromMap(in.Attributes)
	case *StructuredRecord:
		if in == nil {
			return nil, fmt.Errorf("%w: empty merge input", ErrInvalidRequest)
		}
		req.Tenant = in.Tenant
		req.PrimaryKey = in.PrimaryKey
		req.Attributes = wire.AttributesFromMap(in.Attributes)
	default:
		return nil, fmt.Errorf("%w: unsupported merge input %T", ErrInvalidRequest, input)
	}

	var resp *wire.RecordResponse
	err := s.call(ctx, timeoutMs, func(ctx context.Context) error {
		var err error
		resp, err = s.rpc.Merge(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromResponse(resp), nil
}

// Get returns the record for (tenant, primaryKey) or ErrNotFound
func (s *Session) Get(ctx context.Context, tenant, primaryKey string, timeoutMs int64) (*Record, error) {
	var resp *wire.RecordResponse
	err := s.call(ctx, timeoutMs, func(ctx context.Context) error {
		var err error
		resp, err = s.rpc.Get(ctx, &wire.GetRequest{
			Tenant:     tenant,
			PrimaryKey: primaryKey,
			TimeoutMs:  timeoutMs,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromResponse(resp), nil
}

// Close ends the session. The server drops it with the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Session) call(ctx context.Context, timeoutMs int64, fn func(context.Context) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrConnectionFailed)
	}
	if timeoutMs == 0 {
		return fmt.Errorf("%w: timeout is zero", ErrDeadlineExceeded)
	}

	budget := timeoutMs
	if budget < 0 {
		budget = s.defaultTimeoutMs
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(budget)*time.Millisecond)
		defer cancel()
	}

	ctx = metadata.AppendToOutgoingContext(ctx, wire.SessionHeader, s.id)
	return fromRPC(fn(ctx))
}

func fromResponse(resp *wire.RecordResponse) *Record {
	return &Record{
		Tenant:     resp.Tenant,
		PrimaryKey: resp.PrimaryKey,
		Attributes: wire.AttributesToMap(resp.Attributes),
		Version:    resp.Version,
		CreatedAt:  resp.CreatedAt,
		UpdatedAt:  resp.UpdatedAt,
	}
}
