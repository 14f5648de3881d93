package handler

import (
	"context"

	"github.com/recordbase/recordbase-server/internal/auth"
	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/logging"
	"github.com/recordbase/recordbase-server/internal/metrics"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/service"
	"github.com/recordbase/recordbase-server/internal/transport"
	"github.com/recordbase/recordbase-server/internal/validation"
	"github.com/recordbase/recordbase-server/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

// RecordStore is the storage the handler dispatches to
type RecordStore interface {
	Merge(ctx context.Context, input model.MergeInput) (*model.Record, error)
	Get(ctx context.Context, tenant, primaryKey string) (*model.Record, error)
}

// RecordHandler implements the RecordService gRPC API
type RecordHandler struct {
	store            RecordStore
	deadlines        *service.DeadlineController
	authenticator    *auth.Authenticator
	sessions         *auth.SessionRegistry
	validator        *validation.Validator
	metrics          *metrics.Metrics
	defaultTimeoutMs int64
	logger           *zap.Logger
	wire.UnimplementedRecordServiceServer
}

// RecordHandlerConfig holds dispatcher settings
type RecordHandlerConfig struct {
	// DefaultTimeoutMs applies when neither the call nor the session sets one
	DefaultTimeoutMs int64
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(
	cfg RecordHandlerConfig,
	store RecordStore,
	deadlines *service.DeadlineController,
	authenticator *auth.Authenticator,
	sessions *auth.SessionRegistry,
	validator *validation.Validator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RecordHandler {
	if validator == nil {
		validator = validation.NewValidator()
	}
	return &RecordHandler{
		store:            store,
		deadlines:        deadlines,
		authenticator:    authenticator,
		sessions:         sessions,
		validator:        validator,
		metrics:          m,
		defaultTimeoutMs: cfg.DefaultTimeoutMs,
		logger:           logger,
	}
}

// Connect verifies the bearer token and opens a session bound to the
// calling connection
func (h *RecordHandler) Connect(ctx context.Context, req *wire.ConnectRequest) (*wire.ConnectResponse, error) {
	connID, ok := transport.ConnID(ctx)
	if !ok {
		return nil, errors.ConnectionFailed("connection is not tracked", nil)
	}

	timeout := service.ResolveTimeout(req.TimeoutMs, 0, h.defaultTimeoutMs)
	header := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(wire.AuthorizationHeader); len(v) > 0 {
			header = v[0]
		}
	}

	claims, err := service.RunWithDeadline(ctx, h.deadlines, "Connect", timeout, func(ctx context.Context) (*auth.Claims, error) {
		return h.authenticator.AuthenticateBearer(ctx, header)
	})
	if err != nil {
		if errors.Is(err, errors.ErrCodeAuthenticationFailed) {
			h.metrics.RecordAuthFailure("token")
		}
		return nil, err
	}

	sessionDefault := req.TimeoutMs
	if sessionDefault <= 0 {
		sessionDefault = h.defaultTimeoutMs
	}
	sess := h.sessions.Create(connID, claims, sessionDefault)

	logging.WithContext(ctx, h.logger).Info("Client connected",
		zap.String("session_id", sess.ID),
		zap.String("principal", sess.Principal),
		zap.String("client", req.ClientName))

	return &wire.ConnectResponse{
		SessionID:        sess.ID,
		Principal:        sess.Principal,
		ExpiresAtMs:      sess.TokenExpiresAt.UnixMilli(),
		DefaultTimeoutMs: sess.DefaultTimeoutMs,
	}, nil
}

// Merge merges the request into the stored record
func (h *RecordHandler) Merge(ctx context.Context, req *wire.MergeRequest) (*wire.RecordResponse, error) {
	sess, ok := transport.SessionFromContext(ctx)
	if !ok {
		return nil, errors.AuthenticationFailed("no session", nil)
	}

	incoming, err := h.mergeInput(req)
	if err != nil {
		return nil, err
	}

	timeout := service.ResolveTimeout(req.TimeoutMs, sess.DefaultTimeoutMs, h.defaultTimeoutMs)
	rec, err := service.RunWithDeadline(ctx, h.deadlines, "Merge", timeout, func(ctx context.Context) (*model.Record, error) {
		return h.store.Merge(ctx, model.StructuredRecord{
			Tenant:     incoming.Tenant,
			PrimaryKey: incoming.PrimaryKey,
			Attributes: incoming.Attributes,
		})
	})
	if err != nil {
		return nil, err
	}
	return toRecordResponse(rec), nil
}

// Get returns the stored record
func (h *RecordHandler) Get(ctx context.Context, req *wire.GetRequest) (*wire.RecordResponse, error) {
	sess, ok := transport.SessionFromContext(ctx)
	if !ok {
		return nil, errors.AuthenticationFailed("no session", nil)
	}

	if err := h.validator.ValidateKey(req.Tenant, req.PrimaryKey); err != nil {
		return nil, err
	}

	timeout := service.ResolveTimeout(req.TimeoutMs, sess.DefaultTimeoutMs, h.defaultTimeoutMs)
	rec, err := service.RunWithDeadline(ctx, h.deadlines, "Get", timeout, func(ctx context.Context) (*model.Record, error) {
		return h.store.Get(ctx, req.Tenant, req.PrimaryKey)
	})
	if err != nil {
		return nil, err
	}
	return toRecordResponse(rec), nil
}

// mergeInput decodes and validates the request before any storage work
func (h *RecordHandler) mergeInput(req *wire.MergeRequest) (*model.Record, error) {
	var input model.MergeInput
	switch {
	case len(req.Serialized) > 0 && req.HasStructured():
		return nil, errors.InvalidRequest("request carries both a serialized payload and structured fields", nil)
	case len(req.Serialized) > 0:
		input = model.SerializedBytes(req.Serialized)
	default:
		input = model.StructuredRecord{
			Tenant:     req.Tenant,
			PrimaryKey: req.PrimaryKey,
			Attributes: wire.AttributesToMap(req.Attributes),
		}
	}

	rec, err := model.Normalize(input)
	if err != nil {
		return nil, err
	}
	if err := h.validator.ValidateMerge(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func toRecordResponse(rec *model.Record) *wire.RecordResponse {
	return &wire.RecordResponse{
		Tenant:     rec.Tenant,
		PrimaryKey: rec.PrimaryKey,
		Attributes: wire.AttributesFromMap(rec.Attributes),
		Version:    rec.Version,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}
