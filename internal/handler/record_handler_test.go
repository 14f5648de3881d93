package handler

import (
	"context"
	"testing"
	"time"

	"github.com/recordbase/recordbase-server/internal/auth"
	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/service"
	"github.com/recordbase/recordbase-server/internal/transport"
	"github.com/recordbase/recordbase-server/internal/util/workerpool"
	"github.com/recordbase/recordbase-server/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Merge(ctx context.Context, input model.MergeInput) (*model.Record, error) {
	args := m.Called(ctx, input)
	rec, _ := args.Get(0).(*model.Record)
	return rec, args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, tenant, primaryKey string) (*model.Record, error) {
	args := m.Called(ctx, tenant, primaryKey)
	rec, _ := args.Get(0).(*model.Record)
	return rec, args.Error(1)
}

type fixture struct {
	handler  *RecordHandler
	store    *mockStore
	tokens   *auth.TokenManager
	sessions *auth.SessionRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "test", MaxWorkers: 2, QueueSize: 8, Logger: logger})
	t.Cleanup(func() { _ = pool.Stop(5 * time.Second) })

	tokens, err := auth.NewTokenManager(auth.TokenConfig{SigningKey: []byte("handler-test")})
	require.NoError(t, err)
	authenticator := auth.NewAuthenticator(tokens, auth.NewMemoryRevocationStore())
	sessions := auth.NewSessionRegistry(auth.SessionConfig{RevalidateInterval: time.Minute}, authenticator, logger)

	store := &mockStore{}
	h := NewRecordHandler(
		RecordHandlerConfig{DefaultTimeoutMs: 1000},
		store,
		service.NewDeadlineController(pool, nil, logger),
		authenticator,
		sessions,
		nil,
		nil,
		logger,
	)
	return &fixture{handler: h, store: store, tokens: tokens, sessions: sessions}
}

func (f *fixture) sessionContext(t *testing.T, defaultTimeoutMs int64) context.Context {
	t.Helper()
	_, claims, err := f.tokens.Issue("alice", time.Minute)
	require.NoError(t, err)
	sess := f.sessions.Create(1, claims, defaultTimeoutMs)
	ctx := transport.WithConnID(context.Background(), 1)
	return transport.WithSession(ctx, sess)
}

func storedRecord() *model.Record {
	rec := model.NewRecord("jet", "alex")
	rec.Set("a", []byte("bin"))
	rec.Version = 3
	rec.CreatedAt = 100
	rec.UpdatedAt = 200
	return rec
}

func TestConnect(t *testing.T) {
	f := newFixture(t)
	token, _, err := f.tokens.Issue("alice", time.Minute)
	require.NoError(t, err)

	ctx := transport.WithConnID(context.Background(), 9)
	ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(wire.AuthorizationHeader, "Bearer "+token))

	resp, err := f.handler.Connect(ctx, &wire.ConnectRequest{TimeoutMs: 2500})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "alice", resp.Principal)
	assert.Equal(t, int64(2500), resp.DefaultTimeoutMs)
	assert.Equal(t, 1, f.sessions.Count())

	sess, err := f.sessions.Authorize(context.Background(), resp.SessionID, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), sess.DefaultTimeoutMs)
}

func TestConnect_Failures(t *testing.T) {
	f := newFixture(t)
	token, _, err := f.tokens.Issue("alice", time.Minute)
	require.NoError(t, err)
	tracked := transport.WithConnID(context.Background(), 9)

	tests := []struct {
		name    string
		ctx     context.Context
		timeout int64
		code    errors.ErrorCode
	}{
		{"no token", tracked, 1000, errors.ErrCodeAuthenticationFailed},
		{"bad token", metadata.NewIncomingContext(tracked, metadata.Pairs(wire.AuthorizationHeader, "Bearer junk")), 1000, errors.ErrCodeAuthenticationFailed},
		{"zero timeout", metadata.NewIncomingContext(tracked, metadata.Pairs(wire.AuthorizationHeader, "Bearer "+token)), 0, errors.ErrCodeDeadlineExceeded},
		{"untracked connection", context.Background(), 1000, errors.ErrCodeConnectionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.Connect(tt.ctx, &wire.ConnectRequest{TimeoutMs: tt.timeout})
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
	assert.Equal(t, 0, f.sessions.Count())
}

func TestMerge_Structured(t *testing.T) {
	f := newFixture(t)
	ctx := f.sessionContext(t, 0)

	f.store.On("Merge", mock.Anything, model.StructuredRecord{
		Tenant:     "jet",
		PrimaryKey: "alex",
		Attributes: map[string][]byte{"a": []byte("bin")},
	}).Return(storedRecord(), nil)

	resp, err := f.handler.Merge(ctx, &wire.MergeRequest{
		Tenant:     "jet",
		PrimaryKey: "alex",
		Attributes: []wire.Attribute{{Name: "a", Value: []byte("bin")}},
		TimeoutMs:  500,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Version)
	assert.Equal(t, []wire.Attribute{{Name: "a", Value: []byte("bin")}}, resp.Attributes)
	assert.Equal(t, int64(100), resp.CreatedAt)
	f.store.AssertExpectations(t)
}

func TestMerge_Serialized(t *testing.T) {
	f := newFixture(t)
	ctx := f.sessionContext(t, 0)

	payload, err := model.EncodeSerialized(storedRecord())
	require.NoError(t, err)

	f.store.On("Merge", mock.Anything, mock.MatchedBy(func(in model.StructuredRecord) bool {
		return in.Tenant == "jet" && in.PrimaryKey == "alex" && string(in.Attributes["a"]) == "bin"
	})).Return(storedRecord(), nil)

	_, err = f.handler.Merge(ctx, &wire.MergeRequest{Serialized: payload, TimeoutMs: 500})
	require.NoError(t, err)
	f.store.AssertExpectations(t)
}

func TestMerge_InvalidNeverReachesStore(t *testing.T) {
	f := newFixture(t)
	ctx := f.sessionContext(t, 0)

	tests := []struct {
		name string
		req  *wire.MergeRequest
	}{
		{"empty tenant", &wire.MergeRequest{PrimaryKey: "alex", TimeoutMs: 500}},
		{"empty primary key", &wire.MergeRequest{Tenant: "jet", TimeoutMs: 500}},
		{"control character", &wire.MergeRequest{Tenant: "je\x00t", PrimaryKey: "alex", TimeoutMs: 500}},
		{"empty attribute name", &wire.MergeRequest{Tenant: "jet", PrimaryKey: "alex", Attributes: []wire.Attribute{{Value: []byte("x")}}, TimeoutMs: 500}},
		{"undecodable payload", &wire.MergeRequest{Serialized: []byte{0xc1}, TimeoutMs: 500}},
		{"payload and fields", &wire.MergeRequest{Tenant: "jet", Serialized: []byte{0x80}, TimeoutMs: 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.Merge(ctx, tt.req)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidRequest), "got %v", err)
		})
	}
	f.store.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything)
}

func TestMerge_ZeroTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := f.sessionContext(t, 1000)

	_, err := f.handler.Merge(ctx, &wire.MergeRequest{Tenant: "jet", PrimaryKey: "alex", TimeoutMs: 0})
	assert.True(t, errors.Is(err, errors.ErrCodeDeadlineExceeded))
	f.store.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := f.sessionContext(t, 1000)

	f.store.On("Get", mock.Anything, "jet", "alex").Return(storedRecord(), nil)
	f.store.On("Get", mock.Anything, "jet", "nobody").Return(nil, errors.NotFound("jet", "nobody"))

	// negative timeout uses the session default
	resp, err := f.handler.Get(ctx, &wire.GetRequest{Tenant: "jet", PrimaryKey: "alex", TimeoutMs: -1})
	require.NoError(t, err)
	assert.Equal(t, "alex", resp.PrimaryKey)

	_, err = f.handler.Get(ctx, &wire.GetRequest{Tenant: "jet", PrimaryKey: "nobody", TimeoutMs: 500})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = f.handler.Get(ctx, &wire.GetRequest{Tenant: "", PrimaryKey: "alex", TimeoutMs: 500})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidRequest))
}

func TestGet_SlowStoreTimesOut(t *testing.T) {
	f := newFixture(t)
	ctx := f.sessionContext(t, 0)

	f.store.On("Get", mock.Anything, "jet", "alex").
		After(200*time.Millisecond).
		Return(storedRecord(), nil)

	_, err := f.handler.Get(ctx, &wire.GetRequest{Tenant: "jet", PrimaryKey: "alex", TimeoutMs: 20})
	assert.True(t, errors.Is(err, errors.ErrCodeDeadlineExceeded))
}

func TestRequiresSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.handler.Get(context.Background(), &wire.GetRequest{Tenant: "jet", PrimaryKey: "alex", TimeoutMs: 500})
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))
	_, err = f.handler.Merge(context.Background(), &wire.MergeRequest{Tenant: "jet", PrimaryKey: "alex", TimeoutMs: 500})
	assert.True(t, errors.Is(err, errors.ErrCodeAuthenticationFailed))
}
