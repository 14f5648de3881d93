package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/util/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestController(t *testing.T) *DeadlineController {
	t.Helper()
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "test", MaxWorkers: 4, QueueSize: 16})
	t.Cleanup(func() { _ = pool.Stop(5 * time.Second) })
	return NewDeadlineController(pool, nil, zap.NewNop())
}

func TestResolveTimeout(t *testing.T) {
	tests := []struct {
		name            string
		request, sess   int64
		fallback, wants int64
	}{
		{"explicit", 250, 100, 5000, 250},
		{"zero stays zero", 0, 100, 5000, 0},
		{"negative uses session", -1, 100, 5000, 100},
		{"negative without session", -1, 0, 5000, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wants, ResolveTimeout(tt.request, tt.sess, tt.fallback))
		})
	}
}

func TestRunWithDeadline_Success(t *testing.T) {
	d := newTestController(t)

	v, err := RunWithDeadline(context.Background(), d, "Get", 1000, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestRunWithDeadline_PropagatesError(t *testing.T) {
	d := newTestController(t)

	_, err := RunWithDeadline(context.Background(), d, "Get", 1000, func(context.Context) (int, error) {
		return 0, errors.NotFound("jet", "alex")
	})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestRunWithDeadline_ZeroTimeoutNeverRuns(t *testing.T) {
	d := newTestController(t)

	var ran atomic.Bool
	_, err := RunWithDeadline(context.Background(), d, "Merge", 0, func(context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})
	assert.True(t, errors.Is(err, errors.ErrCodeDeadlineExceeded))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestRunWithDeadline_PastDeadline(t *testing.T) {
	d := newTestController(t)

	ctx := WithAcceptedAt(context.Background(), time.Now().Add(-time.Second))
	_, err := RunWithDeadline(ctx, d, "Merge", 100, func(context.Context) (int, error) {
		t.Error("must not run")
		return 0, nil
	})
	assert.True(t, errors.Is(err, errors.ErrCodeDeadlineExceeded))
}

func TestRunWithDeadline_SlowWorkCompletesDetached(t *testing.T) {
	d := newTestController(t)

	finished := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := RunWithDeadline(ctx, d, "Merge", 20, func(workCtx context.Context) (int, error) {
		time.Sleep(100 * time.Millisecond)
		// the caller gave up long ago; the work context is still live
		finished <- workCtx.Err()
		return 1, nil
	})
	assert.True(t, errors.Is(err, errors.ErrCodeDeadlineExceeded))
	cancel()

	select {
	case workErr := <-finished:
		assert.NoError(t, workErr)
	case <-time.After(2 * time.Second):
		t.Fatal("detached work never finished")
	}
}

func TestAcceptedAt(t *testing.T) {
	_, ok := AcceptedAt(context.Background())
	assert.False(t, ok)

	now := time.Now()
	got, ok := AcceptedAt(WithAcceptedAt(context.Background(), now))
	require.True(t, ok)
	assert.Equal(t, now, got)
}
