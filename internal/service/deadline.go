package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/metrics"
	"github.com/recordbase/recordbase-server/internal/util/workerpool"
	"go.uber.org/zap"
)

type acceptedAtKey struct{}

// WithAcceptedAt stamps the time the request was accepted
func WithAcceptedAt(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, acceptedAtKey{}, t)
}

// AcceptedAt returns the acceptance stamp, if any
func AcceptedAt(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(acceptedAtKey{}).(time.Time)
	return t, ok
}

// ResolveTimeout picks the effective budget for a call. A negative request
// value means "use the session default"; a non-positive session default
// falls back to fallbackMs. Zero is kept as zero and fails admission.
func ResolveTimeout(requestMs, sessionDefaultMs, fallbackMs int64) int64 {
	if requestMs >= 0 {
		return requestMs
	}
	if sessionDefaultMs > 0 {
		return sessionDefaultMs
	}
	return fallbackMs
}

// DeadlineController bounds how long a caller waits for storage work.
//
// Work runs on the worker pool with a context detached from the caller, so
// a write that has started always runs to completion. The caller stops
// waiting at accepted_at + timeout and gets DeadlineExceeded; the effect of
// the abandoned operation may or may not be visible afterwards.
type DeadlineController struct {
	pool    *workerpool.WorkerPool
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewDeadlineController creates a controller that runs work on pool
func NewDeadlineController(pool *workerpool.WorkerPool, m *metrics.Metrics, logger *zap.Logger) *DeadlineController {
	return &DeadlineController{
		pool:    pool,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// RunWithDeadline runs fn on the controller's pool and waits until it
// finishes or the budget measured from the request's acceptance runs out.
func RunWithDeadline[T any](
	ctx context.Context,
	d *DeadlineController,
	operation string,
	timeoutMs int64,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T

	acceptedAt, ok := AcceptedAt(ctx)
	if !ok {
		acceptedAt = d.now()
	}
	deadline := acceptedAt.Add(time.Duration(timeoutMs) * time.Millisecond)

	if timeoutMs <= 0 || !d.now().Before(deadline) {
		d.metrics.RecordDeadlineExceeded(operation, "admission")
		return zero, errors.DeadlineExceeded(operation, timeoutMs)
	}

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	done := make(chan outcome[T], 1)
	task := workerpool.Task{
		ID:      operation,
		Context: context.WithoutCancel(ctx),
		Fn: func(workCtx context.Context) error {
			v, err := fn(workCtx)
			done <- outcome[T]{value: v, err: err}
			// request errors are returned to the caller, not logged by the pool
			return nil
		},
	}

	if err := d.pool.SubmitWithContext(waitCtx, task); err != nil {
		if stderrors.Is(err, workerpool.ErrPoolStopped) {
			return zero, errors.InternalStorage("storage workers are shutting down", err)
		}
		d.metrics.RecordDeadlineExceeded(operation, "queue")
		return zero, errors.DeadlineExceeded(operation, timeoutMs)
	}

	select {
	case out := <-done:
		return out.value, out.err
	case <-waitCtx.Done():
		d.metrics.RecordDeadlineExceeded(operation, "wait")
		d.logger.Debug("Caller stopped waiting, operation continues",
			zap.String("operation", operation),
			zap.Int64("timeout_ms", timeoutMs),
			zap.Error(waitCtx.Err()))
		return zero, errors.DeadlineExceeded(operation, timeoutMs)
	}
}
