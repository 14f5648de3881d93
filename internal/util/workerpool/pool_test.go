package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(t *testing.T, workers, queue int) *WorkerPool {
	t.Helper()
	p := NewWorkerPool(&Config{Name: "test", MaxWorkers: workers, QueueSize: queue, Logger: zap.NewNop()})
	t.Cleanup(func() { _ = p.Stop(time.Second) })
	return p
}

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := newTestPool(t, 4, 16)

	var wg sync.WaitGroup
	var count int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.SubmitWithContext(context.Background(), Task{
			ID: "t",
			Fn: func(context.Context) error {
				defer wg.Done()
				atomic.AddInt32(&count, 1)
				return nil
			},
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
	assert.Eventually(t, func() bool { return p.Stats().CompletedTasks == 10 }, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_PanicIsRecovered(t *testing.T) {
	done := make(chan error, 1)
	p := NewWorkerPool(&Config{
		Name:       "panic",
		MaxWorkers: 1,
		OnTaskDone: func(_ Task, _ time.Duration, err error) { done <- err },
	})
	defer p.Stop(time.Second)

	require.NoError(t, p.SubmitWithContext(context.Background(), Task{
		ID: "boom",
		Fn: func(context.Context) error { panic("boom") },
	}))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
	assert.Equal(t, uint64(1), p.Stats().FailedTasks)
}

func TestWorkerPool_TrySubmitFullQueue(t *testing.T) {
	p := newTestPool(t, 1, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.TrySubmit(Task{Fn: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started

	require.True(t, p.TrySubmit(Task{Fn: func(context.Context) error { return nil }}))
	assert.False(t, p.TrySubmit(Task{Fn: func(context.Context) error { return nil }}))
	close(block)
}

func TestWorkerPool_SubmitWithContextHonoursCancellation(t *testing.T) {
	p := newTestPool(t, 1, 1)

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, p.SubmitWithContext(context.Background(), Task{Fn: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	require.NoError(t, p.SubmitWithContext(context.Background(), Task{Fn: func(context.Context) error { return nil }}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.SubmitWithContext(ctx, Task{Fn: func(context.Context) error { return nil }})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWorkerPool_StoppedRejects(t *testing.T) {
	p := NewWorkerPool(&Config{Name: "stopped", MaxWorkers: 1})
	require.NoError(t, p.Stop(time.Second))

	err := p.SubmitWithContext(context.Background(), Task{Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolStopped)
	assert.False(t, p.TrySubmit(Task{Fn: func(context.Context) error { return nil }}))
}

func TestStats_Utilization(t *testing.T) {
	s := Stats{MaxWorkers: 4, ActiveWorkers: 2, QueueSize: 10, QueuedTasks: 5}
	assert.InDelta(t, 50.0, s.WorkerUtilization(), 0.001)
	assert.InDelta(t, 50.0, s.QueueUtilization(), 0.001)
	assert.Zero(t, Stats{}.QueueUtilization())
}
