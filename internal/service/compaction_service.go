package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recordbase/recordbase-server/internal/metrics"
	"github.com/recordbase/recordbase-server/internal/util/workerpool"
	"go.uber.org/zap"
)

// Compactor is a backend whose on-disk log can be folded
type Compactor interface {
	SegmentCount() int
	Compact(ctx context.Context) (int, error)
}

// CompactionService schedules commit log compaction on the worker pool
type CompactionService struct {
	config    *CompactionConfig
	target    Compactor
	pool      *workerpool.WorkerPool
	metrics   *metrics.Metrics
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	running   atomic.Bool
	runs      uint64
	failures  uint64
	reclaimed uint64
}

// CompactionConfig holds compaction configuration
type CompactionConfig struct {
	Interval       time.Duration
	SegmentTrigger int
}

// NewCompactionService creates a compaction service; call Start to schedule it
func NewCompactionService(cfg *CompactionConfig, target Compactor, pool *workerpool.WorkerPool, m *metrics.Metrics, logger *zap.Logger) *CompactionService {
	return &CompactionService{
		config:   cfg,
		target:   target,
		pool:     pool,
		metrics:  m,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs the scheduler until Stop
func (s *CompactionService) Start() {
	if s.config.Interval <= 0 {
		return
	}
	s.wg.Add(1)
	go s.scheduler()
}

func (s *CompactionService) scheduler() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.target.SegmentCount() >= s.config.SegmentTrigger {
				s.Trigger()
			}
		case <-s.stopChan:
			return
		}
	}
}

// Trigger queues a compaction unless one is already queued or running
func (s *CompactionService) Trigger() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	ok := s.pool.TrySubmit(workerpool.Task{
		ID: fmt.Sprintf("compact-%d", time.Now().UnixNano()),
		Fn: func(ctx context.Context) error {
			defer s.running.Store(false)
			return s.run(ctx)
		},
	})
	if !ok {
		s.running.Store(false)
		s.logger.Warn("Compaction not scheduled, worker pool busy")
	}
	return ok
}

func (s *CompactionService) run(ctx context.Context) error {
	start := time.Now()
	removed, err := s.target.Compact(ctx)
	atomic.AddUint64(&s.runs, 1)
	s.metrics.RecordCompaction(err)
	s.metrics.UpdateCommitLog(s.target.SegmentCount())
	if err != nil {
		atomic.AddUint64(&s.failures, 1)
		return fmt.Errorf("compaction failed: %w", err)
	}
	atomic.AddUint64(&s.reclaimed, uint64(removed))

	s.logger.Debug("Compaction finished",
		zap.Int("segments_removed", removed),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// CompactionStats reports compaction counters
type CompactionStats struct {
	Runs            uint64
	Failures        uint64
	SegmentsRemoved uint64
}

// Stats returns compaction counters
func (s *CompactionService) Stats() CompactionStats {
	return CompactionStats{
		Runs:            atomic.LoadUint64(&s.runs),
		Failures:        atomic.LoadUint64(&s.failures),
		SegmentsRemoved: atomic.LoadUint64(&s.reclaimed),
	}
}

// Stop stops the scheduler
func (s *CompactionService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
