package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/storage"
	"go.uber.org/zap"
)

const (
	segmentPrefix = "commitlog-"
	segmentSuffix = ".log"
)

// CommitLogService is the write-ahead log of the log engine. Each line is a
// JSON CommitLogEntry whose record bytes carry their own checksum.
type CommitLogService struct {
	config      *CommitLogConfig
	currentFile *os.File
	currentSize int64
	segmentID   uint64
	logger      *zap.Logger
	mu          sync.Mutex
	dataDir     string
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// CommitLogConfig holds commit log configuration
type CommitLogConfig struct {
	SegmentSize           int64
	SyncWrites            bool
	RotationCheckInterval time.Duration
}

// RecoveryStats summarizes a replay
type RecoveryStats struct {
	Segments int
	Entries  int
	Skipped  int
}

// NewCommitLogService opens a fresh segment after any existing ones
func NewCommitLogService(cfg *CommitLogConfig, dataDir string, logger *zap.Logger) (*CommitLogService, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create commit log directory: %w", err)
	}

	cls := &CommitLogService{
		config:   cfg,
		logger:   logger,
		dataDir:  dataDir,
		stopChan: make(chan struct{}),
	}

	ids, err := cls.listSegments()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		cls.segmentID = ids[len(ids)-1]
	}

	if err := cls.openNewSegment(); err != nil {
		return nil, fmt.Errorf("failed to open commit log segment: %w", err)
	}

	if cfg.RotationCheckInterval > 0 {
		go cls.rotationChecker()
	}

	return cls, nil
}

// Append writes the record to the active segment
func (s *CommitLogService) Append(ctx context.Context, rec *model.Record) error {
	encoded, err := storage.EncodeRecord(rec)
	if err != nil {
		return err
	}

	line, err := json.Marshal(&model.CommitLogEntry{
		Tenant:     rec.Tenant,
		PrimaryKey: rec.PrimaryKey,
		Version:    rec.Version,
		Record:     encoded,
		Timestamp:  time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile == nil {
		return fmt.Errorf("commit log is closed")
	}

	n, err := s.currentFile.Write(line)
	s.currentSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to commit log: %w", err)
	}

	if s.config.SyncWrites {
		if err := s.currentFile.Sync(); err != nil {
			return fmt.Errorf("failed to sync commit log: %w", err)
		}
	}

	if s.config.SegmentSize > 0 && s.currentSize >= s.config.SegmentSize {
		if err := s.openNewSegment(); err != nil {
			s.logger.Error("Failed to rotate commit log", zap.Error(err))
		}
	}

	return nil
}

func (s *CommitLogService) segmentPath(id uint64) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s%020d%s", segmentPrefix, id, segmentSuffix))
}

// listSegments returns segment IDs in ascending order
func (s *CommitLogService) listSegments() ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(s.dataDir, segmentPrefix+"*"+segmentSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list commit log files: %w", err)
	}

	ids := make([]uint64, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), segmentPrefix), segmentSuffix)
		id, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			s.logger.Warn("Ignoring unrecognised commit log file", zap.String("file", m))
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// openNewSegment must be called with mu held (or before the service is shared)
func (s *CommitLogService) openNewSegment() error {
	if s.currentFile != nil {
		if err := s.currentFile.Close(); err != nil {
			s.logger.Warn("Failed to close commit log segment", zap.Error(err))
		}
	}

	s.segmentID++
	path := s.segmentPath(s.segmentID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.currentFile = nil
		return fmt.Errorf("failed to open commit log file: %w", err)
	}

	s.currentFile = file
	s.currentSize = 0

	s.logger.Info("Opened new commit log segment", zap.String("path", path))
	return nil
}

func (s *CommitLogService) rotationChecker() {
	ticker := time.NewTicker(s.config.RotationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkRotation()
		case <-s.stopChan:
			return
		}
	}
}

func (s *CommitLogService) checkRotation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile == nil || s.config.SegmentSize <= 0 {
		return
	}
	if s.currentSize >= s.config.SegmentSize {
		s.logger.Info("Rotating commit log due to size",
			zap.Int64("size", s.currentSize),
			zap.Int64("threshold", s.config.SegmentSize))
		if err := s.openNewSegment(); err != nil {
			s.logger.Error("Failed to rotate commit log", zap.Error(err))
		}
	}
}

// SegmentCount returns the number of segment files, including the active one
func (s *CommitLogService) SegmentCount() int {
	ids, err := s.listSegments()
	if err != nil {
		return 0
	}
	return len(ids)
}

// Recover replays every segment in order. Lines that fail to parse or fail
// their checksum are skipped; a torn tail from a crash looks like this.
func (s *CommitLogService) Recover(ctx context.Context, apply func(*model.Record) error) (RecoveryStats, error) {
	s.logger.Info("Starting commit log recovery", zap.String("dir", s.dataDir))

	ids, err := s.listSegments()
	if err != nil {
		return RecoveryStats{}, err
	}

	var stats RecoveryStats
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		applied, skipped, err := s.recoverFromFile(s.segmentPath(id), apply)
		if err != nil {
			return stats, fmt.Errorf("recover segment %d: %w", id, err)
		}
		stats.Segments++
		stats.Entries += applied
		stats.Skipped += skipped
	}

	s.logger.Info("Commit log recovery completed",
		zap.Int("segments", stats.Segments),
		zap.Int("entries", stats.Entries),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (s *CommitLogService) recoverFromFile(path string, apply func(*model.Record) error) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	applied, skipped := 0, 0
	for scanner.Scan() {
		var entry model.CommitLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			s.logger.Warn("Skipping unreadable commit log entry",
				zap.String("file", path),
				zap.Error(err))
			skipped++
			continue
		}

		rec, err := storage.DecodeRecord(entry.Record)
		if err != nil {
			s.logger.Warn("Skipping corrupt commit log entry",
				zap.String("file", path),
				zap.String("tenant", entry.Tenant),
				zap.Error(err))
			skipped++
			continue
		}

		if err := apply(rec); err != nil {
			return applied, skipped, err
		}
		applied++
	}

	return applied, skipped, scanner.Err()
}

// Rotate seals the active segment and returns the IDs of every sealed segment
func (s *CommitLogService) Rotate() ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openNewSegment(); err != nil {
		return nil, err
	}
	ids, err := s.listSegments()
	if err != nil {
		return nil, err
	}

	sealed := ids[:0]
	for _, id := range ids {
		if id < s.segmentID {
			sealed = append(sealed, id)
		}
	}
	return sealed, nil
}

// ReplaceSealed rewrites the sealed segments as a single segment holding
// records. The newest sealed segment is atomically replaced first, then
// the older ones are removed, so a crash at any point still replays to the
// same state.
func (s *CommitLogService) ReplaceSealed(sealed []uint64, records []*model.Record) (int, error) {
	if len(sealed) == 0 {
		return 0, nil
	}
	target := sealed[len(sealed)-1]

	tmp, err := os.CreateTemp(s.dataDir, "compact-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create compaction file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	now := time.Now().UnixMilli()
	for _, rec := range records {
		encoded, err := storage.EncodeRecord(rec)
		if err != nil {
			tmp.Close()
			return 0, err
		}
		line, err := json.Marshal(&model.CommitLogEntry{
			Tenant:     rec.Tenant,
			PrimaryKey: rec.PrimaryKey,
			Version:    rec.Version,
			Record:     encoded,
			Timestamp:  now,
		})
		if err != nil {
			tmp.Close()
			return 0, fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return 0, fmt.Errorf("failed to write compaction file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to flush compaction file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpPath, s.segmentPath(target)); err != nil {
		return 0, fmt.Errorf("failed to install compacted segment: %w", err)
	}

	removed := 0
	for _, id := range sealed[:len(sealed)-1] {
		if err := os.Remove(s.segmentPath(id)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove compacted segment",
				zap.Uint64("segment", id),
				zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Healthy reports whether the active segment is open
func (s *CommitLogService) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentFile != nil
}

// Close closes the commit log service
func (s *CommitLogService) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile == nil {
		return nil
	}
	err := s.currentFile.Sync()
	if cerr := s.currentFile.Close(); err == nil {
		err = cerr
	}
	s.currentFile = nil
	return err
}
