package service

import (
	"sync"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/storage/memtable"
	"go.uber.org/zap"
)

// MemTableService is the log engine's in-memory view of every record.
// Stored records are never mutated after Put, so readers may share them.
type MemTableService struct {
	config *MemTableConfig
	table  *memtable.SkipList[*model.Record]
	size   int64
	logger *zap.Logger
	mu     sync.RWMutex
}

// MemTableConfig holds memtable configuration
type MemTableConfig struct {
	// MaxSize bounds the estimated bytes held; 0 disables the limit
	MaxSize int64
}

// NewMemTableService creates a new memtable service
func NewMemTableService(cfg *MemTableConfig, logger *zap.Logger) *MemTableService {
	return &MemTableService{
		config: cfg,
		table:  memtable.NewSkipList[*model.Record](),
		logger: logger,
	}
}

// Admit checks that the record fits. Replacing an existing key always fits;
// new keys are refused once MaxSize is reached. The limit is soft.
func (s *MemTableService) Admit(rec *model.Record) error {
	if s.config.MaxSize <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.table.Search(rec.StorageKey()); exists {
		return nil
	}
	if s.size+estimateRecordSize(rec) > s.config.MaxSize {
		s.logger.Warn("Memtable full, rejecting new key",
			zap.String("tenant", rec.Tenant),
			zap.Int64("size", s.size),
			zap.Int64("max_size", s.config.MaxSize))
		return errors.InternalStorage("memtable is full", nil).
			WithDetail("max_size", s.config.MaxSize)
	}
	return nil
}

// Put inserts or replaces a record
func (s *MemTableService) Put(rec *model.Record) {
	key := rec.StorageKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.table.Search(key); exists {
		s.size -= estimateRecordSize(old)
	}
	s.table.Insert(key, rec)
	s.size += estimateRecordSize(rec)
}

// Get returns the record for the key
func (s *MemTableService) Get(tenant, primaryKey string) (*model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Search(model.CompositeKey(tenant, primaryKey))
}

// Snapshot returns every record in key order
func (s *MemTableService) Snapshot() []*model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Record, 0, s.table.Len())
	it := s.table.Iterator()
	for it.Next() {
		out = append(out, it.Value())
	}
	return out
}

// Size returns the estimated bytes held
func (s *MemTableService) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Count returns the number of records
func (s *MemTableService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Len()
}

func estimateRecordSize(rec *model.Record) int64 {
	size := int64(len(rec.Tenant) + len(rec.PrimaryKey) + 64)
	for k, v := range rec.Attributes {
		size += int64(len(k) + len(v) + 16)
	}
	return size
}
