package service

import (
	"math"
	"sync"
	"time"

	"github.com/recordbase/recordbase-server/internal/model"
	"go.uber.org/zap"
)

// CacheService is an adaptive LRU/LFU read-through cache of records.
// Entries hold private copies; callers always receive clones.
type CacheService struct {
	config          *CacheConfig
	cache           map[string]*cacheEntry
	logger          *zap.Logger
	mu              sync.Mutex
	currentSize     int64
	frequencyWeight float64
	recencyWeight   float64
	hits            uint64
	misses          uint64
	evictions       uint64
}

type cacheEntry struct {
	record      *model.Record
	size        int64
	accessCount int64
	lastAccess  time.Time
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	// MaxSize is the byte budget; 0 disables caching
	MaxSize         int64
	FrequencyWeight float64
	RecencyWeight   float64
	AdaptiveWindow  time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(cfg *CacheConfig, logger *zap.Logger) *CacheService {
	fw, rw := cfg.FrequencyWeight, cfg.RecencyWeight
	if fw == 0 && rw == 0 {
		fw, rw = 0.5, 0.5
	}
	return &CacheService{
		config:          cfg,
		cache:           make(map[string]*cacheEntry),
		logger:          logger,
		frequencyWeight: fw,
		recencyWeight:   rw,
	}
}

// Enabled reports whether the cache holds anything at all
func (s *CacheService) Enabled() bool {
	return s != nil && s.config.MaxSize > 0
}

// Get returns a copy of the cached record
func (s *CacheService) Get(tenant, primaryKey string) (*model.Record, bool) {
	if !s.Enabled() {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.cache[model.CompositeKey(tenant, primaryKey)]
	if !found {
		s.misses++
		return nil, false
	}

	s.hits++
	entry.accessCount++
	entry.lastAccess = time.Now()
	return entry.record.Clone(), true
}

// Put caches a copy of the record, replacing any older copy
func (s *CacheService) Put(rec *model.Record) {
	if !s.Enabled() {
		return
	}

	key := rec.StorageKey()
	size := estimateRecordSize(rec)
	if size > s.config.MaxSize {
		return
	}
	copied := rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, found := s.cache[key]; found {
		s.currentSize += size - existing.size
		existing.record = copied
		existing.size = size
		existing.accessCount++
		existing.lastAccess = now
	} else {
		s.cache[key] = &cacheEntry{record: copied, size: size, accessCount: 1, lastAccess: now}
		s.currentSize += size
	}

	for s.currentSize > s.config.MaxSize && len(s.cache) > 1 {
		s.evictLowestScore(key)
	}
}

// Remove drops a key from the cache
func (s *CacheService) Remove(tenant, primaryKey string) {
	if !s.Enabled() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.CompositeKey(tenant, primaryKey)
	if entry, found := s.cache[key]; found {
		delete(s.cache, key)
		s.currentSize -= entry.size
	}
}

// score is higher for entries worth keeping
func (s *CacheService) score(entry *cacheEntry, now time.Time) float64 {
	frequency := float64(entry.accessCount)
	recency := now.Sub(entry.lastAccess).Seconds()
	return s.frequencyWeight*frequency - s.recencyWeight*recency
}

// evictLowestScore evicts the entry with the lowest score, never keep
func (s *CacheService) evictLowestScore(keep string) {
	now := time.Now()
	lowestKey := ""
	lowestScore := math.Inf(1)

	for key, entry := range s.cache {
		if key == keep {
			continue
		}
		if sc := s.score(entry, now); sc < lowestScore {
			lowestScore = sc
			lowestKey = key
		}
	}

	if lowestKey == "" {
		return
	}
	s.currentSize -= s.cache[lowestKey].size
	delete(s.cache, lowestKey)
	s.evictions++
}

// AdjustWeights shifts between LRU and LFU behaviour based on how many
// entries were touched within the adaptive window
func (s *CacheService) AdjustWeights() {
	if !s.Enabled() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache) == 0 {
		return
	}

	recentThreshold := time.Now().Add(-s.config.AdaptiveWindow)
	recent := 0
	for _, entry := range s.cache {
		if entry.lastAccess.After(recentThreshold) {
			recent++
		}
	}
	hotness := float64(recent) / float64(len(s.cache))

	switch {
	case hotness > 0.7:
		s.recencyWeight, s.frequencyWeight = 0.7, 0.3
	case hotness < 0.3:
		s.recencyWeight, s.frequencyWeight = 0.3, 0.7
	default:
		s.recencyWeight, s.frequencyWeight = 0.5, 0.5
	}

	s.logger.Debug("Adjusted cache weights",
		zap.Float64("recency_weight", s.recencyWeight),
		zap.Float64("frequency_weight", s.frequencyWeight),
		zap.Float64("hotness_ratio", hotness))
}

// Stats returns cache statistics
func (s *CacheService) Stats() CacheStats {
	if !s.Enabled() {
		return CacheStats{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := CacheStats{
		Size:       s.currentSize,
		MaxSize:    s.config.MaxSize,
		EntryCount: len(s.cache),
		Hits:       s.hits,
		Misses:     s.misses,
		Evictions:  s.evictions,
	}
	if lookups := s.hits + s.misses; lookups > 0 {
		stats.HitRate = float64(s.hits) / float64(lookups)
	}
	return stats
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size       int64
	MaxSize    int64
	EntryCount int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	HitRate    float64
}
