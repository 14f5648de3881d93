package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCacheService_PutGet(t *testing.T) {
	c := NewCacheService(&CacheConfig{MaxSize: 1 << 20}, zap.NewNop())

	_, ok := c.Get("jet", "alex")
	assert.False(t, ok)

	rec := testRecord("jet", "alex", 1, "a", "bin")
	c.Put(rec)

	// caller mutations do not leak into the cache
	rec.Set("a", []byte("changed"))

	got, ok := c.Get("jet", "alex")
	require.True(t, ok)
	assert.Equal(t, []byte("bin"), got.Attributes["a"])

	got.Set("a", []byte("again"))
	again, _ := c.Get("jet", "alex")
	assert.Equal(t, []byte("bin"), again.Attributes["a"])

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestCacheService_Replace(t *testing.T) {
	c := NewCacheService(&CacheConfig{MaxSize: 1 << 20}, zap.NewNop())

	c.Put(testRecord("jet", "alex", 1, "a", "1"))
	c.Put(testRecord("jet", "alex", 2, "a", "1", "b", "2"))

	got, ok := c.Get("jet", "alex")
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 1, c.Stats().EntryCount)

	c.Remove("jet", "alex")
	_, ok = c.Get("jet", "alex")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Size)
}

func TestCacheService_EvictsWithinBudget(t *testing.T) {
	c := NewCacheService(&CacheConfig{MaxSize: 400}, zap.NewNop())

	for _, pk := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		c.Put(testRecord("jet", pk, 1, "v", "xxxxxxxxxxxxxxxx"))
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, int64(400))
	assert.Greater(t, stats.Evictions, uint64(0))

	// the most recent insert survives
	_, ok := c.Get("jet", "h")
	assert.True(t, ok)
}

func TestCacheService_Disabled(t *testing.T) {
	c := NewCacheService(&CacheConfig{}, zap.NewNop())
	c.Put(testRecord("jet", "alex", 1))

	_, ok := c.Get("jet", "alex")
	assert.False(t, ok)
	assert.Equal(t, CacheStats{}, c.Stats())
}

func TestCacheService_AdjustWeights(t *testing.T) {
	c := NewCacheService(&CacheConfig{MaxSize: 1 << 20, AdaptiveWindow: time.Minute}, zap.NewNop())
	c.Put(testRecord("jet", "alex", 1))
	c.AdjustWeights()

	assert.InDelta(t, 0.7, c.recencyWeight, 0.001)
	assert.InDelta(t, 0.3, c.frequencyWeight, 0.001)
}
