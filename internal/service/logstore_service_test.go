package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/util/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openLogStore(t *testing.T, dir string, segmentSize int64) *LogStore {
	t.Helper()
	logger := zap.NewNop()
	cl, err := NewCommitLogService(&CommitLogConfig{SegmentSize: segmentSize}, dir, logger)
	require.NoError(t, err)
	ls := NewLogStore(cl, NewMemTableService(&MemTableConfig{}, logger), logger)
	_, err = ls.Recover(context.Background())
	require.NoError(t, err)
	return ls
}

func testRecord(tenant, pk string, version int64, kv ...string) *model.Record {
	rec := model.NewRecord(tenant, pk)
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Set(kv[i], []byte(kv[i+1]))
	}
	rec.Version = version
	return rec
}

func TestLogStore_StoreAndLoad(t *testing.T) {
	ctx := context.Background()
	ls := openLogStore(t, t.TempDir(), 0)
	defer ls.Close()

	_, err := ls.Load(ctx, "jet", "alex")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	rec := testRecord("jet", "alex", 1, "a", "bin")
	require.NoError(t, ls.Store(ctx, rec))

	got, err := ls.Load(ctx, "jet", "alex")
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))

	// returned records are copies
	got.Set("a", []byte("changed"))
	again, err := ls.Load(ctx, "jet", "alex")
	require.NoError(t, err)
	assert.Equal(t, []byte("bin"), again.Attributes["a"])
	assert.NoError(t, ls.Ping(ctx))
}

func TestLogStore_RecoversAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ls := openLogStore(t, dir, 0)
	require.NoError(t, ls.Store(ctx, testRecord("jet", "alex", 1, "a", "1")))
	require.NoError(t, ls.Store(ctx, testRecord("jet", "alex", 2, "a", "1", "b", "2")))
	require.NoError(t, ls.Store(ctx, testRecord("other", "alex", 1, "c", "3")))
	require.NoError(t, ls.Close())

	reopened := openLogStore(t, dir, 0)
	defer reopened.Close()

	got, err := reopened.Load(ctx, "jet", "alex")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, []byte("2"), got.Attributes["b"])
	assert.Equal(t, 2, reopened.Count())
}

func TestLogStore_RecoverySkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ls := openLogStore(t, dir, 0)
	require.NoError(t, ls.Store(ctx, testRecord("jet", "alex", 1, "a", "1")))
	require.NoError(t, ls.Close())

	segments, err := filepath.Glob(filepath.Join(dir, "commitlog-*.log"))
	require.NoError(t, err)
	require.NotEmpty(t, segments)
	f, err := os.OpenFile(segments[len(segments)-1], os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"tenant\":\"jet\",\"record\":\"AAAA\"}\n{torn")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cl, err := NewCommitLogService(&CommitLogConfig{}, dir, zap.NewNop())
	require.NoError(t, err)
	reopened := NewLogStore(cl, NewMemTableService(&MemTableConfig{}, zap.NewNop()), zap.NewNop())
	defer reopened.Close()

	stats, err := reopened.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 2, stats.Skipped)

	got, err := reopened.Load(ctx, "jet", "alex")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestLogStore_CompactionKeepsLatestState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// tiny segments force a rotation on every append
	ls := openLogStore(t, dir, 1)
	for v := int64(1); v <= 5; v++ {
		require.NoError(t, ls.Store(ctx, testRecord("jet", "alex", v, "a", "x")))
	}
	require.NoError(t, ls.Store(ctx, testRecord("jet", "bob", 1, "b", "y")))
	before := ls.SegmentCount()
	require.Greater(t, before, 2)

	removed, err := ls.Compact(ctx)
	require.NoError(t, err)
	assert.Greater(t, removed, 0)
	assert.Less(t, ls.SegmentCount(), before)

	require.NoError(t, ls.Store(ctx, testRecord("jet", "alex", 6, "a", "z")))
	require.NoError(t, ls.Close())

	reopened := openLogStore(t, dir, 0)
	defer reopened.Close()

	alex, err := reopened.Load(ctx, "jet", "alex")
	require.NoError(t, err)
	assert.Equal(t, int64(6), alex.Version)
	assert.Equal(t, []byte("z"), alex.Attributes["a"])

	bob, err := reopened.Load(ctx, "jet", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bob.Version)
}

func TestLogStore_MemTableLimit(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	cl, err := NewCommitLogService(&CommitLogConfig{}, t.TempDir(), logger)
	require.NoError(t, err)
	ls := NewLogStore(cl, NewMemTableService(&MemTableConfig{MaxSize: 200}, logger), logger)
	defer ls.Close()

	require.NoError(t, ls.Store(ctx, testRecord("jet", "alex", 1, "a", "1")))
	// replacing an existing key is always admitted
	require.NoError(t, ls.Store(ctx, testRecord("jet", "alex", 2, "a", "2")))

	err = ls.Store(ctx, testRecord("jet", "bob", 1, "big", string(make([]byte, 256))))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternalStorage, errors.GetCode(err))
}

func TestCompactionService_Trigger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ls := openLogStore(t, dir, 1)
	defer ls.Close()

	for v := int64(1); v <= 3; v++ {
		require.NoError(t, ls.Store(ctx, testRecord("jet", "alex", v)))
	}

	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "compaction", MaxWorkers: 1})
	defer pool.Stop(time.Second)

	svc := NewCompactionService(&CompactionConfig{SegmentTrigger: 2}, ls, pool, nil, zap.NewNop())
	require.True(t, svc.Trigger())

	assert.Eventually(t, func() bool { return svc.Stats().Runs == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, svc.Stats().Failures)
	svc.Stop()
}
