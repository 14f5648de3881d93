package service

import (
	"context"
	"time"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/logging"
	"github.com/recordbase/recordbase-server/internal/merge"
	"github.com/recordbase/recordbase-server/internal/metrics"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/storage"
	"github.com/recordbase/recordbase-server/internal/storage/diskmanager"
	"github.com/recordbase/recordbase-server/internal/storage/keylock"
	"github.com/recordbase/recordbase-server/internal/validation"
	"go.uber.org/zap"
)

// TenantStore owns every record. Reads go cache then backend; merges run
// under the per-key lock so writers of one record are totally ordered.
type TenantStore struct {
	backend     storage.Backend
	cache       *CacheService
	locks       *keylock.Table
	diskManager *diskmanager.DiskManager
	validator   *validation.Validator
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewTenantStore creates a tenant store. cache, diskMgr and m may be nil.
func NewTenantStore(
	backend storage.Backend,
	cache *CacheService,
	locks *keylock.Table,
	diskMgr *diskmanager.DiskManager,
	validator *validation.Validator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TenantStore {
	if locks == nil {
		locks = keylock.New(keylock.DefaultStripes)
	}
	if validator == nil {
		validator = validation.NewValidator()
	}
	return &TenantStore{
		backend:     backend,
		cache:       cache,
		locks:       locks,
		diskManager: diskMgr,
		validator:   validator,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Get returns a copy of the record or a NotFound error
func (s *TenantStore) Get(ctx context.Context, tenant, primaryKey string) (*model.Record, error) {
	if err := s.validator.ValidateKey(tenant, primaryKey); err != nil {
		return nil, err
	}

	if rec, ok := s.cache.Get(tenant, primaryKey); ok {
		s.metrics.RecordCacheLookup(true)
		return rec, nil
	}
	if s.cache.Enabled() {
		s.metrics.RecordCacheLookup(false)
	}

	// fill the cache under the key lock so a concurrent merge cannot be
	// overwritten by an older copy
	unlock := s.locks.Lock(tenant, primaryKey)
	defer unlock()

	if rec, ok := s.cache.Get(tenant, primaryKey); ok {
		return rec, nil
	}

	rec, err := s.load(ctx, tenant, primaryKey)
	if err != nil {
		return nil, err
	}
	s.cache.Put(rec)
	return rec, nil
}

// Merge normalizes the input and merges it into the stored record, creating
// the record if needed. The returned record carries the new version.
func (s *TenantStore) Merge(ctx context.Context, input model.MergeInput) (*model.Record, error) {
	incoming, err := model.Normalize(input)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateMerge(incoming); err != nil {
		return nil, err
	}

	logger := logging.WithContext(ctx, s.logger)
	tenant, primaryKey := incoming.Tenant, incoming.PrimaryKey

	unlock := s.locks.Lock(tenant, primaryKey)
	defer unlock()

	current, ok := s.cache.Get(tenant, primaryKey)
	if !ok {
		current, err = s.load(ctx, tenant, primaryKey)
		if err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
			return nil, err
		}
	}

	result := merge.Apply(current, tenant, primaryKey, incoming.Attributes, s.now())
	if err := s.validator.ValidateRecord(result.Record); err != nil {
		logger.Debug("Merged record over limits",
			zap.String("tenant", tenant),
			zap.String("primary_key", primaryKey),
			zap.Error(err))
		return nil, err
	}

	if s.diskManager != nil {
		if err := s.diskManager.CheckBeforeWrite(validation.EstimateWriteSize(result.Record)); err != nil {
			logger.Warn("Disk space check failed",
				zap.String("tenant", tenant),
				zap.String("primary_key", primaryKey),
				zap.Error(err))
			return nil, err
		}
	}

	start := time.Now()
	err = s.backend.Store(ctx, result.Record)
	s.metrics.RecordBackendOp("store", time.Since(start), err)
	if err != nil {
		// the stored state is unknown, the next reader must go to the backend
		s.cache.Remove(tenant, primaryKey)
		logger.Error("Failed to persist record",
			zap.String("tenant", tenant),
			zap.String("primary_key", primaryKey),
			zap.Int64("version", result.Record.Version),
			zap.Error(err))
		if errors.IsStorageError(err) {
			return nil, err
		}
		return nil, errors.InternalStorage("failed to persist record", err)
	}

	s.cache.Put(result.Record)
	s.metrics.RecordMerge(result.Created, len(incoming.Attributes))

	logger.Debug("Merged record",
		zap.String("tenant", tenant),
		zap.String("primary_key", primaryKey),
		zap.Int64("version", result.Record.Version),
		zap.Bool("created", result.Created),
		zap.Strings("changed", result.Changed))

	return result.Record.Clone(), nil
}

// Ping checks the backend
func (s *TenantStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *TenantStore) load(ctx context.Context, tenant, primaryKey string) (*model.Record, error) {
	start := time.Now()
	rec, err := s.backend.Load(ctx, tenant, primaryKey)
	if err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
		s.metrics.RecordBackendOp("load", time.Since(start), err)
		if errors.IsStorageError(err) {
			return nil, err
		}
		return nil, errors.InternalStorage("failed to load record", err)
	}
	s.metrics.RecordBackendOp("load", time.Since(start), nil)
	return rec, err
}
