// Package boltstore is the default durable backend. Each tenant is a nested
// bucket under a single root bucket; values are storage-encoded records.
package boltstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/storage"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var rootBucket = []byte("tenants")

// Config holds bbolt backend configuration
type Config struct {
	Path        string
	OpenTimeout time.Duration
	NoSync      bool
}

var _ storage.Backend = (*Store)(nil)

// Store is a storage.Backend over a single bbolt file
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the database file
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create directory for %s: %w", cfg.Path, err)
	}

	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: timeout, NoSync: cfg.NoSync})
	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", cfg.Path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not ensure root bucket exists: %w", err)
	}

	logger.Info("Opened bbolt store", zap.String("path", cfg.Path))
	return &Store{db: db, logger: logger}, nil
}

// Load reads the record from the tenant bucket
func (s *Store) Load(ctx context.Context, tenant, primaryKey string) (*model.Record, error) {
	var rec *model.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		tb := tx.Bucket(rootBucket).Bucket([]byte(tenant))
		if tb == nil {
			return errors.NotFound(tenant, primaryKey)
		}
		raw := tb.Get([]byte(primaryKey))
		if raw == nil {
			return errors.NotFound(tenant, primaryKey)
		}

		// raw is only valid inside the transaction; DecodeRecord copies
		decoded, err := storage.DecodeRecord(raw)
		if err != nil {
			s.logger.Error("Stored record failed verification",
				zap.String("tenant", tenant),
				zap.String("primary_key", primaryKey),
				zap.Error(err))
			return err
		}
		rec = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Store writes the record, creating the tenant bucket on first write
func (s *Store) Store(ctx context.Context, record *model.Record) error {
	encoded, err := storage.EncodeRecord(record)
	if err != nil {
		return errors.InternalStorage("failed to encode record", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		tb, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(record.Tenant))
		if err != nil {
			return fmt.Errorf("could not create tenant bucket: %w", err)
		}
		return tb.Put([]byte(record.PrimaryKey), encoded)
	})
	if err != nil {
		return errors.InternalStorage("failed to persist record", err).
			WithDetail("tenant", record.Tenant)
	}
	return nil
}

// Ping checks that a read transaction can be opened
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(rootBucket) == nil {
			return fmt.Errorf("root bucket missing")
		}
		return nil
	})
}

// Tenants lists the tenant buckets
func (s *Store) Tenants() ([]string, error) {
	var tenants []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				tenants = append(tenants, string(k))
			}
			return nil
		})
	})
	return tenants, err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
