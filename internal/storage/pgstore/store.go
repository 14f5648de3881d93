// Package pgstore keeps records in a single PostgreSQL table keyed by
// (tenant, primary_key). The payload column holds the storage encoding.
package pgstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/storage"
	"go.uber.org/zap"
)

const schema = `
	CREATE TABLE IF NOT EXISTS records (
		tenant      TEXT        NOT NULL,
		primary_key TEXT        NOT NULL,
		version     BIGINT      NOT NULL,
		payload     BYTEA       NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant, primary_key)
	)
`

// Config holds PostgreSQL backend configuration
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

var _ storage.Backend = (*Store)(nil)

// Store is a storage.Backend over a pgx pool
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects, pings and ensures the schema exists
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}

	logger.Info("Connected to PostgreSQL backend",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database))

	return &Store{pool: pool, logger: logger}, nil
}

// Load reads one record
func (s *Store) Load(ctx context.Context, tenant, primaryKey string) (*model.Record, error) {
	query := `
		SELECT payload
		FROM records
		WHERE tenant = $1 AND primary_key = $2
	`

	var payload []byte
	err := s.pool.QueryRow(ctx, query, tenant, primaryKey).Scan(&payload)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound(tenant, primaryKey)
	}
	if err != nil {
		return nil, errors.InternalStorage("failed to load record", err)
	}

	rec, err := storage.DecodeRecord(payload)
	if err != nil {
		s.logger.Error("Stored record failed verification",
			zap.String("tenant", tenant),
			zap.String("primary_key", primaryKey),
			zap.Error(err))
		return nil, err
	}
	return rec, nil
}

// Store upserts one record
func (s *Store) Store(ctx context.Context, record *model.Record) error {
	payload, err := storage.EncodeRecord(record)
	if err != nil {
		return errors.InternalStorage("failed to encode record", err)
	}

	query := `
		INSERT INTO records (tenant, primary_key, version, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant, primary_key)
		DO UPDATE SET version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`

	_, err = s.pool.Exec(ctx, query,
		record.Tenant,
		record.PrimaryKey,
		record.Version,
		payload,
		time.UnixMilli(record.UpdatedAt),
	)
	if err != nil {
		return errors.InternalStorage("failed to persist record", err).
			WithDetail("tenant", record.Tenant)
	}
	return nil
}

// Ping checks the pool
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
