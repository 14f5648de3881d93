// Package storage defines the durable medium behind the tenant store and the
// on-disk record encoding shared by every backend.
package storage

import (
	"context"

	"github.com/recordbase/recordbase-server/internal/model"
)

// Backend persists whole records keyed by (tenant, primary key).
//
// Load returns an errors.ErrCodeNotFound StorageError when the record does
// not exist. Store replaces the record unconditionally; ordering of writers
// is the caller's job.
type Backend interface {
	Load(ctx context.Context, tenant, primaryKey string) (*model.Record, error)
	Store(ctx context.Context, record *model.Record) error
	Ping(ctx context.Context) error
	Close() error
}

// Engine names accepted by storage.engine
const (
	EngineBolt     = "bolt"
	EngineLog      = "log"
	EnginePostgres = "postgres"
)
