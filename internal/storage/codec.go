package storage

import (
	"fmt"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
	"github.com/recordbase/recordbase-server/internal/util"
	"github.com/vmihailenco/msgpack/v5"
)

// storedRecord is the on-disk shape of a record
type storedRecord struct {
	Tenant     string            `msgpack:"t"`
	PrimaryKey string            `msgpack:"k"`
	Attributes map[string][]byte `msgpack:"a"`
	Version    int64             `msgpack:"v"`
	CreatedAt  int64             `msgpack:"c"`
	UpdatedAt  int64             `msgpack:"u"`
}

// EncodeRecord serializes a record with a checksum trailer
func EncodeRecord(rec *model.Record) ([]byte, error) {
	data, err := msgpack.Marshal(&storedRecord{
		Tenant:     rec.Tenant,
		PrimaryKey: rec.PrimaryKey,
		Attributes: rec.Attributes,
		Version:    rec.Version,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record %s/%s: %w", rec.Tenant, rec.PrimaryKey, err)
	}
	return util.AppendChecksum(data), nil
}

// DecodeRecord verifies the checksum trailer and decodes the record.
// Any failure is an internal storage error.
func DecodeRecord(sealed []byte) (*model.Record, error) {
	data, expected, ok := util.ValidateAndStripChecksum(sealed)
	if !ok {
		if len(sealed) < util.ChecksumSize {
			return nil, errors.InternalStorage("stored record is truncated", nil)
		}
		return nil, errors.ChecksumFailed(expected, util.ComputeChecksum(data))
	}

	var sr storedRecord
	if err := msgpack.Unmarshal(data, &sr); err != nil {
		return nil, errors.InternalStorage("stored record is malformed", err)
	}

	rec := model.NewRecord(sr.Tenant, sr.PrimaryKey)
	if sr.Attributes != nil {
		rec.Attributes = sr.Attributes
	}
	rec.Version = sr.Version
	rec.CreatedAt = sr.CreatedAt
	rec.UpdatedAt = sr.UpdatedAt
	return rec, nil
}
