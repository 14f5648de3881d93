package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// MergeInput is what a Merge call carries: either a serialized record payload
// or the same fields already structured. Both normalize to one Record.
type MergeInput interface {
	mergeInput()
}

// SerializedBytes is a MessagePack (or JSON) encoded record
type SerializedBytes []byte

// StructuredRecord carries the merge fields directly
type StructuredRecord struct {
	Tenant     string
	PrimaryKey string
	Attributes map[string][]byte
}

func (SerializedBytes) mergeInput()  {}
func (StructuredRecord) mergeInput() {}

// serializedRecord is the encoded shape of a record payload
type serializedRecord struct {
	Tenant     string            `msgpack:"tenant" json:"tenant"`
	PrimaryKey string            `msgpack:"primary_key" json:"primary_key"`
	Attributes map[string][]byte `msgpack:"attributes" json:"attributes"`
}

// Normalize converts a MergeInput into the canonical incoming record.
// The returned record has Version 0; only its attributes are merged.
func Normalize(in MergeInput) (*Record, error) {
	switch v := in.(type) {
	case StructuredRecord:
		rec := NewRecord(v.Tenant, v.PrimaryKey)
		rec.Attributes = CloneAttributes(v.Attributes)
		return rec, nil
	case *StructuredRecord:
		if v == nil {
			return nil, errors.InvalidRequest("empty merge input", nil)
		}
		return Normalize(*v)
	case SerializedBytes:
		return DecodeSerialized(v)
	case nil:
		return nil, errors.InvalidRequest("empty merge input", nil)
	default:
		return nil, errors.InvalidRequest(fmt.Sprintf("unsupported merge input %T", in), nil)
	}
}

// DecodeSerialized decodes a serialized record payload. MessagePack is the
// native form; a payload starting with '{' is treated as JSON.
func DecodeSerialized(payload []byte) (*Record, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.InvalidRequest("empty serialized payload", nil)
	}

	var raw map[string]interface{}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, errors.InvalidRequest("malformed JSON payload", err)
		}
	} else {
		if err := msgpack.Unmarshal(payload, &raw); err != nil {
			return nil, errors.InvalidRequest("malformed msgpack payload", err)
		}
	}

	rec := NewRecord("", "")
	for field, value := range raw {
		switch normalizeField(field) {
		case "tenant":
			s, ok := value.(string)
			if !ok {
				return nil, errors.InvalidRequest("tenant must be a string", nil)
			}
			rec.Tenant = s
		case "primarykey":
			s, ok := value.(string)
			if !ok {
				return nil, errors.InvalidRequest("primary_key must be a string", nil)
			}
			rec.PrimaryKey = s
		case "attributes":
			attrs, err := decodeAttributes(value)
			if err != nil {
				return nil, err
			}
			rec.Attributes = attrs
		}
	}
	return rec, nil
}

// EncodeSerialized encodes the merge-relevant fields of a record as MessagePack
func EncodeSerialized(rec *Record) ([]byte, error) {
	return msgpack.Marshal(&serializedRecord{
		Tenant:     rec.Tenant,
		PrimaryKey: rec.PrimaryKey,
		Attributes: rec.Attributes,
	})
}

func normalizeField(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

func decodeAttributes(value interface{}) (map[string][]byte, error) {
	attrs := make(map[string][]byte)
	switch m := value.(type) {
	case nil:
		return attrs, nil
	case map[string]interface{}:
		for name, v := range m {
			b, err := attributeBytes(name, v)
			if err != nil {
				return nil, err
			}
			attrs[name] = b
		}
	case map[interface{}]interface{}:
		for k, v := range m {
			name, ok := k.(string)
			if !ok {
				return nil, errors.InvalidRequest("attribute names must be strings", nil)
			}
			b, err := attributeBytes(name, v)
			if err != nil {
				return nil, err
			}
			attrs[name] = b
		}
	default:
		return nil, errors.InvalidRequest("attributes must be a map", nil)
	}
	return attrs, nil
}

func attributeBytes(name string, v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return []byte(val), nil
	case []byte:
		return val, nil
	case nil:
		return []byte{}, nil
	default:
		return nil, errors.InvalidAttribute(name, fmt.Sprintf("value must be a string or bytes, got %T", v))
	}
}
