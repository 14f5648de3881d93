// Package wire holds the RecordService messages, encoded in protobuf wire
// format, and the gRPC plumbing that carries them.
package wire

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// EnvelopeOverhead bounds what a request or response adds around a record's
// attribute names and values: identity fields, versions and per-attribute
// framing for the largest attribute count a record may hold.
const EnvelopeOverhead = 1 << 20

// MaxMessageBytes is the message size both ends must accept to carry a
// record of maxRecordBytes
func MaxMessageBytes(maxRecordBytes int) int {
	return maxRecordBytes + EnvelopeOverhead
}

// Message is implemented by every RecordService request and response
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

// ConnectRequest opens a session. The bearer token travels in metadata.
type ConnectRequest struct {
	TimeoutMs  int64
	ClientName string
}

// ConnectResponse describes the session created by Connect
type ConnectResponse struct {
	SessionID        string
	Principal        string
	ExpiresAtMs      int64
	DefaultTimeoutMs int64
}

// Attribute is one name/value pair of a record
type Attribute struct {
	Name  string
	Value []byte
}

// MergeRequest carries either structured fields or a serialized payload
type MergeRequest struct {
	Tenant     string
	PrimaryKey string
	Attributes []Attribute
	Serialized []byte
	// TimeoutMs < 0 selects the session default
	TimeoutMs int64
}

// GetRequest reads one record
type GetRequest struct {
	Tenant     string
	PrimaryKey string
	TimeoutMs  int64
}

// RecordResponse is the record returned by Merge and Get
type RecordResponse struct {
	Tenant     string
	PrimaryKey string
	Attributes []Attribute
	Version    int64
	CreatedAt  int64
	UpdatedAt  int64
}

// AttributesFromMap converts an attribute map to its wire form, sorted by name
func AttributesFromMap(attrs map[string][]byte) []Attribute {
	out := make([]Attribute, 0, len(attrs))
	for name, value := range attrs {
		out = append(out, Attribute{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AttributesToMap converts wire attributes to a map; a repeated name keeps
// the last value
func AttributesToMap(attrs []Attribute) map[string][]byte {
	out := make(map[string][]byte, len(attrs))
	for _, a := range attrs {
		out[a.Name] = a.Value
	}
	return out
}

// HasStructured reports whether any structured field is set
func (m *MergeRequest) HasStructured() bool {
	return m.Tenant != "" || m.PrimaryKey != "" || len(m.Attributes) > 0
}

func (m *ConnectRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendSint64(b, 1, m.TimeoutMs)
	b = appendString(b, 2, m.ClientName)
	return b, nil
}

func (m *ConnectRequest) Unmarshal(data []byte) error {
	*m = ConnectRequest{}
	return walk(data, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.TimeoutMs = protowire.DecodeZigZag(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.ClientName = v
			return n, nil
		}
		return skip(num, typ, field)
	})
}

func (m *ConnectResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.SessionID)
	b = appendString(b, 2, m.Principal)
	b = appendInt64(b, 3, m.ExpiresAtMs)
	b = appendInt64(b, 4, m.DefaultTimeoutMs)
	return b, nil
}

func (m *ConnectResponse) Unmarshal(data []byte) error {
	*m = ConnectResponse{}
	return walk(data, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.SessionID = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.Principal = v
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.ExpiresAtMs = int64(v)
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.DefaultTimeoutMs = int64(v)
			return n, nil
		}
		return skip(num, typ, field)
	})
}

func (m *MergeRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Tenant)
	b = appendString(b, 2, m.PrimaryKey)
	b = appendAttributes(b, 3, m.Attributes)
	if len(m.Serialized) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Serialized)
	}
	b = appendSint64(b, 5, m.TimeoutMs)
	return b, nil
}

func (m *MergeRequest) Unmarshal(data []byte) error {
	*m = MergeRequest{}
	return walk(data, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.Tenant = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.PrimaryKey = v
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			attr, n, err := consumeAttribute(field)
			if err != nil {
				return n, err
			}
			m.Attributes = append(m.Attributes, attr)
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(field)
			m.Serialized = append([]byte(nil), v...)
			return n, nil
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.TimeoutMs = protowire.DecodeZigZag(v)
			return n, nil
		}
		return skip(num, typ, field)
	})
}

func (m *GetRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Tenant)
	b = appendString(b, 2, m.PrimaryKey)
	b = appendSint64(b, 3, m.TimeoutMs)
	return b, nil
}

func (m *GetRequest) Unmarshal(data []byte) error {
	*m = GetRequest{}
	return walk(data, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.Tenant = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.PrimaryKey = v
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.TimeoutMs = protowire.DecodeZigZag(v)
			return n, nil
		}
		return skip(num, typ, field)
	})
}

func (m *RecordResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Tenant)
	b = appendString(b, 2, m.PrimaryKey)
	b = appendAttributes(b, 3, m.Attributes)
	b = appendInt64(b, 4, m.Version)
	b = appendInt64(b, 5, m.CreatedAt)
	b = appendInt64(b, 6, m.UpdatedAt)
	return b, nil
}

func (m *RecordResponse) Unmarshal(data []byte) error {
	*m = RecordResponse{}
	return walk(data, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.Tenant = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			m.PrimaryKey = v
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			attr, n, err := consumeAttribute(field)
			if err != nil {
				return n, err
			}
			m.Attributes = append(m.Attributes, attr)
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.Version = int64(v)
			return n, nil
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.CreatedAt = int64(v)
			return n, nil
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.UpdatedAt = int64(v)
			return n, nil
		}
		return skip(num, typ, field)
	})
}

// Attribute is encoded as a nested message {1: name, 2: value}
func appendAttributes(b []byte, num protowire.Number, attrs []Attribute) []byte {
	for _, a := range attrs {
		var inner []byte
		inner = appendString(inner, 1, a.Name)
		if len(a.Value) > 0 {
			inner = protowire.AppendTag(inner, 2, protowire.BytesType)
			inner = protowire.AppendBytes(inner, a.Value)
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

func consumeAttribute(field []byte) (Attribute, int, error) {
	inner, n := protowire.ConsumeBytes(field)
	if n < 0 {
		return Attribute{}, n, nil
	}
	attr := Attribute{Value: []byte{}}
	err := walk(inner, func(num protowire.Number, typ protowire.Type, f []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(f)
			attr.Name = v
			return m, nil
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(f)
			attr.Value = append([]byte{}, v...)
			return m, nil
		}
		return skip(num, typ, f)
	})
	return attr, n, err
}

// walk iterates the fields of a message. fn gets the bytes following the
// tag and returns how many of them it consumed, negative on a parse error.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, field []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("wire: bad field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
	return protowire.ConsumeFieldValue(num, typ, field), nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendSint64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}
