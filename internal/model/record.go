package model

import (
	"bytes"
	"sort"
)

// Record is a tenant-scoped, versioned set of attributes identified by
// (Tenant, PrimaryKey)
type Record struct {
	Tenant     string
	PrimaryKey string
	Attributes map[string][]byte
	Version    int64
	CreatedAt  int64 // unix millis
	UpdatedAt  int64 // unix millis
}

// NewRecord creates a record with no attributes at version 0
func NewRecord(tenant, primaryKey string) *Record {
	return &Record{
		Tenant:     tenant,
		PrimaryKey: primaryKey,
		Attributes: make(map[string][]byte),
	}
}

// SetAttribute sets a single attribute on the record. It does not touch any store.
func SetAttribute(record *Record, key string, value []byte) {
	record.Set(key, value)
}

// Set sets a single attribute
func (r *Record) Set(key string, value []byte) {
	if r.Attributes == nil {
		r.Attributes = make(map[string][]byte)
	}
	r.Attributes[key] = value
}

// Attribute returns the attribute value and whether it is present
func (r *Record) Attribute(key string) ([]byte, bool) {
	v, ok := r.Attributes[key]
	return v, ok
}

// AttributeNames returns the attribute names in sorted order
func (r *Record) AttributeNames() []string {
	names := make([]string, 0, len(r.Attributes))
	for name := range r.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal compares tenant, primary key, attributes and version.
// Timestamps are not part of record identity.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.Tenant != other.Tenant || r.PrimaryKey != other.PrimaryKey || r.Version != other.Version {
		return false
	}
	return AttributesEqual(r.Attributes, other.Attributes)
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Attributes = CloneAttributes(r.Attributes)
	return &c
}

// StorageKey is the composite key under which the record lives inside its tenant
func (r *Record) StorageKey() string {
	return CompositeKey(r.Tenant, r.PrimaryKey)
}

// CompositeKey builds the "{tenant}\x00{primary_key}" key used by caches and locks.
// Tenants may not contain control characters, so the separator is unambiguous.
func CompositeKey(tenant, primaryKey string) string {
	return tenant + "\x00" + primaryKey
}

// AttributesEqual compares two attribute maps; nil and empty are equal
func AttributesEqual(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !bytes.Equal(av, bv) {
			return false
		}
	}
	return true
}

// CloneAttributes deep-copies an attribute map
func CloneAttributes(attrs map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(attrs))
	for k, v := range attrs {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = append([]byte{}, v...)
	}
	return out
}
