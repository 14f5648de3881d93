package validation

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/recordbase/recordbase-server/internal/model"
)

const (
	// Size limits
	MaxTenantSize        = 256
	MaxPrimaryKeySize    = 1024
	MaxAttributeNameSize = 256
	MaxAttributeSize     = 4 * 1024 * 1024  // 4 MB
	MaxRecordSize        = 16 * 1024 * 1024 // 16 MB
	MaxAttributes        = 10000
)

// Limits bounds the request shapes the validator accepts
type Limits struct {
	MaxTenantSize        int
	MaxPrimaryKeySize    int
	MaxAttributeNameSize int
	MaxAttributeSize     int
	MaxRecordSize        int
	MaxAttributes        int
}

// DefaultLimits returns the package default limits
func DefaultLimits() Limits {
	return Limits{
		MaxTenantSize:        MaxTenantSize,
		MaxPrimaryKeySize:    MaxPrimaryKeySize,
		MaxAttributeNameSize: MaxAttributeNameSize,
		MaxAttributeSize:     MaxAttributeSize,
		MaxRecordSize:        MaxRecordSize,
		MaxAttributes:        MaxAttributes,
	}
}

// Validator checks request shapes before anything touches storage
type Validator struct {
	limits Limits
}

// NewValidator creates a validator with default limits
func NewValidator() *Validator {
	return &Validator{limits: DefaultLimits()}
}

// NewValidatorWithLimits creates a validator with custom limits.
// Zero fields fall back to the defaults.
func NewValidatorWithLimits(limits Limits) *Validator {
	d := DefaultLimits()
	if limits.MaxTenantSize <= 0 {
		limits.MaxTenantSize = d.MaxTenantSize
	}
	if limits.MaxPrimaryKeySize <= 0 {
		limits.MaxPrimaryKeySize = d.MaxPrimaryKeySize
	}
	if limits.MaxAttributeNameSize <= 0 {
		limits.MaxAttributeNameSize = d.MaxAttributeNameSize
	}
	if limits.MaxAttributeSize <= 0 {
		limits.MaxAttributeSize = d.MaxAttributeSize
	}
	if limits.MaxRecordSize <= 0 {
		limits.MaxRecordSize = d.MaxRecordSize
	}
	if limits.MaxAttributes <= 0 {
		limits.MaxAttributes = d.MaxAttributes
	}
	return &Validator{limits: limits}
}

// ValidateKey validates the (tenant, primary key) identity of a request
func (v *Validator) ValidateKey(tenant, primaryKey string) error {
	if err := v.ValidateTenant(tenant); err != nil {
		return err
	}
	return v.ValidatePrimaryKey(primaryKey)
}

// ValidateTenant validates a tenant name
func (v *Validator) ValidateTenant(tenant string) error {
	if tenant == "" {
		return errors.InvalidTenant(tenant, "tenant cannot be empty")
	}
	if len(tenant) > v.limits.MaxTenantSize {
		return errors.InvalidTenant(truncate(tenant), fmt.Sprintf("tenant exceeds maximum size of %d bytes", v.limits.MaxTenantSize))
	}
	if reason := checkText(tenant); reason != "" {
		return errors.InvalidTenant(tenant, "tenant "+reason)
	}
	return nil
}

// ValidatePrimaryKey validates a primary key
func (v *Validator) ValidatePrimaryKey(primaryKey string) error {
	if primaryKey == "" {
		return errors.InvalidPrimaryKey(primaryKey, "primary key cannot be empty")
	}
	if len(primaryKey) > v.limits.MaxPrimaryKeySize {
		return errors.InvalidPrimaryKey(truncate(primaryKey), fmt.Sprintf("primary key exceeds maximum size of %d bytes", v.limits.MaxPrimaryKeySize))
	}
	if reason := checkText(primaryKey); reason != "" {
		return errors.InvalidPrimaryKey(primaryKey, "primary key "+reason)
	}
	return nil
}

// ValidateAttributes validates attribute names and sizes
func (v *Validator) ValidateAttributes(attrs map[string][]byte) error {
	if len(attrs) > v.limits.MaxAttributes {
		return errors.InvalidRequest(fmt.Sprintf("too many attributes: %d > %d", len(attrs), v.limits.MaxAttributes), nil)
	}

	for name, value := range attrs {
		if name == "" {
			return errors.InvalidAttribute(name, "attribute name cannot be empty")
		}
		if len(name) > v.limits.MaxAttributeNameSize {
			return errors.InvalidAttribute(truncate(name), fmt.Sprintf("name exceeds maximum size of %d bytes", v.limits.MaxAttributeNameSize))
		}
		if reason := checkText(name); reason != "" {
			return errors.InvalidAttribute(name, "name "+reason)
		}
		if len(value) > v.limits.MaxAttributeSize {
			return errors.InvalidAttribute(name, fmt.Sprintf("value exceeds maximum size of %d bytes", v.limits.MaxAttributeSize))
		}
	}

	if RecordSize(attrs) > v.limits.MaxRecordSize {
		return errors.InvalidRequest(fmt.Sprintf("attributes exceed maximum record size of %d bytes", v.limits.MaxRecordSize), nil)
	}
	return nil
}

// ValidateMerge validates a normalized incoming record
func (v *Validator) ValidateMerge(rec *model.Record) error {
	if rec == nil {
		return errors.InvalidRequest("empty merge input", nil)
	}
	if err := v.ValidateKey(rec.Tenant, rec.PrimaryKey); err != nil {
		return err
	}
	return v.ValidateAttributes(rec.Attributes)
}

// ValidateRecord checks a merged record against the record limits. The
// incoming attributes may each be valid while their union with the stored
// record is not.
func (v *Validator) ValidateRecord(rec *model.Record) error {
	if len(rec.Attributes) > v.limits.MaxAttributes {
		return errors.InvalidRequest(fmt.Sprintf("merged record would hold %d attributes, limit is %d", len(rec.Attributes), v.limits.MaxAttributes), nil).
			WithDetail("tenant", rec.Tenant).
			WithDetail("primary_key", rec.PrimaryKey)
	}
	if size := RecordSize(rec.Attributes); size > v.limits.MaxRecordSize {
		return errors.InvalidRequest(fmt.Sprintf("merged record would be %d bytes, limit is %d", size, v.limits.MaxRecordSize), nil).
			WithDetail("tenant", rec.Tenant).
			WithDetail("primary_key", rec.PrimaryKey)
	}
	return nil
}

// RecordSize is the size counted against MaxRecordSize: attribute names plus values
func RecordSize(attrs map[string][]byte) int {
	total := 0
	for name, value := range attrs {
		total += len(name) + len(value)
	}
	return total
}

// checkText returns a reason when s is not acceptable as an identifier
func checkText(s string) string {
	if !utf8.ValidString(s) {
		return "must be valid UTF-8"
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "cannot contain control characters"
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}

// EstimateWriteSize estimates the disk space a merged record will take
func EstimateWriteSize(rec *model.Record) uint64 {
	size := len(rec.Tenant) + len(rec.PrimaryKey) + 64
	for name, value := range rec.Attributes {
		size += len(name) + len(value) + 8
	}
	// commit log lines base64 the payload; leave margin for that and page overhead
	total := uint64(size) * 2
	return total + total/5
}
