// Package merge combines incoming attribute sets into stored records.
//
// Resolution is last-writer-wins per attribute: an incoming value replaces the
// stored value for the same name, names only present in the stored record are
// kept, and every merge advances the version by exactly one. Callers must
// serialize merges per (tenant, primary_key); the engine itself holds no locks.
package merge

import (
	"bytes"
	"time"

	"github.com/recordbase/recordbase-server/internal/model"
)

// Result describes the outcome of a single merge
type Result struct {
	Record  *model.Record
	Created bool
	// Changed lists attribute names whose stored value differs after the merge
	Changed []string
}

// Apply merges incoming attributes into current and returns the new record.
// current may be nil, in which case a record is created for tenant/primaryKey.
// Neither current nor incoming is modified.
func Apply(current *model.Record, tenant, primaryKey string, incoming map[string][]byte, now time.Time) *Result {
	nowMillis := now.UnixMilli()

	var next *model.Record
	created := current == nil
	if created {
		next = model.NewRecord(tenant, primaryKey)
		next.CreatedAt = nowMillis
	} else {
		next = current.Clone()
	}

	changed := make([]string, 0, len(incoming))
	for name, value := range incoming {
		old, exists := next.Attributes[name]
		if !exists || !bytes.Equal(old, value) {
			changed = append(changed, name)
		}
		next.Attributes[name] = append([]byte{}, value...)
	}

	// An empty merge is a touch and still advances the version
	next.Version++
	next.UpdatedAt = nowMillis
	if next.CreatedAt == 0 {
		next.CreatedAt = nowMillis
	}

	return &Result{
		Record:  next,
		Created: created,
		Changed: changed,
	}
}
