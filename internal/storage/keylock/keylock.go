// Package keylock provides the per-record critical section for merges.
//
// A Table is a fixed array of mutexes. A (tenant, primary key) pair always
// hashes to the same stripe, so writers of one record are totally ordered
// while unrelated records almost always proceed in parallel.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is used when a non-positive stripe count is requested
const DefaultStripes = 1024

// Table is a striped lock table
type Table struct {
	stripes []sync.Mutex
}

// New creates a lock table with n stripes
func New(n int) *Table {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Table{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for the key and returns its release func
func (t *Table) Lock(tenant, primaryKey string) (unlock func()) {
	mu := &t.stripes[t.Stripe(tenant, primaryKey)]
	mu.Lock()
	return mu.Unlock
}

// Stripe returns the stripe index for the key
func (t *Table) Stripe(tenant, primaryKey string) int {
	d := xxhash.New()
	_, _ = d.WriteString(tenant)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(primaryKey)
	return int(d.Sum64() % uint64(len(t.stripes)))
}

// Size returns the number of stripes
func (t *Table) Size() int {
	return len(t.stripes)
}
