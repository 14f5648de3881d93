// Package memtable holds the ordered in-memory index used by the log engine.
package memtable

import (
	"math/rand/v2"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

type node[V any] struct {
	key     string
	value   V
	forward []*node[V]
}

// SkipList is an ordered map from string keys to V. It is not safe for
// concurrent use; callers guard it.
type SkipList[V any] struct {
	head  *node[V]
	level int
	size  int
}

// NewSkipList creates an empty skip list
func NewSkipList[V any]() *SkipList[V] {
	return &SkipList[V]{
		head: &node[V]{forward: make([]*node[V], MaxLevel)},
	}
}

func randomLevel() int {
	level := 0
	for rand.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// findPredecessors fills update with the rightmost node before key on each level
func (sl *SkipList[V]) findPredecessors(key string, update []*node[V]) *node[V] {
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current.forward[0]
}

// Insert adds key or replaces its value. It reports whether the key was new.
func (sl *SkipList[V]) Insert(key string, value V) bool {
	update := make([]*node[V], MaxLevel)
	next := sl.findPredecessors(key, update)
	if next != nil && next.key == key {
		next.value = value
		return false
	}

	lvl := randomLevel()
	if lvl > sl.level {
		for i := sl.level + 1; i <= lvl; i++ {
			update[i] = sl.head
		}
		sl.level = lvl
	}

	n := &node[V]{key: key, value: value, forward: make([]*node[V], lvl+1)}
	for i := 0; i <= lvl; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	sl.size++
	return true
}

// Search finds the value stored under key
func (sl *SkipList[V]) Search(key string) (V, bool) {
	n := sl.findPredecessors(key, nil)
	if n != nil && n.key == key {
		return n.value, true
	}
	var zero V
	return zero, false
}

// Delete removes key and reports whether it was present
func (sl *SkipList[V]) Delete(key string) bool {
	update := make([]*node[V], MaxLevel)
	n := sl.findPredecessors(key, update)
	if n == nil || n.key != key {
		return false
	}

	for i := 0; i <= sl.level; i++ {
		if update[i].forward[i] != n {
			break
		}
		update[i].forward[i] = n.forward[i]
	}
	for sl.level > 0 && sl.head.forward[sl.level] == nil {
		sl.level--
	}
	sl.size--
	return true
}

// Len returns the number of keys
func (sl *SkipList[V]) Len() int {
	return sl.size
}

// Iterator returns an iterator positioned before the first key
func (sl *SkipList[V]) Iterator() *Iterator[V] {
	return &Iterator[V]{current: sl.head}
}

// Iterator walks keys in ascending order
type Iterator[V any] struct {
	current *node[V]
}

// Next advances the iterator
func (it *Iterator[V]) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.forward[0]
	return it.current != nil
}

// Key returns the current key
func (it *Iterator[V]) Key() string {
	if it.current == nil {
		return ""
	}
	return it.current.key
}

// Value returns the current value
func (it *Iterator[V]) Value() V {
	if it.current == nil {
		var zero V
		return zero
	}
	return it.current.value
}
