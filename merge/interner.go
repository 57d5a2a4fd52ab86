package merge

import "sync"

// contentInterner deduplicates values of type T by content (via
// hashFn/eqFn) rather than identity, returning the same T for every
// equal-content insertion -- the property merge.Merger relies on to
// use nodelabel.NodeLabel/EdgeLabel (structs of plain pointer fields)
// directly as Go map keys: once CompactGenomes and LeafSets are
// interned, pointer equality and content equality coincide.
type contentInterner[T any] struct {
	mu     sync.Mutex
	hashFn func(T) uint64
	eqFn   func(a, b T) bool
	byHash map[uint64][]T
}

func newContentInterner[T any](hashFn func(T) uint64, eqFn func(a, b T) bool) *contentInterner[T] {
	return &contentInterner[T]{hashFn: hashFn, eqFn: eqFn, byHash: make(map[uint64][]T)}
}

// Intern returns the canonical instance for v's content, inserting v
// itself as that canonical instance if no equal value has been
// interned yet. Safe for concurrent use.
func (c *contentInterner[T]) Intern(v T) T {
	h := c.hashFn(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.byHash[h] {
		if c.eqFn(existing, v) {
			return existing
		}
	}
	c.byHash[h] = append(c.byHash[h], v)
	return v
}

// Lookup returns the canonical instance for v's content without
// inserting it, and whether one was found.
func (c *contentInterner[T]) Lookup(v T) (T, bool) {
	h := c.hashFn(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.byHash[h] {
		if c.eqFn(existing, v) {
			return existing, true
		}
	}
	var zero T
	return zero, false
}
