package compactgenome

import (
	"errors"
	"fmt"
	"sort"

	"github.com/matsengrp/larch/seq"
)

// ErrInconsistentMutations is returned when an edge mutation's stated
// parent base contradicts the resolved parent compact genome at that
// position.
var ErrInconsistentMutations = errors.New("compactgenome: edge mutation inconsistent with parent genome")

// EdgeMutation is one entry of an EdgeMutations set: the base on each
// side of the edge at a position where they differ.
type EdgeMutation struct {
	Pos        Position
	ParentBase seq.Base
	ChildBase  seq.Base
}

// EdgeMutations is the ordered position -> (parent_base, child_base)
// annotation carried by a single DAG edge.
type EdgeMutations struct {
	entries []EdgeMutation
}

func NewEdgeMutations() *EdgeMutations {
	return &EdgeMutations{}
}

// Insert keeps entries sorted by position, overwriting any existing
// entry at pos. ToEdgeMutations uses this to build its result; callers
// loading edge mutations from an external representation (a wire
// format, a test fixture) use it directly instead of going through a
// parent/child compact genome pair.
func (em *EdgeMutations) Insert(pos Position, parentBase, childBase seq.Base) {
	i := sort.Search(len(em.entries), func(i int) bool { return em.entries[i].Pos >= pos })
	entry := EdgeMutation{Pos: pos, ParentBase: parentBase, ChildBase: childBase}
	if i < len(em.entries) && em.entries[i].Pos == pos {
		em.entries[i] = entry
		return
	}
	em.entries = append(em.entries, EdgeMutation{})
	copy(em.entries[i+1:], em.entries[i:])
	em.entries[i] = entry
}

func (em *EdgeMutations) Len() int {
	if em == nil {
		return 0
	}
	return len(em.entries)
}

func (em *EdgeMutations) Entries() []EdgeMutation {
	if em == nil {
		return nil
	}
	return em.entries
}

func (em *EdgeMutations) Equal(other *EdgeMutations) bool {
	if em.Len() != other.Len() {
		return false
	}
	for i, e := range em.Entries() {
		if e != other.entries[i] {
			return false
		}
	}
	return true
}

func (em *EdgeMutations) Copy() *EdgeMutations {
	out := &EdgeMutations{entries: make([]EdgeMutation, len(em.Entries()))}
	copy(out.entries, em.Entries())
	return out
}

// Validate checks every entry against the reference and the resolved
// parent genome: the stated parent base must match what parent
// actually carries at that position (its mutation, or the reference
// base if parent has none there).
func (em *EdgeMutations) Validate(ref seq.Reference, parent *CompactGenome) error {
	for _, e := range em.Entries() {
		resolved := ref.At(int(e.Pos))
		if b, ok := parent.BaseAt(e.Pos); ok {
			resolved = b
		}
		if resolved != e.ParentBase {
			return fmt.Errorf("%w: position %d: parent has %q, mutation expects %q",
				ErrInconsistentMutations, e.Pos, resolved, e.ParentBase)
		}
	}
	return nil
}
