// Package leafset implements a node's child-clade leaf set: the part
// of NodeLabel, together with the compact genome, that defines node
// identity across merged trees.
//
// A LeafSet is a sorted slice of sorted slices of leaf CompactGenome
// pointers, hash-combined leaf-by-leaf, with ToParentClade flattening
// the whole structure into the single clade a node contributes to its
// own parent.
//
// Clades are ordered by the lexicographic order of their members'
// content hashes (CompactGenome.Hash(), a canonical-CBOR+FNV digest),
// with a full-mutation-list tiebreak on hash collision, rather than by
// pointer value -- pointer order would make the ordering nondeterministic
// across runs since it depends on allocation addresses rather than
// content.
package leafset

import (
	"golang.org/x/exp/slices"

	"github.com/matsengrp/larch/compactgenome"
)

// LeafSet is the sorted sequence of a node's child clades, each clade
// being the sorted, deduplicated set of leaf compact genomes reachable
// through it.
type LeafSet struct {
	clades [][]*compactgenome.CompactGenome
	hash   uint64
}

var empty = &LeafSet{}

// Empty is the leaf set of a leaf node: no clades.
func Empty() *LeafSet {
	return empty
}

// Builder accumulates clades before producing a normalized LeafSet.
// Each clade is sorted/deduplicated independently, then clades
// themselves are sorted into the package's content-based total order.
type Builder struct {
	clades [][]*compactgenome.CompactGenome
}

func NewBuilder() *Builder {
	return &Builder{}
}

// AddClade registers one child clade's reachable leaves. leaves need
// not be sorted or deduplicated; Build() normalizes every clade.
func (b *Builder) AddClade(leaves []*compactgenome.CompactGenome) *Builder {
	clade := make([]*compactgenome.CompactGenome, len(leaves))
	copy(clade, leaves)
	b.clades = append(b.clades, clade)
	return b
}

func (b *Builder) Build() *LeafSet {
	if len(b.clades) == 0 {
		return Empty()
	}
	clades := make([][]*compactgenome.CompactGenome, len(b.clades))
	for i, clade := range b.clades {
		clades[i] = sortUniqueCGs(clade)
	}
	slices.SortFunc(clades, func(a, b []*compactgenome.CompactGenome) bool { return compareCladeContent(a, b) < 0 })
	return &LeafSet{clades: clades, hash: computeHash(clades)}
}

func sortUniqueCGs(cgs []*compactgenome.CompactGenome) []*compactgenome.CompactGenome {
	out := make([]*compactgenome.CompactGenome, len(cgs))
	copy(out, cgs)
	slices.SortFunc(out, func(a, b *compactgenome.CompactGenome) bool { return compareCG(a, b) < 0 })
	deduped := out[:0]
	for i, cg := range out {
		if i > 0 && cg.Equal(out[i-1]) {
			continue
		}
		deduped = append(deduped, cg)
	}
	return deduped
}

// compareCG is the content-based total order over compact genomes used
// both within a clade and, transitively, across clades: hash first,
// then the mutation list itself to break collisions deterministically.
func compareCG(a, b *compactgenome.CompactGenome) int {
	if a.Hash() != b.Hash() {
		if a.Hash() < b.Hash() {
			return -1
		}
		return 1
	}
	am, bm := a.Mutations(), b.Mutations()
	for i := 0; i < len(am) && i < len(bm); i++ {
		if am[i].Pos != bm[i].Pos {
			if am[i].Pos < bm[i].Pos {
				return -1
			}
			return 1
		}
		if am[i].Base != bm[i].Base {
			if am[i].Base < bm[i].Base {
				return -1
			}
			return 1
		}
	}
	return len(am) - len(bm)
}

func compareCladeContent(a, b []*compactgenome.CompactGenome) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareCG(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func computeHash(clades [][]*compactgenome.CompactGenome) uint64 {
	var h uint64
	for _, clade := range clades {
		for _, leaf := range clade {
			h = hashCombine(h, leaf.Hash())
		}
	}
	return h
}

// hashCombine is a boost::hash_combine-style bit mixer, adapted to
// uint64.
func hashCombine(lhs, rhs uint64) uint64 {
	lhs ^= rhs + 0x9e3779b97f4a7c15 + (lhs << 6) + (lhs >> 2)
	return lhs
}

func (ls *LeafSet) Hash() uint64 {
	return ls.hash
}

// Equal compares the full nested sorted structure.
func (ls *LeafSet) Equal(other *LeafSet) bool {
	if ls == other {
		return true
	}
	if ls == nil || other == nil {
		return false
	}
	if ls.hash != other.hash || len(ls.clades) != len(other.clades) {
		return false
	}
	for i, clade := range ls.clades {
		oc := other.clades[i]
		if len(clade) != len(oc) {
			return false
		}
		for j, cg := range clade {
			if !cg.Equal(oc[j]) {
				return false
			}
		}
	}
	return true
}

func (ls *LeafSet) Empty() bool {
	return len(ls.clades) == 0
}

func (ls *LeafSet) Len() int {
	return len(ls.clades)
}

// Clades returns the sorted clades, each itself sorted/deduplicated.
// The slices are owned by the LeafSet and must not be mutated.
func (ls *LeafSet) Clades() [][]*compactgenome.CompactGenome {
	return ls.clades
}

// ToParentClade flattens every clade into the single sorted,
// deduplicated leaf list this node contributes to its own parent's
// clade. Only meaningful for internal nodes: a leaf node contributes
// itself directly (its own CompactGenome, not anything derived from
// its -- empty -- LeafSet); callers computing a parent's clades must
// special-case leaf children rather than calling this method on them.
func (ls *LeafSet) ToParentClade() []*compactgenome.CompactGenome {
	var all []*compactgenome.CompactGenome
	for _, clade := range ls.clades {
		all = append(all, clade...)
	}
	return sortUniqueCGs(all)
}
