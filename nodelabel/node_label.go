// Package nodelabel defines the (CompactGenome, LeafSet, SampleId)
// identity triple the merge engine deduplicates on, and the
// parent/child pair of labels an edge carries.
package nodelabel

import (
	"errors"
	"fmt"

	"github.com/matsengrp/larch/compactgenome"
	"github.com/matsengrp/larch/leafset"
)

// ErrCladeIndexNotFound is returned when an edge's child clade cannot
// be matched against any of the parent's leaf-set clades -- it
// signals a parent/child label pair that was never actually adjacent
// in any input tree.
var ErrCladeIndexNotFound = errors.New("nodelabel: child's parent-clade not found in parent's leaf set")

// CladeIdx is the position of a clade within a node's ordered clade
// list.
type CladeIdx int

// NodeLabel is the equality key the merge engine deduplicates nodes
// on: two nodes across any number of input DAGs are the same result
// node iff they agree on all three fields.
type NodeLabel struct {
	CG       *compactgenome.CompactGenome
	Leaves   *leafset.LeafSet
	SampleID string // "" means absent; only leaves carry a non-empty SampleID
}

func New(cg *compactgenome.CompactGenome, leaves *leafset.LeafSet, sampleID string) NodeLabel {
	return NodeLabel{CG: cg, Leaves: leaves, SampleID: sampleID}
}

func (l NodeLabel) Equal(other NodeLabel) bool {
	return l.CG.Equal(other.CG) && l.Leaves.Equal(other.Leaves) && l.SampleID == other.SampleID
}

func (l NodeLabel) Hash() uint64 {
	h := hashCombine(l.CG.Hash(), l.Leaves.Hash())
	if l.SampleID != "" {
		h = hashCombine(h, fnvString(l.SampleID))
	}
	return h
}

// leafOfParentClade returns the single clade this node contributes to
// its parent: for a leaf, itself; for an internal node, the flattened
// union of its own clades (leafset.LeafSet.ToParentClade).
func (l NodeLabel) leafOfParentClade() []*compactgenome.CompactGenome {
	if l.Leaves.Empty() {
		return []*compactgenome.CompactGenome{l.CG}
	}
	return l.Leaves.ToParentClade()
}

// EdgeLabel identifies an edge by the labels of its endpoints; the
// merge engine's result-edge deduplication key.
type EdgeLabel struct {
	Parent NodeLabel
	Child  NodeLabel
}

func NewEdgeLabel(parent, child NodeLabel) EdgeLabel {
	return EdgeLabel{Parent: parent, Child: child}
}

func (e EdgeLabel) Equal(other EdgeLabel) bool {
	return e.Parent.Equal(other.Parent) && e.Child.Equal(other.Child)
}

func (e EdgeLabel) Hash() uint64 {
	return hashCombine(e.Parent.Hash(), e.Child.Hash())
}

// ComputeCladeIdx finds which of the parent's leaf-set clades matches
// the child's contributed clade, by content (sorted CG pointers
// compared value-wise, not by address).
func (e EdgeLabel) ComputeCladeIdx() (CladeIdx, error) {
	childClade := e.Child.leafOfParentClade()
	for i, clade := range e.Parent.Leaves.Clades() {
		if cladesEqual(clade, childClade) {
			return CladeIdx(i), nil
		}
	}
	return 0, fmt.Errorf("%w: parent=%v child=%v", ErrCladeIndexNotFound, e.Parent, e.Child)
}

func cladesEqual(a, b []*compactgenome.CompactGenome) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func hashCombine(lhs, rhs uint64) uint64 {
	lhs ^= rhs + 0x9e3779b97f4a7c15 + (lhs << 6) + (lhs >> 2)
	return lhs
}

func fnvString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
