// Package madag implements the mutation-annotated DAG overlay: a
// reference sequence plus per-edge mutation sets and per-node compact
// genomes layered on top of a dag.Store, with conversions between the
// two representations and universal-ancestor (UA) bookkeeping.
//
// Real phylogenetic trees run hundreds to thousands of nodes deep, so
// both postorder/preorder walks here use an explicit slice-backed
// stack rather than recursion.
package madag

import (
	"errors"
	"fmt"

	"github.com/matsengrp/larch/compactgenome"
	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/leafset"
	"github.com/matsengrp/larch/logger"
	"github.com/matsengrp/larch/seq"
)

var (
	// ErrNonUniqueLeaf is returned by ComputeCompactGenomes when two
	// leaves resolve to the same compact genome.
	ErrNonUniqueLeaf = errors.New("madag: two leaves share a compact genome")
	// ErrNotUA is returned by AssertUA when the DAG doesn't have the
	// shape a universal-ancestor-rooted MADAG requires.
	ErrNotUA = errors.New("madag: DAG does not satisfy the universal-ancestor invariant")
)

// MADAG is a DAG store plus the reference and per-node/per-edge
// sequence data layered on top of it. Either EdgeMuts or CGs may be
// nil/absent and recomputed from the other; when both are present
// they must be consistent (this type does not itself enforce that --
// callers that mutate both independently are responsible for it).
type MADAG struct {
	Ref     seq.Reference
	DAG     *dag.Store
	EdgeMuts []*compactgenome.EdgeMutations // indexed by dag.EdgeID, may be nil
	CGs     []*compactgenome.CompactGenome  // indexed by dag.NodeID, may be nil
}

func New(ref seq.Reference) *MADAG {
	return &MADAG{Ref: ref, DAG: dag.New()}
}

// ComputeCompactGenomes fills m.CGs by a preorder walk from the root,
// seeding the UA with the empty compact genome and applying each
// parent edge's mutations (via compactgenome.NewFromParent) to derive
// every child. Fails with ErrNonUniqueLeaf if two leaves end up with
// equal compact genomes.
func (m *MADAG) ComputeCompactGenomes() error {
	if m.EdgeMuts == nil {
		return errors.New("madag: ComputeCompactGenomes requires edge mutations")
	}
	root, err := m.DAG.Root()
	if err != nil {
		return err
	}

	m.CGs = make([]*compactgenome.CompactGenome, m.DAG.NodeCount())
	m.CGs[root] = compactgenome.Empty()

	type frame struct{ node dag.NodeID }
	stack := []frame{{root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, clade := range m.DAG.Clades(f.node) {
			for _, e := range clade {
				child := m.DAG.Child(e)
				em := m.EdgeMuts[e]
				if err := em.Validate(m.Ref, m.CGs[f.node]); err != nil {
					return fmt.Errorf("madag: edge %d: %w", e, err)
				}
				cg, err := compactgenome.NewFromParent(m.CGs[f.node], em, m.Ref)
				if err != nil {
					return fmt.Errorf("madag: deriving compact genome for node %d: %w", child, err)
				}
				m.CGs[child] = cg
				stack = append(stack, frame{child})
			}
		}
	}

	leafCGs := make(map[uint64][]dag.NodeID)
	for n := 0; n < m.DAG.NodeCount(); n++ {
		if !m.DAG.IsLeaf(dag.NodeID(n)) {
			continue
		}
		cg := m.CGs[n]
		for _, other := range leafCGs[cg.Hash()] {
			if m.CGs[other].Equal(cg) {
				return fmt.Errorf("%w: nodes %d and %d", ErrNonUniqueLeaf, other, n)
			}
		}
		leafCGs[cg.Hash()] = append(leafCGs[cg.Hash()], dag.NodeID(n))
	}

	l := logger.Logger()
	l.Debug().Int("nodes", m.DAG.NodeCount()).Msg("computed compact genomes")
	return nil
}

// ComputeEdgeMutations fills m.EdgeMuts from m.CGs: each edge's
// mutations are the symmetric difference between its endpoints'
// compact genomes.
func (m *MADAG) ComputeEdgeMutations() error {
	if m.CGs == nil {
		return errors.New("madag: ComputeEdgeMutations requires compact genomes")
	}
	m.EdgeMuts = make([]*compactgenome.EdgeMutations, m.DAG.EdgeCount())
	for e := 0; e < m.DAG.EdgeCount(); e++ {
		parent, child, _ := m.DAG.Endpoints(dag.EdgeID(e))
		m.EdgeMuts[e] = compactgenome.ToEdgeMutations(m.Ref, m.CGs[parent], m.CGs[child])
	}
	return nil
}

// ComputeLeafSets computes the per-node LeafSet by an explicit
// child-before-parent (postorder) stack walk, factored out here so
// both merge's per-input leaf-set pass and weightops.SumRFDistance's
// reference-DAG precompute share one implementation instead of
// duplicating the postorder.
func (m *MADAG) ComputeLeafSets() ([]*leafset.LeafSet, error) {
	if m.CGs == nil {
		return nil, errors.New("madag: ComputeLeafSets requires compact genomes")
	}
	root, err := m.DAG.Root()
	if err != nil {
		return nil, err
	}

	leafSets := make([]*leafset.LeafSet, m.DAG.NodeCount())

	type frame struct {
		node    dag.NodeID
		visited bool
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if m.DAG.IsLeaf(top.node) {
			leafSets[top.node] = leafset.Empty()
			stack = stack[:len(stack)-1]
			continue
		}
		if !top.visited {
			top.visited = true
			for _, clade := range m.DAG.Clades(top.node) {
				for _, e := range clade {
					child := m.DAG.Child(e)
					if leafSets[child] == nil {
						stack = append(stack, frame{node: child})
					}
				}
			}
			continue
		}

		n := top.node
		stack = stack[:len(stack)-1]
		b := leafset.NewBuilder()
		for _, clade := range m.DAG.Clades(n) {
			var leaves []*compactgenome.CompactGenome
			for _, e := range clade {
				child := m.DAG.Child(e)
				if m.DAG.IsLeaf(child) {
					leaves = append(leaves, m.CGs[child])
				} else {
					leaves = append(leaves, leafSets[child].ToParentClade()...)
				}
			}
			b.AddClade(leaves)
		}
		leafSets[n] = b.Build()
	}

	return leafSets, nil
}

// HaveUA reports whether the DAG already carries a universal-ancestor
// node: the root is the last node id and has exactly one clade, and --
// when the DAG is a single tree -- the UA's child is node 0, the
// conventional position of a MAT-style tree's biological root.
func (m *MADAG) HaveUA() bool {
	root, err := m.DAG.Root()
	if err != nil {
		return false
	}
	if int(root) != m.DAG.NodeCount()-1 {
		return false
	}
	clades := m.DAG.Clades(root)
	if len(clades) != 1 {
		return false
	}
	if m.DAG.IsTree() {
		if m.DAG.Child(clades[0][0]) != dag.NodeID(0) {
			return false
		}
	}
	return true
}

// AddUA appends a new universal-ancestor node above the current root,
// connected to it by a single edge carrying mutationsAtRoot (typically
// empty). The new node becomes the sole clade-0 parent of the old
// root. Adding a UA to a DAG that already has one would stack a second
// root above the first; that fails with dag.ErrDuplicateRoot.
func (m *MADAG) AddUA(mutationsAtRoot *compactgenome.EdgeMutations) error {
	oldRoot, err := m.DAG.Root()
	if err != nil {
		return err
	}
	if m.HaveUA() {
		return fmt.Errorf("%w: DAG already has a universal ancestor", dag.ErrDuplicateRoot)
	}
	ua := m.DAG.AppendNode()
	m.DAG.AppendEdge(ua, oldRoot, 0)
	if err := m.DAG.BuildConnections(); err != nil {
		return err
	}

	if m.CGs != nil {
		m.CGs = append(m.CGs, compactgenome.Empty())
	}
	if m.EdgeMuts != nil {
		m.EdgeMuts = append(m.EdgeMuts, mutationsAtRoot)
	}

	return m.AssertUA()
}

// AssertUA validates the invariants of a UA-rooted MADAG: the UA node
// id is the last node id, it has exactly one clade (a merged DAG's UA
// clade may hold several alternative root edges), and the
// mutation/compact-genome vectors (when present) are sized to match
// the DAG.
func (m *MADAG) AssertUA() error {
	root, err := m.DAG.Root()
	if err != nil {
		return err
	}
	if int(root) != m.DAG.NodeCount()-1 {
		return fmt.Errorf("%w: root id %d is not the last node (%d)", ErrNotUA, root, m.DAG.NodeCount()-1)
	}
	if len(m.DAG.Clades(root)) != 1 {
		return fmt.Errorf("%w: root must have exactly one clade", ErrNotUA)
	}
	if m.CGs != nil && len(m.CGs) != m.DAG.NodeCount() {
		return fmt.Errorf("%w: compact genome count mismatch", ErrNotUA)
	}
	if m.EdgeMuts != nil && len(m.EdgeMuts) != m.DAG.EdgeCount() {
		return fmt.Errorf("%w: edge mutation count mismatch", ErrNotUA)
	}
	return nil
}
