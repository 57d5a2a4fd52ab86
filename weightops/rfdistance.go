package weightops

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/matsengrp/larch/compactgenome"
	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/leafset"
	"github.com/matsengrp/larch/madag"
)

// ErrNotATree is returned by NewRFDistance/NewMaxRFDistance when the
// reference DAG expresses more than one tree.
var ErrNotATree = errors.New("weightops: reference DAG is not a single tree")

// SumRFDistance is the Ops[*big.Int] instantiation whose
// ComputeWeightBelow(root), plus ShiftSum, gives the Robinson-Foulds
// distance summed over every tree in a fixed reference DAG, optimized
// (min, or max for the Max variants) over the trees the scored DAG
// expresses.
//
// The per-node tally is keyed consistently on both the construction
// and lookup sides: an internal node by its own leaf set (the clade
// partition it induces on its descendants), a leaf by the single clade
// holding its own compact genome. Leaves cannot be keyed by their leaf
// set directly -- every leaf's is empty, which would lump all of them
// into one entry.
type SumRFDistance struct {
	reference     *madag.MADAG
	leafSets      []*leafset.LeafSet
	numTreesInDAG *big.Int
	tally         map[uint64][]tallyEntry
	shiftSum      *big.Int
	max           bool

	// Per-scored-DAG leaf sets, computed on first lookup. The scored
	// DAG is generally not the reference, so its node ids must never
	// index the reference's arrays.
	scored map[*madag.MADAG][]*leafset.LeafSet
}

type tallyEntry struct {
	key   *leafset.LeafSet
	count *big.Int
}

// NewSumRFDistance precomputes the reference DAG's leaf sets and
// below/above tree-count tallies. reference must already have
// CompactGenomes computed; its LeafSets are computed here.
func NewSumRFDistance(reference *madag.MADAG) (*SumRFDistance, error) {
	return newSumRFDistance(reference, false)
}

func newSumRFDistance(reference *madag.MADAG, max bool) (*SumRFDistance, error) {
	leafSets, err := reference.ComputeLeafSets()
	if err != nil {
		return nil, err
	}
	root, err := reference.DAG.Root()
	if err != nil {
		return nil, err
	}

	below := computeBelowTreeCounts(reference)
	above := computeAboveTreeCounts(reference, below)

	s := &SumRFDistance{
		reference: reference,
		leafSets:  leafSets,
		tally:     make(map[uint64][]tallyEntry),
		max:       max,
		scored:    make(map[*madag.MADAG][]*leafset.LeafSet),
	}
	s.numTreesInDAG = new(big.Int).Set(below[root])
	s.scored[reference] = leafSets

	for n := 0; n < reference.DAG.NodeCount(); n++ {
		node := dag.NodeID(n)
		if node == root {
			continue
		}
		key := nodeKey(reference.DAG.IsLeaf(node), reference.CGs[node], leafSets[node])
		weight := new(big.Int).Mul(above[node], below[node])
		s.addTally(key, weight)
	}

	s.shiftSum = new(big.Int)
	for _, entries := range s.tally {
		for _, e := range entries {
			s.shiftSum.Add(s.shiftSum, e.count)
		}
	}

	return s, nil
}

// NewRFDistance is NewSumRFDistance restricted to a reference DAG that
// is a single tree.
func NewRFDistance(reference *madag.MADAG) (*SumRFDistance, error) {
	if !reference.DAG.IsTree() {
		return nil, ErrNotATree
	}
	return newSumRFDistance(reference, false)
}

// NewMaxSumRFDistance is SumRFDistance with WithinCladeAccumOptimum
// maximizing instead of minimizing -- the distance-maximizing tree
// rather than the distance-minimizing one.
func NewMaxSumRFDistance(reference *madag.MADAG) (*SumRFDistance, error) {
	return newSumRFDistance(reference, true)
}

// NewMaxRFDistance is NewMaxSumRFDistance restricted to a reference
// DAG that is a single tree.
func NewMaxRFDistance(reference *madag.MADAG) (*SumRFDistance, error) {
	if !reference.DAG.IsTree() {
		return nil, ErrNotATree
	}
	return newSumRFDistance(reference, true)
}

// nodeKey is the tally key for a node of any DAG: a leaf's singleton
// clade, or an internal node's own leaf set.
func nodeKey(isLeaf bool, cg *compactgenome.CompactGenome, ls *leafset.LeafSet) *leafset.LeafSet {
	if isLeaf {
		return leafset.NewBuilder().AddClade([]*compactgenome.CompactGenome{cg}).Build()
	}
	return ls
}

// scoredLeafSets returns (computing and caching on first use) the leaf
// sets of a DAG being scored against this reference. Panics if m has
// no compact genomes or no root -- the subtree engine has already
// validated both by the time it calls ComputeEdge.
func (s *SumRFDistance) scoredLeafSets(m *madag.MADAG) []*leafset.LeafSet {
	if ls, ok := s.scored[m]; ok {
		return ls
	}
	ls, err := m.ComputeLeafSets()
	if err != nil {
		panic(fmt.Sprintf("weightops: computing scored DAG leaf sets: %v", err))
	}
	s.scored[m] = ls
	return ls
}

func (s *SumRFDistance) addTally(key *leafset.LeafSet, amount *big.Int) {
	bucket := s.tally[key.Hash()]
	for i, e := range bucket {
		if e.key.Equal(key) {
			bucket[i].count.Add(bucket[i].count, amount)
			return
		}
	}
	s.tally[key.Hash()] = append(bucket, tallyEntry{key: key, count: new(big.Int).Set(amount)})
}

func (s *SumRFDistance) lookup(key *leafset.LeafSet) (*big.Int, bool) {
	for _, e := range s.tally[key.Hash()] {
		if e.key.Equal(key) {
			return e.count, true
		}
	}
	return nil, false
}

func (s *SumRFDistance) ComputeLeaf(*madag.MADAG, dag.NodeID) *big.Int {
	return big.NewInt(0)
}

func (s *SumRFDistance) ComputeEdge(m *madag.MADAG, e dag.EdgeID) *big.Int {
	child := m.DAG.Child(e)
	key := nodeKey(m.DAG.IsLeaf(child), m.CGs[child], s.scoredLeafSets(m)[child])
	if count, ok := s.lookup(key); ok {
		return new(big.Int).Sub(s.numTreesInDAG, new(big.Int).Mul(big.NewInt(2), count))
	}
	return new(big.Int).Set(s.numTreesInDAG)
}

// WithinCladeAccumOptimum picks the minimum (SumRFDistance/RFDistance)
// or maximum (MaxSumRFDistance/MaxRFDistance) edge weight in the
// clade -- the edge weight already *is* that alternative's
// contribution, independent of anything further below it.
func (s *SumRFDistance) WithinCladeAccumOptimum(weights []*big.Int) (*big.Int, []int) {
	best := weights[0]
	better := func(a, b *big.Int) bool {
		if s.max {
			return a.Cmp(b) > 0
		}
		return a.Cmp(b) < 0
	}
	for _, w := range weights[1:] {
		if better(w, best) {
			best = w
		}
	}
	var idx []int
	for i, w := range weights {
		if w.Cmp(best) == 0 {
			idx = append(idx, i)
		}
	}
	return best, idx
}

// BetweenClades sums the per-clade optimum.
func (s *SumRFDistance) BetweenClades(weights []*big.Int) *big.Int {
	total := new(big.Int)
	for _, w := range weights {
		total.Add(total, w)
	}
	return total
}

// AboveNode folds the edge weight into the weight below its child by
// plain addition.
func (s *SumRFDistance) AboveNode(edgeWeight, childWeight *big.Int) *big.Int {
	return new(big.Int).Add(edgeWeight, childWeight)
}

func (s *SumRFDistance) Identity() *big.Int {
	return big.NewInt(0)
}

// ShiftSum is the additive correction a caller must apply to
// engine.ComputeWeightBelow(root) to get the true summed RF distance:
// the final value is ComputeWeightBelow(root) + ShiftSum(), not
// ComputeWeightBelow(root) alone. S sums, over every distinct leaf
// set (bipartition) appearing in the reference DAG, the number of
// reference trees through a node with that bipartition.
func (s *SumRFDistance) ShiftSum() *big.Int {
	return new(big.Int).Set(s.shiftSum)
}

// computeBelowTreeCounts is a self-contained TreeCount postorder
// (sum within a clade, product across clades), duplicated here rather
// than built on subtree.Engine/weightops.TreeCount to avoid a
// weightops<->subtree import cycle: the subtree engine is itself
// parameterized over Ops[W], including SumRFDistance.
func computeBelowTreeCounts(m *madag.MADAG) []*big.Int {
	root, err := m.DAG.Root()
	if err != nil {
		return nil
	}
	below := make([]*big.Int, m.DAG.NodeCount())

	type frame struct {
		node    dag.NodeID
		visited bool
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if m.DAG.IsLeaf(top.node) {
			below[top.node] = big.NewInt(1)
			stack = stack[:len(stack)-1]
			continue
		}
		if !top.visited {
			top.visited = true
			for _, clade := range m.DAG.Clades(top.node) {
				for _, e := range clade {
					child := m.DAG.Child(e)
					if below[child] == nil {
						stack = append(stack, frame{node: child})
					}
				}
			}
			continue
		}

		n := top.node
		stack = stack[:len(stack)-1]
		total := big.NewInt(1)
		for _, clade := range m.DAG.Clades(n) {
			sum := new(big.Int)
			for _, e := range clade {
				sum.Add(sum, below[m.DAG.Child(e)])
			}
			total.Mul(total, sum)
		}
		below[n] = total
	}
	return below
}

// computeAboveTreeCounts computes, for every node, the number of ways
// to complete a tree above it -- by a Kahn's-algorithm topological
// pass (parents fully processed before any child, which a node with
// more than one parent edge requires) rather than memoized recursion
// up through parents, so the walk uses an explicit work queue instead
// of a call stack.
func computeAboveTreeCounts(m *madag.MADAG, below []*big.Int) []*big.Int {
	n := m.DAG.NodeCount()
	above := make([]*big.Int, n)
	remaining := make([]int, n)
	for i := 0; i < n; i++ {
		remaining[i] = len(m.DAG.ParentEdges(dag.NodeID(i)))
	}

	root, err := m.DAG.Root()
	if err != nil {
		return above
	}
	above[root] = big.NewInt(1)
	queue := []dag.NodeID{root}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		clades := m.DAG.Clades(parent)
		for ci, clade := range clades {
			belowOtherClades := big.NewInt(1)
			for cj, other := range clades {
				if cj == ci {
					continue
				}
				sum := new(big.Int)
				for _, e := range other {
					sum.Add(sum, below[m.DAG.Child(e)])
				}
				belowOtherClades.Mul(belowOtherClades, sum)
			}
			contribution := new(big.Int).Mul(above[parent], belowOtherClades)

			for _, e := range clade {
				child := m.DAG.Child(e)
				if above[child] == nil {
					above[child] = new(big.Int)
				}
				above[child].Add(above[child], contribution)
				remaining[child]--
				if remaining[child] == 0 {
					queue = append(queue, child)
				}
			}
		}
	}
	return above
}
