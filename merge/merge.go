// Package merge implements the history-DAG merge engine: combining
// any number of input trees (or an existing result plus one more
// tree) into a single DAG by deduplicating nodes on NodeLabel and
// edges on EdgeLabel, so two input trees that happen to share a
// subtree end up sharing the DAG nodes that represent it.
//
// AddDAGs runs the batch path (parallel CG interning, parallel
// per-tree leaf-set computation, serial node-label deduplication,
// parallel edge-label discovery, then serial edge-id assignment), its
// three parallel passes running on a workerpool.Pool. AddDAG either
// hands a whole tree to AddDAGs or runs the incremental splice path,
// which is entirely serial.
package merge

import (
	"fmt"
	"sync"
	"time"

	"github.com/matsengrp/larch/compactgenome"
	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/internal/workerpool"
	"github.com/matsengrp/larch/leafset"
	"github.com/matsengrp/larch/logger"
	"github.com/matsengrp/larch/madag"
	"github.com/matsengrp/larch/nodelabel"
	"github.com/matsengrp/larch/seq"
	"golang.org/x/exp/maps"
)

// ErrReferenceMismatch is returned when a tree passed to AddDAGs/AddDAG
// carries a different reference sequence than the Merger was built
// with.
var ErrReferenceMismatch = fmt.Errorf("merge: tree's reference sequence does not match the merger's")

// Option configures a Merger.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers overrides the worker pool size (default runtime.NumCPU(),
// via workerpool.New(0)).
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Merger accumulates input trees into one deduplicated result DAG.
// Not safe for concurrent calls to AddDAGs/AddDAG/ComputeResultEdgeMutations
// against the same Merger -- each of those methods is itself internally
// parallel, but they are meant to be called serially, one merge
// operation at a time.
type Merger struct {
	ref  seq.Reference
	pool *workerpool.Pool

	cgs      *contentInterner[*compactgenome.CompactGenome]
	leafSets *contentInterner[*leafset.LeafSet]

	resultNodes      map[nodelabel.NodeLabel]dag.NodeID
	resultNodeLabels []nodelabel.NodeLabel
	resultEdges      map[nodelabel.EdgeLabel]dag.EdgeID

	result *madag.MADAG
}

// New creates a Merger with an empty result DAG over ref.
func New(ref seq.Reference, opts ...Option) *Merger {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Merger{
		ref:  ref,
		pool: workerpool.New(o.workers),
		cgs: newContentInterner(
			func(cg *compactgenome.CompactGenome) uint64 { return cg.Hash() },
			func(a, b *compactgenome.CompactGenome) bool { return a.Equal(b) },
		),
		leafSets: newContentInterner(
			func(ls *leafset.LeafSet) uint64 { return ls.Hash() },
			func(a, b *leafset.LeafSet) bool { return a.Equal(b) },
		),
		resultNodes: make(map[nodelabel.NodeLabel]dag.NodeID),
		resultEdges: make(map[nodelabel.EdgeLabel]dag.EdgeID),
		result:      madag.New(ref),
	}
}

// Close shuts down the Merger's worker pool. The result DAG remains
// valid and usable after Close.
func (m *Merger) Close() {
	m.pool.Close()
}

// Result returns the merged MADAG built so far. Its EdgeMuts are not
// populated until ComputeResultEdgeMutations is called.
func (m *Merger) Result() *madag.MADAG {
	return m.result
}

// ContainsLeafSet reports whether an equal-content LeafSet has already
// been interned by a prior AddDAGs/AddDAG call.
func (m *Merger) ContainsLeafSet(ls *leafset.LeafSet) bool {
	_, ok := m.leafSets.Lookup(ls)
	return ok
}

// AddDAGs merges a batch of UA-rooted trees into the result DAG in
// one pass:
//  1. parallel compact-genome interning per input tree
//  2. parallel leaf-set computation (and interning) per input tree
//  3. serial node-label deduplication, assigning result node ids
//  4. parallel edge-label discovery across all input trees
//  5. serial edge-label deduplication, assigning result edge ids
//
// followed by BuildConnections and a node/edge count assertion against
// the number of distinct labels discovered.
func (m *Merger) AddDAGs(trees []*madag.MADAG) error {
	start := time.Now()

	for _, t := range trees {
		if !t.Ref.Equal(m.ref) {
			return ErrReferenceMismatch
		}
		if err := t.AssertUA(); err != nil {
			return fmt.Errorf("merge: input tree failed UA check: %w", err)
		}
		if t.CGs == nil {
			if err := t.ComputeCompactGenomes(); err != nil {
				return fmt.Errorf("merge: deriving input compact genomes: %w", err)
			}
		}
	}

	labels := make([][]nodelabel.NodeLabel, len(trees))
	for i, t := range trees {
		labels[i] = make([]nodelabel.NodeLabel, t.DAG.NodeCount())
	}

	// Step 1: parallel CG interning.
	m.pool.ParallelForEach(len(trees), func(ti int) {
		t := trees[ti]
		for n := 0; n < t.DAG.NodeCount(); n++ {
			node := dag.NodeID(n)
			labels[ti][n].CG = m.cgs.Intern(t.CGs[n].Copy())
			if t.DAG.IsLeaf(node) {
				if sid, ok := t.DAG.SampleID(node); ok {
					labels[ti][n].SampleID = sid
				}
			}
		}
	})

	// Step 2: parallel leaf-set computation and interning.
	leafErrs := make([]error, len(trees))
	m.pool.ParallelForEach(len(trees), func(ti int) {
		leafSets, err := trees[ti].ComputeLeafSets()
		if err != nil {
			leafErrs[ti] = err
			return
		}
		for n, ls := range leafSets {
			labels[ti][n].Leaves = m.leafSets.Intern(ls)
		}
	})
	for _, err := range leafErrs {
		if err != nil {
			return fmt.Errorf("merge: computing leaf sets: %w", err)
		}
	}

	// Step 3: serial node-label deduplication.
	for _, treeLabels := range labels {
		for _, label := range treeLabels {
			m.internNode(label)
		}
	}

	// Step 4: parallel edge-label discovery.
	var edgeMu sync.Mutex
	var discovered []nodelabel.EdgeLabel
	m.pool.ParallelForEach(len(trees), func(ti int) {
		t := trees[ti]
		var local []nodelabel.EdgeLabel
		for e := 0; e < t.DAG.EdgeCount(); e++ {
			parent, child, _ := t.DAG.Endpoints(dag.EdgeID(e))
			el := nodelabel.NewEdgeLabel(labels[ti][parent], labels[ti][child])
			local = append(local, el)
		}
		edgeMu.Lock()
		for _, el := range local {
			if _, exists := m.resultEdges[el]; !exists {
				m.resultEdges[el] = dag.EdgeID(dag.NoID)
				discovered = append(discovered, el)
			}
		}
		edgeMu.Unlock()
	})

	// Step 5: serial edge-label deduplication, assigning edge ids.
	if err := m.internEdges(discovered); err != nil {
		return err
	}

	if len(m.resultNodeLabels) != m.result.DAG.NodeCount() {
		return fmt.Errorf("merge: %d distinct node labels but %d result nodes", len(m.resultNodeLabels), m.result.DAG.NodeCount())
	}
	if len(m.resultEdges) != m.result.DAG.EdgeCount() {
		return fmt.Errorf("merge: %d distinct edge labels but %d result edges", len(m.resultEdges), m.result.DAG.EdgeCount())
	}
	if err := m.result.DAG.BuildConnections(); err != nil {
		return err
	}

	sampleIDs := make(map[string]struct{})
	for label := range m.resultNodes {
		if label.SampleID != "" {
			sampleIDs[label.SampleID] = struct{}{}
		}
	}

	l := logger.Logger()
	l.Debug().
		Int("trees", len(trees)).
		Int("nodes", m.result.DAG.NodeCount()).
		Int("edges", m.result.DAG.EdgeCount()).
		Int("distinct_samples", len(maps.Keys(sampleIDs))).
		Dur("took", time.Since(start)).
		Msg("merged DAGs")
	return nil
}

// internNode assigns label a result node id if it doesn't have one
// yet.
func (m *Merger) internNode(label nodelabel.NodeLabel) dag.NodeID {
	if id, exists := m.resultNodes[label]; exists {
		return id
	}
	id := m.result.DAG.AppendNode()
	m.resultNodes[label] = id
	m.resultNodeLabels = append(m.resultNodeLabels, label)
	m.result.CGs = append(m.result.CGs, label.CG)
	return id
}

// internEdges assigns each of els a result edge id (skipping any
// already assigned by an earlier call), in order.
func (m *Merger) internEdges(els []nodelabel.EdgeLabel) error {
	for _, el := range els {
		if id, exists := m.resultEdges[el]; exists && id != dag.EdgeID(dag.NoID) {
			continue
		}
		parent, ok := m.resultNodes[el.Parent]
		if !ok {
			return fmt.Errorf("merge: edge's parent label was never interned")
		}
		child, ok := m.resultNodes[el.Child]
		if !ok {
			return fmt.Errorf("merge: edge's child label was never interned")
		}
		cladeIdx, err := el.ComputeCladeIdx()
		if err != nil {
			return err
		}
		eid := m.result.DAG.AppendEdge(parent, child, dag.CladeIdx(cladeIdx))
		m.resultEdges[el] = eid
	}
	return nil
}

// AddDAG adds a single tree to the result, either as a new whole tree
// (below == nil, or below pointing at the result DAG's own root) or as
// a subtree grafted under an existing result node (below pointing at
// any other result node).
//
// A nil below and a below equal to the result DAG's root are treated
// identically -- both route through the plain whole-tree path, since
// only a below that is not the DAG's root calls for the subtree splice.
func (m *Merger) AddDAG(tree *madag.MADAG, below *dag.NodeID) error {
	if !tree.Ref.Equal(m.ref) {
		return ErrReferenceMismatch
	}
	if err := tree.AssertUA(); err != nil {
		return fmt.Errorf("merge: input tree failed UA check: %w", err)
	}
	if tree.CGs == nil {
		if err := tree.ComputeCompactGenomes(); err != nil {
			return fmt.Errorf("merge: deriving input compact genomes: %w", err)
		}
	}

	isSubtree := false
	if below != nil && m.result.DAG.NodeCount() > 0 {
		root, err := m.result.DAG.Root()
		if err != nil {
			return err
		}
		isSubtree = *below != root
	}

	if !isSubtree {
		return m.AddDAGs([]*madag.MADAG{tree})
	}
	return m.addSubtree(tree, *below)
}

// addSubtree splices tree's content -- everything under tree's own UA,
// i.e. tree's actual root and its descendants -- under the result
// node below, connecting it via below's own parent edge rather than
// adding it as a new child of below: this replaces whatever subtree
// below used to represent with tree's content at the same graft point,
// which is how an alternative (e.g. re-optimized) subtree gets folded
// back into the result at the position it came from.
func (m *Merger) addSubtree(tree *madag.MADAG, below dag.NodeID) error {
	treeRoot, err := tree.DAG.Root()
	if err != nil {
		return err
	}
	rootClades := tree.DAG.Clades(treeRoot)
	if len(rootClades) != 1 || len(rootClades[0]) != 1 {
		return fmt.Errorf("%w: tree root is not a UA node", dag.ErrMissingUA)
	}
	contentRoot := tree.DAG.Child(rootClades[0][0])

	frag, err := madag.Fragment(tree, contentRoot)
	if err != nil {
		return err
	}

	labels := make([]nodelabel.NodeLabel, frag.DAG.NodeCount())
	for n := 0; n < frag.DAG.NodeCount(); n++ {
		node := dag.NodeID(n)
		labels[n].CG = m.cgs.Intern(frag.CGs[n].Copy())
		if frag.DAG.IsLeaf(node) {
			if sid, ok := frag.DAG.SampleID(node); ok {
				labels[n].SampleID = sid
			}
		}
	}
	leafSets, err := frag.ComputeLeafSets()
	if err != nil {
		return fmt.Errorf("merge: computing leaf sets for spliced subtree: %w", err)
	}
	for n, ls := range leafSets {
		labels[n].Leaves = m.leafSets.Intern(ls)
	}

	for _, label := range labels {
		m.internNode(label)
	}

	var discovered []nodelabel.EdgeLabel
	for e := 0; e < frag.DAG.EdgeCount(); e++ {
		parent, child, _ := frag.DAG.Endpoints(dag.EdgeID(e))
		el := nodelabel.NewEdgeLabel(labels[parent], labels[child])
		if _, exists := m.resultEdges[el]; !exists {
			m.resultEdges[el] = dag.EdgeID(dag.NoID)
			discovered = append(discovered, el)
		}
	}

	belowParentEdges := m.result.DAG.ParentEdges(below)
	if len(belowParentEdges) != 1 {
		return fmt.Errorf("merge: splice point has no unique parent edge to graft onto")
	}
	belowParent, _, _ := m.result.DAG.Endpoints(belowParentEdges[0])
	spliceLabel := nodelabel.NewEdgeLabel(m.resultNodeLabels[belowParent], labels[0])
	if _, exists := m.resultEdges[spliceLabel]; !exists {
		m.resultEdges[spliceLabel] = dag.EdgeID(dag.NoID)
		discovered = append(discovered, spliceLabel)
	}

	if err := m.internEdges(discovered); err != nil {
		return err
	}

	if len(m.resultNodeLabels) != m.result.DAG.NodeCount() {
		return fmt.Errorf("merge: %d distinct node labels but %d result nodes", len(m.resultNodeLabels), m.result.DAG.NodeCount())
	}
	return m.result.DAG.BuildConnections()
}

// ComputeResultEdgeMutations derives EdgeMuts for every result edge
// from its endpoints' (already-interned) compact genomes. Call this
// once after the last AddDAGs/AddDAG that will contribute to the
// result.
func (m *Merger) ComputeResultEdgeMutations() error {
	edgeMuts := make([]*compactgenome.EdgeMutations, m.result.DAG.EdgeCount())
	for el, eid := range m.resultEdges {
		edgeMuts[eid] = compactgenome.ToEdgeMutations(m.ref, el.Parent.CG, el.Child.CG)
	}
	m.result.EdgeMuts = edgeMuts
	return nil
}
