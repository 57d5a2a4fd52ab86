// Package subtree implements the generic subtree weight engine: a
// postorder dynamic program over a MADAG, parameterized by a
// weightops.Ops[W] capability, plus the trim/sample family of
// tree-extraction operations built on top of it.
//
// ComputeWeightBelow and extractTree walk an explicit work stack
// rather than recursing node-to-node, consistent with
// madag.ComputeLeafSets and weightops.computeAboveTreeCounts, since
// real phylogenetic trees run deep enough that call-stack recursion
// risks overflow.
package subtree

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/matsengrp/larch/compactgenome"
	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/logger"
	"github.com/matsengrp/larch/madag"
	"github.com/matsengrp/larch/weightops"
)

// ErrDegenerateDAG is returned when a non-leaf node has a clade with
// no edges -- the dag.Store's own BuildConnections already rejects
// this (dag.ErrEmptyClade), so in practice this only guards against a
// MADAG built by means that bypass that check.
var ErrDegenerateDAG = errors.New("subtree: node has an empty clade")

// ErrTypeMismatch is returned by UniformSampleTree when the engine's
// Ops is not weightops.TreeCount.
var ErrTypeMismatch = errors.New("subtree: UniformSampleTree requires a TreeCount engine")

// Engine holds the weight-below/min-edge caches for one MADAG and one
// Ops instance. A cache is coherent only for the Ops that populated
// it; use a fresh Engine for a different Ops.
type Engine[W any] struct {
	m   *madag.MADAG
	ops weightops.Ops[W]
	rng *rand.Rand

	computed     []bool
	weightBelow  []W
	minEdges     [][][]dag.EdgeID // [node][clade] -> edges attaining the clade optimum
	subtreeCount []*big.Int       // lazily populated by MinWeightUniformSampleTree
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	rng *rand.Rand
}

// WithRand fixes the source of randomness SampleTree and its
// relatives draw from, for reproducible sampling in tests.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

func New[W any](m *madag.MADAG, ops weightops.Ops[W], opts ...Option) *Engine[W] {
	o := options{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt(&o)
	}
	n := m.DAG.NodeCount()
	return &Engine[W]{
		m:           m,
		ops:         ops,
		rng:         o.rng,
		computed:    make([]bool, n),
		weightBelow: make([]W, n),
		minEdges:    make([][][]dag.EdgeID, n),
	}
}

// ComputeWeightBelow returns the optimal-subtree weight below n,
// computing and caching it (and every uncached descendant's) on
// first use.
func (e *Engine[W]) ComputeWeightBelow(n dag.NodeID) (W, error) {
	type frame struct {
		node    dag.NodeID
		visited bool
	}
	stack := []frame{{node: n}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if e.computed[top.node] {
			stack = stack[:len(stack)-1]
			continue
		}
		if e.m.DAG.IsLeaf(top.node) {
			e.weightBelow[top.node] = e.ops.ComputeLeaf(e.m, top.node)
			e.computed[top.node] = true
			stack = stack[:len(stack)-1]
			continue
		}
		if !top.visited {
			top.visited = true
			for _, clade := range e.m.DAG.Clades(top.node) {
				for _, edge := range clade {
					child := e.m.DAG.Child(edge)
					if !e.computed[child] {
						stack = append(stack, frame{node: child})
					}
				}
			}
			continue
		}

		node := top.node
		stack = stack[:len(stack)-1]
		clades := e.m.DAG.Clades(node)
		cladeWeights := make([]W, len(clades))
		e.minEdges[node] = make([][]dag.EdgeID, len(clades))
		for ci, clade := range clades {
			if len(clade) == 0 {
				var zero W
				return zero, fmt.Errorf("%w: node %d clade %d", ErrDegenerateDAG, node, ci)
			}
			edgeWeights := make([]W, len(clade))
			for i, edge := range clade {
				child := e.m.DAG.Child(edge)
				edgeWeights[i] = e.ops.AboveNode(e.ops.ComputeEdge(e.m, edge), e.weightBelow[child])
			}
			w, optima := e.ops.WithinCladeAccumOptimum(edgeWeights)
			cladeWeights[ci] = w
			chosen := make([]dag.EdgeID, len(optima))
			for i, idx := range optima {
				chosen[i] = clade[idx]
			}
			e.minEdges[node][ci] = chosen
		}
		e.weightBelow[node] = e.ops.BetweenClades(cladeWeights)
		e.computed[node] = true
	}
	return e.weightBelow[n], nil
}

// assertUA checks the shape sampling requires: a unique parentless
// root with exactly one clade. The "UA id is the last node id"
// bookkeeping madag.AssertUA additionally enforces is deliberately not
// required here -- a merged result DAG assigns node ids in
// label-discovery order, so its UA is rarely last, yet it is exactly
// the DAG sampling is for.
func (e *Engine[W]) assertUA() (dag.NodeID, error) {
	root, err := e.m.DAG.Root()
	if err != nil {
		return 0, err
	}
	if len(e.m.DAG.Clades(root)) != 1 {
		return 0, fmt.Errorf("%w: sampling requires a single-clade UA root", dag.ErrMissingUA)
	}
	return root, nil
}

// edgeSelector picks, for node n's clade at index cladeIdx (the full
// edge set of that clade), which edge to follow during extraction.
type edgeSelector func(n dag.NodeID, cladeIdx int, clade []dag.EdgeID) dag.EdgeID

// extractTree is the shared postorder extraction algorithm: allocate
// a fresh result node for the root, then for each clade pick an edge
// via selector, allocate a result child, append the edge's mutations,
// and recurse. The root node is allocated first, not last -- the
// extracted MADAG is a self-contained valid tree but does not carry
// the "UA id is the last node id" bookkeeping invariant madag.AssertUA
// checks for AddUA specifically, so this does not call AssertUA on its
// result.
//
// The returned slice maps every result node id to the source node it
// was extracted from; sampling callers surface it so consumers can
// relate sampled leaves back to the DAG they came from.
func (e *Engine[W]) extractTree(selector edgeSelector) (*madag.MADAG, []dag.NodeID, error) {
	root, err := e.m.DAG.Root()
	if err != nil {
		return nil, nil, err
	}

	result := madag.New(e.m.Ref)
	var cgs []*compactgenome.CompactGenome
	var edgeMuts []*compactgenome.EdgeMutations
	var srcIDs []dag.NodeID
	sampleIDs := make(map[dag.NodeID]string)

	type frame struct {
		src, dst dag.NodeID
	}
	dstRoot := result.DAG.AppendNode()
	cgs = append(cgs, e.m.CGs[root])
	srcIDs = append(srcIDs, root)
	if sid, ok := e.m.DAG.SampleID(root); ok {
		sampleIDs[dstRoot] = sid
	}

	stack := []frame{{src: root, dst: dstRoot}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for ci, clade := range e.m.DAG.Clades(f.src) {
			edge := selector(f.src, ci, clade)
			child := e.m.DAG.Child(edge)

			dstChild := result.DAG.AppendNode()
			cgs = append(cgs, e.m.CGs[child])
			srcIDs = append(srcIDs, child)
			result.DAG.AppendEdge(f.dst, dstChild, dag.CladeIdx(ci))
			edgeMuts = append(edgeMuts, e.m.EdgeMuts[edge].Copy())
			if sid, ok := e.m.DAG.SampleID(child); ok && e.m.DAG.IsLeaf(child) {
				sampleIDs[dstChild] = sid
			}

			stack = append(stack, frame{src: child, dst: dstChild})
		}
	}

	if err := result.DAG.BuildConnections(); err != nil {
		return nil, nil, err
	}
	for n, sid := range sampleIDs {
		result.DAG.SetSampleID(n, sid)
	}
	result.CGs = cgs
	result.EdgeMuts = edgeMuts
	l := logger.Logger()
	l.Debug().Int("nodes", result.DAG.NodeCount()).Msg("extracted tree")
	return result, srcIDs, nil
}

// TrimToMinWeight extracts the (a) minimum-weight tree, picking the
// first edge of each clade's min-edge set deterministically.
func (e *Engine[W]) TrimToMinWeight() (*madag.MADAG, error) {
	root, err := e.m.DAG.Root()
	if err != nil {
		return nil, err
	}
	if _, err := e.ComputeWeightBelow(root); err != nil {
		return nil, err
	}
	result, _, err := e.extractTree(func(n dag.NodeID, ci int, _ []dag.EdgeID) dag.EdgeID {
		return e.minEdges[n][ci][0]
	})
	return result, err
}

// SampleTree extracts a tree chosen by picking a uniformly random
// edge per clade, ignoring weight entirely. The second return value
// maps result node ids to the source nodes they were sampled from.
func (e *Engine[W]) SampleTree() (*madag.MADAG, []dag.NodeID, error) {
	if _, err := e.assertUA(); err != nil {
		return nil, nil, err
	}
	return e.extractTree(func(_ dag.NodeID, _ int, clade []dag.EdgeID) dag.EdgeID {
		return clade[e.rng.Intn(len(clade))]
	})
}

// UniformSampleTree extracts a tree chosen uniformly among all trees
// the DAG expresses: probability of an edge is proportional to the
// tree count below its child. Requires the engine's Ops to be
// weightops.TreeCount.
func (e *Engine[W]) UniformSampleTree() (*madag.MADAG, []dag.NodeID, error) {
	if _, ok := any(e.ops).(weightops.TreeCount); !ok {
		return nil, nil, ErrTypeMismatch
	}
	root, err := e.assertUA()
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.ComputeWeightBelow(root); err != nil {
		return nil, nil, err
	}
	return e.extractTree(func(_ dag.NodeID, _ int, clade []dag.EdgeID) dag.EdgeID {
		weights := make([]*big.Int, len(clade))
		for i, edge := range clade {
			weights[i] = any(e.weightBelow[e.m.DAG.Child(edge)]).(*big.Int)
		}
		return clade[weightedChoice(e.rng, weights)]
	})
}

// MinWeightSampleTree extracts a minimum-weight tree chosen uniformly
// among all minimum-weight trees: probability is uniform over each
// clade's min-edge set.
func (e *Engine[W]) MinWeightSampleTree() (*madag.MADAG, []dag.NodeID, error) {
	root, err := e.assertUA()
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.ComputeWeightBelow(root); err != nil {
		return nil, nil, err
	}
	return e.extractTree(func(n dag.NodeID, ci int, _ []dag.EdgeID) dag.EdgeID {
		candidates := e.minEdges[n][ci]
		return candidates[e.rng.Intn(len(candidates))]
	})
}

// MinWeightUniformSampleTree extracts a minimum-weight tree chosen
// uniformly among all trees embedded in the min-weight sub-DAG:
// probability is proportional to the restricted subtree count below
// an edge's child, among that clade's min-edge set only.
func (e *Engine[W]) MinWeightUniformSampleTree() (*madag.MADAG, []dag.NodeID, error) {
	root, err := e.assertUA()
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.ComputeWeightBelow(root); err != nil {
		return nil, nil, err
	}
	e.computeSubtreeCount(root)
	return e.extractTree(func(n dag.NodeID, ci int, _ []dag.EdgeID) dag.EdgeID {
		candidates := e.minEdges[n][ci]
		weights := make([]*big.Int, len(candidates))
		for i, edge := range candidates {
			weights[i] = e.subtreeCount[e.m.DAG.Child(edge)]
		}
		return candidates[weightedChoice(e.rng, weights)]
	})
}

// computeSubtreeCount fills e.subtreeCount by postorder, restricted
// to each node's min-edge set: sum across a clade's min edges,
// product across clades, leaf = 1. Requires ComputeWeightBelow(root)
// to already have populated e.minEdges.
func (e *Engine[W]) computeSubtreeCount(root dag.NodeID) {
	if e.subtreeCount == nil {
		e.subtreeCount = make([]*big.Int, e.m.DAG.NodeCount())
	}

	type frame struct {
		node    dag.NodeID
		visited bool
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if e.subtreeCount[top.node] != nil {
			stack = stack[:len(stack)-1]
			continue
		}
		if e.m.DAG.IsLeaf(top.node) {
			e.subtreeCount[top.node] = big.NewInt(1)
			stack = stack[:len(stack)-1]
			continue
		}
		if !top.visited {
			top.visited = true
			for _, clade := range e.minEdges[top.node] {
				for _, edge := range clade {
					child := e.m.DAG.Child(edge)
					if e.subtreeCount[child] == nil {
						stack = append(stack, frame{node: child})
					}
				}
			}
			continue
		}

		node := top.node
		stack = stack[:len(stack)-1]
		total := big.NewInt(1)
		for _, clade := range e.minEdges[node] {
			sum := new(big.Int)
			for _, edge := range clade {
				sum.Add(sum, e.subtreeCount[e.m.DAG.Child(edge)])
			}
			total.Mul(total, sum)
		}
		e.subtreeCount[node] = total
	}
}

// weightedChoice picks an index in [0,len(weights)) with probability
// proportional to weights[i], using big.Int.Rand for an
// arbitrary-precision-safe draw.
func weightedChoice(r *rand.Rand, weights []*big.Int) int {
	total := new(big.Int)
	for _, w := range weights {
		total.Add(total, w)
	}
	if total.Sign() == 0 {
		return 0
	}
	target := new(big.Int).Rand(r, total)
	cum := new(big.Int)
	for i, w := range weights {
		cum.Add(cum, w)
		if target.Cmp(cum) < 0 {
			return i
		}
	}
	return len(weights) - 1
}
