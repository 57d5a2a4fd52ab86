// Package weightops implements the generic weight-aggregation
// capability and its three canonical instantiations -- parsimony
// score, tree count, and Robinson-Foulds distance to a reference DAG
// -- plus the WeightCounter/WeightAccumulator pair that turns any Ops
// into a full score-distribution accumulator.
package weightops

import (
	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/madag"
)

// Ops is the generic postorder-aggregate capability subtree.Engine is
// parameterized over. W is the totally-orderable aggregate value type
// (int for ParsimonyScore, *big.Int for TreeCount/RF-distance, a
// *WeightCounter[U] for WeightAccumulator[U]).
type Ops[W any] interface {
	// ComputeLeaf is the weight contributed by leaf node n.
	ComputeLeaf(m *madag.MADAG, n dag.NodeID) W
	// ComputeEdge is the weight contributed by edge e.
	ComputeEdge(m *madag.MADAG, e dag.EdgeID) W
	// WithinCladeAccumOptimum aggregates the alternative edge weights
	// within one clade, returning the chosen representative weight
	// and the indices (into weights) that attain it.
	WithinCladeAccumOptimum(weights []W) (W, []int)
	// BetweenClades combines the weights of a node's independent
	// child clades.
	BetweenClades(weights []W) W
	// AboveNode folds an edge's own weight into the weight of the
	// subtree below it.
	AboveNode(edgeWeight, childWeight W) W
	// Identity is the neutral element under BetweenClades.
	Identity() W
}
