package weightops

import (
	"math/big"

	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/madag"
)

// TreeCount is the Ops[*big.Int] instantiation counting distinct
// trees a DAG expresses: every within-clade alternative is counted
// (none discarded as suboptimal), between-clades weights multiply,
// and the edge weight never bears on the count. Values returned by
// this type are never mutated in place -- every result is a fresh
// *big.Int -- so callers may retain and share them freely.
type TreeCount struct{}

func (TreeCount) ComputeLeaf(*madag.MADAG, dag.NodeID) *big.Int { return big.NewInt(1) }

func (TreeCount) ComputeEdge(*madag.MADAG, dag.EdgeID) *big.Int { return big.NewInt(1) }

// WithinCladeAccumOptimum sums every alternative -- all of them
// contribute to the tree count, so all indices are "optimal".
func (TreeCount) WithinCladeAccumOptimum(weights []*big.Int) (*big.Int, []int) {
	sum := new(big.Int)
	idx := make([]int, len(weights))
	for i, w := range weights {
		sum.Add(sum, w)
		idx[i] = i
	}
	return sum, idx
}

func (TreeCount) BetweenClades(weights []*big.Int) *big.Int {
	product := big.NewInt(1)
	for _, w := range weights {
		product.Mul(product, w)
	}
	return product
}

// AboveNode ignores the edge weight: an edge contributes exactly one
// way to attach its child subtree, so the count below an edge equals
// the count below its child.
func (TreeCount) AboveNode(_, childWeight *big.Int) *big.Int {
	return new(big.Int).Set(childWeight)
}

func (TreeCount) Identity() *big.Int { return big.NewInt(1) }
