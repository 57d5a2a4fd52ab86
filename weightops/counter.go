package weightops

import (
	"math/big"
	"strconv"

	"golang.org/x/exp/slices"

	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/madag"
)

// WeightCounter is a multiset of distinct weight values with
// arbitrary-precision multiplicities, the representation
// WeightAccumulator uses to track a full score distribution instead
// of a single optimum. Since several of the W types in use here (e.g.
// *big.Int) are not comparable as Go map keys, entries are keyed by a
// caller-supplied string projection instead of the weight value
// itself.
type WeightCounter[W any] struct {
	keyFn func(W) string
	rows  map[string]counterRow[W]
}

type counterRow[W any] struct {
	weight W
	n      *big.Int
}

// NewWeightCounter returns an empty counter. keyFn must map equal
// weights (per the Ops[W] this counter is used with) to equal
// strings, and distinct weights to distinct strings.
func NewWeightCounter[W any](keyFn func(W) string) *WeightCounter[W] {
	return &WeightCounter[W]{keyFn: keyFn, rows: make(map[string]counterRow[W])}
}

// IntKey is the keyFn for WeightCounter[int] (ParsimonyScore).
func IntKey(w int) string { return strconv.Itoa(w) }

// BigIntKey is the keyFn for WeightCounter[*big.Int] (TreeCount, RF
// distances).
func BigIntKey(w *big.Int) string { return w.String() }

// AddWeight records n additional occurrences of weight w.
func (c *WeightCounter[W]) AddWeight(w W, n *big.Int) {
	key := c.keyFn(w)
	row, ok := c.rows[key]
	if !ok {
		c.rows[key] = counterRow[W]{weight: w, n: new(big.Int).Set(n)}
		return
	}
	row.n.Add(row.n, n)
	c.rows[key] = row
}

// Len is the number of distinct weight values recorded.
func (c *WeightCounter[W]) Len() int { return len(c.rows) }

// CountOf returns the multiplicity of w (zero if absent).
func (c *WeightCounter[W]) CountOf(w W) *big.Int {
	row, ok := c.rows[c.keyFn(w)]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(row.n)
}

// Entries returns the (weight, count) pairs sorted by key, for
// deterministic iteration (tests, printing).
func (c *WeightCounter[W]) Entries() []struct {
	Weight W
	Count  *big.Int
} {
	keys := make([]string, 0, len(c.rows))
	for k := range c.rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]struct {
		Weight W
		Count  *big.Int
	}, len(keys))
	for i, k := range keys {
		row := c.rows[k]
		out[i].Weight = row.weight
		out[i].Count = new(big.Int).Set(row.n)
	}
	return out
}

// Add returns the multiset union of c and other: counts of equal
// weights add.
func (c *WeightCounter[W]) Add(other *WeightCounter[W]) *WeightCounter[W] {
	result := NewWeightCounter[W](c.keyFn)
	for _, row := range c.rows {
		result.AddWeight(row.weight, row.n)
	}
	for _, row := range other.rows {
		result.AddWeight(row.weight, row.n)
	}
	return result
}

// Mul returns the Cartesian product of c and other under base's
// BetweenClades, applied pairwise: for every (a, count_a) in c and
// (b, count_b) in other, the result gets count_a*count_b occurrences
// of base.BetweenClades({a, b}).
func (c *WeightCounter[W]) Mul(other *WeightCounter[W], base Ops[W]) *WeightCounter[W] {
	result := NewWeightCounter[W](c.keyFn)
	for _, a := range c.rows {
		for _, b := range other.rows {
			combined := base.BetweenClades([]W{a.weight, b.weight})
			n := new(big.Int).Mul(a.n, b.n)
			result.AddWeight(combined, n)
		}
	}
	return result
}

// WeightAccumulator lifts any Ops[W] into an Ops[*WeightCounter[W]]
// that tracks the full distribution of weights instead of collapsing
// to a single optimum: WithinCladeAccumOptimum never discards an
// alternative, and BetweenClades/AboveNode combine distributions via
// base's own BetweenClades/AboveNode.
type WeightAccumulator[W any] struct {
	base  Ops[W]
	keyFn func(W) string
}

func NewWeightAccumulator[W any](base Ops[W], keyFn func(W) string) *WeightAccumulator[W] {
	return &WeightAccumulator[W]{base: base, keyFn: keyFn}
}

func (a *WeightAccumulator[W]) singleton(w W) *WeightCounter[W] {
	c := NewWeightCounter[W](a.keyFn)
	c.AddWeight(w, big.NewInt(1))
	return c
}

func (a *WeightAccumulator[W]) ComputeLeaf(m *madag.MADAG, n dag.NodeID) *WeightCounter[W] {
	return a.singleton(a.base.ComputeLeaf(m, n))
}

func (a *WeightAccumulator[W]) ComputeEdge(m *madag.MADAG, e dag.EdgeID) *WeightCounter[W] {
	return a.singleton(a.base.ComputeEdge(m, e))
}

// WithinCladeAccumOptimum unions every alternative's distribution;
// every index is "optimal" since nothing is discarded.
func (a *WeightAccumulator[W]) WithinCladeAccumOptimum(weights []*WeightCounter[W]) (*WeightCounter[W], []int) {
	union := NewWeightCounter[W](a.keyFn)
	idx := make([]int, len(weights))
	for i, w := range weights {
		union = union.Add(w)
		idx[i] = i
	}
	return union, idx
}

func (a *WeightAccumulator[W]) BetweenClades(weights []*WeightCounter[W]) *WeightCounter[W] {
	if len(weights) == 0 {
		return a.singleton(a.base.Identity())
	}
	result := weights[0]
	for _, w := range weights[1:] {
		result = result.Mul(w, a.base)
	}
	return result
}

// AboveNode folds the (singleton) edge-weight distribution over every
// entry of the child distribution via base.AboveNode.
func (a *WeightAccumulator[W]) AboveNode(edgeWeight, childWeight *WeightCounter[W]) *WeightCounter[W] {
	result := NewWeightCounter[W](a.keyFn)
	for _, e := range edgeWeight.Entries() {
		for _, c := range childWeight.Entries() {
			combined := a.base.AboveNode(e.Weight, c.Weight)
			n := new(big.Int).Mul(e.Count, c.Count)
			result.AddWeight(combined, n)
		}
	}
	return result
}

func (a *WeightAccumulator[W]) Identity() *WeightCounter[W] {
	return a.singleton(a.base.Identity())
}
