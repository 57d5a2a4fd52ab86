package weightops

import (
	"math/big"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matsengrp/larch/compactgenome"
	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/logger"
	"github.com/matsengrp/larch/madag"
	"github.com/matsengrp/larch/seq"
)

func TestMain(m *testing.M) {
	logger.Disable()
	os.Exit(m.Run())
}

// buildFork builds UA -> root, where root's first clade has two
// alternative edges, into leaves A and D (a true DAG fork, not just a
// tree), so within-clade optimization has more than one alternative
// to pick from, and root's second clade holds leaf B:
//
//	UA -> root -> clade0 -> {A via e1, D via e2}
//	           -> clade1 -> {B}
func buildFork(t *testing.T) (*madag.MADAG, dag.NodeID, dag.NodeID, dag.NodeID, dag.NodeID, dag.NodeID) {
	t.Helper()
	ref := seq.FromString("AAAA")
	m := madag.New(ref)
	ua := m.DAG.AppendNode()
	root := m.DAG.AppendNode()
	a := m.DAG.AppendNode()
	d := m.DAG.AppendNode()
	b := m.DAG.AppendNode()
	m.DAG.AppendEdge(ua, root, 0)
	m.DAG.AppendEdge(root, a, 0)
	m.DAG.AppendEdge(root, d, 0)
	m.DAG.AppendEdge(root, b, 1)
	require.NoError(t, m.DAG.BuildConnections())
	m.DAG.SetSampleID(a, "A")
	m.DAG.SetSampleID(d, "D")
	m.DAG.SetSampleID(b, "B")

	noop := compactgenome.NewEdgeMutations()
	oneMut := compactgenome.NewEdgeMutations()
	// give the a-edge one mutation and the d-edge zero, so parsimony
	// can tell the two alternatives apart.
	parent := compactgenome.Empty()
	child := compactgenome.NewFromMutations([]compactgenome.Mutation{{Pos: 1, Base: seq.G}})
	oneMut = compactgenome.ToEdgeMutations(ref, parent, child)
	// give the b-edge its own mutation so that leaves B and D, both
	// otherwise equal to the reference, have distinct compact genomes.
	bMut := compactgenome.NewEdgeMutations()
	bMut.Insert(2, seq.A, seq.T)

	m.EdgeMuts = []*compactgenome.EdgeMutations{noop, oneMut, noop, bMut}
	require.NoError(t, m.ComputeCompactGenomes())
	return m, ua, root, a, d, b
}

func TestParsimonyScorePicksCheaperAlternative(t *testing.T) {
	assert := require.New(t)
	m, _, root, a, d, _ := buildFork(t)
	_ = a

	ops := ParsimonyScore{}
	weights := make([]int, m.DAG.NodeCount())
	for n := range weights {
		weights[dag.NodeID(n)] = 0
	}

	clade := m.DAG.Clades(root)[0]
	edgeWeights := make([]int, len(clade))
	for i, e := range clade {
		edgeWeights[i] = ops.ComputeEdge(m, e)
	}
	best, optima := ops.WithinCladeAccumOptimum(edgeWeights)
	assert.Equal(0, best)
	assert.Len(optima, 1)
	assert.Equal(d, m.DAG.Child(clade[optima[0]]))
}

func TestTreeCountMultipliesAcrossCladesAndSumsWithin(t *testing.T) {
	assert := require.New(t)
	m, _, root, _, _, _ := buildFork(t)
	ops := TreeCount{}

	below := make(map[dag.NodeID]*big.Int)
	for n := 0; n < m.DAG.NodeCount(); n++ {
		node := dag.NodeID(n)
		if m.DAG.IsLeaf(node) {
			below[node] = ops.ComputeLeaf(m, node)
		}
	}
	var cladeWeights []*big.Int
	for _, clade := range m.DAG.Clades(root) {
		var edgeWeights []*big.Int
		for _, e := range clade {
			child := m.DAG.Child(e)
			edgeWeights = append(edgeWeights, ops.AboveNode(ops.ComputeEdge(m, e), below[child]))
		}
		w, optima := ops.WithinCladeAccumOptimum(edgeWeights)
		assert.Len(optima, len(edgeWeights)) // every alternative counts
		cladeWeights = append(cladeWeights, w)
	}
	total := ops.BetweenClades(cladeWeights)
	// clade0 has 2 alternatives (A, D), clade1 has 1 (B): 2*1 = 2 trees.
	assert.Equal(0, total.Cmp(big.NewInt(2)))
}

func TestWeightCounterAddUnionsMultisets(t *testing.T) {
	assert := require.New(t)
	c1 := NewWeightCounter[int](IntKey)
	c1.AddWeight(3, big.NewInt(1))
	c2 := NewWeightCounter[int](IntKey)
	c2.AddWeight(3, big.NewInt(2))
	c2.AddWeight(5, big.NewInt(1))

	union := c1.Add(c2)
	assert.Equal(0, union.CountOf(3).Cmp(big.NewInt(3)))
	assert.Equal(0, union.CountOf(5).Cmp(big.NewInt(1)))
}

func TestWeightCounterMulCombinesAcrossClades(t *testing.T) {
	assert := require.New(t)
	ops := ParsimonyScore{}
	c1 := NewWeightCounter[int](IntKey)
	c1.AddWeight(1, big.NewInt(2))
	c2 := NewWeightCounter[int](IntKey)
	c2.AddWeight(2, big.NewInt(3))

	product := c1.Mul(c2, ops)
	// parsimony's BetweenClades is sum, so 1+2=3 with count 2*3=6.
	assert.Equal(0, product.CountOf(3).Cmp(big.NewInt(6)))
}

func TestWeightAccumulatorWrapsBaseOps(t *testing.T) {
	assert := require.New(t)
	accum := NewWeightAccumulator[int](ParsimonyScore{}, IntKey)
	identity := accum.Identity()
	assert.Equal(0, identity.CountOf(0).Cmp(big.NewInt(1)))
}

func TestNewRFDistanceRejectsNonTree(t *testing.T) {
	assert := require.New(t)
	ref := seq.FromString("AAAA")
	m := madag.New(ref)
	ua := m.DAG.AppendNode()
	root := m.DAG.AppendNode()
	a := m.DAG.AppendNode()
	b := m.DAG.AppendNode()
	m.DAG.AppendEdge(ua, root, 0)
	m.DAG.AppendEdge(root, a, 0)
	m.DAG.AppendEdge(root, b, 1)
	m.DAG.AppendEdge(b, a, 0) // makes a have two parents: not a tree
	require.NoError(t, m.DAG.BuildConnections())
	m.EdgeMuts = make([]*compactgenome.EdgeMutations, m.DAG.EdgeCount())
	for i := range m.EdgeMuts {
		m.EdgeMuts[i] = compactgenome.NewEdgeMutations()
	}

	_, err := NewRFDistance(m)
	assert.ErrorIs(err, ErrNotATree)
}

func TestSumRFDistanceAgainstItselfCountsReferenceTrees(t *testing.T) {
	assert := require.New(t)
	m, _, _, _, _, _ := buildFork(t)
	rf, err := NewSumRFDistance(m)
	assert.NoError(err)

	root, _ := m.DAG.Root()
	below := computeBelowTreeCounts(m)
	assert.Equal(0, rf.numTreesInDAG.Cmp(below[root]))
}

func TestIntKeyFormatsPlainInts(t *testing.T) {
	assert := require.New(t)
	assert.Equal(strconv.Itoa(42), IntKey(42))
}
