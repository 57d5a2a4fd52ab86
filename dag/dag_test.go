package dag

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matsengrp/larch/logger"
)

func TestMain(m *testing.M) {
	logger.Disable()
	os.Exit(m.Run())
}

// buildCherry builds a UA -> (A, B) tree: ua is clade 0, single child
// root, which forks into two leaves A and B.
func buildCherry(t *testing.T) (*Store, NodeID, NodeID, NodeID) {
	t.Helper()
	s := New()
	ua := s.AppendNode()
	root := s.AppendNode()
	a := s.AppendNode()
	b := s.AppendNode()
	s.AppendEdge(ua, root, 0)
	s.AppendEdge(root, a, 0)
	s.AppendEdge(root, b, 1)
	require.NoError(t, s.BuildConnections())
	return s, ua, root, a
}

func TestBuildConnectionsBasicShape(t *testing.T) {
	assert := require.New(t)
	s, ua, root, a := buildCherry(t)

	got, err := s.Root()
	assert.NoError(err)
	assert.Equal(ua, got)

	assert.True(s.IsLeaf(a))
	assert.False(s.IsLeaf(root))
	assert.Len(s.Clades(root), 2)
	assert.Len(s.ParentEdges(root), 1)
}

func TestBuildConnectionsRejectsSelfLoop(t *testing.T) {
	assert := require.New(t)
	s := New()
	n := s.AppendNode()
	s.AppendEdge(n, n, 0)
	assert.ErrorIs(s.BuildConnections(), ErrSelfLoop)
}

func TestBuildConnectionsRejectsDuplicateEdge(t *testing.T) {
	assert := require.New(t)
	s := New()
	a := s.AppendNode()
	b := s.AppendNode()
	s.AppendEdge(a, b, 0)
	s.AppendEdge(a, b, 0)
	assert.ErrorIs(s.BuildConnections(), ErrDuplicateEdge)
}

func TestBuildConnectionsRejectsMultipleRoots(t *testing.T) {
	assert := require.New(t)
	s := New()
	a := s.AppendNode()
	b := s.AppendNode()
	c := s.AppendNode()
	s.AppendEdge(a, c, 0)
	_ = b
	assert.ErrorIs(s.BuildConnections(), ErrDuplicateRoot)
}

func TestRootsReportsEveryParentlessNode(t *testing.T) {
	assert := require.New(t)
	s, ua, _, _ := buildCherry(t)
	assert.Equal([]NodeID{ua}, s.Roots())

	// A second, deliberately invalid graph with two parentless nodes:
	// BuildConnections rejects it, but Roots (called against the last
	// state BuildConnections did manage to index) still names both
	// violating nodes rather than just an error.
	s2 := New()
	a := s2.AppendNode()
	b := s2.AppendNode()
	c := s2.AppendNode()
	s2.AppendEdge(a, c, 0)
	assert.ErrorIs(s2.BuildConnections(), ErrDuplicateRoot)
	assert.ElementsMatch([]NodeID{a, b}, s2.Roots())
}

func TestBuildConnectionsRejectsEmptyClade(t *testing.T) {
	assert := require.New(t)
	s := New()
	a := s.AppendNode()
	b := s.AppendNode()
	c := s.AppendNode()
	s.AppendEdge(a, b, 0)
	s.AppendEdge(a, c, 2) // gap at clade 1
	assert.ErrorIs(s.BuildConnections(), ErrEmptyClade)
}

func TestIsTree(t *testing.T) {
	assert := require.New(t)
	s, _, _, _ := buildCherry(t)
	assert.True(s.IsTree())

	// Add a second parent edge to one of the leaves: no longer a tree.
	s2 := New()
	ua := s2.AppendNode()
	root := s2.AppendNode()
	a := s2.AppendNode()
	b := s2.AppendNode()
	s2.AppendEdge(ua, root, 0)
	s2.AppendEdge(root, a, 0)
	s2.AppendEdge(root, b, 1)
	s2.AppendEdge(b, a, 0)
	require.NoError(t, s2.BuildConnections())
	assert.False(s2.IsTree())
}

func TestReindexPreorderPreservesStructure(t *testing.T) {
	assert := require.New(t)
	s, _, _, _ := buildCherry(t)
	assert.NoError(s.ReindexPreorder())

	root, err := s.Root()
	assert.NoError(err)
	assert.Equal(NodeID(0), root)
	assert.Len(s.Clades(root), 1)

	// The UA's single child keeps its two-clade fork, one node later
	// in preorder.
	child := s.Child(s.Clades(root)[0][0])
	assert.Equal(NodeID(1), child)
	assert.Len(s.Clades(child), 2)
}

func TestFragmentExtractsReachableSubDAG(t *testing.T) {
	assert := require.New(t)
	s, _, root, a := buildCherry(t)
	s.SetSampleID(a, "leafA")

	frag, remap, edgeOrigin := Fragment(s, root)
	assert.NoError(frag.BuildConnections())
	assert.Equal(3, frag.NodeCount()) // root, a, b
	assert.Equal(2, frag.EdgeCount())
	assert.Contains(remap, root)
	assert.Contains(remap, a)

	fragA := remap[a]
	sid, ok := frag.SampleID(fragA)
	assert.True(ok)
	assert.Equal("leafA", sid)
	assert.Len(edgeOrigin, 2)
}
