// Package dag implements the index-based DAG store: an append-only
// vector of nodes and edges addressed by stable integer ids, with
// parent/clade adjacency rebuilt from the flat edge list on demand.
//
// Children of a node are partitioned into clades, each clade holding
// the edges into one mutually-exclusive descendant set. BuildConnections
// validates that structure (no self-loops, no duplicate edges, no empty
// clades, exactly one root) and ReindexPreorder renumbers nodes into
// preorder once it has.
package dag

import (
	"errors"
	"fmt"

	"github.com/matsengrp/larch/logger"
)

// NoID marks an unset id.
const NoID = -1

type NodeID int
type EdgeID int
type CladeIdx int

var (
	// ErrMissingUA is returned by Root when the store has no
	// parentless node at all.
	ErrMissingUA = errors.New("dag: no root (parentless) node")
	// ErrDuplicateRoot is returned by BuildConnections when more than
	// one node has no parent edges.
	ErrDuplicateRoot = errors.New("dag: more than one parentless node")
	// ErrEmptyClade is returned by BuildConnections when a node's
	// clade list has a gap or trailing empty clade.
	ErrEmptyClade = errors.New("dag: node has an empty clade")
	// ErrSelfLoop is returned by BuildConnections for an edge whose
	// parent equals its child.
	ErrSelfLoop = errors.New("dag: edge has identical parent and child")
	// ErrMissingEndpoint is returned by BuildConnections for an edge
	// referencing a node id outside the arena.
	ErrMissingEndpoint = errors.New("dag: edge references a node outside the arena")
	// ErrDuplicateEdge is returned by BuildConnections when two edges
	// share the same (parent, child) pair, violating the "DAG is
	// simple" invariant.
	ErrDuplicateEdge = errors.New("dag: duplicate (parent, child) edge")
)

type edgeData struct {
	parent, child NodeID
	clade         CladeIdx
}

type nodeData struct {
	parentEdges []EdgeID
	clades      [][]EdgeID
	sampleID    string
	hasSampleID bool
}

// Store is the arena: nodes and edges live in append-only slices and
// are addressed by their index for the lifetime of a merge.
type Store struct {
	nodes []nodeData
	edges []edgeData
	built bool
}

func New() *Store {
	return &Store{}
}

// AppendNode reserves the next node id. Its clade/parent adjacency is
// populated later by BuildConnections once all edges are known.
func (s *Store) AppendNode() NodeID {
	s.nodes = append(s.nodes, nodeData{})
	s.built = false
	return NodeID(len(s.nodes) - 1)
}

// AppendEdge reserves the next edge id for (parent, child) at the
// given clade index of parent. The DAG is not required to be
// consistent until BuildConnections succeeds.
func (s *Store) AppendEdge(parent, child NodeID, clade CladeIdx) EdgeID {
	s.edges = append(s.edges, edgeData{parent: parent, child: child, clade: clade})
	s.built = false
	return EdgeID(len(s.edges) - 1)
}

func (s *Store) NodeCount() int { return len(s.nodes) }
func (s *Store) EdgeCount() int { return len(s.edges) }

func (s *Store) SetSampleID(n NodeID, id string) {
	s.nodes[n].sampleID = id
	s.nodes[n].hasSampleID = true
}

func (s *Store) SampleID(n NodeID) (string, bool) {
	return s.nodes[n].sampleID, s.nodes[n].hasSampleID
}

func (s *Store) Endpoints(e EdgeID) (parent, child NodeID, clade CladeIdx) {
	d := s.edges[e]
	return d.parent, d.child, d.clade
}

func (s *Store) Parent(e EdgeID) NodeID { return s.edges[e].parent }
func (s *Store) Child(e EdgeID) NodeID  { return s.edges[e].child }
func (s *Store) Clade(e EdgeID) CladeIdx { return s.edges[e].clade }

// ParentEdges returns the edge ids whose child is n. Valid only after
// BuildConnections.
func (s *Store) ParentEdges(n NodeID) []EdgeID {
	return s.nodes[n].parentEdges
}

// Clades returns n's ordered clade list, each clade an ordered list of
// child-edge ids. Valid only after BuildConnections.
func (s *Store) Clades(n NodeID) [][]EdgeID {
	return s.nodes[n].clades
}

// IsLeaf reports whether n has no (non-empty) clades.
func (s *Store) IsLeaf(n NodeID) bool {
	return len(s.nodes[n].clades) == 0
}

// IsTree reports whether every node has at most one parent edge, i.e.
// the DAG expresses exactly one tree rather than a shared history of
// several.
func (s *Store) IsTree() bool {
	for i := range s.nodes {
		if len(s.nodes[i].parentEdges) > 1 {
			return false
		}
	}
	return true
}

// BuildConnections rebuilds every node's parent-edge list and clade
// lists from the flat edge vector, validating the structural
// invariants a well-formed DAG must satisfy: no self-loops, no edges
// to out-of-range nodes, no duplicate (parent,child) pairs, no empty
// clades, and exactly one parentless (root/UA) node.
func (s *Store) BuildConnections() error {
	if err := s.buildConnections(); err != nil {
		l := logger.Logger()
		l.Err(err).Int("nodes", len(s.nodes)).Int("edges", len(s.edges)).Msg("build connections failed")
		return err
	}
	return nil
}

func (s *Store) buildConnections() error {
	for i := range s.nodes {
		s.nodes[i].parentEdges = nil
		s.nodes[i].clades = nil
	}

	seenPairs := make(map[[2]NodeID]struct{}, len(s.edges))
	for i, e := range s.edges {
		if int(e.parent) < 0 || int(e.parent) >= len(s.nodes) ||
			int(e.child) < 0 || int(e.child) >= len(s.nodes) {
			return fmt.Errorf("%w: edge %d", ErrMissingEndpoint, i)
		}
		if e.parent == e.child {
			return fmt.Errorf("%w: edge %d (node %d)", ErrSelfLoop, i, e.parent)
		}
		pair := [2]NodeID{e.parent, e.child}
		if _, dup := seenPairs[pair]; dup {
			return fmt.Errorf("%w: parent=%d child=%d", ErrDuplicateEdge, e.parent, e.child)
		}
		seenPairs[pair] = struct{}{}

		s.nodes[e.child].parentEdges = append(s.nodes[e.child].parentEdges, EdgeID(i))

		clades := &s.nodes[e.parent].clades
		for len(*clades) <= int(e.clade) {
			*clades = append(*clades, nil)
		}
		(*clades)[e.clade] = append((*clades)[e.clade], EdgeID(i))
	}

	rootCount := 0
	for i, n := range s.nodes {
		if len(n.parentEdges) == 0 {
			rootCount++
			if rootCount > 1 {
				return fmt.Errorf("%w", ErrDuplicateRoot)
			}
			_ = i
		}
		for _, clade := range n.clades {
			if len(clade) == 0 {
				return fmt.Errorf("%w: node %d", ErrEmptyClade, i)
			}
		}
	}
	if rootCount == 0 && len(s.nodes) > 0 {
		return fmt.Errorf("%w", ErrMissingUA)
	}

	s.built = true
	return nil
}

// Root returns the unique parentless node. Requires BuildConnections
// to have succeeded.
func (s *Store) Root() (NodeID, error) {
	if !s.built {
		if err := s.BuildConnections(); err != nil {
			return 0, err
		}
	}
	for i, n := range s.nodes {
		if len(n.parentEdges) == 0 {
			return NodeID(i), nil
		}
	}
	return 0, ErrMissingUA
}

// Roots returns every parentless node id, regardless of how many there
// are. Unlike Root, it never fails on ErrDuplicateRoot/ErrMissingUA:
// it's the plural, inspection-oriented accessor for callers (tests,
// diagnostics) that want to see which nodes are violating the
// single-root invariant rather than just getting an error. Reads each
// node's parentEdges list directly, so it reflects whatever the most
// recent BuildConnections computed (parentEdges is only populated
// there); call BuildConnections first if edges have changed since.
func (s *Store) Roots() []NodeID {
	var roots []NodeID
	for i, n := range s.nodes {
		if len(n.parentEdges) == 0 {
			roots = append(roots, NodeID(i))
		}
	}
	return roots
}

// ReindexPreorder renumbers nodes by a DFS preorder from the root and
// rewrites every edge's endpoints accordingly. Edge ids are
// reassigned too, in the order their (new) parent node is first
// visited and, within a node, by clade then position -- this keeps
// the "first edge in a clade" notion trim/sample relies on stable
// across a reindex.
func (s *Store) ReindexPreorder() error {
	root, err := s.Root()
	if err != nil {
		return err
	}

	order := make([]NodeID, 0, len(s.nodes))
	visited := make([]bool, len(s.nodes))
	var stack []NodeID
	stack = append(stack, root)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		order = append(order, n)
		clades := s.nodes[n].clades
		for i := len(clades) - 1; i >= 0; i-- {
			clade := clades[i]
			for j := len(clade) - 1; j >= 0; j-- {
				child := s.edges[clade[j]].child
				if !visited[child] {
					stack = append(stack, child)
				}
			}
		}
	}

	remap := make([]NodeID, len(s.nodes))
	for newID, oldID := range order {
		remap[oldID] = NodeID(newID)
	}

	newEdges := make([]edgeData, 0, len(s.edges))
	for _, oldID := range order {
		for _, clade := range s.nodes[oldID].clades {
			for _, e := range clade {
				d := s.edges[e]
				newEdges = append(newEdges, edgeData{
					parent: remap[d.parent],
					child:  remap[d.child],
					clade:  d.clade,
				})
			}
		}
	}

	newNodes := make([]nodeData, len(s.nodes))
	for oldID, newID := range remap {
		newNodes[newID] = nodeData{
			sampleID:    s.nodes[oldID].sampleID,
			hasSampleID: s.nodes[oldID].hasSampleID,
		}
	}

	s.nodes = newNodes
	s.edges = newEdges
	s.built = false
	return s.BuildConnections()
}
