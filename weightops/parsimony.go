package weightops

import (
	"github.com/matsengrp/larch/dag"
	"github.com/matsengrp/larch/madag"
)

// ParsimonyScore is the Ops[int] instantiation: total mutation count,
// minimized at every clade.
//
// ComputeEdge excludes a mutation from the count when its edge's
// child is a leaf whose base at that position is ambiguous while the
// parent's base is not -- an ambiguous leaf call is not evidence of an
// actual substitution.
type ParsimonyScore struct{}

func (ParsimonyScore) ComputeLeaf(*madag.MADAG, dag.NodeID) int { return 0 }

func (ParsimonyScore) ComputeEdge(m *madag.MADAG, e dag.EdgeID) int {
	_, child, _ := m.DAG.Endpoints(e)
	childIsLeaf := m.DAG.IsLeaf(child)
	count := 0
	for _, em := range m.EdgeMuts[e].Entries() {
		if childIsLeaf && em.ChildBase.IsAmbiguous() && !em.ParentBase.IsAmbiguous() {
			continue
		}
		count++
	}
	return count
}

func (ParsimonyScore) WithinCladeAccumOptimum(weights []int) (int, []int) {
	best := weights[0]
	for _, w := range weights[1:] {
		if w < best {
			best = w
		}
	}
	var idx []int
	for i, w := range weights {
		if w == best {
			idx = append(idx, i)
		}
	}
	return best, idx
}

func (ParsimonyScore) BetweenClades(weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	return total
}

func (ParsimonyScore) AboveNode(edgeWeight, childWeight int) int {
	return edgeWeight + childWeight
}

func (ParsimonyScore) Identity() int { return 0 }
