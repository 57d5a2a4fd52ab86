package madag

import (
	"github.com/matsengrp/larch/compactgenome"
	"github.com/matsengrp/larch/dag"
)

// Fragment projects m onto the sub-DAG reachable from root, carrying
// along CGs/EdgeMuts (whichever are present) via dag.Fragment's
// node/edge remap. Used by merge.AddDAG to splice the mutation-
// bearing content of an incoming tree -- skipping its own synthetic
// UA node -- under an existing result node.
func Fragment(m *MADAG, root dag.NodeID) (*MADAG, error) {
	frag, nodeRemap, edgeOrigin := dag.Fragment(m.DAG, root)
	if err := frag.BuildConnections(); err != nil {
		return nil, err
	}

	result := &MADAG{Ref: m.Ref, DAG: frag}
	if m.CGs != nil {
		cgs := make([]*compactgenome.CompactGenome, len(nodeRemap))
		for oldID, newID := range nodeRemap {
			cgs[newID] = m.CGs[oldID]
		}
		result.CGs = cgs
	}
	if m.EdgeMuts != nil {
		edgeMuts := make([]*compactgenome.EdgeMutations, len(edgeOrigin))
		for newID, oldID := range edgeOrigin {
			edgeMuts[newID] = m.EdgeMuts[oldID]
		}
		result.EdgeMuts = edgeMuts
	}
	return result, nil
}
