package leafset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matsengrp/larch/compactgenome"
)

func cg(n byte) *compactgenome.CompactGenome {
	return compactgenome.NewFromMutations([]compactgenome.Mutation{{Pos: compactgenome.Position(n), Base: 'A'}})
}

func TestEmptyLeafSet(t *testing.T) {
	assert := require.New(t)
	ls := Empty()
	assert.True(ls.Empty())
	assert.Equal(0, ls.Len())
}

func TestBuilderSortsAndDedupesWithinClade(t *testing.T) {
	assert := require.New(t)
	a, b := cg(1), cg(2)
	ls := NewBuilder().AddClade([]*compactgenome.CompactGenome{b, a, a}).Build()
	assert.Equal(1, ls.Len())
	clade := ls.Clades()[0]
	assert.Len(clade, 2)
}

func TestBuilderOrdersCladesByContentNotInsertionOrder(t *testing.T) {
	assert := require.New(t)
	a, b, c := cg(1), cg(2), cg(3)

	ls1 := NewBuilder().
		AddClade([]*compactgenome.CompactGenome{c}).
		AddClade([]*compactgenome.CompactGenome{a, b}).
		Build()
	ls2 := NewBuilder().
		AddClade([]*compactgenome.CompactGenome{a, b}).
		AddClade([]*compactgenome.CompactGenome{c}).
		Build()

	assert.True(ls1.Equal(ls2))
	assert.Equal(ls1.Hash(), ls2.Hash())
}

func TestToParentCladeFlattensAndDedupes(t *testing.T) {
	assert := require.New(t)
	a, b, c := cg(1), cg(2), cg(3)
	ls := NewBuilder().
		AddClade([]*compactgenome.CompactGenome{a, b}).
		AddClade([]*compactgenome.CompactGenome{b, c}).
		Build()

	flat := ls.ToParentClade()
	assert.Len(flat, 3)
}

func TestEqualDistinguishesDifferentLeafSets(t *testing.T) {
	assert := require.New(t)
	a, b, c := cg(1), cg(2), cg(3)
	ls1 := NewBuilder().AddClade([]*compactgenome.CompactGenome{a, b}).Build()
	ls2 := NewBuilder().AddClade([]*compactgenome.CompactGenome{a, c}).Build()
	assert.False(ls1.Equal(ls2))
}
