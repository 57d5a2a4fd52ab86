package compactgenome

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/matsengrp/larch/seq"
)

func TestEmpty(t *testing.T) {
	assert := require.New(t)
	cg := Empty()
	assert.True(cg.Empty())
	assert.Equal(0, cg.Len())
}

func TestNewFromParentAppliesAndDropsReferenceMatches(t *testing.T) {
	assert := require.New(t)
	ref := seq.FromString("ACGT")

	em := NewEdgeMutations()
	em.Insert(1, seq.A, seq.G) // A -> G, a real mutation
	em.Insert(2, seq.C, seq.C) // C -> C, a no-op that must be dropped

	parent := Empty()
	child, err := NewFromParent(parent, em, ref)
	assert.NoError(err)
	assert.Equal(1, child.Len())

	base, ok := child.BaseAt(1)
	assert.True(ok)
	assert.Equal(seq.G, base)

	_, ok = child.BaseAt(2)
	assert.False(ok)
}

func TestNewFromParentRejectsMutationEqualToReference(t *testing.T) {
	assert := require.New(t)
	ref := seq.FromString("ACGT")

	em := NewEdgeMutations()
	em.Insert(1, seq.A, seq.A)
	parent := Empty()

	_, err := NewFromParent(parent, em, ref)
	assert.ErrorIs(err, ErrInvalidMutation)
}

func TestEqualAndHash(t *testing.T) {
	assert := require.New(t)
	a := NewFromMutations([]Mutation{{Pos: 3, Base: seq.T}})
	b := NewFromMutations([]Mutation{{Pos: 3, Base: seq.T}})
	c := NewFromMutations([]Mutation{{Pos: 3, Base: seq.G}})

	assert.True(a.Equal(b))
	assert.Equal(a.Hash(), b.Hash())
	assert.False(a.Equal(c))
}

func TestCopyIsIndependentButEqual(t *testing.T) {
	assert := require.New(t)
	a := NewFromMutations([]Mutation{{Pos: 5, Base: seq.C}})
	b := a.Copy()
	assert.True(a.Equal(b))
	assert.NotSame(a, b)
}

func TestToEdgeMutationsRoundTrips(t *testing.T) {
	assert := require.New(t)
	ref := seq.FromString("AAAA")

	parent := NewFromMutations([]Mutation{{Pos: 1, Base: seq.C}})
	child := NewFromMutations([]Mutation{{Pos: 1, Base: seq.C}, {Pos: 3, Base: seq.G}})

	em := ToEdgeMutations(ref, parent, child)
	assert.Equal(1, em.Len())
	assert.Equal(Position(3), em.Entries()[0].Pos)
	assert.Equal(seq.A, em.Entries()[0].ParentBase)
	assert.Equal(seq.G, em.Entries()[0].ChildBase)

	derived, err := NewFromParent(parent, em, ref)
	assert.NoError(err)
	assert.True(derived.Equal(child))
}

func TestEdgeMutationsValidate(t *testing.T) {
	assert := require.New(t)
	ref := seq.FromString("AAAA")
	parent := NewFromMutations([]Mutation{{Pos: 2, Base: seq.T}})

	em := NewEdgeMutations()
	em.Insert(2, seq.T, seq.G)
	assert.NoError(em.Validate(ref, parent))

	bad := NewEdgeMutations()
	bad.Insert(2, seq.A, seq.G) // parent is actually T at position 2, not A
	assert.ErrorIs(bad.Validate(ref, parent), ErrInconsistentMutations)
}

// genomeFromChoices builds a CompactGenome against ref by, at every
// position, picking one of four bases (choices[i] % 4); choices that
// land on the reference base leave that position unmutated, the same
// way a real sample's sequence agrees with the reference almost
// everywhere.
func genomeFromChoices(ref seq.Reference, choices []int) *CompactGenome {
	bases := [4]seq.Base{seq.A, seq.C, seq.G, seq.T}
	var muts []Mutation
	for i, c := range choices {
		pos := Position(i + 1)
		base := bases[c%4]
		if base != ref.At(int(pos)) {
			muts = append(muts, Mutation{Pos: pos, Base: base})
		}
	}
	return NewFromMutations(muts)
}

// TestToEdgeMutationsRoundTripsProperty is the gopter-backed
// round-trip check: for any parent/child pair of compact genomes over
// a shared reference, applying ToEdgeMutations(ref, parent, child)
// back onto parent via NewFromParent reproduces child exactly.
func TestToEdgeMutationsRoundTripsProperty(t *testing.T) {
	ref := seq.FromString("ACGTACGT")

	props := gopter.NewProperties(nil)
	choiceGen := gen.SliceOfN(ref.Len(), gen.IntRange(0, 3))

	props.Property("NewFromParent(parent, ToEdgeMutations(ref,parent,child), ref) == child",
		prop.ForAll(
			func(parentChoices, childChoices []int) bool {
				parent := genomeFromChoices(ref, parentChoices)
				child := genomeFromChoices(ref, childChoices)

				em := ToEdgeMutations(ref, parent, child)
				derived, err := NewFromParent(parent, em, ref)
				if err != nil {
					return false
				}
				return derived.Equal(child)
			},
			choiceGen, choiceGen,
		))

	props.TestingRun(t)
}
