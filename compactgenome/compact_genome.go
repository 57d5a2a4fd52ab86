// Package compactgenome implements the compact genome (CG): a sparse,
// reference-relative diff that is the sole carrier of sequence
// information on an hDAG node.
//
// A CompactGenome holds a sorted (position, base) list, is built either
// directly or by applying an edge's mutations onto a parent, hashes on
// that list alone, and derives the edge mutations between two genomes
// as a symmetric difference.
package compactgenome

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/exp/slices"

	"github.com/matsengrp/larch/seq"
)

// ErrInvalidMutation is returned when a stored mutation's base equals
// the reference base at that position -- such an entry could never
// have arisen from a real diff and would corrupt hashing/equality.
var ErrInvalidMutation = errors.New("compactgenome: mutation base equals reference base")

// Position is a 1-indexed site in the reference sequence.
type Position int

// Mutation is a single (position, base) entry of a compact genome:
// the base actually present at pos, which by construction always
// differs from the reference.
type Mutation struct {
	Pos  Position
	Base seq.Base
}

var canonicalEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compactgenome: building canonical cbor encoder: %v", err))
	}
	return mode
}()

// CompactGenome is an immutable, content-addressed sparse diff against
// a shared reference sequence. Two compact genomes are equal iff their
// mutation lists are equal; construction guarantees the list is sorted
// by position with no two entries sharing a position.
type CompactGenome struct {
	mutations []Mutation
	hash      uint64
}

// Empty returns the compact genome identical to the reference.
func Empty() *CompactGenome {
	return &CompactGenome{mutations: nil, hash: computeHash(nil)}
}

// NewFromMutations builds a CompactGenome from an already-sorted,
// already-validated mutation list, trusting the caller. Callers that
// cannot vouch for the list should go through NewFromParent instead.
func NewFromMutations(sorted []Mutation) *CompactGenome {
	muts := make([]Mutation, len(sorted))
	copy(muts, sorted)
	return &CompactGenome{mutations: muts, hash: computeHash(muts)}
}

// NewFromParent derives a child compact genome from a parent CG and an
// edge-mutation set, applying each mutation against the reference:
// positions whose new base equals the reference are dropped, others
// are inserted/updated, and the result stays sorted by position.
func NewFromParent(parent *CompactGenome, edge *EdgeMutations, ref seq.Reference) (*CompactGenome, error) {
	byPos := make(map[Position]seq.Base, len(parent.mutations)+edge.Len())
	for _, m := range parent.mutations {
		byPos[m.Pos] = m.Base
	}
	for _, em := range edge.entries {
		refBase := ref.At(int(em.Pos))
		if em.ChildBase == refBase {
			delete(byPos, em.Pos)
			continue
		}
		byPos[em.Pos] = em.ChildBase
	}

	muts := make([]Mutation, 0, len(byPos))
	for pos, base := range byPos {
		muts = append(muts, Mutation{Pos: pos, Base: base})
	}
	slices.SortFunc(muts, func(a, b Mutation) bool { return a.Pos < b.Pos })

	for _, m := range muts {
		if m.Base == ref.At(int(m.Pos)) {
			return nil, fmt.Errorf("%w: position %d", ErrInvalidMutation, m.Pos)
		}
	}

	return &CompactGenome{mutations: muts, hash: computeHash(muts)}, nil
}

// BaseAt returns the base at pos and true if pos is a mutated site, or
// (0, false) if the genome agrees with the reference there.
func (cg *CompactGenome) BaseAt(pos Position) (seq.Base, bool) {
	i := sort.Search(len(cg.mutations), func(i int) bool { return cg.mutations[i].Pos >= pos })
	if i < len(cg.mutations) && cg.mutations[i].Pos == pos {
		return cg.mutations[i].Base, true
	}
	return 0, false
}

// Mutations returns the sorted mutation list. The slice is owned by
// the CompactGenome and must not be mutated by callers.
func (cg *CompactGenome) Mutations() []Mutation {
	return cg.mutations
}

func (cg *CompactGenome) Len() int {
	return len(cg.mutations)
}

func (cg *CompactGenome) Empty() bool {
	return len(cg.mutations) == 0
}

// Equal reports whether two compact genomes carry the same mutation
// list. Hash is checked first as a cheap short-circuit.
func (cg *CompactGenome) Equal(other *CompactGenome) bool {
	if cg == other {
		return true
	}
	if cg == nil || other == nil {
		return false
	}
	if cg.hash != other.hash || len(cg.mutations) != len(other.mutations) {
		return false
	}
	for i := range cg.mutations {
		if cg.mutations[i] != other.mutations[i] {
			return false
		}
	}
	return true
}

// Hash returns an order-sensitive content hash of the mutation list:
// the list is canonically CBOR-encoded (a deterministic byte
// representation of the ordered (pos,base) pairs) and reduced with
// FNV-1a.
func (cg *CompactGenome) Hash() uint64 {
	return cg.hash
}

func computeHash(muts []Mutation) uint64 {
	type wireMutation struct {
		Pos  int
		Base byte
	}
	wire := make([]wireMutation, len(muts))
	for i, m := range muts {
		wire[i] = wireMutation{Pos: int(m.Pos), Base: byte(m.Base)}
	}
	encoded, err := canonicalEncMode.Marshal(wire)
	if err != nil {
		panic(fmt.Sprintf("compactgenome: canonical cbor encode failed: %v", err))
	}
	h := fnv.New64a()
	_, _ = h.Write(encoded)
	return h.Sum64()
}

// Copy returns an independent CompactGenome with the same content.
// Because CompactGenome is immutable and interned for the lifetime of
// a merge, this mostly exists for callers (e.g. the subtree-extraction
// algorithm) that want an owned value outside the intern table.
func (cg *CompactGenome) Copy() *CompactGenome {
	return NewFromMutations(cg.mutations)
}

// ToEdgeMutations derives the minimal edge-mutation set between a
// parent and child compact genome: the symmetric difference of their
// mutation lists, resolved against the reference for positions only
// one side mutates.
func ToEdgeMutations(ref seq.Reference, parent, child *CompactGenome) *EdgeMutations {
	result := NewEdgeMutations()

	i, j := 0, 0
	for i < len(parent.mutations) || j < len(child.mutations) {
		var pos Position
		switch {
		case i >= len(parent.mutations):
			pos = child.mutations[j].Pos
		case j >= len(child.mutations):
			pos = parent.mutations[i].Pos
		case parent.mutations[i].Pos <= child.mutations[j].Pos:
			pos = parent.mutations[i].Pos
		default:
			pos = child.mutations[j].Pos
		}

		parentBase := ref.At(int(pos))
		if i < len(parent.mutations) && parent.mutations[i].Pos == pos {
			parentBase = parent.mutations[i].Base
			i++
		}
		childBase := ref.At(int(pos))
		if j < len(child.mutations) && child.mutations[j].Pos == pos {
			childBase = child.mutations[j].Base
			j++
		}

		if parentBase != childBase {
			result.Insert(pos, parentBase, childBase)
		}
	}

	return result
}
