// Package seq defines the reference-sequence type every compact genome
// and edge-mutation set is expressed relative to.
package seq

import "fmt"

// Base is a single nucleotide. Larch supports the four unambiguous DNA
// bases plus N (fully ambiguous); no other IUPAC ambiguity codes are
// modeled.
type Base byte

const (
	A Base = 'A'
	C Base = 'C'
	G Base = 'G'
	T Base = 'T'
	N Base = 'N'
)

// IsAmbiguous reports whether b carries no information about the base
// actually present (used by ParsimonyScore's ambiguity rule).
func (b Base) IsAmbiguous() bool {
	return b == N
}

func (b Base) Valid() bool {
	switch b {
	case A, C, G, T, N:
		return true
	default:
		return false
	}
}

func (b Base) String() string {
	if !b.Valid() {
		return fmt.Sprintf("Base(%d)", byte(b))
	}
	return string(rune(b))
}

// Reference is an ordered, 1-indexed sequence of bases, owned
// externally to any one MADAG/merge session and shared by every
// compact genome derived from it.
type Reference []Base

// FromString builds a Reference from a byte string of upper-case
// {A,C,G,T,N} characters.
func FromString(s string) Reference {
	r := make(Reference, len(s))
	for i := 0; i < len(s); i++ {
		r[i] = Base(s[i])
	}
	return r
}

// At returns the reference base at 1-indexed position pos. Positions
// outside [1, len(r)] are a programming error, not recoverable input:
// callers are expected to only ever look up positions derived from
// mutation sets built against this same reference.
func (r Reference) At(pos int) Base {
	return r[pos-1]
}

func (r Reference) Len() int {
	return len(r)
}

func (r Reference) String() string {
	b := make([]byte, len(r))
	for i, base := range r {
		b[i] = byte(base)
	}
	return string(b)
}

// Equal reports byte-for-byte equality, the requirement merge.AddDAGs
// imposes across all of its inputs.
func (r Reference) Equal(other Reference) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}
