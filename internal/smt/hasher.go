// Package smt implements the fixed-depth sparse Merkle trees backing the
// rollup state: an outer tree over account ids whose leaves embed an inner
// tree over token ids.
package smt

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/djkazic/zkrollup-go/internal/ff"
)

// Tree depths. The outer tree is keyed by account id, the inner tree by
// token id; both bounds are verifier configuration and must not change.
const (
	AccountTreeDepth = 24
	BalanceTreeDepth = 24
)

// Personalization domains. Outer and inner trees use disjoint tags at every
// level so a preimage for one tree can never be replayed in the other.
const (
	PersonalizationAccountTree uint64 = 1
	PersonalizationBalanceTree uint64 = 2
)

const leafLevelTag = 0xffff

// Hasher is the compression function of a Merkle tree. Compress combines two
// child hashes at the given level counted from the leaves; HashLeaf absorbs
// the raw leaf values.
type Hasher interface {
	HashLeaf(values []ff.Fr) ff.Fr
	Compress(left, right ff.Fr, level int) ff.Fr
}

// MimcHasher hashes with the same MiMC sponge the proving circuit uses,
// personalized by tree kind and level.
type MimcHasher struct {
	personalization uint64
}

// NewMimcHasher creates a hasher for the given personalization domain.
func NewMimcHasher(personalization uint64) *MimcHasher {
	return &MimcHasher{personalization: personalization}
}

func (h *MimcHasher) tag(level uint64) ff.Fr {
	return ff.FromUint64(h.personalization<<32 | level)
}

// HashLeaf absorbs the leaf values under the leaf-level tag.
func (h *MimcHasher) HashLeaf(values []ff.Fr) ff.Fr {
	sponge := mimc.NewMiMC()
	tag := h.tag(leafLevelTag)
	tagBytes := tag.Bytes()
	sponge.Write(tagBytes[:])
	for i := range values {
		b := values[i].Bytes()
		sponge.Write(b[:])
	}
	return sumToFr(sponge.Sum(nil))
}

// Compress combines two sibling hashes at the given level.
func (h *MimcHasher) Compress(left, right ff.Fr, level int) ff.Fr {
	sponge := mimc.NewMiMC()
	tag := h.tag(uint64(level))
	tagBytes := tag.Bytes()
	lb := left.Bytes()
	rb := right.Bytes()
	sponge.Write(tagBytes[:])
	sponge.Write(lb[:])
	sponge.Write(rb[:])
	return sumToFr(sponge.Sum(nil))
}

func sumToFr(sum []byte) ff.Fr {
	var e ff.Fr
	e.SetBytes(sum)
	return e
}
