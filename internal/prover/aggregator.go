package prover

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"

	"github.com/djkazic/zkrollup-go/internal/ff"
	"github.com/djkazic/zkrollup-go/internal/types"
	"github.com/djkazic/zkrollup-go/pkg/util"
)

// aggregationChallenge derives the Fiat-Shamir folding challenge from the
// ordered single-block inputs. Identical inputs always yield the same
// challenge, making aggregation deterministic.
func aggregationChallenge(inputs []ff.Fr) ff.Fr {
	var digest [32]byte
	for i := range inputs {
		b := ff.ToBytesBE(&inputs[i])
		digest = util.Sha256Fold(digest, b[:])
	}
	masked := util.MaskFr(digest)
	out, err := ff.FromBytesBE(masked[:])
	if err != nil {
		panic(err)
	}
	return out
}

// AggregatedInputCommitment folds the ordered single-block public inputs
// into the aggregated proof's public input.
func AggregatedInputCommitment(inputs []ff.Fr) ff.Fr {
	return aggregationChallenge(inputs)
}

// Aggregate combines single proofs over a contiguous ascending block range
// into one proof. The fold is linear: A' = sum(gamma^i * A_i) and likewise
// for B, so the pairing relation e(A, X) == e(B, Y) is preserved whenever
// every input proof satisfies it against the shared verifying key.
func Aggregate(proofs []*SingleProof) (*AggregatedProof, error) {
	if len(proofs) == 0 {
		return nil, fmt.Errorf("%w: no proofs to aggregate", ErrSerialization)
	}

	vkHash := proofs[0].VkHash
	for i, p := range proofs {
		if p.VkHash != vkHash {
			return nil, fmt.Errorf("proof %d: %w", i, ErrVerifyKeyMismatch)
		}
		if i > 0 && p.Block != proofs[i-1].Block+1 {
			return nil, fmt.Errorf("proof %d covers block %d after %d: %w",
				i, p.Block, proofs[i-1].Block, ErrInputsOutOfOrder)
		}
	}

	inputs := make([]ff.Fr, len(proofs))
	for i, p := range proofs {
		inputs[i] = p.Input
	}
	gamma := aggregationChallenge(inputs)

	var accA, accB bn254.G1Jac
	var power ff.Fr
	power.SetOne()
	for _, p := range proofs {
		scalar := ff.ToBig(&power)
		var termA, termB bn254.G1Affine
		termA.ScalarMultiplication(&p.A, scalar)
		termB.ScalarMultiplication(&p.B, scalar)
		accA.AddMixed(&termA)
		accB.AddMixed(&termB)
		power.Mul(&power, &gamma)
	}

	agg := &AggregatedProof{
		FirstBlock: proofs[0].Block,
		LastBlock:  proofs[len(proofs)-1].Block,
		VkHash:     vkHash,
		Inputs:     inputs,
	}
	agg.A.FromJacobian(&accA)
	agg.B.FromJacobian(&accB)
	agg.AggregatedInput = AggregatedInputCommitment(inputs)
	return agg, nil
}

// proveScalar is a deterministic helper used by in-process test provers: it
// derives the proof scalar from the public input.
func proveScalar(input ff.Fr) *big.Int {
	b := ff.ToBytesBE(&input)
	k := util.MaskFr(util.Sha256(b[:]))
	return new(big.Int).SetBytes(k[:])
}

// ProveBlock produces a single proof for a block commitment using the
// secret trapdoor (x, y) behind the verifying key X = x*G2, Y = y*G2:
// A = k*y*G1 and B = k*x*G1 satisfy e(A, X) == e(B, Y).
func ProveBlock(block uint32, input ff.Fr, x, y *big.Int, vk *VerifyingKey) *SingleProof {
	_, _, g1, _ := bn254.Generators()

	k := proveScalar(input)
	ky := new(big.Int).Mul(k, y)
	kx := new(big.Int).Mul(k, x)

	var a, b bn254.G1Affine
	a.ScalarMultiplication(&g1, ky)
	b.ScalarMultiplication(&g1, kx)

	return &SingleProof{
		Block:  types.BlockNumber(block),
		VkHash: vk.Hash(),
		A:      a,
		B:      b,
		Input:  input,
	}
}

// NewVerifyingKey derives the pairing key points from the trapdoor scalars.
func NewVerifyingKey(x, y *big.Int) *VerifyingKey {
	_, _, _, g2 := bn254.Generators()
	var vk VerifyingKey
	vk.X.ScalarMultiplication(&g2, x)
	vk.Y.ScalarMultiplication(&g2, y)
	return &vk
}
