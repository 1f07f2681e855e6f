package prover

import (
	"errors"
	"math/big"
	"testing"

	"github.com/djkazic/zkrollup-go/internal/ff"
)

func testKey() (*VerifyingKey, *big.Int, *big.Int) {
	x := big.NewInt(1299709)
	y := big.NewInt(15485863)
	return NewVerifyingKey(x, y), x, y
}

func testProofs(t *testing.T, n int) ([]*SingleProof, *VerifyingKey) {
	t.Helper()
	vk, x, y := testKey()
	proofs := make([]*SingleProof, n)
	for i := 0; i < n; i++ {
		input := ff.FromUint64(uint64(1000 + i))
		proofs[i] = ProveBlock(uint32(i+1), input, x, y, vk)
	}
	return proofs, vk
}

func TestSingleProofVerifies(t *testing.T) {
	proofs, vk := testProofs(t, 1)
	ok, err := proofs[0].Verify(vk)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}

	// A different key is rejected by hash before any pairing work.
	other := NewVerifyingKey(big.NewInt(3), big.NewInt(5))
	if _, err := proofs[0].Verify(other); !errors.Is(err, ErrVerifyKeyMismatch) {
		t.Errorf("err = %v, want ErrVerifyKeyMismatch", err)
	}
}

func TestAggregateVerifies(t *testing.T) {
	proofs, vk := testProofs(t, 4)

	agg, err := Aggregate(proofs)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.FirstBlock != 1 || agg.LastBlock != 4 {
		t.Errorf("range = [%d,%d], want [1,4]", agg.FirstBlock, agg.LastBlock)
	}
	ok, err := agg.Verify(vk)
	if err != nil || !ok {
		t.Fatalf("aggregated Verify = %v, %v", ok, err)
	}
	want := AggregatedInputCommitment([]ff.Fr{
		proofs[0].Input, proofs[1].Input, proofs[2].Input, proofs[3].Input,
	})
	if !agg.AggregatedInput.Equal(&want) {
		t.Error("aggregated input does not commit to the ordered inputs")
	}
}

func TestAggregateDeterministic(t *testing.T) {
	proofs, _ := testProofs(t, 3)

	a, err := Aggregate(proofs)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Aggregate(proofs)
	if err != nil {
		t.Fatal(err)
	}
	if !a.A.Equal(&b.A) || !a.B.Equal(&b.B) || !a.AggregatedInput.Equal(&b.AggregatedInput) {
		t.Error("aggregation is not deterministic")
	}
}

func TestAggregateRejectsOutOfOrder(t *testing.T) {
	proofs, _ := testProofs(t, 3)
	proofs[1], proofs[2] = proofs[2], proofs[1]
	if _, err := Aggregate(proofs); !errors.Is(err, ErrInputsOutOfOrder) {
		t.Errorf("err = %v, want ErrInputsOutOfOrder", err)
	}

	// A gap is also out of order.
	gapped, _ := testProofs(t, 3)
	gapped[2].Block = 7
	if _, err := Aggregate(gapped[:3]); !errors.Is(err, ErrInputsOutOfOrder) {
		t.Errorf("gap err = %v, want ErrInputsOutOfOrder", err)
	}
}

func TestAggregateRejectsMixedKeys(t *testing.T) {
	proofs, _ := testProofs(t, 2)
	other := NewVerifyingKey(big.NewInt(11), big.NewInt(13))
	proofs[1].VkHash = other.Hash()
	if _, err := Aggregate(proofs); !errors.Is(err, ErrVerifyKeyMismatch) {
		t.Errorf("err = %v, want ErrVerifyKeyMismatch", err)
	}
}

func TestSingleProofSerialization(t *testing.T) {
	proofs, _ := testProofs(t, 1)
	p := proofs[0]
	p.Evaluations = []ff.Fr{ff.FromUint64(5), ff.FromUint64(9)}

	data := p.Serialize()
	parsed, err := ParseSingleProof(data)
	if err != nil {
		t.Fatalf("ParseSingleProof: %v", err)
	}
	if parsed.Block != p.Block || parsed.VkHash != p.VkHash {
		t.Error("header round trip mismatch")
	}
	if !parsed.A.Equal(&p.A) || !parsed.B.Equal(&p.B) {
		t.Error("group element round trip mismatch")
	}
	if len(parsed.Evaluations) != 2 || !parsed.Evaluations[1].Equal(&p.Evaluations[1]) {
		t.Error("evaluations round trip mismatch")
	}
	if !parsed.Input.Equal(&p.Input) {
		t.Error("input round trip mismatch")
	}

	if _, err := ParseSingleProof(data[:10]); !errors.Is(err, ErrSerialization) {
		t.Errorf("truncated err = %v, want ErrSerialization", err)
	}
	bad := append([]byte(nil), data...)
	bad[0] = 9
	if _, err := ParseSingleProof(bad); !errors.Is(err, ErrSerialization) {
		t.Errorf("version err = %v, want ErrSerialization", err)
	}
}

func TestAggregatedProofSerialization(t *testing.T) {
	proofs, _ := testProofs(t, 2)
	agg, err := Aggregate(proofs)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseAggregatedProof(agg.Serialize())
	if err != nil {
		t.Fatalf("ParseAggregatedProof: %v", err)
	}
	if parsed.FirstBlock != agg.FirstBlock || parsed.LastBlock != agg.LastBlock {
		t.Error("range round trip mismatch")
	}
	if !parsed.A.Equal(&agg.A) || !parsed.AggregatedInput.Equal(&agg.AggregatedInput) {
		t.Error("content round trip mismatch")
	}
	if len(parsed.Inputs) != 2 {
		t.Errorf("inputs = %d, want 2", len(parsed.Inputs))
	}
}
