package smt

import (
	"testing"

	"github.com/djkazic/zkrollup-go/internal/ff"
)

func newTestTree(depth int) *SparseMerkleTree[ff.Fr] {
	hasher := NewMimcHasher(PersonalizationBalanceTree)
	var zero ff.Fr
	return NewSparseMerkleTree(depth, hasher, func(v ff.Fr) ff.Fr {
		return hasher.HashLeaf([]ff.Fr{v})
	}, zero)
}

func TestEmptyTreeRootMatchesPrehashed(t *testing.T) {
	tree := newTestTree(8)
	root := tree.Root()
	if !root.Equal(&tree.prehashed[0]) {
		t.Error("empty root differs from precomputed zero hash")
	}
}

func TestInsertMatchesRebuild(t *testing.T) {
	leaves := map[uint64]uint64{0: 10, 3: 7, 200: 99, 255: 1}

	incremental := newTestTree(8)
	for i, v := range leaves {
		incremental.Insert(i, ff.FromUint64(v))
	}
	// Interleave root computations with further inserts to exercise cache
	// invalidation.
	_ = incremental.Root()
	incremental.Insert(3, ff.FromUint64(8))

	rebuilt := newTestTree(8)
	for i, v := range leaves {
		if i == 3 {
			v = 8
		}
		rebuilt.Insert(i, ff.FromUint64(v))
	}

	got := incremental.Root()
	want := rebuilt.Root()
	if !got.Equal(&want) {
		t.Error("incremental root differs from rebuilt root")
	}
}

func TestWitnessRecomputesRoot(t *testing.T) {
	tree := newTestTree(8)
	hasher := NewMimcHasher(PersonalizationBalanceTree)

	for i := uint64(0); i < 20; i += 3 {
		tree.Insert(i, ff.FromUint64(i*i+1))
	}
	root := tree.Root()

	for _, i := range []uint64{0, 3, 18, 7, 255} {
		w := tree.MerkleWitness(i)
		if len(w.Siblings) != 8 {
			t.Fatalf("witness has %d siblings, want 8", len(w.Siblings))
		}
		leafHash := hasher.HashLeaf([]ff.Fr{w.Leaf})
		got := VerifyWitness(hasher, leafHash, w.Siblings, i)
		if !got.Equal(&root) {
			t.Errorf("witness for leaf %d does not recompute the root", i)
		}
	}
}

func TestRemoveRestoresEmptyRoot(t *testing.T) {
	tree := newTestTree(6)
	empty := tree.Root()

	tree.Insert(5, ff.FromUint64(42))
	full := tree.Root()
	if full.Equal(&empty) {
		t.Fatal("insert did not change the root")
	}

	tree.Remove(5)
	got := tree.Root()
	if !got.Equal(&empty) {
		t.Error("root after remove differs from empty root")
	}
}

func TestPersonalizationsDisjoint(t *testing.T) {
	inner := NewMimcHasher(PersonalizationBalanceTree)
	outer := NewMimcHasher(PersonalizationAccountTree)

	l := ff.FromUint64(1)
	r := ff.FromUint64(2)
	a := inner.Compress(l, r, 0)
	b := outer.Compress(l, r, 0)
	if a.Equal(&b) {
		t.Error("outer and inner compression collide at level 0")
	}

	c := inner.Compress(l, r, 1)
	if a.Equal(&c) {
		t.Error("levels 0 and 1 collide within one tree")
	}
}

func TestAccountTreeLeafBindsInnerRoot(t *testing.T) {
	tree := NewAccountTree()
	emptyRoot := tree.Root()

	acc := EmptyCircuitAccount()
	acc.Nonce = ff.FromUint64(1)
	acc.SetBalance(5, ff.FromUint64(100))
	tree.Insert(0, acc)
	before := tree.Root()
	if before.Equal(&emptyRoot) {
		t.Fatal("populated account did not change the outer root")
	}

	// Changing only an inner balance must change the outer root.
	acc.SetBalance(5, ff.FromUint64(101))
	tree.Insert(0, acc)
	after := tree.Root()
	if after.Equal(&before) {
		t.Error("outer root did not observe inner tree change")
	}
}
