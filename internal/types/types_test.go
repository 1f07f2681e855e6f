package types

import (
	"math/big"
	"testing"
)

func TestAddressHexRoundTrip(t *testing.T) {
	a, err := AddressFromHex("0x0102030405060708090a0b0c0d0e0f1011121314")
	if err != nil {
		t.Fatalf("AddressFromHex: %v", err)
	}
	b, err := AddressFromHex(a.Hex())
	if err != nil || a != b {
		t.Errorf("round trip mismatch: %v %v", b, err)
	}

	if _, err := AddressFromHex("0x1234"); err == nil {
		t.Error("expected error for short address")
	}
}

func TestAccountBalances(t *testing.T) {
	acc := NewAccount(Address{1})

	if acc.Balance(5).Sign() != 0 {
		t.Error("fresh balance is not zero")
	}
	acc.SetBalance(5, big.NewInt(42))
	if acc.Balance(5).Int64() != 42 {
		t.Error("SetBalance lost the value")
	}

	// Balance returns a copy.
	acc.Balance(5).SetInt64(7)
	if acc.Balance(5).Int64() != 42 {
		t.Error("Balance exposes internal state")
	}

	acc.SetBalance(6, new(big.Int))
	nz := acc.NonzeroBalances()
	if len(nz) != 1 {
		t.Errorf("nonzero balances = %d, want 1", len(nz))
	}
}

func TestUpdateReversal(t *testing.T) {
	updates := AccountUpdates{
		{ID: 1, Update: UpdateCreate{Address: Address{9}, Nonce: 0}},
		{ID: 1, Update: UpdateBalance{
			OldNonce: 0, NewNonce: 1, Token: 3,
			OldBalance: big.NewInt(0), NewBalance: big.NewInt(50),
		}},
		{ID: 1, Update: UpdateChangePubKeyHash{
			NewPubKeyHash: PubKeyHash{1}, OldNonce: 1, NewNonce: 2,
		}},
	}

	rev := updates.Reversed()
	if len(rev) != 3 {
		t.Fatalf("reversed length = %d", len(rev))
	}
	// Reversal inverts both the order and each update.
	if _, ok := rev[0].Update.(UpdateChangePubKeyHash); !ok {
		t.Errorf("first reversed update is %T", rev[0].Update)
	}
	if del, ok := rev[2].Update.(UpdateDelete); !ok || del.Address != (Address{9}) {
		t.Errorf("last reversed update is %T", rev[2].Update)
	}
	ub := rev[1].Update.(UpdateBalance)
	if ub.OldBalance.Int64() != 50 || ub.NewBalance.Int64() != 0 || ub.OldNonce != 1 || ub.NewNonce != 0 {
		t.Errorf("balance reversal = %+v", ub)
	}

	// Double reversal is the identity.
	again := rev.Reversed()
	for i := range updates {
		if _, ok := again[i].Update.(UpdateBalance); ok {
			orig := updates[i].Update.(UpdateBalance)
			got := again[i].Update.(UpdateBalance)
			if orig.OldBalance.Cmp(got.OldBalance) != 0 || orig.NewBalance.Cmp(got.NewBalance) != 0 {
				t.Error("double reversal changed a balance update")
			}
		}
	}
}

func TestTimeRange(t *testing.T) {
	r := TimeRange{ValidFrom: 10, ValidUntil: 20}
	if r.Contains(9) || !r.Contains(10) || !r.Contains(20) || r.Contains(21) {
		t.Error("bounded range misbehaves")
	}

	open := TimeRange{ValidFrom: 5}
	if !open.Contains(1 << 40) {
		t.Error("zero ValidUntil should mean no upper bound")
	}
}

func TestTxHashesDiffer(t *testing.T) {
	t1 := &Transfer{From: 1, To: 2, Token: 0, Amount: big.NewInt(5), Fee: big.NewInt(0), Nonce: 0}
	t2 := &Transfer{From: 1, To: 2, Token: 0, Amount: big.NewInt(5), Fee: big.NewInt(0), Nonce: 1}
	if t1.Hash() == t2.Hash() {
		t.Error("nonce does not affect the hash")
	}
	if t1.Hash() != t1.Hash() {
		t.Error("hash is not stable")
	}
}

func TestChunksForTx(t *testing.T) {
	cases := []struct {
		tx   Tx
		want int
	}{
		{&Transfer{}, ChunksTransfer},
		{&TransferToNew{}, ChunksTransferToNew},
		{&Withdraw{}, ChunksWithdraw},
		{&ChangePubKey{}, ChunksChangePubKey},
		{&ForcedExit{}, ChunksForcedExit},
		{&Close{}, ChunksClose},
		{&Swap{}, ChunksSwap},
		{&MintNFT{}, ChunksMintNFT},
		{&WithdrawNFT{}, ChunksWithdrawNFT},
	}
	for _, c := range cases {
		if got := ChunksForTx(c.tx); got != c.want {
			t.Errorf("ChunksForTx(%T) = %d, want %d", c.tx, got, c.want)
		}
	}
}
