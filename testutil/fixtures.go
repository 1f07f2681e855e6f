// Package testutil holds shared fixtures for package tests: deterministic
// signing keys, addresses and signed sample operations.
package testutil

import (
	"crypto/sha256"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"

	"github.com/djkazic/zkrollup-go/internal/types"
)

// seedReader is a deterministic byte stream derived from a seed by hashing
// a counter. Used to make EdDSA key generation reproducible in tests.
type seedReader struct {
	seed    [32]byte
	counter uint64
	buf     []byte
}

func (r *seedReader) Read(p []byte) (int, error) {
	for len(r.buf) < len(p) {
		h := sha256.New()
		h.Write(r.seed[:])
		var ctr [8]byte
		for i := 0; i < 8; i++ {
			ctr[i] = byte(r.counter >> (8 * uint(i)))
		}
		r.counter++
		h.Write(ctr[:])
		r.buf = append(r.buf, h.Sum(nil)...)
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// NewTestKey derives a deterministic EdDSA key from a seed.
func NewTestKey(seed uint64) *eddsa.PrivateKey {
	var s [32]byte
	for i := 0; i < 8; i++ {
		s[i] = byte(seed >> (8 * uint(i)))
	}
	key, err := eddsa.GenerateKey(&seedReader{seed: s})
	if err != nil {
		panic(err)
	}
	return key
}

// TestPubKeyHash returns the account pub key hash of a deterministic key.
func TestPubKeyHash(seed uint64) types.PubKeyHash {
	return types.PubKeyHashFromKey(NewTestKey(seed).PublicKey.Bytes())
}

// TestAddress derives a distinct deterministic address from a seed.
func TestAddress(seed uint64) types.Address {
	var a types.Address
	digest := sha256.Sum256([]byte{
		'a', 'd', 'd', 'r',
		byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24),
		byte(seed >> 32), byte(seed >> 40), byte(seed >> 48), byte(seed >> 56),
	})
	copy(a[:], digest[:])
	return a
}

// MustSign signs a payload with a deterministic key and panics on failure.
func MustSign(seed uint64, payload []byte) types.TxSignature {
	sig, err := types.SignPayload(NewTestKey(seed), payload)
	if err != nil {
		panic(err)
	}
	return sig
}

// SignedTransfer builds a transfer signed by the key with the given seed.
func SignedTransfer(seed uint64, from, to types.AccountID, token types.TokenID, amount, fee int64, nonce types.Nonce) *types.Transfer {
	tx := &types.Transfer{
		From:   from,
		To:     to,
		Token:  token,
		Amount: big.NewInt(amount),
		Fee:    big.NewInt(fee),
		Nonce:  nonce,
	}
	tx.Signature = MustSign(seed, tx.SignPayload())
	return tx
}

// SignedWithdraw builds a withdrawal signed by the key with the given seed.
func SignedWithdraw(seed uint64, from types.AccountID, to types.Address, token types.TokenID, amount, fee int64, nonce types.Nonce) *types.Withdraw {
	tx := &types.Withdraw{
		From:       from,
		EthAddress: to,
		Token:      token,
		Amount:     big.NewInt(amount),
		Fee:        big.NewInt(fee),
		Nonce:      nonce,
	}
	tx.Signature = MustSign(seed, tx.SignPayload())
	return tx
}
