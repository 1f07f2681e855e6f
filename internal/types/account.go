// Package types defines the rollup account model, user operations and block
// structures shared by the state machine, the codec and the witness builder.
package types

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/ff"
	"github.com/djkazic/zkrollup-go/pkg/util"
)

// AccountID indexes a leaf of the outer state tree.
type AccountID uint32

// TokenID indexes a leaf of an inner balance tree.
type TokenID uint32

// Nonce is the per-account replay counter.
type Nonce uint32

// BlockNumber is the sequential rollup block index.
type BlockNumber uint32

// MinNFTTokenID is the first token id of the reserved NFT range.
const MinNFTTokenID TokenID = 65536

// MaxBalanceBits bounds every balance: 0 <= balance < 2^MaxBalanceBits.
const MaxBalanceBits = 128

// Address is an Ethereum-style 20-byte address.
type Address [20]byte

// AddressFromHex parses a 20-byte address from hex (0x prefix optional).
func AddressFromHex(s string) (Address, error) {
	var a Address
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Hex returns the 0x-prefixed hex form of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ToFr embeds the address into the scalar field.
func (a Address) ToFr() ff.Fr {
	return ff.FromBig(new(big.Int).SetBytes(a[:]))
}

// PubKeyHash is the truncated hash of an account's L2 signing key. A zero
// value marks an account that cannot sign (unowned).
type PubKeyHash [20]byte

// IsZero reports whether no signing key is set.
func (p PubKeyHash) IsZero() bool {
	return p == PubKeyHash{}
}

// Hex returns the hex form of the hash.
func (p PubKeyHash) Hex() string {
	return hex.EncodeToString(p[:])
}

// ToFr embeds the hash into the scalar field.
func (p PubKeyHash) ToFr() ff.Fr {
	return ff.FromBig(new(big.Int).SetBytes(p[:]))
}

// PubKeyHashFromBytes parses a 20-byte pub key hash.
func PubKeyHashFromBytes(b []byte) (PubKeyHash, error) {
	var p PubKeyHash
	if len(b) != len(p) {
		return p, fmt.Errorf("pub key hash must be %d bytes, got %d", len(p), len(b))
	}
	copy(p[:], b)
	return p, nil
}

// PubKeyHashFromKey derives the account pub key hash from a serialized EdDSA
// public key.
func PubKeyHashFromKey(pubKey []byte) PubKeyHash {
	digest := util.Sha256(pubKey)
	var p PubKeyHash
	copy(p[:], digest[12:])
	return p
}

// Account is a leaf of the outer tree: signing key hash, owner address,
// replay nonce and the balance map backing the inner tree.
type Account struct {
	PubKeyHash PubKeyHash
	Address    Address
	Nonce      Nonce

	balances map[TokenID]*big.Int
}

// NewAccount returns an empty account bound to an address.
func NewAccount(address Address) *Account {
	return &Account{
		Address:  address,
		balances: make(map[TokenID]*big.Int),
	}
}

// Balance returns the balance for a token; absent balances are zero.
func (a *Account) Balance(token TokenID) *big.Int {
	if b, ok := a.balances[token]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetBalance stores a balance for a token.
func (a *Account) SetBalance(token TokenID, amount *big.Int) {
	if a.balances == nil {
		a.balances = make(map[TokenID]*big.Int)
	}
	a.balances[token] = new(big.Int).Set(amount)
}

// NonzeroBalances returns a copy of all balances that are not zero.
func (a *Account) NonzeroBalances() map[TokenID]*big.Int {
	out := make(map[TokenID]*big.Int)
	for token, b := range a.balances {
		if b.Sign() != 0 {
			out[token] = new(big.Int).Set(b)
		}
	}
	return out
}

// Clone deep-copies the account.
func (a *Account) Clone() *Account {
	c := NewAccount(a.Address)
	c.PubKeyHash = a.PubKeyHash
	c.Nonce = a.Nonce
	for token, b := range a.balances {
		c.balances[token] = new(big.Int).Set(b)
	}
	return c
}

// NFT is a registry entry for a minted token in the reserved id range.
type NFT struct {
	ID             TokenID
	CreatorID      AccountID
	CreatorAddress Address
	SerialID       uint32
	ContentHash    [32]byte
}
