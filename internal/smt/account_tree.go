package smt

import (
	"github.com/djkazic/zkrollup-go/internal/ff"
)

// CircuitAccount is the outer-tree leaf as the proving circuit sees it: all
// account fields in field form plus the balance subtree.
type CircuitAccount struct {
	Nonce      ff.Fr
	PubKeyHash ff.Fr
	Address    ff.Fr
	Subtree    *BalanceTree
}

// BalanceTree is the inner tree mapping token id to balance.
type BalanceTree = SparseMerkleTree[ff.Fr]

// AccountTree is the outer tree mapping account id to account leaf.
type AccountTree = SparseMerkleTree[*CircuitAccount]

// NewBalanceTree builds an empty inner tree. Absent balances hash as zero.
func NewBalanceTree() *BalanceTree {
	hasher := NewMimcHasher(PersonalizationBalanceTree)
	var zero ff.Fr
	return NewSparseMerkleTree(BalanceTreeDepth, hasher, func(b ff.Fr) ff.Fr {
		return hasher.HashLeaf([]ff.Fr{b})
	}, zero)
}

// EmptyCircuitAccount returns the leaf value unpopulated account slots
// decode to: zero fields over an empty balance subtree.
func EmptyCircuitAccount() *CircuitAccount {
	return &CircuitAccount{Subtree: NewBalanceTree()}
}

// NewAccountTree builds an empty outer tree. The account leaf hash binds
// the address, nonce, public key hash and the inner root.
func NewAccountTree() *AccountTree {
	hasher := NewMimcHasher(PersonalizationAccountTree)
	return NewSparseMerkleTree(AccountTreeDepth, hasher, func(a *CircuitAccount) ff.Fr {
		return hasher.HashLeaf([]ff.Fr{a.Address, a.Nonce, a.PubKeyHash, a.Subtree.Root()})
	}, EmptyCircuitAccount())
}

// Clone deep-copies a circuit account, including its balance subtree.
func (a *CircuitAccount) Clone() *CircuitAccount {
	sub := NewBalanceTree()
	for id, bal := range a.Subtree.items {
		sub.Insert(id, bal)
	}
	return &CircuitAccount{
		Nonce:      a.Nonce,
		PubKeyHash: a.PubKeyHash,
		Address:    a.Address,
		Subtree:    sub,
	}
}

// SetBalance stores a balance (field form) for a token id.
func (a *CircuitAccount) SetBalance(token uint64, balance ff.Fr) {
	a.Subtree.Insert(token, balance)
}

// Balance returns the stored balance for a token id, zero if absent.
func (a *CircuitAccount) Balance(token uint64) ff.Fr {
	b, _ := a.Subtree.Get(token)
	return b
}
