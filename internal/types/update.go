package types

import (
	"math/big"
)

// AccountUpdate is one reversible state mutation. Updates are the sole
// channel between the transition engine and persistence; every variant can
// be inverted without consulting state.
type AccountUpdate interface {
	// Reversed returns the update that exactly undoes this one.
	Reversed() AccountUpdate

	accountUpdate()
}

// UpdateCreate records account creation.
type UpdateCreate struct {
	Address Address
	Nonce   Nonce
}

// UpdateDelete records account deletion.
type UpdateDelete struct {
	Address Address
	Nonce   Nonce
}

// UpdateBalance records a single-token balance change plus the nonce
// transition that accompanied it.
type UpdateBalance struct {
	OldNonce   Nonce
	NewNonce   Nonce
	Token      TokenID
	OldBalance *big.Int
	NewBalance *big.Int
}

// UpdateChangePubKeyHash records a signing key rotation.
type UpdateChangePubKeyHash struct {
	OldPubKeyHash PubKeyHash
	NewPubKeyHash PubKeyHash
	OldNonce      Nonce
	NewNonce      Nonce
}

func (u UpdateCreate) accountUpdate()           {}
func (u UpdateDelete) accountUpdate()           {}
func (u UpdateBalance) accountUpdate()          {}
func (u UpdateChangePubKeyHash) accountUpdate() {}

// Reversed turns a creation into the matching deletion.
func (u UpdateCreate) Reversed() AccountUpdate {
	return UpdateDelete{Address: u.Address, Nonce: u.Nonce}
}

// Reversed turns a deletion into the matching creation.
func (u UpdateDelete) Reversed() AccountUpdate {
	return UpdateCreate{Address: u.Address, Nonce: u.Nonce}
}

// Reversed swaps the old and new balance and nonce.
func (u UpdateBalance) Reversed() AccountUpdate {
	return UpdateBalance{
		OldNonce:   u.NewNonce,
		NewNonce:   u.OldNonce,
		Token:      u.Token,
		OldBalance: new(big.Int).Set(u.NewBalance),
		NewBalance: new(big.Int).Set(u.OldBalance),
	}
}

// Reversed swaps the old and new key hash and nonce.
func (u UpdateChangePubKeyHash) Reversed() AccountUpdate {
	return UpdateChangePubKeyHash{
		OldPubKeyHash: u.NewPubKeyHash,
		NewPubKeyHash: u.OldPubKeyHash,
		OldNonce:      u.NewNonce,
		NewNonce:      u.OldNonce,
	}
}

// AccountUpdatePair binds an update to the account it concerns.
type AccountUpdatePair struct {
	ID     AccountID
	Update AccountUpdate
}

// AccountUpdates is an ordered update list.
type AccountUpdates []AccountUpdatePair

// Reversed returns the updates that undo this list when applied in the
// returned (reversed) order.
func (u AccountUpdates) Reversed() AccountUpdates {
	out := make(AccountUpdates, 0, len(u))
	for i := len(u) - 1; i >= 0; i-- {
		out = append(out, AccountUpdatePair{ID: u[i].ID, Update: u[i].Update.Reversed()})
	}
	return out
}
