// Package state owns the rollup account state: a dense account map mirrored
// into the two-level Merkle tree, mutated exclusively through reversible
// AccountUpdate lists produced by the operation executors.
package state

import (
	"fmt"
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/ff"
	"github.com/djkazic/zkrollup-go/internal/smt"
	"github.com/djkazic/zkrollup-go/internal/types"
)

// State is the in-memory account state. It is owned by the state keeper;
// external readers obtain copies through keeper query commands.
type State struct {
	accounts  map[types.AccountID]*types.Account
	byAddress map[types.Address]types.AccountID
	nextID    types.AccountID

	tree  *smt.AccountTree
	dirty map[types.AccountID]struct{}

	nfts          map[types.TokenID]types.NFT
	nextNFTID     types.TokenID
	creatorSerial map[types.AccountID]uint32

	// BlockNumber is the number of the block currently being built.
	BlockNumber types.BlockNumber
}

// New creates an empty state starting at the given block number.
func New(blockNumber types.BlockNumber) *State {
	return &State{
		accounts:      make(map[types.AccountID]*types.Account),
		byAddress:     make(map[types.Address]types.AccountID),
		tree:          smt.NewAccountTree(),
		dirty:         make(map[types.AccountID]struct{}),
		nfts:          make(map[types.TokenID]types.NFT),
		nextNFTID:     types.MinNFTTokenID,
		creatorSerial: make(map[types.AccountID]uint32),
		BlockNumber:   blockNumber,
	}
}

// NewFromAccounts restores a state snapshot.
func NewFromAccounts(accounts map[types.AccountID]*types.Account, blockNumber types.BlockNumber) *State {
	s := New(blockNumber)
	for id, acc := range accounts {
		s.setAccount(id, acc.Clone())
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return s
}

// CreateGenesis installs the fee account at id 0 into an empty state and
// returns the corresponding update list.
func (s *State) CreateGenesis(feeAddress types.Address) (types.AccountUpdates, error) {
	if len(s.accounts) != 0 {
		return nil, fmt.Errorf("genesis requires an empty state")
	}
	acc := types.NewAccount(feeAddress)
	s.setAccount(0, acc)
	s.nextID = 1
	return types.AccountUpdates{{
		ID:     0,
		Update: types.UpdateCreate{Address: feeAddress, Nonce: 0},
	}}, nil
}

// GetAccount returns a copy of the account with the given id.
func (s *State) GetAccount(id types.AccountID) (*types.Account, bool) {
	acc, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return acc.Clone(), true
}

// GetAccountByAddress resolves an address through the reverse index.
func (s *State) GetAccountByAddress(addr types.Address) (types.AccountID, *types.Account, bool) {
	id, ok := s.byAddress[addr]
	if !ok {
		return 0, nil, false
	}
	return id, s.accounts[id].Clone(), true
}

// AccountCount returns the number of live accounts.
func (s *State) AccountCount() int {
	return len(s.accounts)
}

// NFT returns the registry entry for a minted token id.
func (s *State) NFT(id types.TokenID) (types.NFT, bool) {
	nft, ok := s.nfts[id]
	return nft, ok
}

func (s *State) setAccount(id types.AccountID, acc *types.Account) {
	s.accounts[id] = acc
	s.byAddress[acc.Address] = id
	s.dirty[id] = struct{}{}
}

func (s *State) removeAccount(id types.AccountID) {
	if acc, ok := s.accounts[id]; ok {
		delete(s.byAddress, acc.Address)
	}
	delete(s.accounts, id)
	s.dirty[id] = struct{}{}
}

// RootHash flushes pending leaf changes into the tree and returns its root.
func (s *State) RootHash() ff.Fr {
	for id := range s.dirty {
		acc, ok := s.accounts[id]
		if !ok {
			s.tree.Remove(uint64(id))
			continue
		}
		s.tree.Insert(uint64(id), circuitAccount(acc))
	}
	s.dirty = make(map[types.AccountID]struct{})
	return s.tree.Root()
}

func circuitAccount(acc *types.Account) *smt.CircuitAccount {
	leaf := smt.EmptyCircuitAccount()
	leaf.Nonce = ff.FromUint64(uint64(acc.Nonce))
	leaf.PubKeyHash = acc.PubKeyHash.ToFr()
	leaf.Address = acc.Address.ToFr()
	for token, balance := range acc.NonzeroBalances() {
		leaf.SetBalance(uint64(token), ff.FromBig(balance))
	}
	return leaf
}

var maxBalance = new(big.Int).Lsh(big.NewInt(1), types.MaxBalanceBits)

// ApplyUpdates applies an update list in order. Partial failures leave the
// already-applied prefix in place and return the error; callers treat that
// as fatal.
func (s *State) ApplyUpdates(updates types.AccountUpdates) error {
	for _, pair := range updates {
		if err := s.applyUpdate(pair.ID, pair.Update); err != nil {
			return fmt.Errorf("account %d: %w", pair.ID, err)
		}
	}
	return nil
}

// RevertUpdates exactly undoes a previously applied update list.
func (s *State) RevertUpdates(updates types.AccountUpdates) error {
	return s.ApplyUpdates(updates.Reversed())
}

func (s *State) applyUpdate(id types.AccountID, update types.AccountUpdate) error {
	switch u := update.(type) {
	case types.UpdateCreate:
		if _, ok := s.accounts[id]; ok {
			return fmt.Errorf("create of existing account %d", id)
		}
		acc := types.NewAccount(u.Address)
		acc.Nonce = u.Nonce
		s.setAccount(id, acc)
		if id >= s.nextID {
			s.nextID = id + 1
		}

	case types.UpdateDelete:
		acc, ok := s.accounts[id]
		if !ok {
			return ErrAccountNotFound
		}
		if acc.Address != u.Address || acc.Nonce != u.Nonce {
			return fmt.Errorf("delete does not match account %d: %w", id, ErrNonceMismatch)
		}
		s.removeAccount(id)

	case types.UpdateBalance:
		acc, ok := s.accounts[id]
		if !ok {
			return ErrAccountNotFound
		}
		if acc.Nonce != u.OldNonce {
			return ErrNonceMismatch
		}
		if u.NewBalance.Sign() < 0 {
			return ErrBalanceUnderflow
		}
		if u.NewBalance.Cmp(maxBalance) >= 0 {
			return ErrBalanceOverflow
		}
		acc.SetBalance(u.Token, u.NewBalance)
		acc.Nonce = u.NewNonce
		s.dirty[id] = struct{}{}

	case types.UpdateChangePubKeyHash:
		acc, ok := s.accounts[id]
		if !ok {
			return ErrAccountNotFound
		}
		if acc.Nonce != u.OldNonce {
			return ErrNonceMismatch
		}
		acc.PubKeyHash = u.NewPubKeyHash
		acc.Nonce = u.NewNonce
		s.dirty[id] = struct{}{}

	default:
		return fmt.Errorf("unknown update %T", update)
	}
	return nil
}

// CollectFee credits collected fees to the fee account and returns the
// resulting updates. Fees never consume the fee account's nonce.
func (s *State) CollectFee(fees []types.CollectedFee, feeAccount types.AccountID) (types.AccountUpdates, error) {
	acc, ok := s.accounts[feeAccount]
	if !ok {
		return nil, fmt.Errorf("fee account %d: %w", feeAccount, ErrAccountNotFound)
	}

	var updates types.AccountUpdates
	for _, fee := range fees {
		if fee.Amount == nil || fee.Amount.Sign() == 0 {
			continue
		}
		old := acc.Balance(fee.Token)
		next := new(big.Int).Add(old, fee.Amount)
		if next.Cmp(maxBalance) >= 0 {
			return nil, fmt.Errorf("fee account %d token %d: %w", feeAccount, fee.Token, ErrBalanceOverflow)
		}
		acc.SetBalance(fee.Token, next)
		updates = append(updates, types.AccountUpdatePair{
			ID: feeAccount,
			Update: types.UpdateBalance{
				OldNonce:   acc.Nonce,
				NewNonce:   acc.Nonce,
				Token:      fee.Token,
				OldBalance: old,
				NewBalance: next,
			},
		})
	}
	s.dirty[feeAccount] = struct{}{}
	return updates, nil
}
