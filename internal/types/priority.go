package types

import (
	"math/big"
)

// PriorityOpData is the payload of an operation originating on L1. Its
// authorization is L1 inclusion; the L2 only checks packability.
type PriorityOpData interface {
	TxType() TxType
	priorityOp()
}

// Deposit credits amount of token to the account owning To, creating the
// account if necessary.
type Deposit struct {
	To     Address
	Token  TokenID
	Amount *big.Int
}

func (d *Deposit) TxType() TxType { return TxTypeDeposit }
func (d *Deposit) priorityOp()    {}

// FullExit withdraws the entire balance of one token for an account, forced
// from L1.
type FullExit struct {
	AccountID  AccountID
	EthAddress Address
	Token      TokenID
}

func (f *FullExit) TxType() TxType { return TxTypeFullExit }
func (f *FullExit) priorityOp()    {}

// PriorityOp wraps an L1-originated payload with its queue metadata. Serial
// ids are assigned by the L1 contract and are strictly monotonic; the
// rollup must execute every priority op before its deadline block.
type PriorityOp struct {
	SerialID      uint64
	Data          PriorityOpData
	DeadlineBlock uint64
	EthHash       [32]byte
}
