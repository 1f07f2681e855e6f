package types

import (
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/ff"
)

// ExecutedTx is an L2 transaction after execution. Failed transactions are
// recorded in the block without state effects.
type ExecutedTx struct {
	Tx         Tx
	Success    bool
	Op         Op
	FailReason string
	// BlockIndex is the op's sequential position within its block; unset
	// for failed transactions.
	BlockIndex uint32
	HasIndex   bool
}

// ExecutedPriorityOp is an L1-originated operation after execution. Priority
// ops cannot fail.
type ExecutedPriorityOp struct {
	Priority   PriorityOp
	Op         Op
	BlockIndex uint32
}

// ExecutedOperation is either an executed transaction, an executed priority
// operation, or a Noop inserted to pad the block to its chunk capacity.
type ExecutedOperation struct {
	Tx       *ExecutedTx
	Priority *ExecutedPriorityOp
	Noop     bool
}

// NoopExecuted returns a padding operation.
func NoopExecuted() *ExecutedOperation {
	return &ExecutedOperation{Noop: true}
}

// GetOp returns the executed op form, nil for failed transactions.
func (e *ExecutedOperation) GetOp() Op {
	if e.Noop {
		return NoopOp{}
	}
	if e.Priority != nil {
		return e.Priority.Op
	}
	if e.Tx != nil && e.Tx.Success {
		return e.Tx.Op
	}
	return nil
}

// Successful reports whether the operation mutated state.
func (e *ExecutedOperation) Successful() bool {
	return e.GetOp() != nil
}

// Index returns the op's block index if it has one.
func (e *ExecutedOperation) Index() (uint32, bool) {
	if e.Priority != nil {
		return e.Priority.BlockIndex, true
	}
	if e.Tx != nil && e.Tx.HasIndex {
		return e.Tx.BlockIndex, true
	}
	return 0, false
}

// WithdrawalRecord is a pending L1 settlement emitted by withdraw-like ops.
type WithdrawalRecord struct {
	AccountID AccountID
	To        Address
	Token     TokenID
	Amount    *big.Int
	IsNFT     bool
}

// CollectedFee is the fee a single op paid, credited to the block's fee
// account.
type CollectedFee struct {
	Token  TokenID
	Amount *big.Int
}

// Block is a sealed batch of executed operations.
type Block struct {
	Number     BlockNumber
	NewRoot    ff.Fr
	FeeAccount AccountID
	Timestamp  uint64
	Ops        []*ExecutedOperation

	// ProcessedPriorityOps is the half-open serial-id interval [lo, hi) of
	// priority operations executed in this block.
	ProcessedPriorityOps [2]uint64

	Withdrawals []WithdrawalRecord
}

// PriorityOpsCount returns the number of priority ops the block executed.
func (b *Block) PriorityOpsCount() uint64 {
	return b.ProcessedPriorityOps[1] - b.ProcessedPriorityOps[0]
}

// ChunksUsed sums the chunk costs of all executed forms in the block.
func (b *Block) ChunksUsed() int {
	total := 0
	for _, op := range b.Ops {
		if o := op.GetOp(); o != nil {
			total += o.Chunks()
		}
	}
	return total
}
