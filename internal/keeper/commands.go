// Package keeper runs the state keeper: a single event loop that owns the
// account state, executes proposed operations, and seals pending blocks.
package keeper

import (
	"github.com/djkazic/zkrollup-go/internal/types"
)

// ProposedBlock is a batch of operations submitted for execution: priority
// ops first, then L2 transactions.
type ProposedBlock struct {
	PriorityOps []types.PriorityOp
	Txs         []types.Tx
}

// CommitRequest is a sealed block with the updates that produced it, handed
// to persistence and to the witness builder.
type CommitRequest struct {
	Block   *types.Block
	Updates types.AccountUpdates
}

// Request is one command of the keeper's serialized command stream.
type Request interface {
	keeperRequest()
}

// GetAccountReply carries the account lookup result.
type GetAccountReply struct {
	ID      types.AccountID
	Account *types.Account
	Found   bool
}

// GetAccountRequest resolves an address to its account snapshot.
type GetAccountRequest struct {
	Address types.Address
	Reply   chan<- GetAccountReply
}

// GetLastUnprocessedPriorityOpRequest reports the next priority serial id
// the keeper expects.
type GetLastUnprocessedPriorityOpRequest struct {
	Reply chan<- uint64
}

// ExecuteMiniBlockRequest executes a proposed batch against the pending
// block.
type ExecuteMiniBlockRequest struct {
	Proposed ProposedBlock
}

// ExecutedOpID identifies an operation in the pending block, either by
// transaction hash or by priority serial id.
type ExecutedOpID struct {
	TxHash         *[32]byte
	PrioritySerial *uint64
}

// ExecutedInPendingReply reports whether and how an op executed.
type ExecutedInPendingReply struct {
	Block   types.BlockNumber
	Success bool
	Found   bool
}

// GetExecutedInPendingBlockRequest looks an op up in the pending block.
type GetExecutedInPendingBlockRequest struct {
	OpID  ExecutedOpID
	Reply chan<- ExecutedInPendingReply
}

// SealBlockRequest forces the pending block to seal immediately.
type SealBlockRequest struct{}

func (GetAccountRequest) keeperRequest()                   {}
func (GetLastUnprocessedPriorityOpRequest) keeperRequest() {}
func (ExecuteMiniBlockRequest) keeperRequest()             {}
func (GetExecutedInPendingBlockRequest) keeperRequest()    {}
func (SealBlockRequest) keeperRequest()                    {}
