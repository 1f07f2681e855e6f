// Package witness turns executed operations into circuit witnesses: Merkle
// audit paths around every touched leaf, operation arguments in field form,
// and the folded public-data commitment that is the proof's public input.
package witness

import (
	"github.com/djkazic/zkrollup-go/internal/ff"
	"github.com/djkazic/zkrollup-go/internal/types"
)

// AccountWitness is the account leaf content in field form.
type AccountWitness struct {
	Nonce      ff.Fr
	PubKeyHash ff.Fr
	Address    ff.Fr
}

// OperationBranch is one audited state-tree position: the account and
// balance leaves plus their sibling paths.
type OperationBranch struct {
	AccountID uint32
	Token     uint32

	Account     AccountWitness
	AccountPath []ff.Fr

	Balance     ff.Fr
	BalancePath []ff.Fr
}

// OperationArguments are the op inputs in field form, shared by every chunk
// of the op.
type OperationArguments struct {
	FullAmount    ff.Fr
	PackedAmount  ff.Fr
	SecondAmount  ff.Fr
	Fee           ff.Fr
	EthAddress    ff.Fr
	NewPubKeyHash ff.Fr
}

// Operation is one chunk of an operation as the circuit consumes it. Multi-
// chunk ops share arguments while the branches advance from the before
// state through the intermediate state to the after state at fixed chunk
// boundaries.
type Operation struct {
	TxType       ff.Fr
	Chunk        ff.Fr
	PubdataChunk ff.Fr
	NewRoot      ff.Fr

	Args OperationArguments
	Lhs  OperationBranch
	Rhs  OperationBranch
}

// OperationWitness is a fully witnessed executed operation.
type OperationWitness struct {
	TxType     types.TxType
	BeforeRoot ff.Fr
	AfterRoot  ff.Fr
	Pubdata    []byte
	Operations []Operation
}

// BlockWitness is everything the prover needs for one block.
type BlockWitness struct {
	BlockNumber types.BlockNumber
	FeeAccount  types.AccountID

	InitialRoot ff.Fr
	FinalRoot   ff.Fr

	Ops []*OperationWitness

	// FeeAccountAudit is the fee account's path after fees were applied.
	FeeAccountAudit OperationBranch

	Pubdata    []byte
	Commitment ff.Fr
}
