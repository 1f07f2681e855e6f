package witness

import (
	"fmt"
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/ff"
	"github.com/djkazic/zkrollup-go/internal/pubdata"
	"github.com/djkazic/zkrollup-go/internal/smt"
	"github.com/djkazic/zkrollup-go/internal/types"
	"github.com/djkazic/zkrollup-go/pkg/util"
)

// Builder replays executed operations against its own copy of the circuit
// account tree, producing audit paths around every mutation.
type Builder struct {
	tree *smt.AccountTree
}

// NewBuilder creates a builder over an empty tree.
func NewBuilder() *Builder {
	return &Builder{tree: smt.NewAccountTree()}
}

// Root returns the current tree root.
func (b *Builder) Root() ff.Fr {
	return b.tree.Root()
}

// ApplyUpdates replays an account update list into the tree. Used to seed
// the builder from persisted state (e.g. the genesis update list).
func (b *Builder) ApplyUpdates(updates types.AccountUpdates) error {
	for _, pair := range updates {
		id := uint64(pair.ID)
		leaf, _ := b.tree.Get(id)
		leaf = leaf.Clone()
		switch u := pair.Update.(type) {
		case types.UpdateCreate:
			leaf = smt.EmptyCircuitAccount()
			leaf.Address = u.Address.ToFr()
			leaf.Nonce = ff.FromUint64(uint64(u.Nonce))
		case types.UpdateDelete:
			leaf = smt.EmptyCircuitAccount()
		case types.UpdateBalance:
			leaf.SetBalance(uint64(u.Token), ff.FromBig(u.NewBalance))
			leaf.Nonce = ff.FromUint64(uint64(u.NewNonce))
		case types.UpdateChangePubKeyHash:
			leaf.PubKeyHash = u.NewPubKeyHash.ToFr()
			leaf.Nonce = ff.FromUint64(uint64(u.NewNonce))
		default:
			return fmt.Errorf("unknown update %T", pair.Update)
		}
		b.tree.Insert(id, leaf)
	}
	return nil
}

// audit captures the branch at (account, token) in the current tree.
func (b *Builder) audit(id types.AccountID, token types.TokenID) OperationBranch {
	w := b.tree.MerkleWitness(uint64(id))
	leaf := w.Leaf
	bal := leaf.Subtree.MerkleWitness(uint64(token))
	return OperationBranch{
		AccountID: uint32(id),
		Token:     uint32(token),
		Account: AccountWitness{
			Nonce:      leaf.Nonce,
			PubKeyHash: leaf.PubKeyHash,
			Address:    leaf.Address,
		},
		AccountPath: w.Siblings,
		Balance:     bal.Leaf,
		BalancePath: bal.Siblings,
	}
}

// mutateLeaf clones, mutates and reinserts one account leaf.
func (b *Builder) mutateLeaf(id types.AccountID, mutate func(*smt.CircuitAccount)) {
	leaf, _ := b.tree.Get(uint64(id))
	leaf = leaf.Clone()
	mutate(leaf)
	b.tree.Insert(uint64(id), leaf)
}

func addBalance(acc *smt.CircuitAccount, token types.TokenID, amount *big.Int) {
	bal := acc.Balance(uint64(token))
	delta := ff.FromBig(amount)
	bal.Add(&bal, &delta)
	acc.SetBalance(uint64(token), bal)
}

func subBalance(acc *smt.CircuitAccount, token types.TokenID, amount *big.Int) {
	bal := acc.Balance(uint64(token))
	delta := ff.FromBig(amount)
	bal.Sub(&bal, &delta)
	acc.SetBalance(uint64(token), bal)
}

func bumpNonce(acc *smt.CircuitAccount) {
	one := ff.FromUint64(1)
	acc.Nonce.Add(&acc.Nonce, &one)
}

// slot is one sequential mutation of an audited tree position.
type slot struct {
	id     types.AccountID
	token  types.TokenID
	mutate func(*smt.CircuitAccount)
}

type step struct {
	lhs, rhs OperationBranch
	root     ff.Fr
}

// applyBinary performs the canonical two-account sequence: audit both
// branches, apply the lhs mutation, audit both again (intermediate), apply
// the rhs mutation, audit both again (after). Chunk 0 carries the before
// branches with the intermediate root, chunk 1 the intermediate branches
// with the after root, and padding chunks reuse the after state.
func (b *Builder) applyBinary(lhs, rhs slot, chunks int) []step {
	lhsBefore := b.audit(lhs.id, lhs.token)
	rhsBefore := b.audit(rhs.id, rhs.token)

	b.mutateLeaf(lhs.id, lhs.mutate)
	interRoot := b.tree.Root()
	lhsInter := b.audit(lhs.id, lhs.token)
	rhsInter := b.audit(rhs.id, rhs.token)

	b.mutateLeaf(rhs.id, rhs.mutate)
	afterRoot := b.tree.Root()
	lhsAfter := b.audit(lhs.id, lhs.token)
	rhsAfter := b.audit(rhs.id, rhs.token)

	steps := make([]step, chunks)
	steps[0] = step{lhs: lhsBefore, rhs: rhsBefore, root: interRoot}
	if chunks > 1 {
		steps[1] = step{lhs: lhsInter, rhs: rhsInter, root: afterRoot}
	}
	for i := 2; i < chunks; i++ {
		steps[i] = step{lhs: lhsAfter, rhs: rhsAfter, root: afterRoot}
	}
	return steps
}

// applyUnary audits one branch around a single mutation; all chunks after
// the first reuse the after state.
func (b *Builder) applyUnary(s slot, chunks int) []step {
	before := b.audit(s.id, s.token)
	b.mutateLeaf(s.id, s.mutate)
	afterRoot := b.tree.Root()
	after := b.audit(s.id, s.token)

	steps := make([]step, chunks)
	steps[0] = step{lhs: before, rhs: before, root: afterRoot}
	for i := 1; i < chunks; i++ {
		steps[i] = step{lhs: after, rhs: after, root: afterRoot}
	}
	return steps
}

// applySequence audits each mutation in order, one chunk per mutation; the
// lhs branch is the position before its mutation, the rhs after.
func (b *Builder) applySequence(slots []slot, chunks int) []step {
	steps := make([]step, 0, chunks)
	var last step
	for _, s := range slots {
		before := b.audit(s.id, s.token)
		b.mutateLeaf(s.id, s.mutate)
		after := b.audit(s.id, s.token)
		last = step{lhs: before, rhs: after, root: b.tree.Root()}
		steps = append(steps, last)
	}
	for len(steps) < chunks {
		steps = append(steps, last)
	}
	return steps
}

func packedAmountFr(v *big.Int) (ff.Fr, error) {
	b, err := pubdata.PackAmount(v)
	if err != nil {
		return ff.Fr{}, err
	}
	return ff.FromBig(new(big.Int).SetBytes(b)), nil
}

func packedFeeFr(v *big.Int) (ff.Fr, error) {
	b, err := pubdata.PackFee(v)
	if err != nil {
		return ff.Fr{}, err
	}
	return ff.FromBig(new(big.Int).SetBytes(b)), nil
}

// assemble builds the final per-chunk operations from the audited steps.
func assemble(op types.Op, beforeRoot ff.Fr, steps []step, args OperationArguments) (*OperationWitness, error) {
	data, err := pubdata.EncodeOp(op)
	if err != nil {
		return nil, err
	}

	ops := make([]Operation, len(steps))
	for i, s := range steps {
		chunkBytes := data[i*pubdata.ChunkBytes : (i+1)*pubdata.ChunkBytes]
		ops[i] = Operation{
			TxType:       ff.FromUint64(uint64(op.OpType())),
			Chunk:        ff.FromUint64(uint64(i)),
			PubdataChunk: ff.FromBig(new(big.Int).SetBytes(chunkBytes)),
			NewRoot:      s.root,
			Args:         args,
			Lhs:          s.lhs,
			Rhs:          s.rhs,
		}
	}
	return &OperationWitness{
		TxType:     op.OpType(),
		BeforeRoot: beforeRoot,
		AfterRoot:  steps[len(steps)-1].root,
		Pubdata:    data,
		Operations: ops,
	}, nil
}

// ApplyOp witnesses one executed operation, advancing the tree.
func (b *Builder) ApplyOp(op types.Op) (*OperationWitness, error) {
	beforeRoot := b.tree.Root()

	switch o := op.(type) {
	case types.NoopOp, *types.NoopOp:
		branch := b.audit(0, 0)
		steps := []step{{lhs: branch, rhs: branch, root: beforeRoot}}
		return assemble(types.NoopOp{}, beforeRoot, steps, OperationArguments{})

	case *types.TransferOp:
		tx := o.Tx
		total := new(big.Int).Add(tx.Amount, tx.Fee)
		packed, err := packedAmountFr(tx.Amount)
		if err != nil {
			return nil, err
		}
		fee, err := packedFeeFr(tx.Fee)
		if err != nil {
			return nil, err
		}
		steps := b.applyBinary(
			slot{tx.From, tx.Token, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.Token, total)
				bumpNonce(acc)
			}},
			slot{tx.To, tx.Token, func(acc *smt.CircuitAccount) {
				addBalance(acc, tx.Token, tx.Amount)
			}},
			o.Chunks())
		args := OperationArguments{
			FullAmount:   ff.FromBig(tx.Amount),
			PackedAmount: packed,
			Fee:          fee,
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.TransferToNewOp:
		tx := o.Tx
		total := new(big.Int).Add(tx.Amount, tx.Fee)
		packed, err := packedAmountFr(tx.Amount)
		if err != nil {
			return nil, err
		}
		fee, err := packedFeeFr(tx.Fee)
		if err != nil {
			return nil, err
		}
		steps := b.applyBinary(
			slot{tx.From, tx.Token, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.Token, total)
				bumpNonce(acc)
			}},
			slot{o.To, tx.Token, func(acc *smt.CircuitAccount) {
				acc.Address = tx.ToAddress.ToFr()
				addBalance(acc, tx.Token, tx.Amount)
			}},
			o.Chunks())
		args := OperationArguments{
			FullAmount:   ff.FromBig(tx.Amount),
			PackedAmount: packed,
			Fee:          fee,
			EthAddress:   tx.ToAddress.ToFr(),
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.DepositOp:
		d := o.Priority
		steps := b.applyUnary(
			slot{o.To, d.Token, func(acc *smt.CircuitAccount) {
				acc.Address = d.To.ToFr()
				addBalance(acc, d.Token, d.Amount)
			}},
			o.Chunks())
		args := OperationArguments{
			FullAmount: ff.FromBig(d.Amount),
			EthAddress: d.To.ToFr(),
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.WithdrawOp:
		tx := o.Tx
		total := new(big.Int).Add(tx.Amount, tx.Fee)
		fee, err := packedFeeFr(tx.Fee)
		if err != nil {
			return nil, err
		}
		steps := b.applyUnary(
			slot{tx.From, tx.Token, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.Token, total)
				bumpNonce(acc)
			}},
			o.Chunks())
		args := OperationArguments{
			FullAmount: ff.FromBig(tx.Amount),
			Fee:        fee,
			EthAddress: tx.EthAddress.ToFr(),
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.FullExitOp:
		f := o.Priority
		steps := b.applyUnary(
			slot{f.AccountID, f.Token, func(acc *smt.CircuitAccount) {
				if o.Amount.Sign() > 0 {
					subBalance(acc, f.Token, o.Amount)
				}
			}},
			o.Chunks())
		args := OperationArguments{
			FullAmount: ff.FromBig(o.Amount),
			EthAddress: f.EthAddress.ToFr(),
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.ChangePubKeyOp:
		tx := o.Tx
		fee, err := packedFeeFr(tx.Fee)
		if err != nil {
			return nil, err
		}
		steps := b.applyUnary(
			slot{tx.AccountID, tx.FeeToken, func(acc *smt.CircuitAccount) {
				acc.PubKeyHash = tx.NewPubKeyHash.ToFr()
				bumpNonce(acc)
				subBalance(acc, tx.FeeToken, tx.Fee)
			}},
			o.Chunks())
		args := OperationArguments{
			Fee:           fee,
			EthAddress:    o.Address.ToFr(),
			NewPubKeyHash: tx.NewPubKeyHash.ToFr(),
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.ForcedExitOp:
		tx := o.Tx
		fee, err := packedFeeFr(tx.Fee)
		if err != nil {
			return nil, err
		}
		steps := b.applyBinary(
			slot{tx.Initiator, tx.Token, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.Token, tx.Fee)
				bumpNonce(acc)
			}},
			slot{o.Target, tx.Token, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.Token, o.Amount)
			}},
			o.Chunks())
		args := OperationArguments{
			FullAmount: ff.FromBig(o.Amount),
			Fee:        fee,
			EthAddress: tx.Target.ToFr(),
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.CloseOp:
		tx := o.Tx
		steps := b.applyUnary(
			slot{tx.AccountID, 0, func(acc *smt.CircuitAccount) {
				*acc = *smt.EmptyCircuitAccount()
			}},
			o.Chunks())
		return assemble(o, beforeRoot, steps, OperationArguments{})

	case *types.SwapOp:
		tx := o.Tx
		packed0, err := packedAmountFr(tx.Amounts[0])
		if err != nil {
			return nil, err
		}
		fee, err := packedFeeFr(tx.Fee)
		if err != nil {
			return nil, err
		}
		o0, o1 := &tx.Orders[0], &tx.Orders[1]
		slots := []slot{
			{o0.AccountID, o0.TokenSell, func(acc *smt.CircuitAccount) {
				subBalance(acc, o0.TokenSell, tx.Amounts[0])
				if !o0.IsLimit() {
					bumpNonce(acc)
				}
			}},
			{o1.AccountID, o1.TokenSell, func(acc *smt.CircuitAccount) {
				subBalance(acc, o1.TokenSell, tx.Amounts[1])
				if !o1.IsLimit() {
					bumpNonce(acc)
				}
			}},
			{o0.Recipient, o0.TokenBuy, func(acc *smt.CircuitAccount) {
				addBalance(acc, o0.TokenBuy, tx.Amounts[1])
			}},
			{o1.Recipient, o1.TokenBuy, func(acc *smt.CircuitAccount) {
				addBalance(acc, o1.TokenBuy, tx.Amounts[0])
			}},
			{tx.Submitter, tx.FeeToken, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.FeeToken, tx.Fee)
				bumpNonce(acc)
			}},
		}
		steps := b.applySequence(slots, o.Chunks())
		args := OperationArguments{
			FullAmount:   ff.FromBig(tx.Amounts[0]),
			SecondAmount: ff.FromBig(tx.Amounts[1]),
			PackedAmount: packed0,
			Fee:          fee,
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.MintNFTOp:
		tx := o.Tx
		fee, err := packedFeeFr(tx.Fee)
		if err != nil {
			return nil, err
		}
		steps := b.applyBinary(
			slot{tx.Creator, tx.FeeToken, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.FeeToken, tx.Fee)
				bumpNonce(acc)
			}},
			slot{tx.Recipient, o.NFT.ID, func(acc *smt.CircuitAccount) {
				addBalance(acc, o.NFT.ID, big.NewInt(1))
			}},
			o.Chunks())
		args := OperationArguments{
			FullAmount: ff.FromUint64(1),
			Fee:        fee,
		}
		return assemble(o, beforeRoot, steps, args)

	case *types.WithdrawNFTOp:
		tx := o.Tx
		fee, err := packedFeeFr(tx.Fee)
		if err != nil {
			return nil, err
		}
		steps := b.applyBinary(
			slot{tx.From, tx.Token, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.Token, big.NewInt(1))
				bumpNonce(acc)
			}},
			slot{tx.From, tx.FeeToken, func(acc *smt.CircuitAccount) {
				subBalance(acc, tx.FeeToken, tx.Fee)
			}},
			o.Chunks())
		args := OperationArguments{
			FullAmount: ff.FromUint64(1),
			Fee:        fee,
			EthAddress: tx.ToAddress.ToFr(),
		}
		return assemble(o, beforeRoot, steps, args)

	default:
		return nil, fmt.Errorf("unknown operation type %T", op)
	}
}

// feeOf extracts the fee an executed op paid, nil if none.
func feeOf(op types.Op) *types.CollectedFee {
	switch o := op.(type) {
	case *types.TransferOp:
		return &types.CollectedFee{Token: o.Tx.Token, Amount: o.Tx.Fee}
	case *types.TransferToNewOp:
		return &types.CollectedFee{Token: o.Tx.Token, Amount: o.Tx.Fee}
	case *types.WithdrawOp:
		return &types.CollectedFee{Token: o.Tx.Token, Amount: o.Tx.Fee}
	case *types.ChangePubKeyOp:
		return &types.CollectedFee{Token: o.Tx.FeeToken, Amount: o.Tx.Fee}
	case *types.ForcedExitOp:
		return &types.CollectedFee{Token: o.Tx.Token, Amount: o.Tx.Fee}
	case *types.SwapOp:
		return &types.CollectedFee{Token: o.Tx.FeeToken, Amount: o.Tx.Fee}
	case *types.MintNFTOp:
		return &types.CollectedFee{Token: o.Tx.FeeToken, Amount: o.Tx.Fee}
	case *types.WithdrawNFTOp:
		return &types.CollectedFee{Token: o.Tx.FeeToken, Amount: o.Tx.Fee}
	default:
		return nil
	}
}

// ApplyBlock witnesses a sealed block: every executed op in order, then the
// fee application, then the folded public-data commitment. The resulting
// root must equal the block's sealed root.
func (b *Builder) ApplyBlock(block *types.Block) (*BlockWitness, error) {
	initialRoot := b.tree.Root()

	var opWitnesses []*OperationWitness
	var fees []types.CollectedFee
	for _, exec := range block.Ops {
		op := exec.GetOp()
		if op == nil {
			continue
		}
		w, err := b.ApplyOp(op)
		if err != nil {
			return nil, fmt.Errorf("witness op %T: %w", op, err)
		}
		opWitnesses = append(opWitnesses, w)
		if fee := feeOf(op); fee != nil && fee.Amount.Sign() > 0 {
			fees = append(fees, *fee)
		}
	}

	// Apply collected fees to the fee account after all ops.
	for _, fee := range fees {
		b.mutateLeaf(block.FeeAccount, func(acc *smt.CircuitAccount) {
			addBalance(acc, fee.Token, fee.Amount)
		})
	}
	finalRoot := b.tree.Root()
	if !finalRoot.Equal(&block.NewRoot) {
		return nil, fmt.Errorf("witness root %s does not match sealed root %s",
			finalRoot.String(), block.NewRoot.String())
	}

	feeAudit := b.audit(block.FeeAccount, 0)

	data, err := pubdata.EncodeBlock(block.Ops, blockCapacityChunks(block))
	if err != nil {
		return nil, fmt.Errorf("block pubdata: %w", err)
	}

	commitment := Commitment(block.Number, block.FeeAccount, initialRoot, finalRoot, data)

	return &BlockWitness{
		BlockNumber:     block.Number,
		FeeAccount:      block.FeeAccount,
		InitialRoot:     initialRoot,
		FinalRoot:       finalRoot,
		Ops:             opWitnesses,
		FeeAccountAudit: feeAudit,
		Pubdata:         data,
		Commitment:      commitment,
	}, nil
}

// blockCapacityChunks recovers the chunk capacity from a sealed block; the
// keeper pads every block to exact capacity, so the sum is the capacity.
func blockCapacityChunks(block *types.Block) int {
	return block.ChunksUsed()
}

// Commitment folds the block identity, the roots and the pubdata into the
// single field element that is the proof's public input:
// H(H(H(H(block_number || fee_account) || old_root) || new_root) || pubdata)
// with the top bits masked to fit the scalar field.
func Commitment(number types.BlockNumber, feeAccount types.AccountID, oldRoot, newRoot ff.Fr, pubdataBytes []byte) ff.Fr {
	head := make([]byte, 64)
	copy(head[24:32], util.Uint64BE(uint64(number)))
	copy(head[56:64], util.Uint64BE(uint64(feeAccount)))
	d := util.Sha256(head)

	oldBytes := ff.ToBytesBE(&oldRoot)
	d = util.Sha256Fold(d, oldBytes[:])
	newBytes := ff.ToBytesBE(&newRoot)
	d = util.Sha256Fold(d, newBytes[:])
	d = util.Sha256Fold(d, pubdataBytes)

	masked := util.MaskFr(d)
	out, err := ff.FromBytesBE(masked[:])
	if err != nil {
		// Masking guarantees canonicality.
		panic(err)
	}
	return out
}
