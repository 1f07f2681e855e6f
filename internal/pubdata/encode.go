package pubdata

import (
	"fmt"
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/types"
	"github.com/djkazic/zkrollup-go/pkg/util"
)

type writer struct {
	buf []byte
	err error
}

func (w *writer) tag(t types.TxType) *writer {
	w.buf = append(w.buf, byte(t))
	return w
}

func (w *writer) u32(v uint32) *writer {
	w.buf = append(w.buf, util.Uint32BE(v)...)
	return w
}

func (w *writer) account(id types.AccountID) *writer { return w.u32(uint32(id)) }
func (w *writer) token(id types.TokenID) *writer     { return w.u32(uint32(id)) }

func (w *writer) address(a types.Address) *writer {
	w.buf = append(w.buf, a[:]...)
	return w
}

func (w *writer) pubKeyHash(p types.PubKeyHash) *writer {
	w.buf = append(w.buf, p[:]...)
	return w
}

func (w *writer) balance(v *big.Int) *writer {
	if w.err != nil {
		return w
	}
	if v == nil {
		v = new(big.Int)
	}
	b, err := util.BigToBEFixed(v, BalanceBytes)
	if err != nil {
		w.err = fmt.Errorf("balance field: %w", err)
		return w
	}
	w.buf = append(w.buf, b...)
	return w
}

func (w *writer) packedAmount(v *big.Int) *writer {
	if w.err != nil {
		return w
	}
	b, err := PackAmount(v)
	if err != nil {
		w.err = err
		return w
	}
	w.buf = append(w.buf, b...)
	return w
}

func (w *writer) packedFee(v *big.Int) *writer {
	if w.err != nil {
		return w
	}
	b, err := PackFee(v)
	if err != nil {
		w.err = err
		return w
	}
	w.buf = append(w.buf, b...)
	return w
}

func (w *writer) bytes(b []byte) *writer {
	w.buf = append(w.buf, b...)
	return w
}

// finish zero-pads the encoding to the op's exact chunk footprint.
func (w *writer) finish(chunks int) ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	size := chunks * ChunkBytes
	if len(w.buf) > size {
		return nil, fmt.Errorf("encoding is %d bytes, exceeds %d chunks", len(w.buf), chunks)
	}
	out := make([]byte, size)
	copy(out, w.buf)
	return out, nil
}

// EncodeOp returns the canonical pubdata of an executed operation,
// right-zero-padded to CHUNKS(op) * CHUNK_BIT_WIDTH bits.
func EncodeOp(op types.Op) ([]byte, error) {
	w := &writer{}
	switch o := op.(type) {
	case types.NoopOp, *types.NoopOp:
		w.tag(types.TxTypeNoop)

	case *types.DepositOp:
		w.tag(types.TxTypeDeposit).
			account(o.To).
			token(o.Priority.Token).
			balance(o.Priority.Amount).
			address(o.Priority.To)

	case *types.TransferToNewOp:
		w.tag(types.TxTypeTransferToNew).
			account(o.Tx.From).
			token(o.Tx.Token).
			packedAmount(o.Tx.Amount).
			address(o.Tx.ToAddress).
			account(o.To).
			packedFee(o.Tx.Fee)

	case *types.WithdrawOp:
		w.tag(types.TxTypeWithdraw).
			account(o.Tx.From).
			token(o.Tx.Token).
			balance(o.Tx.Amount).
			packedFee(o.Tx.Fee).
			address(o.Tx.EthAddress)

	case *types.CloseOp:
		w.tag(types.TxTypeClose).
			account(o.Tx.AccountID)

	case *types.TransferOp:
		w.tag(types.TxTypeTransfer).
			account(o.Tx.From).
			token(o.Tx.Token).
			packedAmount(o.Tx.Amount).
			account(o.Tx.To).
			packedFee(o.Tx.Fee)

	case *types.FullExitOp:
		w.tag(types.TxTypeFullExit).
			account(o.Priority.AccountID).
			address(o.Priority.EthAddress).
			token(o.Priority.Token).
			balance(o.Amount)

	case *types.ChangePubKeyOp:
		w.tag(types.TxTypeChangePubKey).
			account(o.Tx.AccountID).
			pubKeyHash(o.Tx.NewPubKeyHash).
			address(o.Address).
			token(o.Tx.FeeToken).
			packedFee(o.Tx.Fee)

	case *types.ForcedExitOp:
		w.tag(types.TxTypeForcedExit).
			account(o.Tx.Initiator).
			account(o.Target).
			token(o.Tx.Token).
			balance(o.Amount).
			packedFee(o.Tx.Fee).
			address(o.Tx.Target)

	case *types.MintNFTOp:
		w.tag(types.TxTypeMintNFT).
			account(o.Tx.Creator).
			account(o.Tx.Recipient).
			bytes(o.Tx.ContentHash[:]).
			token(o.Tx.FeeToken).
			packedFee(o.Tx.Fee)

	case *types.WithdrawNFTOp:
		w.tag(types.TxTypeWithdrawNFT).
			account(o.Tx.From).
			account(o.NFT.CreatorID).
			address(o.NFT.CreatorAddress).
			u32(o.NFT.SerialID).
			bytes(o.NFT.ContentHash[:]).
			address(o.Tx.ToAddress).
			token(o.Tx.Token).
			token(o.Tx.FeeToken).
			packedFee(o.Tx.Fee)

	case *types.SwapOp:
		w.tag(types.TxTypeSwap).
			account(o.Tx.Orders[0].AccountID).
			account(o.Tx.Orders[0].Recipient).
			account(o.Tx.Orders[1].AccountID).
			account(o.Tx.Orders[1].Recipient).
			account(o.Tx.Submitter).
			token(o.Tx.Orders[0].TokenSell).
			token(o.Tx.Orders[1].TokenSell).
			token(o.Tx.FeeToken).
			packedAmount(o.Tx.Amounts[0]).
			packedAmount(o.Tx.Amounts[1]).
			packedFee(o.Tx.Fee).
			bytes([]byte{swapNonceMask(o.Tx)})

	default:
		return nil, fmt.Errorf("unknown operation type %T", op)
	}
	return w.finish(op.Chunks())
}

// swapNonceMask marks which orders consume their maker's nonce: bit i is set
// when order i is a matched (non-limit) order.
func swapNonceMask(s *types.Swap) byte {
	var mask byte
	for i := range s.Orders {
		if !s.Orders[i].IsLimit() {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// EncodeBlock concatenates the pubdata of every successful op in order and
// pads the block with Noops to the given chunk capacity.
func EncodeBlock(ops []*types.ExecutedOperation, capacityChunks int) ([]byte, error) {
	out := make([]byte, 0, capacityChunks*ChunkBytes)
	used := 0
	for _, exec := range ops {
		op := exec.GetOp()
		if op == nil {
			continue
		}
		enc, err := EncodeOp(op)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
		used += op.Chunks()
	}
	if used > capacityChunks {
		return nil, fmt.Errorf("block uses %d chunks, capacity is %d", used, capacityChunks)
	}
	noop, err := EncodeOp(types.NoopOp{})
	if err != nil {
		return nil, err
	}
	for ; used < capacityChunks; used++ {
		out = append(out, noop...)
	}
	return out, nil
}
