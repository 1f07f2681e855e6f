package pubdata

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/types"
)

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("pubdata truncated at offset %d", r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) account() types.AccountID { return types.AccountID(r.u32()) }
func (r *reader) token() types.TokenID     { return types.TokenID(r.u32()) }

func (r *reader) address() types.Address {
	var a types.Address
	copy(a[:], r.take(EthAddressBytes))
	return a
}

func (r *reader) pubKeyHash() types.PubKeyHash {
	var p types.PubKeyHash
	copy(p[:], r.take(PubKeyHashBytes))
	return p
}

func (r *reader) balance() *big.Int {
	b := r.take(BalanceBytes)
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(b)
}

func (r *reader) packedAmount() *big.Int {
	b := r.take(AmountPackedBytes)
	if b == nil {
		return new(big.Int)
	}
	v, err := UnpackAmount(b)
	if err != nil {
		r.err = err
		return new(big.Int)
	}
	return v
}

func (r *reader) packedFee() *big.Int {
	b := r.take(FeePackedBytes)
	if b == nil {
		return new(big.Int)
	}
	v, err := UnpackFee(b)
	if err != nil {
		r.err = err
		return new(big.Int)
	}
	return v
}

func (r *reader) contentHash() [32]byte {
	var h [32]byte
	copy(h[:], r.take(ContentHashBytes))
	return h
}

func (r *reader) byteVal() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// checkPadding verifies the remainder of an exact-chunk encoding is zero.
func (r *reader) checkPadding(chunks int) {
	if r.err != nil {
		return
	}
	size := chunks * ChunkBytes
	if len(r.buf) < size {
		r.err = fmt.Errorf("pubdata is %d bytes, want %d", len(r.buf), size)
		return
	}
	for i := r.off; i < size; i++ {
		if r.buf[i] != 0 {
			r.err = fmt.Errorf("nonzero padding at offset %d", i)
			return
		}
	}
	r.off = size
}

// DecodeOp parses one operation from the front of data. The returned op
// carries exactly the fields present in pubdata. The second return value is
// the number of bytes consumed.
func DecodeOp(data []byte) (types.Op, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("empty pubdata")
	}
	r := &reader{buf: data}
	tag := types.TxType(r.byteVal())

	var op types.Op
	switch tag {
	case types.TxTypeNoop:
		op = types.NoopOp{}
		r.checkPadding(types.ChunksNoop)

	case types.TxTypeDeposit:
		d := &types.DepositOp{Priority: &types.Deposit{}}
		d.To = r.account()
		d.Priority.Token = r.token()
		d.Priority.Amount = r.balance()
		d.Priority.To = r.address()
		r.checkPadding(types.ChunksDeposit)
		op = d

	case types.TxTypeTransferToNew:
		t := &types.TransferToNewOp{Tx: &types.TransferToNew{}}
		t.Tx.From = r.account()
		t.Tx.Token = r.token()
		t.Tx.Amount = r.packedAmount()
		t.Tx.ToAddress = r.address()
		t.To = r.account()
		t.Tx.Fee = r.packedFee()
		r.checkPadding(types.ChunksTransferToNew)
		op = t

	case types.TxTypeWithdraw:
		wd := &types.WithdrawOp{Tx: &types.Withdraw{}}
		wd.Tx.From = r.account()
		wd.Tx.Token = r.token()
		wd.Tx.Amount = r.balance()
		wd.Tx.Fee = r.packedFee()
		wd.Tx.EthAddress = r.address()
		r.checkPadding(types.ChunksWithdraw)
		op = wd

	case types.TxTypeClose:
		c := &types.CloseOp{Tx: &types.Close{}}
		c.Tx.AccountID = r.account()
		r.checkPadding(types.ChunksClose)
		op = c

	case types.TxTypeTransfer:
		t := &types.TransferOp{Tx: &types.Transfer{}}
		t.Tx.From = r.account()
		t.Tx.Token = r.token()
		t.Tx.Amount = r.packedAmount()
		t.Tx.To = r.account()
		t.Tx.Fee = r.packedFee()
		r.checkPadding(types.ChunksTransfer)
		op = t

	case types.TxTypeFullExit:
		f := &types.FullExitOp{Priority: &types.FullExit{}}
		f.Priority.AccountID = r.account()
		f.Priority.EthAddress = r.address()
		f.Priority.Token = r.token()
		f.Amount = r.balance()
		r.checkPadding(types.ChunksFullExit)
		op = f

	case types.TxTypeChangePubKey:
		c := &types.ChangePubKeyOp{Tx: &types.ChangePubKey{}}
		c.Tx.AccountID = r.account()
		c.Tx.NewPubKeyHash = r.pubKeyHash()
		c.Address = r.address()
		c.Tx.FeeToken = r.token()
		c.Tx.Fee = r.packedFee()
		r.checkPadding(types.ChunksChangePubKey)
		op = c

	case types.TxTypeForcedExit:
		f := &types.ForcedExitOp{Tx: &types.ForcedExit{}}
		f.Tx.Initiator = r.account()
		f.Target = r.account()
		f.Tx.Token = r.token()
		f.Amount = r.balance()
		f.Tx.Fee = r.packedFee()
		f.Tx.Target = r.address()
		r.checkPadding(types.ChunksForcedExit)
		op = f

	case types.TxTypeMintNFT:
		m := &types.MintNFTOp{Tx: &types.MintNFT{}}
		m.Tx.Creator = r.account()
		m.Tx.Recipient = r.account()
		m.Tx.ContentHash = r.contentHash()
		m.Tx.FeeToken = r.token()
		m.Tx.Fee = r.packedFee()
		r.checkPadding(types.ChunksMintNFT)
		op = m

	case types.TxTypeWithdrawNFT:
		wn := &types.WithdrawNFTOp{Tx: &types.WithdrawNFT{}}
		wn.Tx.From = r.account()
		wn.NFT.CreatorID = r.account()
		wn.NFT.CreatorAddress = r.address()
		wn.NFT.SerialID = r.u32()
		wn.NFT.ContentHash = r.contentHash()
		wn.Tx.ToAddress = r.address()
		wn.Tx.Token = r.token()
		wn.NFT.ID = wn.Tx.Token
		wn.Tx.FeeToken = r.token()
		wn.Tx.Fee = r.packedFee()
		r.checkPadding(types.ChunksWithdrawNFT)
		op = wn

	case types.TxTypeSwap:
		s := &types.SwapOp{Tx: &types.Swap{}}
		s.Tx.Orders[0].AccountID = r.account()
		s.Tx.Orders[0].Recipient = r.account()
		s.Tx.Orders[1].AccountID = r.account()
		s.Tx.Orders[1].Recipient = r.account()
		s.Tx.Submitter = r.account()
		s.Tx.Orders[0].TokenSell = r.token()
		s.Tx.Orders[1].TokenSell = r.token()
		s.Tx.Orders[0].TokenBuy = s.Tx.Orders[1].TokenSell
		s.Tx.Orders[1].TokenBuy = s.Tx.Orders[0].TokenSell
		s.Tx.FeeToken = r.token()
		s.Tx.Amounts[0] = r.packedAmount()
		s.Tx.Amounts[1] = r.packedAmount()
		s.Tx.Fee = r.packedFee()
		mask := r.byteVal()
		for i := range s.Tx.Orders {
			if mask&(1<<uint(i)) != 0 {
				s.Tx.Orders[i].Amount = new(big.Int).Set(s.Tx.Amounts[i])
			} else {
				s.Tx.Orders[i].Amount = new(big.Int)
			}
		}
		r.checkPadding(types.ChunksSwap)
		op = s

	default:
		return nil, 0, fmt.Errorf("unknown pubdata tag 0x%02x", byte(tag))
	}

	if r.err != nil {
		return nil, 0, r.err
	}
	return op, r.off, nil
}

// DecodeBlock parses a full block's pubdata into its operations, including
// the trailing Noop padding.
func DecodeBlock(data []byte) ([]types.Op, error) {
	var ops []types.Op
	for off := 0; off < len(data); {
		op, n, err := DecodeOp(data[off:])
		if err != nil {
			return nil, fmt.Errorf("op at offset %d: %w", off, err)
		}
		ops = append(ops, op)
		off += n
	}
	return ops, nil
}
