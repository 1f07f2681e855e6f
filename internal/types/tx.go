package types

import (
	"encoding/binary"
	"math/big"

	"github.com/djkazic/zkrollup-go/pkg/util"
)

// TxType tags every operation variant. The values are the on-chain pubdata
// tags and must not change.
type TxType byte

const (
	TxTypeNoop          TxType = 0x00
	TxTypeDeposit       TxType = 0x01
	TxTypeTransferToNew TxType = 0x02
	TxTypeWithdraw      TxType = 0x03
	TxTypeClose         TxType = 0x04
	TxTypeTransfer      TxType = 0x05
	TxTypeFullExit      TxType = 0x06
	TxTypeChangePubKey  TxType = 0x07
	TxTypeForcedExit    TxType = 0x08
	TxTypeMintNFT       TxType = 0x09
	TxTypeWithdrawNFT   TxType = 0x0a
	TxTypeSwap          TxType = 0x0b
)

// TimeRange bounds the block timestamps an operation is valid in. A zero
// ValidUntil means no upper bound.
type TimeRange struct {
	ValidFrom  uint64
	ValidUntil uint64
}

// Contains reports whether ts falls inside the range.
func (r TimeRange) Contains(ts uint64) bool {
	if ts < r.ValidFrom {
		return false
	}
	if r.ValidUntil != 0 && ts > r.ValidUntil {
		return false
	}
	return true
}

// Tx is an L2 user operation: signed, nonce-bearing, addressed to a signer
// account.
type Tx interface {
	TxType() TxType
	// Account returns the id of the account whose nonce and signature
	// authorize the operation.
	Account() AccountID
	TxNonce() Nonce
	// SignPayload returns the canonical byte encoding covered by the L2
	// signature.
	SignPayload() []byte
	// Hash identifies the transaction.
	Hash() [32]byte
}

// payload is a small builder for canonical sign encodings.
type payload []byte

func newPayload(t TxType) payload {
	return payload{byte(t)}
}

func (p payload) u32(v uint32) payload {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(p, b[:]...)
}

func (p payload) u64(v uint64) payload {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(p, b[:]...)
}

func (p payload) amount(v *big.Int) payload {
	if v == nil {
		v = new(big.Int)
	}
	if v.BitLen() > MaxBalanceBits {
		// Out-of-range values cannot pass validation; keep the encoding
		// total and deterministic anyway.
		return append(p, v.Bytes()...)
	}
	var b [16]byte
	v.FillBytes(b[:])
	return append(p, b[:]...)
}

func (p payload) bytes(b []byte) payload {
	return append(p, b...)
}

func (p payload) timeRange(r TimeRange) payload {
	return p.u64(r.ValidFrom).u64(r.ValidUntil)
}

func txHash(payload []byte) [32]byte {
	return util.Sha256(payload)
}

// Transfer moves amount of token from one existing account to another; the
// fee is paid in the same token.
type Transfer struct {
	From      AccountID
	To        AccountID
	Token     TokenID
	Amount    *big.Int
	Fee       *big.Int
	Nonce     Nonce
	Time      TimeRange
	Signature TxSignature
}

func (t *Transfer) TxType() TxType     { return TxTypeTransfer }
func (t *Transfer) Account() AccountID { return t.From }
func (t *Transfer) TxNonce() Nonce     { return t.Nonce }

func (t *Transfer) SignPayload() []byte {
	return newPayload(TxTypeTransfer).
		u32(uint32(t.From)).u32(uint32(t.To)).u32(uint32(t.Token)).
		amount(t.Amount).amount(t.Fee).u32(uint32(t.Nonce)).
		timeRange(t.Time)
}

func (t *Transfer) Hash() [32]byte { return txHash(t.SignPayload()) }

// TransferToNew moves amount of token to an address that has no account yet;
// executing it creates the account.
type TransferToNew struct {
	From      AccountID
	ToAddress Address
	Token     TokenID
	Amount    *big.Int
	Fee       *big.Int
	Nonce     Nonce
	Time      TimeRange
	Signature TxSignature
}

func (t *TransferToNew) TxType() TxType     { return TxTypeTransferToNew }
func (t *TransferToNew) Account() AccountID { return t.From }
func (t *TransferToNew) TxNonce() Nonce     { return t.Nonce }

func (t *TransferToNew) SignPayload() []byte {
	return newPayload(TxTypeTransferToNew).
		u32(uint32(t.From)).bytes(t.ToAddress[:]).u32(uint32(t.Token)).
		amount(t.Amount).amount(t.Fee).u32(uint32(t.Nonce)).
		timeRange(t.Time)
}

func (t *TransferToNew) Hash() [32]byte { return txHash(t.SignPayload()) }

// Withdraw debits an L2 balance and emits a withdrawal record for L1
// settlement to EthAddress.
type Withdraw struct {
	From       AccountID
	EthAddress Address
	Token      TokenID
	Amount     *big.Int
	Fee        *big.Int
	Nonce      Nonce
	Time       TimeRange
	Signature  TxSignature
}

func (t *Withdraw) TxType() TxType     { return TxTypeWithdraw }
func (t *Withdraw) Account() AccountID { return t.From }
func (t *Withdraw) TxNonce() Nonce     { return t.Nonce }

func (t *Withdraw) SignPayload() []byte {
	return newPayload(TxTypeWithdraw).
		u32(uint32(t.From)).bytes(t.EthAddress[:]).u32(uint32(t.Token)).
		amount(t.Amount).amount(t.Fee).u32(uint32(t.Nonce)).
		timeRange(t.Time)
}

func (t *Withdraw) Hash() [32]byte { return txHash(t.SignPayload()) }

// ChangePubKey rotates an account's signing key. It is authorized either by
// an ECDSA commitment published on L1 in advance (OnchainAuth) or by a fresh
// L2 signature with the new key.
type ChangePubKey struct {
	AccountID     AccountID
	NewPubKeyHash PubKeyHash
	FeeToken      TokenID
	Fee           *big.Int
	Nonce         Nonce
	Time          TimeRange
	OnchainAuth   bool
	Signature     TxSignature
}

func (t *ChangePubKey) TxType() TxType     { return TxTypeChangePubKey }
func (t *ChangePubKey) Account() AccountID { return t.AccountID }
func (t *ChangePubKey) TxNonce() Nonce     { return t.Nonce }

func (t *ChangePubKey) SignPayload() []byte {
	return newPayload(TxTypeChangePubKey).
		u32(uint32(t.AccountID)).bytes(t.NewPubKeyHash[:]).u32(uint32(t.FeeToken)).
		amount(t.Fee).u32(uint32(t.Nonce)).
		timeRange(t.Time)
}

func (t *ChangePubKey) Hash() [32]byte { return txHash(t.SignPayload()) }

// ForcedExit sends the full balance of an unowned target account to its own
// L1 address; the initiator pays the fee and spends a nonce.
type ForcedExit struct {
	Initiator AccountID
	Target    Address
	Token     TokenID
	Fee       *big.Int
	Nonce     Nonce
	Time      TimeRange
	Signature TxSignature
}

func (t *ForcedExit) TxType() TxType     { return TxTypeForcedExit }
func (t *ForcedExit) Account() AccountID { return t.Initiator }
func (t *ForcedExit) TxNonce() Nonce     { return t.Nonce }

func (t *ForcedExit) SignPayload() []byte {
	return newPayload(TxTypeForcedExit).
		u32(uint32(t.Initiator)).bytes(t.Target[:]).u32(uint32(t.Token)).
		amount(t.Fee).u32(uint32(t.Nonce)).
		timeRange(t.Time)
}

func (t *ForcedExit) Hash() [32]byte { return txHash(t.SignPayload()) }

// Close deletes an account; permitted only when every balance is zero.
type Close struct {
	AccountID AccountID
	Nonce     Nonce
	Time      TimeRange
	Signature TxSignature
}

func (t *Close) TxType() TxType     { return TxTypeClose }
func (t *Close) Account() AccountID { return t.AccountID }
func (t *Close) TxNonce() Nonce     { return t.Nonce }

func (t *Close) SignPayload() []byte {
	return newPayload(TxTypeClose).
		u32(uint32(t.AccountID)).u32(uint32(t.Nonce)).
		timeRange(t.Time)
}

func (t *Close) Hash() [32]byte { return txHash(t.SignPayload()) }

// Ratio is a sell:buy price as an integer pair.
type Ratio struct {
	Sell *big.Int
	Buy  *big.Int
}

// Order is one signed half of a swap. Amount zero is a limit order: it
// matches any amount consistent with the price and does not consume the
// maker's nonce.
type Order struct {
	AccountID AccountID
	Recipient AccountID
	Nonce     Nonce
	TokenSell TokenID
	TokenBuy  TokenID
	Price     Ratio
	Amount    *big.Int
	Time      TimeRange
	Signature TxSignature
}

// SignPayload returns the canonical byte encoding of the order.
func (o *Order) SignPayload() []byte {
	return payload(newPayload(TxTypeSwap)).
		bytes([]byte{0x6f}). // order discriminator inside the swap domain
		u32(uint32(o.AccountID)).u32(uint32(o.Recipient)).u32(uint32(o.Nonce)).
		u32(uint32(o.TokenSell)).u32(uint32(o.TokenBuy)).
		amount(o.Price.Sell).amount(o.Price.Buy).
		amount(o.Amount).
		timeRange(o.Time)
}

// IsLimit reports whether the order leaves the fill amount open.
func (o *Order) IsLimit() bool {
	return o.Amount == nil || o.Amount.Sign() == 0
}

// Swap atomically exchanges tokens between two signed orders; the submitter
// pays the fee in a token of its choice.
type Swap struct {
	Submitter AccountID
	Nonce     Nonce
	Orders    [2]Order
	Amounts   [2]*big.Int
	Fee       *big.Int
	FeeToken  TokenID
	Time      TimeRange
	Signature TxSignature
}

func (t *Swap) TxType() TxType     { return TxTypeSwap }
func (t *Swap) Account() AccountID { return t.Submitter }
func (t *Swap) TxNonce() Nonce     { return t.Nonce }

func (t *Swap) SignPayload() []byte {
	p := newPayload(TxTypeSwap).
		u32(uint32(t.Submitter)).u32(uint32(t.Nonce)).
		u32(uint32(t.FeeToken)).amount(t.Fee)
	for i := range t.Orders {
		p = p.bytes(t.Orders[i].SignPayload())
		p = p.amount(t.Amounts[i])
	}
	return p.timeRange(t.Time)
}

func (t *Swap) Hash() [32]byte { return txHash(t.SignPayload()) }

// MintNFT creates a token in the reserved NFT range, crediting the recipient
// with a unit balance of the new token id.
type MintNFT struct {
	Creator     AccountID
	Recipient   AccountID
	ContentHash [32]byte
	FeeToken    TokenID
	Fee         *big.Int
	Nonce       Nonce
	Signature   TxSignature
}

func (t *MintNFT) TxType() TxType     { return TxTypeMintNFT }
func (t *MintNFT) Account() AccountID { return t.Creator }
func (t *MintNFT) TxNonce() Nonce     { return t.Nonce }

func (t *MintNFT) SignPayload() []byte {
	return newPayload(TxTypeMintNFT).
		u32(uint32(t.Creator)).u32(uint32(t.Recipient)).
		bytes(t.ContentHash[:]).u32(uint32(t.FeeToken)).
		amount(t.Fee).u32(uint32(t.Nonce))
}

func (t *MintNFT) Hash() [32]byte { return txHash(t.SignPayload()) }

// WithdrawNFT removes L2 ownership of an NFT and emits a withdrawal record
// for its L1 settlement.
type WithdrawNFT struct {
	From      AccountID
	ToAddress Address
	Token     TokenID
	FeeToken  TokenID
	Fee       *big.Int
	Nonce     Nonce
	Time      TimeRange
	Signature TxSignature
}

func (t *WithdrawNFT) TxType() TxType     { return TxTypeWithdrawNFT }
func (t *WithdrawNFT) Account() AccountID { return t.From }
func (t *WithdrawNFT) TxNonce() Nonce     { return t.Nonce }

func (t *WithdrawNFT) SignPayload() []byte {
	return newPayload(TxTypeWithdrawNFT).
		u32(uint32(t.From)).bytes(t.ToAddress[:]).u32(uint32(t.Token)).
		u32(uint32(t.FeeToken)).amount(t.Fee).u32(uint32(t.Nonce)).
		timeRange(t.Time)
}

func (t *WithdrawNFT) Hash() [32]byte { return txHash(t.SignPayload()) }
