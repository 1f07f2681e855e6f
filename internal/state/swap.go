package state

import (
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/pubdata"
	"github.com/djkazic/zkrollup-go/internal/types"
)

// ratioHolds checks the exact integer cross-multiplication
// sold * price.Buy == bought * price.Sell. Any remainder rejects the swap;
// there is no rounding tolerance.
func ratioHolds(sold, bought *big.Int, price types.Ratio) bool {
	if price.Sell == nil || price.Buy == nil || price.Sell.Sign() <= 0 || price.Buy.Sign() <= 0 {
		return false
	}
	lhs := new(big.Int).Mul(sold, price.Buy)
	rhs := new(big.Int).Mul(bought, price.Sell)
	return lhs.Cmp(rhs) == 0
}

func (s *State) executeSwap(tx *types.Swap, ts uint64) (*OpSuccess, error) {
	submitter, ok := s.accounts[tx.Submitter]
	if !ok {
		return nil, failf(ReasonWrongSubmitter, "submitter %d not found", tx.Submitter)
	}
	if !tx.Time.Contains(ts) {
		return nil, failf(ReasonTimeRangeViolated, "block timestamp %d", ts)
	}
	if err := checkToken(tx.FeeToken); err != nil {
		return nil, err
	}
	if tx.FeeToken >= types.MinNFTTokenID {
		return nil, failf(ReasonWrongFeeToken, "fees cannot be paid in NFTs")
	}
	if !pubdata.FeeIsPackable(tx.Fee) {
		return nil, failf(ReasonFeeNotPackable, "fee %s", tx.Fee)
	}
	if submitter.Nonce != tx.Nonce {
		return nil, failf(ReasonWrongNonce, "submitter nonce %d, tx nonce %d", submitter.Nonce, tx.Nonce)
	}
	if err := s.verifySignature(&tx.Signature, tx.SignPayload(), submitter); err != nil {
		return nil, err
	}

	o0, o1 := &tx.Orders[0], &tx.Orders[1]
	if o0.AccountID == o1.AccountID {
		return nil, failf(ReasonWrongSwapAmounts, "orders share one account")
	}
	if o0.TokenSell == o0.TokenBuy || o1.TokenSell == o1.TokenBuy {
		return nil, failf(ReasonWrongSwapAmounts, "order trades a token against itself")
	}
	if o0.TokenSell != o1.TokenBuy || o0.TokenBuy != o1.TokenSell {
		return nil, failf(ReasonWrongSwapAmounts, "order token pairs do not cross")
	}

	makers := [2]*types.Account{}
	for i, o := range []*types.Order{o0, o1} {
		maker, ok := s.accounts[o.AccountID]
		if !ok {
			return nil, failf(ReasonAccountNotFound, "order %d maker %d", i, o.AccountID)
		}
		if _, ok := s.accounts[o.Recipient]; !ok {
			return nil, failf(ReasonAccountNotFound, "order %d recipient %d", i, o.Recipient)
		}
		if err := checkToken(o.TokenSell); err != nil {
			return nil, err
		}
		if !o.Time.Contains(ts) {
			return nil, failf(ReasonTimeRangeViolated, "order %d time range", i)
		}
		if maker.Nonce != o.Nonce {
			return nil, failf(ReasonWrongNonce, "order %d maker nonce %d, order nonce %d", i, maker.Nonce, o.Nonce)
		}
		if err := s.verifySignature(&o.Signature, o.SignPayload(), maker); err != nil {
			return nil, err
		}
		makers[i] = maker
	}

	amounts := tx.Amounts
	for i, o := range []*types.Order{o0, o1} {
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			return nil, failf(ReasonWrongSwapAmounts, "amount %d is not positive", i)
		}
		if !pubdata.AmountIsPackable(amounts[i]) {
			return nil, failf(ReasonAmountNotPackable, "amount %d = %s", i, amounts[i])
		}
		if !o.IsLimit() && o.Amount.Cmp(amounts[i]) != 0 {
			return nil, failf(ReasonWrongSwapAmounts, "amount %d does not match order amount", i)
		}
	}

	// Exact price consistency for both orders: amounts[i] sold against
	// amounts[1-i] bought.
	if !ratioHolds(amounts[0], amounts[1], o0.Price) {
		return nil, failf(ReasonWrongSwapAmounts, "amounts violate order 0 price")
	}
	if !ratioHolds(amounts[1], amounts[0], o1.Price) {
		return nil, failf(ReasonWrongSwapAmounts, "amounts violate order 1 price")
	}

	if makers[0].Balance(o0.TokenSell).Cmp(amounts[0]) < 0 {
		return nil, failf(ReasonInsufficientBalance, "order 0 maker balance %s", makers[0].Balance(o0.TokenSell))
	}
	if makers[1].Balance(o1.TokenSell).Cmp(amounts[1]) < 0 {
		return nil, failf(ReasonInsufficientBalance, "order 1 maker balance %s", makers[1].Balance(o1.TokenSell))
	}
	if submitter.Balance(tx.FeeToken).Cmp(tx.Fee) < 0 {
		return nil, failf(ReasonInsufficientBalance, "submitter fee balance %s", submitter.Balance(tx.FeeToken))
	}

	// Debits first, then credits: order 0 maker sells to order 1 recipient
	// and vice versa. Matched orders consume the maker's nonce, limit
	// orders do not. The submitter's nonce always advances.
	updates := types.AccountUpdates{
		s.changeBalance(o0.AccountID, o0.TokenSell, new(big.Int).Neg(amounts[0]), !o0.IsLimit()),
		s.changeBalance(o1.AccountID, o1.TokenSell, new(big.Int).Neg(amounts[1]), !o1.IsLimit()),
		s.changeBalance(o0.Recipient, o0.TokenBuy, amounts[1], false),
		s.changeBalance(o1.Recipient, o1.TokenBuy, amounts[0], false),
		s.changeBalance(tx.Submitter, tx.FeeToken, new(big.Int).Neg(tx.Fee), true),
	}
	return &OpSuccess{
		Fee:      &types.CollectedFee{Token: tx.FeeToken, Amount: new(big.Int).Set(tx.Fee)},
		Updates:  updates,
		Executed: &types.SwapOp{Tx: tx},
	}, nil
}
