package state

import (
	"fmt"
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/pubdata"
	"github.com/djkazic/zkrollup-go/internal/smt"
	"github.com/djkazic/zkrollup-go/internal/types"
)

// OpSuccess is the outcome of a successfully executed operation: the fee it
// paid, the reversible updates it produced, its executed form and any L1
// withdrawal records it emitted.
type OpSuccess struct {
	Fee         *types.CollectedFee
	Updates     types.AccountUpdates
	Executed    types.Op
	Withdrawals []types.WithdrawalRecord
}

// maxToken is the exclusive upper bound of representable token ids.
const maxToken = types.TokenID(1) << smt.BalanceTreeDepth

// ExecuteTx validates and applies one L2 transaction against the state.
// Validation failures return a *TxFailure and leave the state untouched;
// any other error is fatal.
func (s *State) ExecuteTx(tx types.Tx, blockTimestamp uint64) (*OpSuccess, error) {
	switch t := tx.(type) {
	case *types.Transfer:
		return s.executeTransfer(t, blockTimestamp)
	case *types.TransferToNew:
		return s.executeTransferToNew(t, blockTimestamp)
	case *types.Withdraw:
		return s.executeWithdraw(t, blockTimestamp)
	case *types.ChangePubKey:
		return s.executeChangePubKey(t, blockTimestamp)
	case *types.ForcedExit:
		return s.executeForcedExit(t, blockTimestamp)
	case *types.Close:
		return s.executeClose(t, blockTimestamp)
	case *types.Swap:
		return s.executeSwap(t, blockTimestamp)
	case *types.MintNFT:
		return s.executeMintNFT(t)
	case *types.WithdrawNFT:
		return s.executeWithdrawNFT(t, blockTimestamp)
	default:
		return nil, fmt.Errorf("unknown transaction type %T", tx)
	}
}

// ExecutePriorityOp applies an L1-originated operation. Priority ops carry
// L1 authorization and cannot fail validation; errors are fatal.
func (s *State) ExecutePriorityOp(data types.PriorityOpData) (*OpSuccess, error) {
	switch d := data.(type) {
	case *types.Deposit:
		return s.executeDeposit(d)
	case *types.FullExit:
		return s.executeFullExit(d)
	default:
		return nil, fmt.Errorf("unknown priority op type %T", data)
	}
}

// changeBalance mutates one balance and returns the matching update pair.
// The caller has already validated range constraints.
func (s *State) changeBalance(id types.AccountID, token types.TokenID, delta *big.Int, bumpNonce bool) types.AccountUpdatePair {
	acc := s.accounts[id]
	old := acc.Balance(token)
	next := new(big.Int).Add(old, delta)
	oldNonce := acc.Nonce
	if bumpNonce {
		acc.Nonce++
	}
	acc.SetBalance(token, next)
	s.dirty[id] = struct{}{}
	return types.AccountUpdatePair{
		ID: id,
		Update: types.UpdateBalance{
			OldNonce:   oldNonce,
			NewNonce:   acc.Nonce,
			Token:      token,
			OldBalance: old,
			NewBalance: next,
		},
	}
}

func (s *State) verifySignature(sig *types.TxSignature, payload []byte, acc *types.Account) *TxFailure {
	if acc.PubKeyHash.IsZero() {
		return failf(ReasonAccountLocked, "account has no signing key")
	}
	pkh, err := sig.Verify(payload)
	if err != nil {
		return failf(ReasonInvalidSignature, "%v", err)
	}
	if pkh != acc.PubKeyHash {
		return failf(ReasonInvalidSignature, "signer key does not match account")
	}
	return nil
}

func checkToken(token types.TokenID) *TxFailure {
	if token >= maxToken {
		return failf(ReasonUnknownToken, "token %d out of range", token)
	}
	return nil
}

func checkCredit(acc *types.Account, token types.TokenID, amount *big.Int) *TxFailure {
	next := new(big.Int).Add(acc.Balance(token), amount)
	if next.Cmp(maxBalance) >= 0 {
		return failf(ReasonWrongAmount, "recipient balance would overflow")
	}
	return nil
}

func (s *State) executeTransfer(tx *types.Transfer, ts uint64) (*OpSuccess, error) {
	from, ok := s.accounts[tx.From]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "from account %d", tx.From)
	}
	to, ok := s.accounts[tx.To]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "to account %d", tx.To)
	}
	if err := checkToken(tx.Token); err != nil {
		return nil, err
	}
	if !tx.Time.Contains(ts) {
		return nil, failf(ReasonTimeRangeViolated, "block timestamp %d", ts)
	}
	if !pubdata.AmountIsPackable(tx.Amount) {
		return nil, failf(ReasonAmountNotPackable, "amount %s", tx.Amount)
	}
	if !pubdata.FeeIsPackable(tx.Fee) {
		return nil, failf(ReasonFeeNotPackable, "fee %s", tx.Fee)
	}
	if from.Nonce != tx.Nonce {
		return nil, failf(ReasonWrongNonce, "account nonce %d, tx nonce %d", from.Nonce, tx.Nonce)
	}
	if err := s.verifySignature(&tx.Signature, tx.SignPayload(), from); err != nil {
		return nil, err
	}

	total := new(big.Int).Add(tx.Amount, tx.Fee)
	if from.Balance(tx.Token).Cmp(total) < 0 {
		return nil, failf(ReasonInsufficientBalance, "balance %s, needed %s", from.Balance(tx.Token), total)
	}
	if tx.From != tx.To {
		if err := checkCredit(to, tx.Token, tx.Amount); err != nil {
			return nil, err
		}
	}

	updates := types.AccountUpdates{
		s.changeBalance(tx.From, tx.Token, new(big.Int).Neg(total), true),
		s.changeBalance(tx.To, tx.Token, tx.Amount, false),
	}
	return &OpSuccess{
		Fee:      &types.CollectedFee{Token: tx.Token, Amount: new(big.Int).Set(tx.Fee)},
		Updates:  updates,
		Executed: &types.TransferOp{Tx: tx},
	}, nil
}

func (s *State) executeTransferToNew(tx *types.TransferToNew, ts uint64) (*OpSuccess, error) {
	from, ok := s.accounts[tx.From]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "from account %d", tx.From)
	}
	if _, exists := s.byAddress[tx.ToAddress]; exists {
		return nil, failf(ReasonWrongAmount, "target address already has an account")
	}
	if err := checkToken(tx.Token); err != nil {
		return nil, err
	}
	if !tx.Time.Contains(ts) {
		return nil, failf(ReasonTimeRangeViolated, "block timestamp %d", ts)
	}
	if !pubdata.AmountIsPackable(tx.Amount) {
		return nil, failf(ReasonAmountNotPackable, "amount %s", tx.Amount)
	}
	if !pubdata.FeeIsPackable(tx.Fee) {
		return nil, failf(ReasonFeeNotPackable, "fee %s", tx.Fee)
	}
	if from.Nonce != tx.Nonce {
		return nil, failf(ReasonWrongNonce, "account nonce %d, tx nonce %d", from.Nonce, tx.Nonce)
	}
	if err := s.verifySignature(&tx.Signature, tx.SignPayload(), from); err != nil {
		return nil, err
	}

	total := new(big.Int).Add(tx.Amount, tx.Fee)
	if from.Balance(tx.Token).Cmp(total) < 0 {
		return nil, failf(ReasonInsufficientBalance, "balance %s, needed %s", from.Balance(tx.Token), total)
	}

	newID := s.nextID
	acc := types.NewAccount(tx.ToAddress)
	s.setAccount(newID, acc)
	s.nextID++

	updates := types.AccountUpdates{
		{ID: newID, Update: types.UpdateCreate{Address: tx.ToAddress, Nonce: 0}},
		s.changeBalance(tx.From, tx.Token, new(big.Int).Neg(total), true),
		s.changeBalance(newID, tx.Token, tx.Amount, false),
	}
	return &OpSuccess{
		Fee:      &types.CollectedFee{Token: tx.Token, Amount: new(big.Int).Set(tx.Fee)},
		Updates:  updates,
		Executed: &types.TransferToNewOp{Tx: tx, To: newID},
	}, nil
}

func (s *State) executeWithdraw(tx *types.Withdraw, ts uint64) (*OpSuccess, error) {
	from, ok := s.accounts[tx.From]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "from account %d", tx.From)
	}
	if err := checkToken(tx.Token); err != nil {
		return nil, err
	}
	if !tx.Time.Contains(ts) {
		return nil, failf(ReasonTimeRangeViolated, "block timestamp %d", ts)
	}
	if !pubdata.FeeIsPackable(tx.Fee) {
		return nil, failf(ReasonFeeNotPackable, "fee %s", tx.Fee)
	}
	if from.Nonce != tx.Nonce {
		return nil, failf(ReasonWrongNonce, "account nonce %d, tx nonce %d", from.Nonce, tx.Nonce)
	}
	if err := s.verifySignature(&tx.Signature, tx.SignPayload(), from); err != nil {
		return nil, err
	}

	total := new(big.Int).Add(tx.Amount, tx.Fee)
	if from.Balance(tx.Token).Cmp(total) < 0 {
		return nil, failf(ReasonInsufficientBalance, "balance %s, needed %s", from.Balance(tx.Token), total)
	}

	updates := types.AccountUpdates{
		s.changeBalance(tx.From, tx.Token, new(big.Int).Neg(total), true),
	}
	return &OpSuccess{
		Fee:      &types.CollectedFee{Token: tx.Token, Amount: new(big.Int).Set(tx.Fee)},
		Updates:  updates,
		Executed: &types.WithdrawOp{Tx: tx},
		Withdrawals: []types.WithdrawalRecord{{
			AccountID: tx.From,
			To:        tx.EthAddress,
			Token:     tx.Token,
			Amount:    new(big.Int).Set(tx.Amount),
		}},
	}, nil
}

func (s *State) executeChangePubKey(tx *types.ChangePubKey, ts uint64) (*OpSuccess, error) {
	acc, ok := s.accounts[tx.AccountID]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "account %d", tx.AccountID)
	}
	if err := checkToken(tx.FeeToken); err != nil {
		return nil, err
	}
	if !tx.Time.Contains(ts) {
		return nil, failf(ReasonTimeRangeViolated, "block timestamp %d", ts)
	}
	if !pubdata.FeeIsPackable(tx.Fee) {
		return nil, failf(ReasonFeeNotPackable, "fee %s", tx.Fee)
	}
	if acc.Nonce != tx.Nonce {
		return nil, failf(ReasonWrongNonce, "account nonce %d, tx nonce %d", acc.Nonce, tx.Nonce)
	}
	if !tx.OnchainAuth {
		// Fresh authorization: the payload must be signed by the key being
		// installed.
		pkh, err := tx.Signature.Verify(tx.SignPayload())
		if err != nil {
			return nil, failf(ReasonInvalidSignature, "%v", err)
		}
		if pkh != tx.NewPubKeyHash {
			return nil, failf(ReasonInvalidSignature, "signature is not by the new key")
		}
	}
	if acc.Balance(tx.FeeToken).Cmp(tx.Fee) < 0 {
		return nil, failf(ReasonInsufficientBalance, "fee balance %s", acc.Balance(tx.FeeToken))
	}

	oldHash := acc.PubKeyHash
	oldNonce := acc.Nonce
	acc.PubKeyHash = tx.NewPubKeyHash
	acc.Nonce++
	s.dirty[tx.AccountID] = struct{}{}

	updates := types.AccountUpdates{
		{ID: tx.AccountID, Update: types.UpdateChangePubKeyHash{
			OldPubKeyHash: oldHash,
			NewPubKeyHash: tx.NewPubKeyHash,
			OldNonce:      oldNonce,
			NewNonce:      acc.Nonce,
		}},
		s.changeBalance(tx.AccountID, tx.FeeToken, new(big.Int).Neg(tx.Fee), false),
	}
	return &OpSuccess{
		Fee:      &types.CollectedFee{Token: tx.FeeToken, Amount: new(big.Int).Set(tx.Fee)},
		Updates:  updates,
		Executed: &types.ChangePubKeyOp{Tx: tx, Address: acc.Address},
	}, nil
}

func (s *State) executeForcedExit(tx *types.ForcedExit, ts uint64) (*OpSuccess, error) {
	initiator, ok := s.accounts[tx.Initiator]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "initiator %d", tx.Initiator)
	}
	targetID, target, ok := s.GetAccountByAddress(tx.Target)
	if !ok {
		return nil, failf(ReasonAccountNotFound, "target address %s", tx.Target.Hex())
	}
	if err := checkToken(tx.Token); err != nil {
		return nil, err
	}
	if !tx.Time.Contains(ts) {
		return nil, failf(ReasonTimeRangeViolated, "block timestamp %d", ts)
	}
	if !pubdata.FeeIsPackable(tx.Fee) {
		return nil, failf(ReasonFeeNotPackable, "fee %s", tx.Fee)
	}
	if initiator.Nonce != tx.Nonce {
		return nil, failf(ReasonWrongNonce, "account nonce %d, tx nonce %d", initiator.Nonce, tx.Nonce)
	}
	if err := s.verifySignature(&tx.Signature, tx.SignPayload(), initiator); err != nil {
		return nil, err
	}
	if !target.PubKeyHash.IsZero() {
		return nil, failf(ReasonAccountLocked, "target account is owned")
	}
	amount := target.Balance(tx.Token)
	if amount.Sign() == 0 {
		return nil, failf(ReasonWrongAmount, "target has no balance of token %d", tx.Token)
	}
	if initiator.Balance(tx.Token).Cmp(tx.Fee) < 0 {
		return nil, failf(ReasonInsufficientBalance, "fee balance %s", initiator.Balance(tx.Token))
	}

	updates := types.AccountUpdates{
		s.changeBalance(tx.Initiator, tx.Token, new(big.Int).Neg(tx.Fee), true),
		s.changeBalance(targetID, tx.Token, new(big.Int).Neg(amount), false),
	}
	return &OpSuccess{
		Fee:      &types.CollectedFee{Token: tx.Token, Amount: new(big.Int).Set(tx.Fee)},
		Updates:  updates,
		Executed: &types.ForcedExitOp{Tx: tx, Target: targetID, Amount: amount},
		Withdrawals: []types.WithdrawalRecord{{
			AccountID: targetID,
			To:        tx.Target,
			Token:     tx.Token,
			Amount:    amount,
		}},
	}, nil
}

func (s *State) executeClose(tx *types.Close, ts uint64) (*OpSuccess, error) {
	acc, ok := s.accounts[tx.AccountID]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "account %d", tx.AccountID)
	}
	if !tx.Time.Contains(ts) {
		return nil, failf(ReasonTimeRangeViolated, "block timestamp %d", ts)
	}
	if acc.Nonce != tx.Nonce {
		return nil, failf(ReasonWrongNonce, "account nonce %d, tx nonce %d", acc.Nonce, tx.Nonce)
	}
	if err := s.verifySignature(&tx.Signature, tx.SignPayload(), acc); err != nil {
		return nil, err
	}
	if len(acc.NonzeroBalances()) != 0 {
		return nil, failf(ReasonNonzeroBalance, "account still holds funds")
	}

	update := types.AccountUpdatePair{
		ID:     tx.AccountID,
		Update: types.UpdateDelete{Address: acc.Address, Nonce: acc.Nonce},
	}
	s.removeAccount(tx.AccountID)

	return &OpSuccess{
		Updates:  types.AccountUpdates{update},
		Executed: &types.CloseOp{Tx: tx},
	}, nil
}

func (s *State) executeDeposit(d *types.Deposit) (*OpSuccess, error) {
	if d.Token >= maxToken {
		return nil, fmt.Errorf("deposit token %d out of range", d.Token)
	}
	if d.Amount.Sign() < 0 || d.Amount.Cmp(maxBalance) >= 0 {
		return nil, fmt.Errorf("deposit amount %s: %w", d.Amount, ErrBalanceOverflow)
	}

	var updates types.AccountUpdates
	id, ok := s.byAddress[d.To]
	if !ok {
		id = s.nextID
		s.setAccount(id, types.NewAccount(d.To))
		s.nextID++
		updates = append(updates, types.AccountUpdatePair{
			ID:     id,
			Update: types.UpdateCreate{Address: d.To, Nonce: 0},
		})
	}
	acc := s.accounts[id]
	if err := checkCredit(acc, d.Token, d.Amount); err != nil {
		return nil, fmt.Errorf("deposit credit: %w", ErrBalanceOverflow)
	}
	updates = append(updates, s.changeBalance(id, d.Token, d.Amount, false))

	return &OpSuccess{
		Updates:  updates,
		Executed: &types.DepositOp{Priority: d, To: id},
	}, nil
}

func (s *State) executeFullExit(f *types.FullExit) (*OpSuccess, error) {
	acc, ok := s.accounts[f.AccountID]
	if !ok || acc.Address != f.EthAddress {
		// Nothing to withdraw; the op is still recorded with a zero amount.
		return &OpSuccess{
			Executed: &types.FullExitOp{Priority: f, Amount: new(big.Int)},
		}, nil
	}

	amount := acc.Balance(f.Token)
	var updates types.AccountUpdates
	if amount.Sign() > 0 {
		updates = append(updates, s.changeBalance(f.AccountID, f.Token, new(big.Int).Neg(amount), false))
	}
	success := &OpSuccess{
		Updates:  updates,
		Executed: &types.FullExitOp{Priority: f, Amount: amount},
	}
	if amount.Sign() > 0 {
		success.Withdrawals = []types.WithdrawalRecord{{
			AccountID: f.AccountID,
			To:        f.EthAddress,
			Token:     f.Token,
			Amount:    amount,
		}}
	}
	return success, nil
}
