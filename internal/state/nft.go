package state

import (
	"math/big"

	"github.com/djkazic/zkrollup-go/internal/pubdata"
	"github.com/djkazic/zkrollup-go/internal/types"
)

func (s *State) executeMintNFT(tx *types.MintNFT) (*OpSuccess, error) {
	creator, ok := s.accounts[tx.Creator]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "creator %d", tx.Creator)
	}
	if _, ok := s.accounts[tx.Recipient]; !ok {
		return nil, failf(ReasonAccountNotFound, "recipient %d", tx.Recipient)
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
	if creator.Nonce != tx.Nonce {
		return nil, failf(ReasonWrongNonce, "creator nonce %d, tx nonce %d", creator.Nonce, tx.Nonce)
	}
	if err := s.verifySignature(&tx.Signature, tx.SignPayload(), creator); err != nil {
		return nil, err
	}
	if creator.Balance(tx.FeeToken).Cmp(tx.Fee) < 0 {
		return nil, failf(ReasonInsufficientBalance, "fee balance %s", creator.Balance(tx.FeeToken))
	}
	if s.nextNFTID >= maxToken {
		return nil, failf(ReasonUnknownToken, "NFT id space exhausted")
	}

	nft := types.NFT{
		ID:             s.nextNFTID,
		CreatorID:      tx.Creator,
		CreatorAddress: creator.Address,
		SerialID:       s.creatorSerial[tx.Creator],
		ContentHash:    tx.ContentHash,
	}
	s.nfts[nft.ID] = nft
	s.nextNFTID++
	s.creatorSerial[tx.Creator]++

	updates := types.AccountUpdates{
		s.changeBalance(tx.Creator, tx.FeeToken, new(big.Int).Neg(tx.Fee), true),
		s.changeBalance(tx.Recipient, nft.ID, big.NewInt(1), false),
	}
	return &OpSuccess{
		Fee:      &types.CollectedFee{Token: tx.FeeToken, Amount: new(big.Int).Set(tx.Fee)},
		Updates:  updates,
		Executed: &types.MintNFTOp{Tx: tx, NFT: nft},
	}, nil
}

func (s *State) executeWithdrawNFT(tx *types.WithdrawNFT, ts uint64) (*OpSuccess, error) {
	from, ok := s.accounts[tx.From]
	if !ok {
		return nil, failf(ReasonAccountNotFound, "account %d", tx.From)
	}
	if tx.Token < types.MinNFTTokenID {
		return nil, failf(ReasonUnknownToken, "token %d is not in the NFT range", tx.Token)
	}
	nft, ok := s.nfts[tx.Token]
	if !ok {
		return nil, failf(ReasonUnknownToken, "NFT %d does not exist", tx.Token)
	}
	if err := checkToken(tx.FeeToken); err != nil {
		return nil, err
	}
	if tx.FeeToken >= types.MinNFTTokenID {
		return nil, failf(ReasonWrongFeeToken, "fees cannot be paid in NFTs")
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
	if from.Balance(tx.Token).Cmp(big.NewInt(1)) != 0 {
		return nil, failf(ReasonInsufficientBalance, "account does not own NFT %d", tx.Token)
	}
	if from.Balance(tx.FeeToken).Cmp(tx.Fee) < 0 {
		return nil, failf(ReasonInsufficientBalance, "fee balance %s", from.Balance(tx.FeeToken))
	}

	delete(s.nfts, tx.Token)

	updates := types.AccountUpdates{
		s.changeBalance(tx.From, tx.Token, big.NewInt(-1), true),
		s.changeBalance(tx.From, tx.FeeToken, new(big.Int).Neg(tx.Fee), false),
	}
	return &OpSuccess{
		Fee:      &types.CollectedFee{Token: tx.FeeToken, Amount: new(big.Int).Set(tx.Fee)},
		Updates:  updates,
		Executed: &types.WithdrawNFTOp{Tx: tx, NFT: nft},
		Withdrawals: []types.WithdrawalRecord{{
			AccountID: tx.From,
			To:        tx.ToAddress,
			Token:     tx.Token,
			Amount:    big.NewInt(1),
			IsNFT:     true,
		}},
	}, nil
}
