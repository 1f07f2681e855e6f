// Package pubdata implements the canonical public-data byte layout of every
// operation: the encoding the on-chain verifier parses. All widths here are
// verifier configuration and must match the contract bit for bit.
package pubdata

// Bit widths of pubdata fields.
const (
	ChunkBitWidth      = 80
	TxTypeBitWidth     = 8
	AccountIDBitWidth  = 32
	TokenBitWidth      = 32
	NonceBitWidth      = 32
	EthAddressBitWidth = 160
	BalanceBitWidth    = 128
	NewPubKeyHashWidth = 160

	AmountMantissaBitWidth = 35
	AmountExponentBitWidth = 5
	FeeMantissaBitWidth    = 11
	FeeExponentBitWidth    = 5

	// FloatExponentBase is the base of the packed-float exponent.
	FloatExponentBase = 10
)

// Byte widths derived from the bit widths above.
const (
	ChunkBytes        = ChunkBitWidth / 8
	AccountIDBytes    = AccountIDBitWidth / 8
	TokenBytes        = TokenBitWidth / 8
	EthAddressBytes   = EthAddressBitWidth / 8
	BalanceBytes      = BalanceBitWidth / 8
	PubKeyHashBytes   = NewPubKeyHashWidth / 8
	AmountPackedBytes = (AmountMantissaBitWidth + AmountExponentBitWidth) / 8
	FeePackedBytes    = (FeeMantissaBitWidth + FeeExponentBitWidth) / 8
	ContentHashBytes  = 32
)
