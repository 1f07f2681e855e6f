package pubdata

import (
	"errors"
	"math/big"

	"github.com/djkazic/zkrollup-go/pkg/util"
)

// Packed-float errors. Only exactly representable values are accepted.
var (
	ErrAmountNotPackable = errors.New("amount is not packable")
	ErrFeeNotPackable    = errors.New("fee is not packable")
)

var ten = big.NewInt(FloatExponentBase)

// packFloat encodes value as mantissa * base^exponent with the given bit
// widths, choosing the smallest exponent that represents the value exactly.
// The bit layout is exponent first, then mantissa, both big-endian, packed
// into (expBits+mantissaBits)/8 bytes.
func packFloat(value *big.Int, expBits, mantissaBits int) ([]byte, error) {
	if value == nil || value.Sign() < 0 {
		return nil, errors.New("packed float requires a non-negative value")
	}

	maxMantissa := new(big.Int).Lsh(big.NewInt(1), uint(mantissaBits))
	maxMantissa.Sub(maxMantissa, big.NewInt(1))
	maxExp := uint64(1)<<uint(expBits) - 1

	mantissa := new(big.Int).Set(value)
	exponent := uint64(0)
	rem := new(big.Int)
	for mantissa.Cmp(maxMantissa) > 0 {
		mantissa.QuoRem(mantissa, ten, rem)
		if rem.Sign() != 0 {
			return nil, errors.New("value is not exactly representable")
		}
		exponent++
		if exponent > maxExp {
			return nil, errors.New("value exceeds the packed range")
		}
	}

	bits := make([]bool, 0, expBits+mantissaBits)
	bits = util.AppendBitsBE(bits, exponent, expBits)
	bits = util.AppendBigBitsBE(bits, mantissa, mantissaBits)
	return util.BitsToBytesBE(bits), nil
}

// unpackFloat inverts packFloat. It rejects encodings whose byte length does
// not match the widths.
func unpackFloat(data []byte, expBits, mantissaBits int) (*big.Int, error) {
	if len(data)*8 != expBits+mantissaBits {
		return nil, errors.New("packed float has wrong length")
	}

	bits := util.BytesToBits(data)
	exponent := util.BitsToUint64BE(bits[:expBits])
	mantissa := new(big.Int)
	for _, bit := range bits[expBits:] {
		mantissa.Lsh(mantissa, 1)
		if bit {
			mantissa.Or(mantissa, big.NewInt(1))
		}
	}

	scale := new(big.Int).Exp(ten, new(big.Int).SetUint64(exponent), nil)
	return new(big.Int).Mul(mantissa, scale), nil
}

// PackAmount encodes a transfer amount, failing with ErrAmountNotPackable
// for values the packed form cannot represent exactly.
func PackAmount(amount *big.Int) ([]byte, error) {
	b, err := packFloat(amount, AmountExponentBitWidth, AmountMantissaBitWidth)
	if err != nil {
		return nil, ErrAmountNotPackable
	}
	return b, nil
}

// UnpackAmount decodes a packed transfer amount.
func UnpackAmount(data []byte) (*big.Int, error) {
	return unpackFloat(data, AmountExponentBitWidth, AmountMantissaBitWidth)
}

// PackFee encodes a fee, failing with ErrFeeNotPackable for values the
// packed form cannot represent exactly.
func PackFee(fee *big.Int) ([]byte, error) {
	b, err := packFloat(fee, FeeExponentBitWidth, FeeMantissaBitWidth)
	if err != nil {
		return nil, ErrFeeNotPackable
	}
	return b, nil
}

// UnpackFee decodes a packed fee.
func UnpackFee(data []byte) (*big.Int, error) {
	return unpackFloat(data, FeeExponentBitWidth, FeeMantissaBitWidth)
}

// AmountIsPackable reports whether amount survives a pack round trip.
func AmountIsPackable(amount *big.Int) bool {
	_, err := PackAmount(amount)
	return err == nil
}

// FeeIsPackable reports whether fee survives a pack round trip.
func FeeIsPackable(fee *big.Int) bool {
	_, err := PackFee(fee)
	return err == nil
}
