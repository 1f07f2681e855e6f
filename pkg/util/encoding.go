package util

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

// HexToBytes decodes a hex string to bytes, returning an error if invalid.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes to a hex string.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// Uint32BE returns the 4-byte big-endian encoding of v.
func Uint32BE(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Uint64BE returns the 8-byte big-endian encoding of v.
func Uint64BE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// BigToBEFixed encodes a non-negative big.Int as exactly width big-endian
// bytes. Returns an error if the value does not fit.
func BigToBEFixed(v *big.Int, width int) ([]byte, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", v)
	}
	if v.BitLen() > width*8 {
		return nil, fmt.Errorf("value %s does not fit in %d bytes", v, width)
	}
	out := make([]byte, width)
	v.FillBytes(out)
	return out, nil
}

// AppendBitsBE appends the lowest n bits of v to dst, most significant first.
func AppendBitsBE(dst []bool, v uint64, n int) []bool {
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, v&(1<<uint(i)) != 0)
	}
	return dst
}

// AppendBigBitsBE appends the lowest n bits of v to dst, most significant first.
func AppendBigBitsBE(dst []bool, v *big.Int, n int) []bool {
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, v.Bit(i) != 0)
	}
	return dst
}

// AppendBytesBits appends the bits of b to dst in byte order, each byte most
// significant bit first.
func AppendBytesBits(dst []bool, b []byte) []bool {
	for _, byt := range b {
		for i := 7; i >= 0; i-- {
			dst = append(dst, byt&(1<<uint(i)) != 0)
		}
	}
	return dst
}

// BitsToBytesBE packs a bit vector (most significant bit of each byte first)
// into bytes. The bit length must be a multiple of 8.
func BitsToBytesBE(bits []bool) []byte {
	if len(bits)%8 != 0 {
		panic("bit length not a multiple of 8")
	}
	out := make([]byte, len(bits)/8)
	for i, bit := range bits {
		if bit {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}

// BytesToBits unpacks bytes into a bit vector, most significant bit of each
// byte first. Inverse of BitsToBytesBE.
func BytesToBits(b []byte) []bool {
	bits := make([]bool, 0, len(b)*8)
	return AppendBytesBits(bits, b)
}

// BitsToUint64BE interprets up to 64 bits (most significant first) as an
// unsigned integer.
func BitsToUint64BE(bits []bool) uint64 {
	if len(bits) > 64 {
		panic("more than 64 bits")
	}
	var v uint64
	for _, bit := range bits {
		v <<= 1
		if bit {
			v |= 1
		}
	}
	return v
}

// ReverseBytes returns a new slice with bytes reversed.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
