// Package ff exposes the BN254 scalar field used for tree hashes, balances
// and circuit witness values, together with the radix-2 evaluation domain
// needed for polynomial arithmetic during proving.
package ff

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Fr is a BN254 scalar field element in Montgomery form.
type Fr = fr.Element

// S is the two-adicity of the scalar field: 2^S divides r-1, so the field
// contains a primitive 2^S-th root of unity.
const S uint32 = 28

// FrByteSize is the canonical big-endian encoding width of a field element.
const FrByteSize = fr.Bytes

var (
	rootOnce sync.Once
	rootVal  Fr
)

// MultiplicativeGenerator returns a generator of the multiplicative group of
// the scalar field.
func MultiplicativeGenerator() Fr {
	var g Fr
	g.SetUint64(5)
	return g
}

// RootOfUnity returns a primitive 2^S-th root of unity. Computed once on
// first use as g^((r-1)/2^S).
func RootOfUnity() Fr {
	rootOnce.Do(func() {
		exp := new(big.Int).Sub(fr.Modulus(), big.NewInt(1))
		exp.Rsh(exp, uint(S))
		g := MultiplicativeGenerator()
		rootVal.Exp(g, exp)
	})
	return rootVal
}

// FromUint64 returns v as a field element.
func FromUint64(v uint64) Fr {
	var e Fr
	e.SetUint64(v)
	return e
}

// FromBig returns v mod r as a field element.
func FromBig(v *big.Int) Fr {
	var e Fr
	e.SetBigInt(v)
	return e
}

// ToBig returns the canonical integer representation of e.
func ToBig(e *Fr) *big.Int {
	out := new(big.Int)
	e.BigInt(out)
	return out
}

// ToBytesBE returns the canonical fixed-width big-endian encoding of e.
func ToBytesBE(e *Fr) [FrByteSize]byte {
	return e.Bytes()
}

// FromBytesBE decodes a canonical big-endian encoding. Values outside the
// field are rejected rather than silently reduced.
func FromBytesBE(b []byte) (Fr, error) {
	var e Fr
	if len(b) != FrByteSize {
		return e, fmt.Errorf("field element must be %d bytes, got %d", FrByteSize, len(b))
	}
	v := new(big.Int).SetBytes(b)
	if v.Cmp(fr.Modulus()) >= 0 {
		return e, fmt.Errorf("value is not a canonical field element")
	}
	e.SetBigInt(v)
	return e, nil
}

// FromHex decodes a canonical hex string (with or without 0x prefix).
func FromHex(s string) (Fr, error) {
	var e Fr
	s = strings.TrimPrefix(s, "0x")
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return e, fmt.Errorf("invalid hex %q", s)
	}
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return e, fmt.Errorf("hex value is not a canonical field element")
	}
	e.SetBigInt(v)
	return e, nil
}

// ToHex returns the canonical 0x-prefixed hex encoding of e.
func ToHex(e *Fr) string {
	b := e.Bytes()
	return fmt.Sprintf("0x%x", b[:])
}

// BitsLEFixed returns exactly n little-endian bits of the canonical
// representation of e, zero-padded if n exceeds the bit length.
func BitsLEFixed(e *Fr, n int) []bool {
	v := ToBig(e)
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		bits[i] = v.Bit(i) != 0
	}
	return bits
}

// BitsBEFixed returns exactly n big-endian bits of the canonical
// representation of e.
func BitsBEFixed(e *Fr, n int) []bool {
	v := ToBig(e)
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		bits[i] = v.Bit(n-1-i) != 0
	}
	return bits
}
