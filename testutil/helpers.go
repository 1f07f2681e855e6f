package testutil

import (
	"encoding/hex"
	"math/big"
	"testing"
)

// MustDecodeHex decodes hex or fails the test.
func MustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid hex %q: %v", s, err)
	}
	return b
}

// Big is shorthand for big.NewInt in table tests.
func Big(v int64) *big.Int {
	return big.NewInt(v)
}

// BigPow10 returns base * 10^exp, handy for packed-amount fixtures.
func BigPow10(base int64, exp int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
	return scale.Mul(scale, big.NewInt(base))
}
