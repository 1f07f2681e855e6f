package util

import (
	"crypto/sha256"
)

// Sha256 computes the SHA-256 digest of data.
func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Sha256Fold computes H(prev || data), the single step of the folded
// commitment chain used for block commitments.
func Sha256Fold(prev [32]byte, data []byte) [32]byte {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MaskFr clears the top three bits of a 32-byte big-endian digest so the
// result is guaranteed to be below the BN254 scalar field modulus.
func MaskFr(digest [32]byte) [32]byte {
	digest[0] &= 0x1f
	return digest
}
