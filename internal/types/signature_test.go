package types

import (
	"crypto/sha256"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
)

type fixedReader struct {
	counter uint64
	buf     []byte
}

func (r *fixedReader) Read(p []byte) (int, error) {
	for len(r.buf) < len(p) {
		sum := sha256.Sum256([]byte{byte(r.counter), byte(r.counter >> 8), 's', 'i', 'g'})
		r.counter++
		r.buf = append(r.buf, sum[:]...)
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func testKey(t *testing.T, seed uint64) *eddsa.PrivateKey {
	t.Helper()
	key, err := eddsa.GenerateKey(&fixedReader{counter: seed})
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func TestSignAndVerify(t *testing.T) {
	key := testKey(t, 1)
	payload := []byte("canonical operation bytes")

	sig, err := SignPayload(key, payload)
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}

	pkh, err := sig.Verify(payload)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want := PubKeyHashFromKey(key.PublicKey.Bytes())
	if pkh != want {
		t.Error("verified hash does not match the signer's key hash")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key := testKey(t, 2)
	sig, err := SignPayload(key, []byte("original"))
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}
	if _, err := sig.Verify([]byte("tampered")); err == nil {
		t.Error("verification accepted a tampered payload")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key1 := testKey(t, 3)
	key2 := testKey(t, 4)
	payload := []byte("payload")

	sig, err := SignPayload(key1, payload)
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}
	// Swap in the wrong public key: either verification fails or the hash
	// differs from key1's.
	sig.PubKey = key2.PublicKey.Bytes()
	pkh, err := sig.Verify(payload)
	if err == nil && pkh == PubKeyHashFromKey(key1.PublicKey.Bytes()) {
		t.Error("signature verified under a different key")
	}
}

func TestPubKeyHashDistinct(t *testing.T) {
	a := PubKeyHashFromKey(testKey(t, 5).PublicKey.Bytes())
	b := PubKeyHashFromKey(testKey(t, 6).PublicKey.Bytes())
	if a == b {
		t.Error("distinct keys share a pub key hash")
	}
	if a.IsZero() {
		t.Error("derived hash is zero")
	}
}
