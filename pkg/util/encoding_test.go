package util

import (
	"bytes"
	"math/big"
	"testing"
)

func TestBigToBEFixed(t *testing.T) {
	b, err := BigToBEFixed(big.NewInt(0x0102), 4)
	if err != nil {
		t.Fatalf("BigToBEFixed: %v", err)
	}
	if !bytes.Equal(b, []byte{0, 0, 1, 2}) {
		t.Errorf("encoding = %x", b)
	}

	if _, err := BigToBEFixed(big.NewInt(0x10000), 2); err == nil {
		t.Error("expected error for overflowing value")
	}
	if _, err := BigToBEFixed(big.NewInt(-1), 2); err == nil {
		t.Error("expected error for negative value")
	}
}

func TestBitsRoundTrip(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	bits := BytesToBits(data)
	if len(bits) != len(data)*8 {
		t.Fatalf("bit length = %d", len(bits))
	}
	back := BitsToBytesBE(bits)
	if !bytes.Equal(back, data) {
		t.Errorf("round trip = %x", back)
	}
}

func TestAppendBitsBE(t *testing.T) {
	bits := AppendBitsBE(nil, 0b101, 3)
	want := []bool{true, false, true}
	for i := range want {
		if bits[i] != want[i] {
			t.Fatalf("bit %d = %v", i, bits[i])
		}
	}
	if got := BitsToUint64BE(bits); got != 5 {
		t.Errorf("BitsToUint64BE = %d, want 5", got)
	}
}

func TestAppendBigBitsBE(t *testing.T) {
	bits := AppendBigBitsBE(nil, big.NewInt(0b1100), 6)
	if got := BitsToUint64BE(bits); got != 12 {
		t.Errorf("value = %d, want 12", got)
	}
}

func TestReverseBytes(t *testing.T) {
	got := ReverseBytes([]byte{1, 2, 3})
	if !bytes.Equal(got, []byte{3, 2, 1}) {
		t.Errorf("ReverseBytes = %v", got)
	}
}
