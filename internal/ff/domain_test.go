package ff

import (
	"errors"
	"testing"
)

// fillRand fills dst with deterministic pseudo-random field elements.
func fillRand(dst []Fr, seed uint64) {
	x := seed*6364136223846793005 + 1442695040888963407
	for i := range dst {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		dst[i] = FromUint64(x)
	}
}

func TestFFTComposition(t *testing.T) {
	w := NewWorker()

	for logN := 0; logN <= 10; logN++ {
		v := make([]Fr, 1<<logN)
		fillRand(v, uint64(logN)+1)

		d, err := FromCoeffs(append([]Fr(nil), v...))
		if err != nil {
			t.Fatalf("FromCoeffs: %v", err)
		}

		d.FFT(w)
		d.IFFT(w)
		for i := range v {
			if !d.Coeffs[i].Equal(&v[i]) {
				t.Fatalf("logN=%d: ifft(fft(v))[%d] != v[%d]", logN, i, i)
			}
		}

		d.CosetFFT(w)
		d.ICosetFFT(w)
		for i := range v {
			if !d.Coeffs[i].Equal(&v[i]) {
				t.Fatalf("logN=%d: icoset(coset(v))[%d] != v[%d]", logN, i, i)
			}
		}
	}
}

func TestPolynomialMulMatchesNaive(t *testing.T) {
	w := NewWorker()

	for _, sizes := range [][2]int{{3, 5}, {8, 8}, {17, 9}, {1, 31}} {
		na, nb := sizes[0], sizes[1]
		a := make([]Fr, na)
		b := make([]Fr, nb)
		fillRand(a, uint64(na))
		fillRand(b, uint64(nb)*977)

		naive := make([]Fr, na+nb)
		for i := range a {
			for j := range b {
				var prod Fr
				prod.Mul(&a[i], &b[j])
				naive[i+j].Add(&naive[i+j], &prod)
			}
		}

		ap := make([]Fr, na+nb)
		bp := make([]Fr, na+nb)
		copy(ap, a)
		copy(bp, b)

		da, err := FromCoeffs(ap)
		if err != nil {
			t.Fatalf("FromCoeffs(a): %v", err)
		}
		db, err := FromCoeffs(bp)
		if err != nil {
			t.Fatalf("FromCoeffs(b): %v", err)
		}

		da.FFT(w)
		db.FFT(w)
		da.MulAssign(w, db)
		da.IFFT(w)

		for i := range naive {
			if !da.Coeffs[i].Equal(&naive[i]) {
				t.Fatalf("%dx%d: coefficient %d mismatch", na, nb, i)
			}
		}
	}
}

func TestParallelFFTConsistency(t *testing.T) {
	for logN := uint32(1); logN <= 10; logN++ {
		for logCPUs := uint32(1); logCPUs <= logN && logCPUs <= 3; logCPUs++ {
			v1 := make([]Fr, 1<<logN)
			fillRand(v1, uint64(logN)<<8|uint64(logCPUs))
			v2 := append([]Fr(nil), v1...)

			d, err := FromCoeffs(append([]Fr(nil), v1...))
			if err != nil {
				t.Fatalf("FromCoeffs: %v", err)
			}
			omega := d.omega

			w := NewWorkerWithCPUs(logCPUs)
			parallelFFT(v1, w, &omega, logN, logCPUs)
			serialFFT(v2, &omega, logN)

			for i := range v1 {
				if !v1[i].Equal(&v2[i]) {
					t.Fatalf("logN=%d logCPUs=%d: parallel and serial disagree at %d", logN, logCPUs, i)
				}
			}
		}
	}
}

func TestDivideByZOnCoset(t *testing.T) {
	w := NewWorker()

	// On the coset g*H the vanishing polynomial is the constant z(g), so
	// division must scale every evaluation by z(g)^-1.
	const logN = 3
	m := 1 << logN
	coeffs := make([]Fr, m)
	fillRand(coeffs, 7)

	d, err := FromCoeffs(append([]Fr(nil), coeffs...))
	if err != nil {
		t.Fatalf("FromCoeffs: %v", err)
	}
	gen := MultiplicativeGenerator()
	z := d.Z(&gen)
	if z.IsZero() {
		t.Fatal("vanishing polynomial must not vanish on the coset")
	}

	before := append([]Fr(nil), d.Coeffs...)
	d.DivideByZOnCoset(w)
	var zInv Fr
	zInv.Inverse(&z)
	for i := range before {
		var want Fr
		want.Mul(&before[i], &zInv)
		if !d.Coeffs[i].Equal(&want) {
			t.Fatalf("coefficient %d not scaled by z^-1", i)
		}
	}
}

func TestFromCoeffsDegreeTooLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates a 2^S-element vector")
	}

	v := make([]Fr, (1<<S)+1)
	_, err := FromCoeffs(v)
	if !errors.Is(err, ErrPolynomialDegreeTooLarge) {
		t.Fatalf("err = %v, want ErrPolynomialDegreeTooLarge", err)
	}
}

func TestZEvaluation(t *testing.T) {
	d, err := FromCoeffs(make([]Fr, 4))
	if err != nil {
		t.Fatalf("FromCoeffs: %v", err)
	}

	// z(omega^k) = 0 on the domain.
	tau := d.omega
	z := d.Z(&tau)
	if !z.IsZero() {
		t.Error("z(omega) != 0")
	}

	one := FromUint64(1)
	z = d.Z(&one)
	if !z.IsZero() {
		t.Error("z(1) != 0")
	}

	two := FromUint64(2)
	z = d.Z(&two)
	want := FromUint64(15) // 2^4 - 1
	if !z.Equal(&want) {
		t.Errorf("z(2) = %s, want 15", z.String())
	}
}
