package ff

import (
	"math/big"
)

// EvaluationDomain is a radix-2 domain for polynomial arithmetic over the
// scalar field. The domain size is the next power of two above the input
// length; the vanishing polynomial over the domain is z(tau) = tau^m - 1.
type EvaluationDomain struct {
	Coeffs []Fr

	exp      uint32
	omega    Fr
	omegaInv Fr
	genInv   Fr
	mInv     Fr
}

// FromCoeffs builds a domain holding coeffs, zero-extended to the domain
// size m = next_pow2(len(coeffs)). Fails with ErrPolynomialDegreeTooLarge if
// the field has no large enough 2-adic subgroup.
func FromCoeffs(coeffs []Fr) (*EvaluationDomain, error) {
	if len(coeffs) > 1<<S {
		return nil, ErrPolynomialDegreeTooLarge
	}

	m := 1
	exp := uint32(0)
	for m < len(coeffs) {
		m *= 2
		exp++
		if exp > S {
			return nil, ErrPolynomialDegreeTooLarge
		}
	}

	// The 2^S root generates every smaller radix-2 subgroup by repeated
	// squaring.
	omega := RootOfUnity()
	for i := exp; i < S; i++ {
		omega.Square(&omega)
	}

	padded := make([]Fr, m)
	copy(padded, coeffs)

	d := &EvaluationDomain{
		Coeffs: padded,
		exp:    exp,
		omega:  omega,
	}
	d.omegaInv.Inverse(&omega)
	gen := MultiplicativeGenerator()
	d.genInv.Inverse(&gen)
	mEl := FromUint64(uint64(m))
	d.mInv.Inverse(&mEl)
	return d, nil
}

// Size returns the domain size m.
func (d *EvaluationDomain) Size() int {
	return len(d.Coeffs)
}

// FFT evaluates the polynomial over the domain in place.
func (d *EvaluationDomain) FFT(w *Worker) {
	bestFFT(d.Coeffs, w, &d.omega, d.exp)
}

// IFFT interpolates evaluations back into coefficients, multiplying by m^-1.
func (d *EvaluationDomain) IFFT(w *Worker) {
	bestFFT(d.Coeffs, w, &d.omegaInv, d.exp)

	minv := d.mInv
	w.Scope(len(d.Coeffs), func(_, start, end int) {
		for i := start; i < end; i++ {
			d.Coeffs[i].Mul(&d.Coeffs[i], &minv)
		}
	})
}

// DistributePowers multiplies the i-th coefficient by g^i.
func (d *EvaluationDomain) DistributePowers(w *Worker, g Fr) {
	cpus := 1 << w.LogNumCPUs()
	chunk := (len(d.Coeffs) + cpus - 1) / cpus
	w.Scope(len(d.Coeffs), func(chunkIndex, start, end int) {
		var u Fr
		u.Exp(g, new(big.Int).SetUint64(uint64(chunkIndex*chunk)))
		for i := start; i < end; i++ {
			d.Coeffs[i].Mul(&d.Coeffs[i], &u)
			u.Mul(&u, &g)
		}
	})
}

// CosetFFT evaluates over the coset g*H of the domain H.
func (d *EvaluationDomain) CosetFFT(w *Worker) {
	d.DistributePowers(w, MultiplicativeGenerator())
	d.FFT(w)
}

// ICosetFFT inverts CosetFFT.
func (d *EvaluationDomain) ICosetFFT(w *Worker) {
	genInv := d.genInv
	d.IFFT(w)
	d.DistributePowers(w, genInv)
}

// Z evaluates the vanishing polynomial tau^m - 1 of the domain.
func (d *EvaluationDomain) Z(tau *Fr) Fr {
	var out Fr
	out.Exp(*tau, new(big.Int).SetUint64(uint64(len(d.Coeffs))))
	var one Fr
	one.SetOne()
	out.Sub(&out, &one)
	return out
}

// DivideByZOnCoset divides evaluations over the coset by the vanishing
// polynomial, which is the constant z(g) there.
func (d *EvaluationDomain) DivideByZOnCoset(w *Worker) {
	gen := MultiplicativeGenerator()
	z := d.Z(&gen)
	var zInv Fr
	zInv.Inverse(&z)

	w.Scope(len(d.Coeffs), func(_, start, end int) {
		for i := start; i < end; i++ {
			d.Coeffs[i].Mul(&d.Coeffs[i], &zInv)
		}
	})
}

// MulAssign multiplies pointwise by another domain of the same size.
func (d *EvaluationDomain) MulAssign(w *Worker, other *EvaluationDomain) {
	if len(d.Coeffs) != len(other.Coeffs) {
		panic("domain size mismatch")
	}
	w.Scope(len(d.Coeffs), func(_, start, end int) {
		for i := start; i < end; i++ {
			d.Coeffs[i].Mul(&d.Coeffs[i], &other.Coeffs[i])
		}
	})
}

// SubAssign subtracts pointwise another domain of the same size.
func (d *EvaluationDomain) SubAssign(w *Worker, other *EvaluationDomain) {
	if len(d.Coeffs) != len(other.Coeffs) {
		panic("domain size mismatch")
	}
	w.Scope(len(d.Coeffs), func(_, start, end int) {
		for i := start; i < end; i++ {
			d.Coeffs[i].Sub(&d.Coeffs[i], &other.Coeffs[i])
		}
	})
}

func bestFFT(a []Fr, w *Worker, omega *Fr, logN uint32) {
	logCPUs := w.LogNumCPUs()
	if logN <= logCPUs {
		serialFFT(a, omega, logN)
	} else {
		parallelFFT(a, w, omega, logN, logCPUs)
	}
}

func bitreverse(n, l uint32) uint32 {
	var r uint32
	for i := uint32(0); i < l; i++ {
		r = (r << 1) | (n & 1)
		n >>= 1
	}
	return r
}

// serialFFT is an in-place Cooley-Tukey transform with a bit-reversal
// permutation pass up front.
func serialFFT(a []Fr, omega *Fr, logN uint32) {
	n := uint32(len(a))
	if n != 1<<logN {
		panic("fft length is not 2^logN")
	}

	for k := uint32(0); k < n; k++ {
		rk := bitreverse(k, logN)
		if k < rk {
			a[rk], a[k] = a[k], a[rk]
		}
	}

	m := uint32(1)
	for i := uint32(0); i < logN; i++ {
		var wm Fr
		wm.Exp(*omega, new(big.Int).SetUint64(uint64(n/(2*m))))

		for k := uint32(0); k < n; k += 2 * m {
			var wcur Fr
			wcur.SetOne()
			for j := uint32(0); j < m; j++ {
				var t Fr
				t.Mul(&a[k+j+m], &wcur)
				var tmp Fr
				tmp.Sub(&a[k+j], &t)
				a[k+j+m] = tmp
				a[k+j].Add(&a[k+j], &t)
				wcur.Mul(&wcur, &wm)
			}
		}

		m *= 2
	}
}

// parallelFFT splits the transform into 2^logCPUs column sub-FFTs that are
// computed independently and then recombined by strided copy.
func parallelFFT(a []Fr, w *Worker, omega *Fr, logN, logCPUs uint32) {
	if logN < logCPUs {
		panic("parallel fft requires logN >= logCPUs")
	}

	numCPUs := uint32(1) << logCPUs
	logNewN := logN - logCPUs
	tmp := make([][]Fr, numCPUs)
	for i := range tmp {
		tmp[i] = make([]Fr, 1<<logNewN)
	}
	var newOmega Fr
	newOmega.Exp(*omega, new(big.Int).SetUint64(uint64(numCPUs)))

	w.Scope(0, func(j, _, _ int) {
		// Shuffle into a sub-FFT.
		var omegaJ, omegaStep Fr
		omegaJ.Exp(*omega, new(big.Int).SetUint64(uint64(j)))
		omegaStep.Exp(*omega, new(big.Int).SetUint64(uint64(j)<<logNewN))

		var elt Fr
		elt.SetOne()
		for i := uint32(0); i < 1<<logNewN; i++ {
			for s := uint32(0); s < numCPUs; s++ {
				idx := (i + (s << logNewN)) % (1 << logN)
				var t Fr
				t.Mul(&a[idx], &elt)
				tmp[j][i].Add(&tmp[j][i], &t)
				elt.Mul(&elt, &omegaStep)
			}
			elt.Mul(&elt, &omegaJ)
		}

		serialFFT(tmp[j], &newOmega, logNewN)
	})

	mask := numCPUs - 1
	w.Scope(len(a), func(_, start, end int) {
		for i := start; i < end; i++ {
			a[i] = tmp[uint32(i)&mask][uint32(i)>>logCPUs]
		}
	})
}
