package dvbrx

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

/*-------------------------------------------------------------
 *
 * Name:	EstimateCarrier
 *
 * Purpose:	Coarse carrier offset for acquisition.
 *
 * Inputs:	samples	- Baseband IQ, any length; the largest power of
 *			  two that fits is used.
 *		order	- Rotational symmetry of the constellation (2 for
 *			  BPSK, 4 for QPSK).  Raising the signal to this
 *			  power strips the modulation and leaves a line at
 *			  order times the carrier.
 *
 * Returns:	Carrier offset in cycles per sample, in
 *		[-0.5/order, 0.5/order).  0 if there are too few samples.
 *
 *--------------------------------------------------------------*/

func EstimateCarrier(samples []complex64, order int) float64 {
	Assert(order >= 1)
	var n = 1
	for n*2 <= len(samples) {
		n *= 2
	}
	if n < 16 {
		return 0
	}

	var seq = make([]complex128, n)
	for i := range seq {
		var z = complex128(samples[i])
		var p = complex(1, 0)
		for range order {
			p *= z
		}
		seq[i] = p
	}

	var fft = fourier.NewCmplxFFT(n)
	var coeff = fft.Coefficients(nil, seq)

	var best, bestPower = 0, -1.0
	for k, c := range coeff {
		var pw = cmplx.Abs(c)
		if pw > bestPower {
			best, bestPower = k, pw
		}
	}

	var f = float64(best) / float64(n)
	if f >= 0.5 {
		f--
	}
	return f / float64(order)
}
