package dvbrx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpi(t *testing.T) {
	var tests = []struct {
		phase float32
		want  complex64
	}{
		{0, 1},
		{16384, 1i},
		{32768, -1},
		{-16384, -1i},
		{65536 + 16384, 1i},
	}
	for _, tc := range tests {
		var got = expi(tc.phase)
		assert.InDelta(t, real(tc.want), real(got), 1e-4, "phase %v", tc.phase)
		assert.InDelta(t, imag(tc.want), imag(got), 1e-4, "phase %v", tc.phase)
	}
}

func TestLinearSamplerInterpolates(t *testing.T) {
	var s = &linearSampler{}
	var p = []complex64{0, 10 + 10i, 20}
	var got = s.interp(p, 1, 0.25, 0)
	assert.InDelta(t, 12.5, real(got), 1e-4)
	assert.InDelta(t, 7.5, imag(got), 1e-4)
}

func TestNearestSamplerDerotates(t *testing.T) {
	var got = nearestSampler{}.interp([]complex64{1i}, 0, 0.7, 16384)
	assert.InDelta(t, 1, real(got), 1e-4)
	assert.InDelta(t, 0, imag(got), 1e-4)
}

func TestRootRaisedCosine(t *testing.T) {
	var taps = rootRaisedCosine(65, 0.125, 0.35)
	var sum float64
	for _, c := range taps {
		sum += float64(c)
	}
	assert.InDelta(t, 1, sum, 1e-5)
	for i := range taps {
		assert.InDelta(t, taps[i], taps[len(taps)-1-i], 1e-6, "symmetric")
	}
	var peak = 0
	for i, c := range taps {
		if c > taps[peak] {
			peak = i
		}
	}
	assert.Equal(t, 32, peak)
}

func TestFIRSamplerPassesDC(t *testing.T) {
	var smp, err = newSampler("rrc", 2, 0.35, 8, 0)
	assert.NoError(t, err)
	var p = make([]complex64, 64)
	for i := range p {
		p[i] = 50
	}
	for _, mu := range []float32{0, 0.3, 0.9} {
		var got = smp.interp(p, 0, mu, 0)
		assert.InDelta(t, 50, real(got), 5, "mu %v", mu)
		assert.InDelta(t, 0, imag(got), 1e-3)
	}
}

func TestFIRSamplerRemovesCarrier(t *testing.T) {
	var fir = newFIRSampler(rootRaisedCosine(33, 0.25, 0.5), 1)
	var freqw float32 = 65536.0 / 64
	fir.updateFreq(freqw, 0)
	var p = make([]complex64, 64)
	for i := range p {
		p[i] = 40 * expi(freqw*float32(i))
	}
	// Output phase equals the carrier at the centre tap.
	var got = fir.interp(p, 0, 1, freqw*16)
	assert.InDelta(t, 40, math.Hypot(float64(real(got)), float64(imag(got))), 2)
	assert.InDelta(t, 0, imag(got), 2)
}

func TestUnknownSampler(t *testing.T) {
	var _, err = newSampler("cubic", 2, 0.35, 8, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}
