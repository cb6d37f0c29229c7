package dvbrx

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCstlnShapes(t *testing.T) {
	var tests = []struct {
		kind  Modulation
		n     int
		nrot  int
		bps   int
		rmsLo float64
	}{
		{BPSK, 2, 2, 1, 70},
		{QPSK, 4, 4, 2, 70},
		{PSK8, 8, 8, 3, 70},
		{APSK16, 16, 4, 4, 70},
		{APSK32, 32, 4, 5, 70},
		{APSK64E, 64, 4, 6, 70},
		{QAM16, 16, 4, 4, 70},
		{QAM64, 64, 4, 6, 70},
		{QAM256, 256, 4, 8, 70},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			var c, err = NewCstln(tc.kind, 0, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.n, c.NSymbols())
			assert.Equal(t, tc.nrot, c.NRotations)
			assert.Equal(t, tc.bps, c.BitsPerSymbol())

			var power float64
			for _, s := range c.Symbols {
				power += float64(real(s)*real(s) + imag(s)*imag(s))
			}
			var rms = math.Sqrt(power / float64(c.NSymbols()))
			// Truncation to integers loses a little amplitude.
			assert.InDelta(t, cstlnAmp, rms, cstlnAmp-tc.rmsLo)
		})
	}
}

func TestQPSKMapping(t *testing.T) {
	var c, err = NewCstln(QPSK, 0, 0, 0)
	require.NoError(t, err)
	// Bit 1 set means negative I, bit 0 set means negative Q.
	for s, p := range c.Symbols {
		assert.Equal(t, s&2 != 0, real(p) < 0, "symbol %d", s)
		assert.Equal(t, s&1 != 0, imag(p) < 0, "symbol %d", s)
	}
}

func TestCstlnLUTNearestIsSelf(t *testing.T) {
	for _, kind := range []Modulation{QPSK, PSK8, APSK16, APSK32} {
		t.Run(kind.String(), func(t *testing.T) {
			var l, err = cachedCstlnLUT[LLRSS](kind, 20, 0, 0, 0, false)
			require.NoError(t, err)
			for s, p := range l.Symbols {
				var cell = l.Lookup(real(p), imag(p))
				assert.Equal(t, uint8(s), cell.Symbol)
				assert.Equal(t, uint8(s), cell.SS.nearestSymbol(), "LLR signs agree with nearest")
				assert.InDelta(t, 0, cell.PhaseError, 2)
			}
		})
	}
}

func TestCstlnLUTPhaseError(t *testing.T) {
	var l, err = cachedCstlnLUT[HardSS](QPSK, 10, 0, 0, 0, false)
	require.NoError(t, err)
	// Rotate every point by +10 degrees: phase error is +10 degrees.
	var rot = cmplx.Rect(1, 10*math.Pi/180)
	for s, p := range l.Symbols {
		var r = complex128(p) * rot
		var cell = l.Lookup(float32(real(r)), float32(imag(r)))
		assert.Equal(t, uint8(s), cell.Symbol)
		assert.InDelta(t, 65536*10/360, int(cell.PhaseError), 200)
	}
}

func TestCstlnLUTDeterministic(t *testing.T) {
	var a = NewCstlnLUT[EuclSS](mustCstln(t, QPSK), 8)
	var b = NewCstlnLUT[EuclSS](mustCstln(t, QPSK), 8)
	rapid.Check(t, func(t *rapid.T) {
		var i = rapid.Float32Range(-1000, 1000).Draw(t, "i")
		var q = rapid.Float32Range(-1000, 1000).Draw(t, "q")
		assert.Equal(t, *a.Lookup(i, q), *b.Lookup(i, q))
	})
}

func TestCstlnLUTFarPointsKeepPhase(t *testing.T) {
	var l = NewCstlnLUT[HardSS](mustCstln(t, QPSK), 8)
	for s, p := range l.Symbols {
		var cell = l.Lookup(real(p)*40, imag(p)*40)
		assert.Equal(t, uint8(s), cell.Symbol)
	}
}

func TestEuclHarden(t *testing.T) {
	var l = NewCstlnLUT[EuclSS](mustCstln(t, QPSK), 8)
	l.Harden()
	var cell = l.Lookup(50, 50)
	assert.Equal(t, uint8(0), cell.SS.Nearest)
	assert.Equal(t, [4]uint16{0, 1, 1, 2}, cell.SS.Dists2)
}

func TestProbToLLR(t *testing.T) {
	assert.Equal(t, int8(127), probToLLR(0))
	assert.Equal(t, int8(-127), probToLLR(1))
	assert.Equal(t, int8(0), probToLLR(0.5))
	assert.Greater(t, probToLLR(0.1), int8(0))
	assert.Less(t, probToLLR(0.9), int8(0))
}

func mustCstln(t testing.TB, kind Modulation) *Cstln {
	var c, err = NewCstln(kind, 0, 0, 0)
	require.NoError(t, err)
	return c
}
