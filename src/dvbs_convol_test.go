package dvbrx

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(n int, seed uint64) []byte {
	var rng = rand.New(rand.NewPCG(seed, 7))
	var b = make([]byte, n)
	for i := range b {
		b[i] = byte(rng.UintN(256))
	}
	return b
}

func unpackBits(b []byte) []uint8 {
	var out = make([]uint8, 0, len(b)*8)
	for _, v := range b {
		for i := 7; i >= 0; i-- {
			out = append(out, v>>i&1)
		}
	}
	return out
}

// alignment finds o such that dec[i] == src[i+o] over a window in the
// middle of dec.
func alignment(dec, src []uint8, window int) (int, bool) {
	var start = len(dec) / 2
	for o := -128; o <= 128; o++ {
		var ok = true
		var n = 0
		for i := start; i < len(dec) && n < window; i++ {
			var j = i + o
			if j < 0 || j >= len(src) {
				ok = false
				break
			}
			if dec[i] != src[j] {
				ok = false
				break
			}
			n++
		}
		if ok && n == window {
			return o, true
		}
	}
	return 0, false
}

func convolEncodeBytes(t *testing.T, rate CodeRate, data []byte) []uint8 {
	var sch = newScheduler(nil)
	var in = newPipebuf[byte](sch, "bytes", len(data))
	var out = newPipebuf[uint8](sch, "labels", len(data)*8+64)
	var enc, err = newConvolEncoder(rate, 2, in, out)
	require.NoError(t, err)
	sch.add(enc)
	copy(in.wr(), data)
	in.written(len(data))
	sch.drain()
	return append([]uint8(nil), out.rd()...)
}

func TestInverseConvolutionKnownMasks(t *testing.T) {
	var tests = []struct {
		rate CodeRate
		want []uint64
	}{
		{FEC12, []uint64{0x3ba}},
		{FEC23, []uint64{0xf29, 0x3c552, 0x7948, 0x1de}},
		{FEC34, []uint64{0xf247, 0xfd9ee, 0xf248d8}},
		{FEC78, []uint64{0xfbeac76c454f, 0xfb11d6ba, 0xfb112d5038dc, 0xfbea3c7d68, 0xfb112d50, 0xfb112dabd2e0, 0xfb11d640}},
	}
	for _, tc := range tests {
		t.Run(tc.rate.String(), func(t *testing.T) {
			var c, err = newConvCode(tc.rate)
			require.NoError(t, err)
			var d, d2, err2 = inverseConvolution(c)
			require.NoError(t, err2)
			assert.Equal(t, tc.want, d)
			for b := range d {
				assert.NotEqual(t, d[b], d2[b])
			}
		})
	}
}

func TestConvCodeShape(t *testing.T) {
	var tests = []struct {
		rate           CodeRate
		period, weight int
	}{
		{FEC12, 1, 2},
		{FEC23, 4, 6},
		{FEC34, 3, 4},
		{FEC56, 5, 6},
		{FEC78, 7, 8},
	}
	for _, tc := range tests {
		var c, err = newConvCode(tc.rate)
		require.NoError(t, err)
		assert.Equal(t, tc.period, c.period, tc.rate.String())
		assert.Equal(t, tc.weight, c.weight, tc.rate.String())
	}
	var _, err = newConvCode(FEC910)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func runDeconvol(t *testing.T, rate CodeRate, labels []uint8, fastlock bool) ([]byte, *deconvolSync[HardSS]) {
	var sch = newScheduler(nil)
	var in = newPipebuf[HardSS](sch, "labels", len(labels)+1)
	var out = newPipebuf[byte](sch, "bytes", len(labels))
	var d, err = newDeconvolSync(rate, in, out, nil)
	require.NoError(t, err)
	d.fastlock = fastlock
	sch.add(d)
	for i, l := range labels {
		in.wr()[i] = HardSS(l)
	}
	in.written(len(labels))
	sch.drain()
	return append([]byte(nil), out.rd()...), d
}

func TestDeconvolInvertsEncoder(t *testing.T) {
	for _, rate := range []CodeRate{FEC12, FEC23, FEC34, FEC56, FEC78} {
		t.Run(rate.String(), func(t *testing.T) {
			var src = randomBytes(800, uint64(rate))
			var labels = convolEncodeBytes(t, rate, src)
			var c, _ = newConvCode(rate)
			// The register fills after 32 symbols; start on a period boundary.
			var pad = make([]uint8, 32%(c.weight/2))
			var dec, _ = runDeconvol(t, rate, append(pad, labels...), false)
			require.NotEmpty(t, dec)
			var _, ok = alignment(unpackBits(dec), unpackBits(src), 1000)
			assert.True(t, ok)
		})
	}
}

func TestDeconvolFastlockFindsRotation(t *testing.T) {
	var src = randomBytes(800, 3)
	var labels = convolEncodeBytes(t, FEC12, src)
	for i, l := range labels {
		// Received rotated by +90 degrees.
		var iBit, qBit = l >> 1, l & 1
		labels[i] = (qBit^1)<<1 | iBit
	}
	var dec, d = runDeconvol(t, FEC12, labels, true)
	assert.Equal(t, 1, d.locked)
	var _, ok = alignment(unpackBits(dec), unpackBits(src), 1000)
	assert.True(t, ok)
}

func TestDeconvolNextSyncCycles(t *testing.T) {
	var sch = newScheduler(nil)
	var d, err = newDeconvolSync(FEC12, newPipebuf[HardSS](sch, "in", 16), newPipebuf[byte](sch, "out", 16), nil)
	require.NoError(t, err)
	for i := range deconvNSyncs - 1 {
		d.nextSync()
		assert.Equal(t, i+1, d.locked)
		assert.Zero(t, d.skip)
	}
	d.nextSync()
	assert.Zero(t, d.locked)
	assert.Equal(t, 1, d.skip)
}
