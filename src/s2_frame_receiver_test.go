package dvbrx

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s2TestFrames builds nframes PL frames of random QPSK data.
func s2TestFrames(nframes int, pls PLS, seed uint64) [][]PLSlot[HardSS] {
	var rng = rand.New(rand.NewPCG(seed, 7))
	var nslots = modcodInfos[pls.Modcod].slots(pls.SF)
	var bps = modcodInfos[pls.Modcod].bitsPerSymbol()
	var frames = make([][]PLSlot[HardSS], nframes)
	for f := range frames {
		var fr = make([]PLSlot[HardSS], 1+nslots)
		fr[0] = PLSlot[HardSS]{IsPLS: true, PLS: pls}
		for s := 1; s <= nslots; s++ {
			for i := range fr[s].Symbols {
				fr[s].Symbols[i] = HardSS(rng.IntN(1 << bps))
			}
		}
		frames[f] = fr
	}
	return frames
}

// s2TransmitFrames returns two samples per symbol with RRC pulses, rotated
// by phase0 and shifted by freq cycles per sample.
func s2TransmitFrames(t *testing.T, frames [][]PLSlot[HardSS], phase0, freq float32) []complex64 {
	var nslots = 0
	for _, f := range frames {
		nslots += len(f)
	}
	var sch = newScheduler(nil)
	var in = newPipebuf[PLSlot[HardSS]](sch, "slots", nslots+1)
	var out = newPipebuf[complex64](sch, "symbols", nslots*(plSlotLength+pilotLength)+1)
	sch.add(newS2FrameTransmitter(in, out, nil))
	for _, f := range frames {
		require.GreaterOrEqual(t, in.writable(), len(f))
		copy(in.wr(), f)
		in.written(len(f))
	}
	sch.drain()
	require.Zero(t, in.readable())

	var syms = out.rd()
	var taps = rootRaisedCosine(17, 0.5, 0.35)
	var iq = make([]complex64, 2*len(syms))
	for i, s := range syms {
		for k, c := range taps {
			if j := 2*i + k - len(taps)/2; j >= 0 && j < len(iq) {
				iq[j] += s * complex(2*c, 0)
			}
		}
	}
	var ph = phase0 * 65536
	for i := range iq {
		iq[i] *= expi(ph)
		ph += freq * 65536
		ph = fmodfs(ph, 65536)
	}
	return iq
}

func runS2FrameReceiver(t *testing.T, iq []complex64, diag Diagnostics, tweak func(*s2FrameReceiver[HardSS])) []PLSlot[HardSS] {
	var sch = newScheduler(nil)
	var in = newPipebuf[complex64](sch, "iq", len(iq)+1)
	var out = newPipebuf[PLSlot[HardSS]](sch, "slots", len(iq)/plSlotLength+1)
	var smp, err = newSampler("rrc", 2, 0.35, 0, 0)
	require.NoError(t, err)
	r, err := newS2FrameReceiver[HardSS](smp, 2, in, out, diag, nil)
	require.NoError(t, err)
	r.measDecimation = 8192
	if tweak != nil {
		tweak(r)
	}
	sch.add(r)
	copy(in.wr(), iq)
	in.written(len(iq))
	sch.drain()
	return append([]PLSlot[HardSS](nil), out.rd()...)
}

// matchFrames checks that got is a run of consecutive frames from sent and
// returns how many.
func matchFrames(t *testing.T, sent [][]PLSlot[HardSS], got []PLSlot[HardSS]) int {
	if len(got) == 0 {
		return 0
	}
	var flen = len(sent[0])
	var first = -1
	for f := range sent {
		if sent[f][1] == got[1] {
			first = f
			break
		}
	}
	require.GreaterOrEqual(t, first, 0, "first received frame was never sent")
	var n = 0
	for len(got) >= flen && first+n < len(sent) {
		require.Equal(t, sent[first+n], got[:flen], "frame %d", first+n)
		got = got[flen:]
		n++
	}
	assert.Empty(t, got)
	return n
}

func TestS2FrameReceiver(t *testing.T) {
	var pls = PLS{Modcod: 4, SF: true, Pilots: true}
	var tests = []struct {
		name   string
		pls    PLS
		phase0 float32
		freq   float32
	}{
		{"clean", pls, 0, 0},
		{"rotated", pls, 30.0 / 360, 0},
		{"offset", pls, 0.1, 0.0005},
		{"no pilots", PLS{Modcod: 4, SF: true}, 0.3, 0.0002},
		{"negative offset", pls, 0.7, -0.0007},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var frames = s2TestFrames(30, tc.pls, 11)
			var iq = s2TransmitFrames(t, frames, tc.phase0, tc.freq)
			var diag recordingDiag
			var got = runS2FrameReceiver(t, iq, &diag, nil)
			var n = matchFrames(t, frames, got)
			assert.GreaterOrEqual(t, n, 15)
			require.NotEmpty(t, diag.locks)
			assert.True(t, diag.locks[len(diag.locks)-1])
			assert.Zero(t, diag.pl[0])
			require.NotEmpty(t, diag.freqs)
			// Frequency is reported per sample.
			assert.InDelta(t, tc.freq, diag.freqs[len(diag.freqs)-1], 1e-4)
			require.NotEmpty(t, diag.mers)
			assert.Greater(t, diag.mers[len(diag.mers)-1], float32(20))
		})
	}
}

func TestS2FrameReceiverFiltersModcods(t *testing.T) {
	var frames = s2TestFrames(30, PLS{Modcod: 4, SF: true, Pilots: true}, 3)
	var iq = s2TransmitFrames(t, frames, 0.2, 0)
	var diag recordingDiag
	var got = runS2FrameReceiver(t, iq, &diag, func(r *s2FrameReceiver[HardSS]) {
		r.modcods = ^uint32(1 << 4)
	})
	assert.Empty(t, got)
	// Still locked, just not forwarding.
	require.NotEmpty(t, diag.locks)
	assert.True(t, diag.locks[len(diag.locks)-1])
}

func TestS2FrameReceiverIgnoresNoise(t *testing.T) {
	var rng = rand.New(rand.NewPCG(5, 5))
	var iq = make([]complex64, 300000)
	for i := range iq {
		iq[i] = complex(float32(rng.NormFloat64()*40), float32(rng.NormFloat64()*40))
	}
	var diag recordingDiag
	var got = runS2FrameReceiver(t, iq, &diag, nil)
	assert.Empty(t, got)
	assert.NotContains(t, diag.locks, true)
}

func TestCheckPLHeaderThresholds(t *testing.T) {
	var plh = s2PLH()
	var rng = rand.New(rand.NewPCG(8, 9))
	var header = func(index, sofErrors, plsErrors int) *[plhLength]complex64 {
		var p [plhLength]complex64
		copy(p[:], plh.sof[:])
		copy(p[sofLength:], plh.plsSymbols[index][:])
		// Negating a pi/2-BPSK symbol flips its bit.
		for _, i := range rng.Perm(sofLength)[:sofErrors] {
			p[i] = -p[i]
		}
		for _, i := range rng.Perm(plscodeLength)[:plsErrors] {
			p[sofLength+i] = -p[sofLength+i]
		}
		return &p
	}

	for n := 0; n <= s2MaxErrSOF+1; n++ {
		var index = rng.IntN(128)
		var got, sofErrors, _, ok = checkPLHeader(header(index, n, 0))
		assert.Equal(t, n, sofErrors)
		assert.Equal(t, n <= s2MaxErrSOF, ok, "%d SOF errors", n)
		if ok {
			assert.Equal(t, index, got)
		}
	}
	for n := 0; n <= s2MaxErrPLSCODE+1; n++ {
		var index = rng.IntN(128)
		var got, _, plsErrors, ok = checkPLHeader(header(index, s2MaxErrSOF, n))
		assert.Equal(t, n, plsErrors)
		assert.Equal(t, n <= s2MaxErrPLSCODE, ok, "%d PLSCODE errors", n)
		assert.Equal(t, index, got)
	}
}

func TestS2FrameReceiverWarnsUnmatched32APSK(t *testing.T) {
	for _, matched := range []bool{false, true} {
		var buf bytes.Buffer
		var sch = newScheduler(nil)
		var in = newPipebuf[complex64](sch, "iq", 1<<20)
		var out = newPipebuf[PLSlot[HardSS]](sch, "slots", 1000)
		var r, err = newS2FrameReceiver[HardSS](&linearSampler{}, 2, in, out, nil, log.New(&buf))
		require.NoError(t, err)
		r.matched = matched
		require.NotNil(t, r.getCstln(19))
		assert.Empty(t, buf.String())
		require.NotNil(t, r.getCstln(26))
		r.getCstln(26)
		assert.Equal(t, IfThenElse(matched, 0, 1), strings.Count(buf.String(), "32APSK"), "matched %v", matched)
	}
}

func TestS2SamplerStateSkip(t *testing.T) {
	var ss = s2SamplerState{omega: 2.5, fw16: 1000, mu: 0.25}
	ss.skipSymbols(3)
	assert.Equal(t, 7, ss.pos)
	assert.InDelta(t, 0.75, ss.mu, 1e-6)
	assert.InDelta(t, 3000, ss.ph16, 1e-3)
	assert.Equal(t, 3, ss.scr)
	ss.ph16 = 70000
	ss.normalize()
	assert.InDelta(t, 70000-65536, ss.ph16, 1e-3)
}

func TestPLHeaderDiffCorrelation(t *testing.T) {
	var plh = s2PLH()
	for _, index := range []int{0, 1, 8, 9, 127} {
		var symbols = append(append([]complex64{0}, plh.sof[:]...), plh.plsSymbols[index][:]...)
		var diffs = make([]complex64, plhLength)
		for i := range diffs {
			diffs[i] = conjprod(symbols[i], symbols[i+1])
		}
		var c = correlatePLHeaderDiff(diffs)
		// Nominally +j at full amplitude squared, less the first transition.
		assert.InDelta(t, 0, real(c), 1, "pls %d", index)
		assert.InDelta(t, cstlnAmp*cstlnAmp, imag(c), cstlnAmp*cstlnAmp*0.05, "pls %d", index)
	}
}
