package dvbrx

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDiag struct {
	noDiag
	freqs      []float32
	mers       []float32
	locks      []bool
	lockStages []string // Parallel to locks.
	corr       []int
	pl         [2]int
}

func (d *recordingDiag) Frequency(f float32) { d.freqs = append(d.freqs, f) }
func (d *recordingDiag) MER(db float32)      { d.mers = append(d.mers, db) }
func (d *recordingDiag) LockState(stage string, l bool) {
	d.locks = append(d.locks, l)
	d.lockStages = append(d.lockStages, stage)
}
func (d *recordingDiag) Corrected(_ string, n int)  { d.corr = append(d.corr, n) }
func (d *recordingDiag) PLErrors(errors, total int) { d.pl[0] += errors; d.pl[1] += total }

// lockChanges lists, per stage, the lock states reported that differ from
// the previous one.
func (d *recordingDiag) lockChanges() map[string][]bool {
	var out = map[string][]bool{}
	for i, stage := range d.lockStages {
		var seen = out[stage]
		if len(seen) == 0 && !d.locks[i] {
			continue
		}
		if len(seen) == 0 || seen[len(seen)-1] != d.locks[i] {
			out[stage] = append(seen, d.locks[i])
		}
	}
	return out
}

// Two samples per symbol, rectangular pulses.
func qpskSignal(t *testing.T, nsym int, rot complex64) ([]uint8, []complex64) {
	var c = mustCstln(t, QPSK)
	var rng = rand.New(rand.NewPCG(1, 2))
	var syms = make([]uint8, nsym)
	var iq = make([]complex64, 0, nsym*2)
	for i := range syms {
		syms[i] = uint8(rng.IntN(4))
		var p = c.Symbols[syms[i]] * rot
		iq = append(iq, p, p)
	}
	return syms, iq
}

func runCstlnReceiver(t *testing.T, iq []complex64, diag Diagnostics, tweak func(*cstlnReceiver[HardSS])) []HardSS {
	var lut, err = cachedCstlnLUT[HardSS](QPSK, 10, 0, 0, 0, false)
	require.NoError(t, err)
	var sch = newScheduler(nil)
	var in = newPipebuf[complex64](sch, "iq", len(iq)+1)
	var out = newPipebuf[HardSS](sch, "ss", len(iq)+1)
	var r = newCstlnReceiver(&linearSampler{}, lut, in, out, diag, nil)
	r.setOmega(2, 10e-6)
	if tweak != nil {
		tweak(r)
	}
	sch.add(r)
	copy(in.wr(), iq)
	in.written(len(iq))
	sch.drain()
	return append([]HardSS(nil), out.rd()...)
}

func TestCstlnReceiverCleanSignal(t *testing.T) {
	var syms, iq = qpskSignal(t, 4096, 1)
	var got = runCstlnReceiver(t, iq, nil, nil)
	require.Greater(t, len(got), 3000)
	for i := range got {
		assert.Equal(t, HardSS(syms[i]), got[i], "symbol %d", i)
	}
}

func TestCstlnReceiverTracksPhase(t *testing.T) {
	var rot = expi(65536 * 10 / 360)
	var syms, iq = qpskSignal(t, 8192, rot)
	// Sample mid-symbol so the timing loop's transient stays inside it.
	var got = runCstlnReceiver(t, iq, nil, func(r *cstlnReceiver[HardSS]) { r.mu = 0.5 })
	require.Greater(t, len(got), 6000)
	var errs = 0
	for i := len(got) / 2; i < len(got); i++ {
		if HardSS(syms[i]) != got[i] {
			errs++
		}
	}
	assert.Zero(t, errs)
}

func TestCstlnReceiverReportsMeasurements(t *testing.T) {
	var _, iq = qpskSignal(t, 4096, 1)
	var d = &recordingDiag{}
	runCstlnReceiver(t, iq, d, func(r *cstlnReceiver[HardSS]) { r.measDecimation = 1024 })
	require.NotEmpty(t, d.mers)
	assert.Greater(t, d.mers[len(d.mers)-1], float32(20))
	for _, f := range d.freqs {
		assert.InDelta(t, 0, f, 0.01)
	}
}
