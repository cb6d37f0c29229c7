package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Carrier and symbol timing recovery for single-carrier
 *		PSK/APSK (DVB-S).
 *
 * Description:	A decision-directed PLL on the phase error from the
 *		demapper table, a modified Mueller and Muller timing
 *		detector and an AGC on the symbols.  Works in chunks of
 *		chunkSize input samples and emits one soft symbol per
 *		symbol period.
 *
 *--------------------------------------------------------------*/

import (
	"math"

	"github.com/charmbracelet/log"
)

const cstlnChunkSize = 128

type cstlnHist struct {
	p complex64 // Received.
	c complex64 // Decided.
}

type cstlnReceiver[S SoftSymbol] struct {
	sampler sampler
	cstln   *CstlnLUT[S]
	in      *pipebuf[complex64]
	out     *pipebuf[S]
	diag    Diagnostics
	logger  *log.Logger

	measDecimation uint64
	omega          float32 // Samples per symbol.
	minOmega       float32
	maxOmega       float32
	freqw          float32 // 65536 = 1 cycle per sample.
	minFreqw       float32
	maxFreqw       float32
	pllAdjustment  float32
	allowDrift     bool
	kest           float32

	estInsp   float32
	agcGain   float32
	mu        float32
	phase     float32
	estSP     float32
	estEP     float32
	measCount uint64
	hist      [3]cstlnHist
	points    []complex64
}

func newCstlnReceiver[S SoftSymbol](smp sampler, lut *CstlnLUT[S], in *pipebuf[complex64], out *pipebuf[S], diag Diagnostics, logger *log.Logger) *cstlnReceiver[S] {
	out.reserve(2 * cstlnChunkSize)
	var r = &cstlnReceiver[S]{
		sampler:        smp,
		cstln:          lut,
		in:             in,
		out:            out,
		diag:           orNoDiag(diag),
		logger:         orDefaultLogger(logger),
		measDecimation: 1048576,
		pllAdjustment:  1,
		kest:           0.01,
		estInsp:        cstlnAmp * cstlnAmp,
		agcGain:        1,
	}
	r.setOmega(1, 10e-6)
	r.setFreq(0)
	return r
}

// setOmega sets the nominal samples per symbol and the timing tolerance.
func (r *cstlnReceiver[S]) setOmega(omega, tol float32) {
	r.omega = omega
	r.minOmega = omega * (1 - tol)
	r.maxOmega = omega * (1 + tol)
	r.updateFreqLimits()
}

// setFreq sets the carrier in cycles per sample.
func (r *cstlnReceiver[S]) setFreq(freq float32) {
	r.freqw = freq * 65536
	r.updateFreqLimits()
}

// The PLL must not cross +-SR/n/2, where it would lock at a multiple of
// the constellation's symmetry.
func (r *cstlnReceiver[S]) updateFreqLimits() {
	var n float32
	switch r.cstln.NSymbols() {
	case 2:
		n = 2
	case 8:
		n = 8
	case 16:
		n = 12
	case 32:
		n = 16
	default:
		n = 4
	}
	r.minFreqw = r.freqw - 65536/r.maxOmega/n/2
	r.maxFreqw = r.freqw + 65536/r.maxOmega/n/2
}

func (r *cstlnReceiver[S]) run() {
	// Loop constants that work for typical satellite recordings.
	var freqAlpha float32 = 0.04
	var freqBeta = 0.0012 / r.omega * r.pllAdjustment
	var gainMu float32 = 0.02 / (cstlnAmp * cstlnAmp) * 2
	const maxMucorr = 0.1

	// mu adjustments can yield more than chunk/omega symbols.
	for r.in.readable() >= cstlnChunkSize+r.sampler.readahead() && r.out.writable() >= 2*cstlnChunkSize {
		r.sampler.updateFreq(r.freqw, cstlnChunkSize)

		var pin = r.in.rd()
		var pout = r.out.wr()
		var nout = 0

		var sg, s complex64
		var point = -1

		for i := 0; i < cstlnChunkSize; i++ {
			// mu is the time of the next symbol counted from sample i.
			if r.mu < 1 {
				sg = r.sampler.interp(pin, i, r.mu, r.phase+r.mu*r.freqw)
				s = sg * complex(r.agcGain, 0)

				var cr = r.cstln.Lookup(real(s), imag(s))
				pout[nout] = cr.SS
				nout++

				r.phase += float32(cr.PhaseError) * freqAlpha
				r.freqw += float32(cr.PhaseError) * freqBeta

				// mu[k] = dot(c[k]-c[k-2], p[k-1]) - dot(p[k]-p[k-2], c[k-1])
				// with p received and c decided.
				r.hist[2] = r.hist[1]
				r.hist[1] = r.hist[0]
				point = int(cr.Symbol)
				r.hist[0] = cstlnHist{p: s, c: r.cstln.Symbols[point]}
				var h = &r.hist
				var muerr = dot(h[0].p-h[2].p, h[1].c) - dot(h[0].c-h[2].c, h[1].p)
				var mucorr = clampf(muerr*gainMu, -maxMucorr, maxMucorr)
				r.mu += mucorr
				r.mu += r.omega
			}
			r.mu--
			r.phase += r.freqw
		}

		r.in.read(cstlnChunkSize)
		r.out.written(nout)

		// Keep phase small enough for float32 resolution.
		r.phase = float32(math.Mod(float64(r.phase), 65536))

		if point >= 0 {
			r.points = append(r.points[:0], s)
			r.diag.Constellation(r.points)

			// For APSK the AGC must act on symbols, not the whole signal.
			var insp = real(sg)*real(sg) + imag(sg)*imag(sg)
			r.estInsp = insp*r.kest + r.estInsp*(1-r.kest)
			if r.estInsp != 0 {
				r.agcGain = cstlnAmp / float32(math.Sqrt(float64(r.estInsp)))
			}

			var c = r.cstln.Symbols[point]
			var ev = s - c
			var sigPower, evPower float32
			if r.cstln.NSymbols() == 2 {
				// BPSK at 45 degrees: quadrature noise does not count.
				var sr = (real(c) + imag(c)) * math.Sqrt2 / 2
				var er = (real(ev) + imag(ev)) * math.Sqrt2 / 2
				sigPower = sr * sr
				evPower = er * er
			} else {
				sigPower = real(c)*real(c) + imag(c)*imag(c)
				evPower = real(ev)*real(ev) + imag(ev)*imag(ev)
			}
			r.estSP = sigPower*r.kest + r.estSP*(1-r.kest)
			r.estEP = evPower*r.kest + r.estEP*(1-r.kest)
		}

		if !r.allowDrift && (r.freqw < r.minFreqw || r.freqw > r.maxFreqw) {
			r.freqw = (r.maxFreqw + r.minFreqw) / 2
		}

		r.measCount += cstlnChunkSize
		for r.measCount >= r.measDecimation {
			r.measCount -= r.measDecimation
			r.diag.Frequency(r.freqw / 65536)
			r.diag.SignalStrength(float32(math.Sqrt(float64(r.estInsp))))
			r.diag.MER(r.mer())
		}
	}
}

func (r *cstlnReceiver[S]) mer() float32 {
	if r.estEP == 0 {
		return 0
	}
	return float32(10 * math.Log10(float64(r.estSP/r.estEP)))
}

func dot(a, b complex64) float32 {
	return real(a)*real(b) + imag(a)*imag(b)
}
