package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Test signal generation: symbols to baseband IQ.
 *
 * Description:	labelMapper turns constellation labels into points.
 *		modulator upsamples by an integer factor, with either
 *		rectangular pulses or root raised cosine shaping, and
 *		optionally adds a carrier offset and white Gaussian
 *		noise for a chosen Es/N0.
 *
 *--------------------------------------------------------------*/

import (
	"math"
	"math/rand/v2"
)

type labelMapper struct {
	cstln *Cstln
	in    *pipebuf[uint8]
	out   *pipebuf[complex64]
}

func newLabelMapper(c *Cstln, in *pipebuf[uint8], out *pipebuf[complex64]) *labelMapper {
	return &labelMapper{cstln: c, in: in, out: out}
}

func (m *labelMapper) run() {
	var n = min(m.in.readable(), m.out.writable())
	if n == 0 {
		return
	}
	var mask = uint8(m.cstln.NSymbols() - 1)
	var pin, pout = m.in.rd(), m.out.wr()
	for i := range n {
		pout[i] = m.cstln.Symbols[pin[i]&mask]
	}
	m.in.read(n)
	m.out.written(n)
}

type ModulatorConfig struct {
	SamplesPerSymbol int     `yaml:"samples_per_symbol"`
	Rolloff          float64 `yaml:"rolloff"` // 0 for rectangular pulses.
	Freq             float64 `yaml:"freq"`    // Carrier offset, cycles per sample.
	EsN0             float64 `yaml:"esn0"`    // dB; NaN or +Inf for no noise.
	Seed             uint64  `yaml:"seed"`
}

type modulator struct {
	in  *pipebuf[complex64]
	out *pipebuf[complex64]

	sps   int
	taps  []float32 // Empty for rectangular pulses.
	hist  []complex64
	ph16  float32
	fw16  float32
	sigma float32
	rng   *rand.Rand
}

func newModulator(cfg ModulatorConfig, in, out *pipebuf[complex64]) *modulator {
	var m = &modulator{
		in:   in,
		out:  out,
		sps:  max(cfg.SamplesPerSymbol, 1),
		fw16: float32(cfg.Freq * 65536),
		rng:  rand.New(rand.NewPCG(cfg.Seed, 0x6d6f64)),
	}
	if cfg.Rolloff > 0 && m.sps > 1 {
		var order = m.sps*8 + 1
		m.taps = rootRaisedCosine(order, 1/float64(m.sps), cfg.Rolloff)
		// Unit DC gain over one symbol's worth of zero-stuffed input.
		for i := range m.taps {
			m.taps[i] *= float32(m.sps)
		}
		m.hist = make([]complex64, len(m.taps))
	}
	if !math.IsNaN(cfg.EsN0) && !math.IsInf(cfg.EsN0, 1) {
		// Es is cstlnAmp^2 per symbol, spread over sps samples of noise.
		var n0 = cstlnAmp * cstlnAmp / math.Pow(10, cfg.EsN0/10)
		m.sigma = float32(math.Sqrt(n0 / 2))
	}
	out.reserve(m.sps)
	return m
}

func (m *modulator) run() {
	var n = min(m.in.readable(), m.out.writable()/m.sps)
	if n == 0 {
		return
	}
	var pin, pout = m.in.rd(), m.out.wr()
	var k = 0
	for _, sym := range pin[:n] {
		for j := range m.sps {
			var s complex64
			if m.taps == nil {
				s = sym
			} else {
				copy(m.hist[1:], m.hist[:len(m.hist)-1])
				m.hist[0] = IfThenElse(j == 0, sym, 0)
				for t, c := range m.taps {
					s += m.hist[t] * complex(c, 0)
				}
			}
			pout[k] = m.impair(s)
			k++
		}
	}
	m.in.read(n)
	m.out.written(k)
}

func (m *modulator) impair(s complex64) complex64 {
	if m.fw16 != 0 {
		s *= expi(m.ph16)
		m.ph16 = fmodfs(m.ph16+m.fw16, 65536)
	}
	if m.sigma != 0 {
		s += complex(float32(m.rng.NormFloat64())*m.sigma, float32(m.rng.NormFloat64())*m.sigma)
	}
	return s
}
