package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Fractional-time interpolators used by the symbol
 *		receivers.
 *
 * Description:	Phases and frequencies are in 1/65536 turn, per sample
 *		for frequencies.  interp() returns the signal at time
 *		idx+mu, derotated by phase.
 *
 *--------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"sync"
)

type sampler interface {
	interp(p []complex64, idx int, mu, phase float32) complex64
	// updateFreq tells the sampler the current carrier estimate.  weight is
	// the number of samples processed since the previous call, 0 forces a
	// refresh.
	updateFreq(freqw float32, weight int)
	// Samples needed after idx.
	readahead() int
}

var trigTable = sync.OnceValue(func() []complex64 {
	var t = make([]complex64, 65536)
	for i := range t {
		var s, c = math.Sincos(2 * math.Pi * float64(i) / 65536)
		t[i] = complex(float32(c), float32(s))
	}
	return t
})

// expi returns exp(j*2*pi*phase/65536).
func expi(phase float32) complex64 {
	return trigTable()[uint16(int32(int64(phase)))]
}

func arg16(z complex64) float32 {
	return float32(math.Atan2(float64(imag(z)), float64(real(z))) * 65536 / (2 * math.Pi))
}

// nearestSampler is only suitable for bandpass-filtered, oversampled signals.
type nearestSampler struct{}

func (nearestSampler) readahead() int { return 0 }

func (nearestSampler) updateFreq(float32, int) {}

func (nearestSampler) interp(p []complex64, idx int, _, phase float32) complex64 {
	return p[idx] * expi(-phase)
}

type linearSampler struct {
	freqw float32
}

func (*linearSampler) readahead() int { return 1 }

func (s *linearSampler) updateFreq(freqw float32, _ int) { s.freqw = freqw }

func (s *linearSampler) interp(p []complex64, idx int, mu, phase float32) complex64 {
	var s0 = p[idx] * expi(-phase)
	var s1 = p[idx+1] * expi(-(phase + s.freqw))
	return s0*complex(1-mu, 0) + s1*complex(mu, 0)
}

/*-------------------------------------------------------------
 *
 * Name:	firSampler
 *
 * Purpose:	Matched filter and interpolator in one.
 *
 * Description:	coeffs are sampled 'steps' times faster than the input,
 *		so mu selects one of 'steps' polyphase branches.  The
 *		taps are pre-rotated by the carrier estimate so that
 *		filtering happens at baseband; rotating all of them is
 *		expensive so it is refreshed once per ncoeffs*16 input
 *		samples.
 *
 *--------------------------------------------------------------*/

type firSampler struct {
	coeffs  []float32
	steps   int
	shifted []complex64
	budget  int
}

func newFIRSampler(coeffs []float32, steps int) *firSampler {
	Assert(len(coeffs) > 0 && steps >= 1)
	var s = &firSampler{
		coeffs:  coeffs,
		steps:   steps,
		shifted: make([]complex64, len(coeffs)),
	}
	s.rotate(0)
	return s
}

func (s *firSampler) readahead() int { return len(s.coeffs) - 1 }

func (s *firSampler) updateFreq(freqw float32, weight int) {
	if weight == 0 {
		s.budget = 0
	}
	s.budget -= weight
	if s.budget <= 0 {
		s.budget = len(s.coeffs) * 16
		s.rotate(freqw)
	}
}

func (s *firSampler) rotate(freqw float32) {
	var f = freqw / float32(s.steps)
	var n = len(s.coeffs)
	for i, c := range s.coeffs {
		s.shifted[i] = expi(-f*float32(i-n/2)) * complex(c, 0)
	}
}

func (s *firSampler) interp(p []complex64, idx int, mu, phase float32) complex64 {
	var acc complex64
	var k = idx
	for c := int((1 - mu) * float32(s.steps)); c < len(s.shifted); c += s.steps {
		acc += s.shifted[c] * p[k]
		k++
	}
	return expi(-phase) * acc
}

/*-------------------------------------------------------------
 *
 * Name:	rootRaisedCosine
 *
 * Purpose:	Root raised cosine taps.
 *
 * Inputs:	order	- Number of taps.
 *		fm	- Symbol rate over tap rate.
 *		rolloff	- Excess bandwidth, 0 < rolloff <= 1.
 *
 * Returns:	Taps with unit DC gain.
 *
 *--------------------------------------------------------------*/

func rootRaisedCosine(order int, fm, rolloff float64) []float32 {
	Assert(order > 0 && fm > 0 && rolloff > 0)
	var out = make([]float32, order)
	var b = rolloff
	var sum float64
	for i := range order {
		var t = (float64(i) - float64(order-1)/2) * fm
		var h float64
		switch {
		case t == 0:
			h = 1 - b + 4*b/math.Pi
		case math.Abs(math.Abs(t)-1/(4*b)) < 1e-9:
			h = b / math.Sqrt2 * ((1+2/math.Pi)*math.Sin(math.Pi/(4*b)) + (1-2/math.Pi)*math.Cos(math.Pi/(4*b)))
		default:
			h = (math.Sin(math.Pi*t*(1-b)) + 4*b*t*math.Cos(math.Pi*t*(1+b))) /
				(math.Pi * t * (1 - 16*b*b*t*t))
		}
		out[i] = float32(h)
		sum += h
	}
	for i := range out {
		out[i] /= float32(sum)
	}
	return out
}

// newSampler builds the interpolator named in the configuration.  For
// "rrc", steps is the number of polyphase branches (0 for at least 64
// per symbol) and rejection the stopband attenuation in dB that sets the
// filter length (0 for four symbols either side).
func newSampler(kind string, omega, rolloff float64, steps int, rejection float64) (sampler, error) { //nolint:ireturn
	switch kind {
	case "nearest":
		return nearestSampler{}, nil
	case "", "linear":
		return &linearSampler{}, nil
	case "rrc":
		if steps < 1 {
			steps = max(1, int(64/omega))
		}
		var order int
		if rejection > 0 {
			// Transition band is rolloff*Fm/2, at Fs*steps.
			order = int(rejection * 2 * omega * float64(steps) / (22 * rolloff))
		} else {
			order = int(float64(steps)*omega*4)*2 + 1
		}
		var taps = rootRaisedCosine(max(order, 1), 1/(omega*float64(steps)), rolloff)
		// One polyphase branch at a time is applied.
		for i := range taps {
			taps[i] *= float32(steps)
		}
		return newFIRSampler(taps, steps), nil
	}
	return nil, fmt.Errorf("sampler %q: %w", kind, ErrUnsupported)
}
