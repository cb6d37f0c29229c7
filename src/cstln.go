package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Constellations and their demapping lookup tables.
 *
 * Description:	A constellation is a list of points with integer
 *		coordinates, RMS amplitude cstlnAmp.  The demapper is a
 *		256 x 256 table indexed by the received I and Q, each cell
 *		holding the nearest point, its phase error and a soft
 *		symbol in whichever representation the consumer wants.
 *
 * References:	EN 300 421 section 4.5, EN 302 307-1 section 5.4,
 *		EN 302 307-2 table 13e (64APSK).
 *
 *--------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
	"sync"
)

// Target RMS amplitude for AGC.  A trade-off between BPSK, QPSK and 32APSK.
const cstlnAmp = 75

type Modulation int

const (
	BPSK Modulation = iota
	QPSK
	PSK8
	APSK16
	APSK32
	APSK64E
	QAM16
	QAM64
	QAM256
	modulationCount
)

var modulationNames = [modulationCount]string{
	BPSK:    "BPSK",
	QPSK:    "QPSK",
	PSK8:    "8PSK",
	APSK16:  "16APSK",
	APSK32:  "32APSK",
	APSK64E: "64APSKe",
	QAM16:   "16QAM",
	QAM64:   "64QAM",
	QAM256:  "256QAM",
}

func (m Modulation) String() string {
	if m < 0 || m >= modulationCount {
		return fmt.Sprintf("Modulation(%d)", int(m))
	}
	return modulationNames[m]
}

func ParseModulation(s string) (Modulation, error) {
	for m, name := range modulationNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Modulation(m), nil
		}
	}
	return 0, fmt.Errorf("constellation %q: %w", s, ErrUnsupported)
}

func (m Modulation) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Modulation) UnmarshalText(b []byte) error {
	var v, err = ParseModulation(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type Cstln struct {
	Kind       Modulation
	Symbols    []complex64 // Integral coordinates.
	NRotations int         // Rotational symmetry seen by the carrier loop.
	AmpMax     float32     // Outer ring radius relative to RMS.  0 if not meaningful.
}

func (c *Cstln) NSymbols() int {
	return len(c.Symbols)
}

func (c *Cstln) BitsPerSymbol() int {
	return bits.Len(uint(len(c.Symbols))) - 1
}

// Point at radius r, angle 2*pi*i/n.  Truncated to integers like a signed char.
func polar(r float64, n int, i float64) complex64 {
	var a = i * 2 * math.Pi / float64(n)
	return complex(float32(int8(r*math.Cos(a)*cstlnAmp)), float32(int8(r*math.Sin(a)*cstlnAmp)))
}

// Four points on radius r at angles a[j]*pi.
func polar4(dst []complex64, r float64, a0, a1, a2, a3 float64) {
	for j, a := range [4]float64{a0, a1, a2, a3} {
		var phi = a * math.Pi
		dst[j] = complex(float32(int8(r*math.Cos(phi)*cstlnAmp)), float32(int8(r*math.Sin(phi)*cstlnAmp)))
	}
}

/*-------------------------------------------------------------
 *
 * Name:	NewCstln
 *
 * Purpose:	Build constellation point coordinates.
 *
 * Inputs:	kind		- Modulation.
 *		gamma1..3	- APSK ring ratios.  0 selects the default
 *				  for non-DVB-S2 use.
 *
 *--------------------------------------------------------------*/

func NewCstln(kind Modulation, gamma1, gamma2, gamma3 float32) (*Cstln, error) {
	var c = &Cstln{Kind: kind, AmpMax: 1}
	var g1, g2, g3 = float64(gamma1), float64(gamma2), float64(gamma3)

	switch kind {
	case BPSK:
		// At 45 degrees, as DVB-S2 pi/2-BPSK before rotation.
		c.NRotations = 2
		c.Symbols = []complex64{polar(1, 8, 1), polar(1, 8, 5)}

	case QPSK:
		c.NRotations = 4
		c.Symbols = []complex64{
			polar(1, 4, 0.5),
			polar(1, 4, 3.5),
			polar(1, 4, 1.5),
			polar(1, 4, 2.5),
		}

	case PSK8:
		c.NRotations = 8
		c.Symbols = make([]complex64, 8)
		for s, i := range [8]float64{1, 0, 4, 5, 2, 7, 3, 6} {
			c.Symbols[s] = polar(1, 8, i)
		}

	case APSK16:
		if g1 == 0 {
			g1 = 2.57
		}
		var r1 = math.Sqrt(4 / (1 + 3*g1*g1))
		var r2 = g1 * r1
		c.AmpMax = float32(r2)
		c.NRotations = 4
		c.Symbols = make([]complex64, 16)
		for s, i := range [12]float64{1.5, 10.5, 4.5, 7.5, 0.5, 11.5, 5.5, 6.5, 2.5, 9.5, 3.5, 8.5} {
			c.Symbols[s] = polar(r2, 12, i)
		}
		for s, i := range [4]float64{0.5, 3.5, 1.5, 2.5} {
			c.Symbols[12+s] = polar(r1, 4, i)
		}

	case APSK32:
		if g1 == 0 {
			g1 = 2.53
		}
		if g2 == 0 {
			g2 = 4.30
		}
		var r1 = math.Sqrt(8 / (1 + 3*g1*g1 + 4*g2*g2))
		var r2 = g1 * r1
		var r3 = g2 * r1
		c.AmpMax = float32(r3)
		c.NRotations = 4
		c.Symbols = make([]complex64, 32)
		for s, i := range [8]float64{1.5, 2.5, 10.5, 9.5, 4.5, 3.5, 7.5, 8.5} {
			c.Symbols[s] = polar(r2, 12, i)
		}
		for s, i := range [8]float64{1, 3, 14, 12, 6, 4, 9, 11} {
			c.Symbols[8+s] = polar(r3, 16, i)
		}
		for s, i := range [4]float64{0.5, 11.5, 5.5, 6.5} {
			c.Symbols[16+2*s] = polar(r2, 12, i)
		}
		for s, i := range [4]float64{0.5, 3.5, 1.5, 2.5} {
			c.Symbols[17+2*s] = polar(r1, 4, i)
		}
		for s, i := range [8]float64{0, 2, 15, 13, 7, 5, 8, 10} {
			c.Symbols[24+s] = polar(r3, 16, i)
		}

	case APSK64E:
		if g1 == 0 {
			g1 = 2.4
		}
		if g2 == 0 {
			g2 = 4.3
		}
		if g3 == 0 {
			g3 = 7.0
		}
		var r1 = math.Sqrt(64 / (4 + 12*g1*g1 + 20*g2*g2 + 28*g3*g3))
		var r2 = g1 * r1
		var r3 = g2 * r1
		var r4 = g3 * r1
		c.AmpMax = float32(r4)
		c.NRotations = 4
		var s = make([]complex64, 64)
		polar4(s[0:], r4, 1.0/4, 7.0/4, 3.0/4, 5.0/4)
		polar4(s[4:], r4, 13.0/28, 43.0/28, 15.0/28, 41.0/28)
		polar4(s[8:], r4, 1.0/28, 55.0/28, 27.0/28, 29.0/28)
		polar4(s[12:], r1, 1.0/4, 7.0/4, 3.0/4, 5.0/4)
		polar4(s[16:], r4, 9.0/28, 47.0/28, 19.0/28, 37.0/28)
		polar4(s[20:], r4, 11.0/28, 45.0/28, 17.0/28, 39.0/28)
		polar4(s[24:], r3, 1.0/20, 39.0/20, 19.0/20, 21.0/20)
		polar4(s[28:], r2, 1.0/12, 23.0/12, 11.0/12, 13.0/12)
		polar4(s[32:], r4, 5.0/28, 51.0/28, 23.0/28, 33.0/28)
		polar4(s[36:], r3, 9.0/20, 31.0/20, 11.0/20, 29.0/20)
		polar4(s[40:], r4, 3.0/28, 53.0/28, 25.0/28, 31.0/28)
		polar4(s[44:], r2, 5.0/12, 19.0/12, 7.0/12, 17.0/12)
		polar4(s[48:], r3, 1.0/4, 7.0/4, 3.0/4, 5.0/4)
		polar4(s[52:], r3, 7.0/20, 33.0/20, 13.0/20, 27.0/20)
		polar4(s[56:], r3, 3.0/20, 37.0/20, 17.0/20, 23.0/20)
		polar4(s[60:], r2, 1.0/4, 7.0/4, 3.0/4, 5.0/4)
		c.Symbols = s

	case QAM16, QAM64, QAM256:
		var n = map[Modulation]int{QAM16: 16, QAM64: 64, QAM256: 256}[kind]
		c.AmpMax = IfThenElse(kind == QAM16, float32(0), float32(1))
		c.NRotations = 4
		c.Symbols = makeQAM(n)

	default:
		return nil, fmt.Errorf("constellation %v: %w", kind, ErrUnsupported)
	}

	return c, nil
}

// Square QAM with arbitrary (non-Gray) mapping, unit average power.
func makeQAM(n int) []complex64 {
	var m = int(math.Sqrt(float64(n)))
	var q = float64(m / 2)
	// Average power in the first quadrant of a unit grid.
	var avgpower = 2 * (q*0.25 + (q-1)*q/2 + (q-1)*q*(2*q-1)/6) / q
	var scale = 1 / math.Sqrt(avgpower)

	var out = make([]complex64, 0, n)
	for x := 0; x < m; x++ {
		for y := 0; y < m; y++ {
			var i = float64(x) - float64(m-1)/2
			var qq = float64(y) - float64(m-1)/2
			out = append(out, complex(float32(int8(i*scale*cstlnAmp)), float32(int8(qq*scale*cstlnAmp))))
		}
	}
	return out
}

// Per-cell intermediate used only while building a table.
type fullSS struct {
	nearest uint8
	dists2  [256]uint16
	p       [8]float32 // Probability of each bit being 1.
	nsyms   int
}

type cstlnCell[S SoftSymbol] struct {
	SS         S
	PhaseError int16 // Received minus nearest, in 1/65536 turn.
	Symbol     uint8
}

type CstlnLUT[S SoftSymbol] struct {
	*Cstln
	MER   float32
	cells [256 * 256]cstlnCell[S]
}

/*-------------------------------------------------------------
 *
 * Name:	NewCstlnLUT
 *
 * Purpose:	Precompute the demapper for every (I,Q) in [-128,128)^2.
 *
 * Inputs:	c	- Constellation.
 *		mer	- Expected MER in dB, sets the noise used for the
 *			  per-bit likelihoods.
 *
 * Description:	Per cell: squared distance to every point, nearest point
 *		(strictly smaller distance wins, so ties go to the lowest
 *		index), Gaussian likelihood summed per bit value, and the
 *		phase error of the received point against the nearest.
 *
 *--------------------------------------------------------------*/

func NewCstlnLUT[S SoftSymbol](c *Cstln, mer float32) *CstlnLUT[S] {
	var l = &CstlnLUT[S]{Cstln: c, MER: mer}
	var sigma = cstlnAmp * math.Pow(10, -float64(mer)/20)

	var fss fullSS
	fss.nsyms = len(c.Symbols)
	for s := range fss.dists2 {
		fss.dists2[s] = 65535
	}

	for I := -128; I < 128; I++ {
		for Q := -128; Q < 128; Q++ {
			fss.nearest = 0
			var best = math.Inf(1)
			var probs [8][2]float64

			for s, sym := range c.Symbols {
				var di = float64(I) - float64(real(sym))
				var dq = float64(Q) - float64(imag(sym))
				var d2 = di*di + dq*dq
				if d2 < best {
					best = d2
					fss.nearest = uint8(s)
				}
				fss.dists2[s] = uint16(min(d2, 65535))
				var p = math.Exp(-d2/(2*sigma*sigma)) / (math.Sqrt(2*math.Pi) * sigma)
				for bit := range 8 {
					probs[bit][(s>>bit)&1] += p
				}
			}

			for b := range 8 {
				var p = probs[b][1] / (probs[b][0] + probs[b][1])
				if math.IsNaN(p) || math.IsInf(p, 0) || (p != 0 && math.Abs(p) < 0x1p-1022) {
					// Unrealistically low sigma.
					p = 0
				}
				fss.p[b] = float32(p)
			}

			var cell = &l.cells[(I&255)<<8|(Q&255)]
			setSoftSymbol(&cell.SS, &fss)
			cell.Symbol = fss.nearest
			var sym = c.Symbols[fss.nearest]
			var phSymbol = math.Atan2(float64(imag(sym)), float64(real(sym)))
			var phErr = math.Atan2(float64(Q), float64(I)) - phSymbol
			cell.PhaseError = int16(int32(phErr * 65536 / (2 * math.Pi)))
		}
	}

	return l
}

// Lookup demaps a received point.  Points outside the table are scaled down,
// which only preserves the phase.
func (l *CstlnLUT[S]) Lookup(i, q float32) *cstlnCell[S] {
	for i < -128 || i > 127 || q < -128 || q > 127 {
		i *= 0.5
		q *= 0.5
	}
	return &l.cells[int(uint8(int8(i)))<<8|int(uint8(int8(q)))]
}

// lookupInt wraps modulo 256.
func (l *CstlnLUT[S]) lookupInt(i, q int) *cstlnCell[S] {
	return &l.cells[(i&255)<<8|(q&255)]
}

// Harden replaces soft metrics with hard decisions.
func (l *CstlnLUT[S]) Harden() {
	for k := range l.cells {
		hardenSoftSymbol(&l.cells[k].SS)
	}
}

type cstlnKey struct {
	kind       Modulation
	mer        float32
	g1, g2, g3 float32
	hard       bool
	ss         string
}

var cstlnCache = struct {
	sync.Mutex
	m map[cstlnKey]any
}{m: make(map[cstlnKey]any)}

// cachedCstlnLUT returns a shared, immutable table.
func cachedCstlnLUT[S SoftSymbol](kind Modulation, mer, g1, g2, g3 float32, hard bool) (*CstlnLUT[S], error) {
	var zero S
	var key = cstlnKey{kind, mer, g1, g2, g3, hard, fmt.Sprintf("%T", zero)}

	cstlnCache.Lock()
	defer cstlnCache.Unlock()

	if v, ok := cstlnCache.m[key]; ok {
		return v.(*CstlnLUT[S]), nil
	}
	var c, err = NewCstln(kind, g1, g2, g3)
	if err != nil {
		return nil, err
	}
	var l = NewCstlnLUT[S](c, mer)
	if hard {
		l.Harden()
	}
	cstlnCache.m[key] = l
	return l, nil
}
