package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	DVB-S punctured convolutional code, encoder and
 *		algebraic decoder.
 *
 * Description:	The mother code is rate 1/2, K=7, G1=171 G2=133 octal
 *		(EN 300 421 section 4.4.3).  X is the G1 output, Y the G2
 *		output.  Puncturing patterns are written MSB first: bit
 *		period-1 applies to the first input bit of a period.
 *
 *		The encoded stream is X,Y interleaved in time order with
 *		punctured bits removed.  QPSK maps each pair to I,Q.
 *
 *--------------------------------------------------------------*/

import (
	"fmt"
	"math/bits"

	"github.com/charmbracelet/log"
)

const (
	dvbsG1 = 0o171
	dvbsG2 = 0o133
)

type convCode struct {
	rate   CodeRate
	g      [2]uint32
	punct  [2]uint32
	period int // Input bits per puncturing period.
	weight int // Coded bits per puncturing period.
}

var convPunctures = map[CodeRate][2]uint32{
	FEC12: {0x1, 0x1},
	FEC23: {0xa, 0xf}, // Two periods so that QPSK symbols line up.
	FEC46: {0xa, 0xf},
	FEC34: {0x5, 0x6},
	FEC56: {0x15, 0x1a},
	FEC78: {0x45, 0x7a},
}

func newConvCode(rate CodeRate) (*convCode, error) {
	var p, ok = convPunctures[rate]
	if !ok {
		return nil, fmt.Errorf("convolutional code rate %v: %w", rate, ErrUnsupported)
	}
	var c = &convCode{rate: rate, g: [2]uint32{dvbsG1, dvbsG2}, punct: p}
	for _, m := range p {
		c.period = max(c.period, bits.Len32(m))
		c.weight += bits.OnesCount32(m)
	}
	return c, nil
}

// kept reports whether output j survives at position pos of the period.
func (c *convCode) kept(j, pos int) bool {
	return c.punct[j]>>(c.period-1-pos)&1 != 0
}

// step shifts one bit into the 7-bit register (newest at bit 6) and
// appends the surviving outputs to acc.
func (c *convCode) step(state *uint32, bit uint8, pos int, acc *uint64, nacc *int) {
	*state = *state>>1 | uint32(bit)<<6
	for j := range 2 {
		if c.kept(j, pos) {
			*acc = *acc<<1 | uint64(parity32(*state&c.g[j]))
			*nacc++
		}
	}
}

// convolve encodes s, MSB first, from an all-zero register.  Bit b of s is
// taken to sit at position period-1-(b mod period), so that bit 0 ends a
// period.  The newest output is the LSB of the result.
func (c *convCode) convolve(s uint64) uint64 {
	var state uint32
	var out uint64
	var n int
	for b := bits.Len64(s) - 1; b >= 0; b-- {
		c.step(&state, uint8(s>>b&1), c.period-1-b%c.period, &out, &n)
	}
	return out
}

/*-------------------------------------------------------------
 *
 * Name:	convolEncoder
 *
 * Purpose:	Transmitter side: bytes in, constellation labels out.
 *
 * Description:	Bits are taken MSB first.  bps coded bits make one
 *		label, first coded bit in the label's MSB.
 *
 *--------------------------------------------------------------*/

type convolEncoder struct {
	code *convCode
	bps  int
	in   *pipebuf[byte]
	out  *pipebuf[uint8]

	state uint32
	pos   int
	acc   uint64
	nacc  int
}

func newConvolEncoder(rate CodeRate, bps int, in *pipebuf[byte], out *pipebuf[uint8]) (*convolEncoder, error) {
	var c, err = newConvCode(rate)
	if err != nil {
		return nil, err
	}
	if c.weight%bps != 0 {
		return nil, fmt.Errorf("code rate %v with %d bits per symbol: %w", rate, bps, ErrUnsupported)
	}
	out.reserve(64)
	return &convolEncoder{code: c, bps: bps, in: in, out: out}, nil
}

func (e *convolEncoder) run() {
	// One byte yields at most 16 coded bits.
	for e.in.readable() >= 1 && e.out.writable() >= 16/e.bps+1 {
		var b = e.in.rd()[0]
		for i := 7; i >= 0; i-- {
			e.code.step(&e.state, b>>i&1, e.pos, &e.acc, &e.nacc)
			e.pos = (e.pos + 1) % e.code.period
		}
		for e.nacc >= e.bps {
			e.out.write(uint8(e.acc >> (e.nacc - e.bps) & (1<<e.bps - 1)))
			e.nacc -= e.bps
		}
		e.in.read(1)
	}
}

type syncAdvancer interface {
	nextSync()
}

/*-------------------------------------------------------------
 *
 * Name:	deconvolSync
 *
 * Purpose:	Hard-decision inverse of the convolutional code, with
 *		QPSK ambiguity resolution.
 *
 * Description:	For each bit position b of a puncturing period, a
 *		64-bit mask deconv[b] over the most recent coded bits
 *		whose parity is the input bit b.  Masks come from GF(2)
 *		elimination against the impulse responses and are the
 *		numerically smallest solution.  The next larger solution
 *		differs by a parity check of the code, so comparing the two
 *		counts channel errors; fastlock uses that to pick the
 *		right QPSK sync directly.
 *
 *		Four syncs cover 0 and 90 degree rotations, each plain or
 *		conjugated.  180 degrees inverts every bit and shows up as
 *		inverted polarity in mpegSync.
 *
 *--------------------------------------------------------------*/

const (
	deconvTraceback = 64
	deconvNSyncs    = 4
)

type deconvState struct {
	lut   [4]uint8 // Received label to transmitted I,Q bits.
	in    uint64
	nIn   int
	out   uint64
	nOut  int
	in2   uint64
	nIn2  int
	nOut2 int
}

type deconvolSync[S SoftSymbol] struct {
	code     *convCode
	in       *pipebuf[S]
	out      *pipebuf[byte]
	logger   *log.Logger
	fastlock bool

	deconv  []uint64
	deconv2 []uint64
	syncs   [deconvNSyncs]deconvState
	locked  int
	skip    int
}

func newDeconvolSync[S SoftSymbol](rate CodeRate, in *pipebuf[S], out *pipebuf[byte], logger *log.Logger) (*deconvolSync[S], error) {
	var c, err = newConvCode(rate)
	if err != nil {
		return nil, err
	}
	var d = &deconvolSync[S]{code: c, in: in, out: out, logger: orDefaultLogger(logger)}
	d.deconv, d.deconv2, err = inverseConvolution(c)
	if err != nil {
		return nil, err
	}
	d.initSyncs()
	out.reserve(RSPacketSize)
	d.logger.Debug("deconvolver ready", "rate", rate, "period", c.period, "weight", c.weight)
	return d, nil
}

// inverseConvolution solves parity(mask & response[i]) == (i == b) for
// each b, over the responses of the 64 most recent input bits.
func inverseConvolution(c *convCode) ([]uint64, []uint64, error) {
	var response [deconvTraceback]uint64
	for i := range response {
		response[i] = c.convolve(1 << i)
	}

	// Columns of the system, one per coded-bit position, as bit vectors
	// over the equations.  Lower positions are preferred as pivots so the
	// particular solution is the smallest one.
	type basisVec struct {
		v, combo uint64
	}
	var basis [64]*basisVec // Indexed by leading equation bit.
	var null []uint64
	for col := range 64 {
		var v uint64
		for i, r := range response {
			v |= (r >> col & 1) << i
		}
		var combo = uint64(1) << col
		for v != 0 {
			var lead = 63 - bits.LeadingZeros64(v)
			if basis[lead] == nil {
				basis[lead] = &basisVec{v, combo}
				break
			}
			v ^= basis[lead].v
			combo ^= basis[lead].combo
		}
		if v == 0 {
			null = append(null, combo)
		}
	}
	if len(null) == 0 {
		return nil, nil, fmt.Errorf("convolutional code %v has no parity check within %d bits: %w", c.rate, deconvTraceback, ErrBadTable)
	}
	// null[0] has the lowest leading bit: smallest non-zero check.
	var check = null[0]

	var deconv = make([]uint64, c.period)
	var deconv2 = make([]uint64, c.period)
	for b := range c.period {
		var e = uint64(1) << b
		var x uint64
		for e != 0 {
			var lead = 63 - bits.LeadingZeros64(e)
			if basis[lead] == nil {
				return nil, nil, fmt.Errorf("convolutional code %v is not invertible: %w", c.rate, ErrBadTable)
			}
			e ^= basis[lead].v
			x ^= basis[lead].combo
		}
		deconv[b] = x
		deconv2[b] = x ^ check
	}

	// Both must invert every response exactly.
	for b := range c.period {
		for i, r := range response {
			var want = IfThenElse(i == b, uint8(1), uint8(0))
			if parity64(r&deconv[b]) != want || parity64(r&deconv2[b]) != want {
				return nil, nil, fmt.Errorf("convolutional code %v: inverse check failed: %w", c.rate, ErrBadTable)
			}
		}
	}
	return deconv, deconv2, nil
}

func (d *deconvolSync[S]) initSyncs() {
	for k := range d.syncs {
		for r := range 4 {
			var i, q = uint8(r >> 1), uint8(r & 1)
			var ti, tq uint8
			switch k {
			case 0: // 0 degrees
				ti, tq = i, q
			case 1: // 90 degrees
				ti, tq = q, i^1
			case 2: // Conjugate
				ti, tq = i, q^1
			case 3: // Conjugate, 90 degrees
				ti, tq = q, i
			}
			d.syncs[k].lut[r] = ti<<1 | tq
		}
		d.syncs[k].nIn, d.syncs[k].nOut, d.syncs[k].nIn2, d.syncs[k].nOut2 = 0, 0, 0, 0
	}
}

// nextSync is called by mpegSync after repeated failures.  Once all syncs
// have been tried, shift by one symbol to try the other alignment.
func (d *deconvolSync[S]) nextSync() {
	Assert(!d.fastlock)
	d.locked++
	if d.locked == deconvNSyncs {
		d.locked = 0
		d.skip = 1
	}
}

func (d *deconvolSync[S]) readByte(s *deconvState, p []S, k *int) byte {
	for s.nOut < 8 {
		for s.nIn < deconvTraceback {
			s.in = s.in<<2 | uint64(s.lut[p[*k].nearestSymbol()&3])
			*k++
			s.nIn += 2
		}
		for b := d.code.period - 1; b >= 0; b-- {
			s.out = s.out<<1 | uint64(parity64(s.in&d.deconv[b]))
		}
		s.nOut += d.code.period
		s.nIn -= d.code.weight
	}
	var res = byte(s.out >> (s.nOut - 8))
	s.nOut -= 8
	return res
}

func (d *deconvolSync[S]) readErrors(s *deconvState, p []S, k *int) int {
	var res = 0
	for s.nOut2 < 8 {
		for s.nIn2 < deconvTraceback {
			s.in2 = s.in2<<2 | uint64(s.lut[p[*k].nearestSymbol()&3])
			*k++
			s.nIn2 += 2
		}
		for b := d.code.period - 1; b >= 0; b-- {
			if parity64(s.in2&d.deconv[b]) != parity64(s.in2&d.deconv2[b]) {
				res++
			}
		}
		s.nOut2 += d.code.period
		s.nIn2 -= d.code.weight
	}
	s.nOut2 -= 8
	return res
}

func (d *deconvolSync[S]) run() {
	if d.skip > 0 && d.in.readable() >= d.skip {
		d.in.read(d.skip)
		d.skip = 0
	}

	// 64 symbols of margin to fill the register.
	if d.in.readable() < 64 {
		return
	}
	var maxrd = (d.in.readable() - 64) / (d.code.weight / 2) * d.code.period / 8
	var n = min(maxrd, d.out.writable())
	// Fastlock needs enough bits to tell the syncs apart.
	if n < 32 {
		return
	}

	if d.fastlock {
		var best, bestErrors = 0, 1 << 30
		for k := range d.syncs {
			var pin = d.in.rd()
			var errs, pos = 0, 0
			for range n {
				errs += d.readErrors(&d.syncs[k], pin, &pos)
			}
			if errs < bestErrors {
				best, bestErrors = k, errs
			}
		}
		if best != d.locked {
			d.logger.Debug("deconvolver sync", "from", d.locked, "to", best)
			d.locked = best
		}
		// Bit error rate above 1/3: wrong symbol alignment.
		if bestErrors > n*8/3 {
			d.skip = 1
		}
	}

	var pin = d.in.rd()
	var pout = d.out.wr()
	var pos = 0
	for i := range n {
		pout[i] = d.readByte(&d.syncs[d.locked], pin, &pos)
	}
	d.in.read(pos)
	d.out.written(n)
}
