package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	DVB-S2 outer BCH code, EN 302 307 section 5.3.1.
 *
 * Description:	Binary, t-error correcting, shortened from length
 *		2^m - 1.  m is 16 for normal frames and 14 for short
 *		frames.  The generator is the product of the first t
 *		polynomials of table 6a or 6b; the first of them also
 *		defines the field.
 *
 *		Bits are unpacked, one per byte, first bit is the
 *		coefficient of the highest power.
 *
 *--------------------------------------------------------------*/

import (
	"fmt"
	"sync"
)

var bchPolysNormal = [12]uint64{
	0x1002d, 0x10173, 0x10fbd, 0x15a55, 0x11f2f, 0x1f7b5,
	0x1af65, 0x17367, 0x10ea1, 0x175a7, 0x13a2d, 0x11ae3,
}

var bchPolysShort = [12]uint64{
	0x402b, 0x4941, 0x4647, 0x5591, 0x6b55, 0x6389,
	0x6ce5, 0x4f21, 0x460f, 0x5a49, 0x5811, 0x65ef,
}

const bchMaxParity = 16 * 12

type BCHCode struct {
	K, N, T int
	gf      *galoisField
	gen     gf2Poly
	// Generator without its leading term, packed like the encoder register.
	feedback [bchMaxParity / 64]uint64
}

/*-------------------------------------------------------------
 *
 * Name:	NewBCHCode
 *
 * Purpose:	Build the code for one frame size and correction
 *		capacity.
 *
 * Inputs:	sf	- Short frame.
 *		t	- Correctable errors, 8, 10 or 12.
 *		k	- Message bits.
 *
 *--------------------------------------------------------------*/

func NewBCHCode(sf bool, t, k int) (*BCHCode, error) {
	var polys = IfThenElse(sf, bchPolysShort[:], bchPolysNormal[:])
	var m = IfThenElse(sf, 14, 16)
	if t < 1 || t > len(polys) {
		return nil, fmt.Errorf("BCH t=%d: %w", t, ErrUnsupported)
	}
	var gf, err = newGaloisField(m, uint32(polys[0]))
	if err != nil {
		return nil, err
	}
	var gen = newGF2Poly(1)
	for _, p := range polys[:t] {
		gen = gf2PolyMul(gen, newGF2Poly(p))
	}
	var np = gen.degree()
	Assert(np == m*t)
	if k <= 0 || k+np > gf.n {
		return nil, fmt.Errorf("BCH(%d,%d): %w", k+np, k, ErrBadTable)
	}

	var c = &BCHCode{K: k, N: k + np, T: t, gf: gf, gen: gen}
	for i := range np {
		if gen.coeff(i) != 0 {
			c.feedback[i/64] |= 1 << (i % 64)
		}
	}
	return c, nil
}

func (c *BCHCode) NParity() int { return c.N - c.K }

// Encode computes the N-K parity bits that follow msg.
func (c *BCHCode) Encode(msg []HardBit, parity []HardBit) {
	var np = c.NParity()
	Assert(len(msg) >= c.K && len(parity) >= np)
	var nw = (np + 63) / 64
	var reg [bchMaxParity / 64]uint64
	var top = uint((np - 1) % 64)
	for _, b := range msg[:c.K] {
		var fb = (b & 1) ^ HardBit(reg[nw-1]>>top&1)
		// Shift the whole register up by one.
		for w := nw - 1; w > 0; w-- {
			reg[w] = reg[w]<<1 | reg[w-1]>>63
		}
		reg[0] <<= 1
		if fb != 0 {
			for w := range nw {
				reg[w] ^= c.feedback[w]
			}
		}
		if top < 63 {
			reg[nw-1] &= 1<<(top+1) - 1
		}
	}
	for i := range np {
		var pos = np - 1 - i
		parity[i] = HardBit(reg[pos/64]>>(pos%64)) & 1
	}
}

// syndromes of the N-bit word at alpha^1 .. alpha^2t.  Returns false if
// all are zero.
func (c *BCHCode) syndromes(cw []HardBit, s []uint16) bool {
	var gf = c.gf
	var nonzero = false
	for j := 1; j <= 2*c.T; j += 2 {
		var aj = gf.exp(j)
		var v uint16
		for _, b := range cw[:c.N] {
			v = gf.mul(v, aj) ^ uint16(b&1)
		}
		s[j-1] = v
		nonzero = nonzero || v != 0
	}
	// Binary code: S(2j) = S(j)^2.
	for j := 2; j <= 2*c.T; j += 2 {
		s[j-1] = gf.mul(s[j/2-1], s[j/2-1])
	}
	return nonzero
}

// berlekampMassey returns the error locator, lambda[0] = 1.
func (c *BCHCode) berlekampMassey(s []uint16) []uint16 {
	var gf = c.gf
	var n2t = 2 * c.T
	var lambda = make([]uint16, n2t+1)
	var b = make([]uint16, n2t+1)
	var tmp = make([]uint16, n2t+1)
	lambda[0], b[0] = 1, 1
	var l = 0
	var m = 1
	var bd uint16 = 1
	for r := range n2t {
		var d = s[r]
		for i := 1; i <= l; i++ {
			d ^= gf.mul(lambda[i], s[r-i])
		}
		if d == 0 {
			m++
			continue
		}
		var coef = gf.div(d, bd)
		copy(tmp, lambda)
		for i := 0; i+m <= n2t; i++ {
			lambda[i+m] ^= gf.mul(coef, b[i])
		}
		if 2*l <= r {
			l = r + 1 - l
			copy(b, tmp)
			bd = d
			m = 1
		} else {
			m++
		}
	}
	return lambda[:l+1]
}

/*-------------------------------------------------------------
 *
 * Name:	Decode
 *
 * Purpose:	Correct an N-bit codeword in place.
 *
 * Returns:	Number of bits corrected, or -1 if the word is not
 *		within T errors of a codeword.  The word is unchanged
 *		on failure.
 *
 * Description:	Chien search tries every nonzero field element.  A
 *		root pointing beyond the shortened length, or fewer roots
 *		than the locator degree, means too many errors.
 *
 *--------------------------------------------------------------*/

func (c *BCHCode) Decode(cw []HardBit) int {
	Assert(len(cw) >= c.N)
	var gf = c.gf
	var s = make([]uint16, 2*c.T)
	if !c.syndromes(cw, s) {
		return 0
	}
	var lambda = c.berlekampMassey(s)
	var l = len(lambda) - 1
	if l == 0 || l > c.T {
		return -1
	}

	// terms[k] = lambda[k] * alpha^(-k*d) as d steps through 0..n-1.
	var terms = append([]uint16(nil), lambda...)
	var steps = make([]uint16, len(lambda))
	for k := range steps {
		steps[k] = gf.exp(-k)
	}
	var roots = make([]int, 0, l)
	for d := range gf.n {
		var sum uint16
		for _, t := range terms {
			sum ^= t
		}
		if sum == 0 {
			if d >= c.N || len(roots) == l {
				return -1
			}
			roots = append(roots, d)
		}
		for k := 1; k < len(terms); k++ {
			terms[k] = gf.mul(terms[k], steps[k])
		}
	}
	if len(roots) != l {
		return -1
	}
	for _, d := range roots {
		cw[c.N-1-d] ^= 1
	}
	return l
}

// BCHCodes caches one code per frame size and rate.
type BCHCodes struct {
	once  [2][fecCount]sync.Once
	codes [2][fecCount]*BCHCode
	errs  [2][fecCount]error
}

var builtinBCHCodes = &BCHCodes{}

func (s *BCHCodes) Code(sf bool, rate CodeRate) (*BCHCode, error) {
	var fi, err = lookupFEC(sf, rate)
	if err != nil {
		return nil, err
	}
	var i = b2i(sf)
	s.once[i][rate].Do(func() {
		s.codes[i][rate], s.errs[i][rate] = NewBCHCode(sf, fi.T, fi.Kbch)
		if s.errs[i][rate] == nil {
			Assert(s.codes[i][rate].N == fi.Kldpc)
		}
	})
	return s.codes[i][rate], s.errs[i][rate]
}
