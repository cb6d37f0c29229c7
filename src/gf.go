package dvbrx

// SPDX-FileCopyrightText: 2002 Phil Karn, KA9Q
// SPDX-FileCopyrightText: The Samoyed Authors

// Galois field GF(2^m) and GF(2) polynomial arithmetic shared by the
// Reed-Solomon (DVB-S) and BCH (DVB-S2) codecs.
//
// The log/antilog tables are generated the way Phil Karn's RS library
// does it: alpha[i] holds alpha**i in polynomial form, index[x] holds
// log_alpha(x) with index[0] = n standing in for log(0) ("A0").

import (
	"errors"
	"fmt"
	"math/bits"
)

var ErrBadTable = errors.New("malformed code table")
var ErrUnsupported = errors.New("unsupported combination")

type galoisField struct {
	m     int
	n     int // 2^m - 1, also the "A0" marker in index form
	poly  uint32
	alpha []uint16 // Doubled so that index sums below 2n need no reduction.
	index []uint16
}

/*-------------------------------------------------------------
 *
 * Name:	newGaloisField
 *
 * Purpose:	Build exp/log tables for GF(2^m).
 *
 * Inputs:	m	- Symbol size in bits, 2 thru 16.
 *		poly	- Field generator polynomial including the x^m term,
 *			  e.g. 0x11d for the DVB-S Reed-Solomon code.
 *
 * Returns:	Field, or ErrBadTable if poly is not primitive.
 *
 *--------------------------------------------------------------*/

func newGaloisField(m int, poly uint32) (*galoisField, error) {
	if m < 2 || m > 16 {
		return nil, fmt.Errorf("GF(2^%d): %w", m, ErrUnsupported)
	}
	if bits.Len32(poly) != m+1 {
		return nil, fmt.Errorf("GF(2^%d) polynomial 0x%x has wrong degree: %w", m, poly, ErrBadTable)
	}

	var gf = &galoisField{
		m:     m,
		n:     (1 << m) - 1,
		poly:  poly,
		alpha: make([]uint16, 2<<m),
		index: make([]uint16, 1<<m),
	}

	var sr uint32 = 1
	gf.index[0] = uint16(gf.n)
	for i := 0; i < gf.n; i++ {
		if i > 0 && sr == 1 {
			// Cycled early.
			return nil, fmt.Errorf("GF(2^%d) polynomial 0x%x is not primitive: %w", m, poly, ErrBadTable)
		}
		gf.index[sr] = uint16(i)
		gf.alpha[i] = uint16(sr)
		sr <<= 1
		if sr&(1<<m) != 0 {
			sr ^= poly
		}
	}
	if sr != 1 {
		return nil, fmt.Errorf("GF(2^%d) polynomial 0x%x is not primitive: %w", m, poly, ErrBadTable)
	}
	for i := gf.n; i < len(gf.alpha); i++ {
		gf.alpha[i] = gf.alpha[i-gf.n]
	}

	return gf, nil
}

func (gf *galoisField) modn(x int) int {
	x %= gf.n
	if x < 0 {
		x += gf.n
	}
	return x
}

func (gf *galoisField) exp(e int) uint16 {
	return gf.alpha[gf.modn(e)]
}

// log of a nonzero element.
func (gf *galoisField) log(x uint16) int {
	Assert(x != 0)
	return int(gf.index[x])
}

func (gf *galoisField) mul(a, b uint16) uint16 {
	if a == 0 || b == 0 {
		return 0
	}
	return gf.alpha[int(gf.index[a])+int(gf.index[b])]
}

func (gf *galoisField) div(a, b uint16) uint16 {
	Assert(b != 0)
	if a == 0 {
		return 0
	}
	return gf.alpha[int(gf.index[a])+gf.n-int(gf.index[b])]
}

func (gf *galoisField) inv(a uint16) uint16 {
	Assert(a != 0)
	return gf.alpha[gf.n-int(gf.index[a])]
}

func (gf *galoisField) pow(a uint16, e int) uint16 {
	if a == 0 {
		if e == 0 {
			return 1
		}
		return 0
	}
	return gf.alpha[gf.modn(int(gf.index[a])*e)]
}

// gf2Poly is a binary polynomial, coefficient of x^i in bit i%64 of word i/64.
type gf2Poly []uint64

func newGF2Poly(v uint64) gf2Poly {
	return gf2Poly{v}
}

func (p gf2Poly) degree() int {
	for w := len(p) - 1; w >= 0; w-- {
		if p[w] != 0 {
			return w*64 + bits.Len64(p[w]) - 1
		}
	}
	return -1
}

func (p gf2Poly) coeff(i int) uint8 {
	if i/64 >= len(p) {
		return 0
	}
	return uint8(p[i/64]>>(uint(i)%64)) & 1
}

func (p gf2Poly) flip(i int) {
	p[i/64] ^= 1 << (uint(i) % 64)
}

func gf2PolyMul(a, b gf2Poly) gf2Poly {
	var da, db = a.degree(), b.degree()
	if da < 0 || db < 0 {
		return gf2Poly{0}
	}
	var r = make(gf2Poly, (da+db)/64+1)
	for i := 0; i <= da; i++ {
		if a.coeff(i) == 0 {
			continue
		}
		for j := 0; j <= db; j++ {
			if b.coeff(j) != 0 {
				r.flip(i + j)
			}
		}
	}
	return r
}

// gf2PolyMod returns a mod g. a is not modified.
func gf2PolyMod(a, g gf2Poly) gf2Poly {
	var dg = g.degree()
	Assert(dg >= 0)
	var r = make(gf2Poly, len(a))
	copy(r, a)
	for i := r.degree(); i >= dg; i-- {
		if r.coeff(i) == 0 {
			continue
		}
		for j := 0; j <= dg; j++ {
			if g.coeff(j) != 0 {
				r.flip(i - dg + j)
			}
		}
	}
	var nw = dg/64 + 1
	if nw > len(r) {
		nw = len(r)
	}
	return r[:nw]
}
