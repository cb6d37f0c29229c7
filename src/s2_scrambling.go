package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	DVB-S2 physical layer scrambling (EN 302 307-1 section
 *		5.5.4) and baseband scrambling (section 5.2.2).
 *
 *--------------------------------------------------------------*/

import (
	"sync"
)

const plScramblingLength = 131072

// Gold sequence states for scrambling code n are x advanced n times.
func lfsrX(x uint32) uint32 {
	var bit = (x>>7 ^ x) & 1
	return (bit<<18 | x) >> 1
}

func lfsrY(y uint32) uint32 {
	var bit = (y>>10 ^ y>>7 ^ y>>5 ^ y) & 1
	return (bit<<18 | y) >> 1
}

// plScrambling returns Rn, the rotation of each symbol after the PLHEADER in
// quarter turns.
func plScrambling(codenum int) []uint8 {
	if codenum == 0 {
		return defaultPLScrambling()
	}
	return makePLScrambling(codenum)
}

var defaultPLScrambling = sync.OnceValue(func() []uint8 { return makePLScrambling(0) })

func makePLScrambling(codenum int) []uint8 {
	var rn = make([]uint8, plScramblingLength)
	var x, y uint32 = 0x00001, 0x3ffff
	for range codenum {
		x = lfsrX(x)
	}
	// The first half of the sequence gives the LSB of the angle, the
	// second half the MSB.
	for half := range 2 {
		for i := range rn {
			rn[i] |= uint8((x^y)&1) << half
			x = lfsrX(x)
			y = lfsrY(y)
		}
	}
	return rn
}

// rotateQuarter multiplies p by j^r.
func rotateQuarter(p complex64, r uint8) complex64 {
	switch r & 3 {
	case 1:
		return complex(-imag(p), real(p))
	case 2:
		return -p
	case 3:
		return complex(imag(p), -real(p))
	}
	return p
}

// prbs15 fills dst with the output of 1 + x^14 + x^15, MSB first, starting
// from register st.  Shared by the DVB-S randomizer and BB scrambling.
func prbs15(dst []byte, st uint16) uint16 {
	for i := range dst {
		var out byte
		for range 8 {
			var bit = byte(st>>13^st>>14) & 1
			out = out<<1 | bit
			st = st<<1 | uint16(bit)
		}
		dst[i] = out
	}
	return st
}

var bbScramblingPattern = sync.OnceValue(func() []byte {
	var p = make([]byte, kbchMax/8)
	prbs15(p, 0x00a9) // 100101010000000 loaded MSB first.
	return p
})

// bbScramble XORs the BBFRAME with the scrambling sequence, in place or not.
// Applying it twice restores the input.
func bbScramble(dst, src []byte) {
	var p = bbScramblingPattern()
	Assert(len(src) <= len(p) && len(dst) >= len(src))
	for i, b := range src {
		dst[i] = b ^ p[i]
	}
}
