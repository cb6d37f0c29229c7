package dvbrx

import (
	"math"
	"math/bits"
)

// Soft-symbol representations a demapper can produce.  Which one a stage
// uses is fixed when the pipeline is built.

// HardSS is the index of the nearest constellation point.
type HardSS uint8

// EuclSS carries squared distances to the four QPSK points, an additive
// metric suitable for Viterbi decoding.
type EuclSS struct {
	Dists2  [4]uint16
	Discr2  uint16 // Second nearest minus nearest.
	Nearest uint8
}

// LLRSS holds log(P(0)/P(1)) per bit, clipped to +-127.  Bit 0 is the LSB
// of the symbol index.  Negative means 1.
type LLRSS struct {
	Bits [8]int8
}

type SoftSymbol interface {
	HardSS | EuclSS | LLRSS
	nearestSymbol() uint8
	bitLLR(bit int) int8
}

func (s HardSS) nearestSymbol() uint8 { return uint8(s) }

func (s HardSS) bitLLR(bit int) int8 {
	return IfThenElse((s>>bit)&1 != 0, int8(-127), int8(127))
}

func (s EuclSS) nearestSymbol() uint8 { return s.Nearest }

func (s EuclSS) bitLLR(bit int) int8 {
	var m = int8(min(max(s.Discr2/4, 1), 127))
	return IfThenElse((s.Nearest>>bit)&1 != 0, -m, m)
}

func (s LLRSS) nearestSymbol() uint8 {
	var v uint8
	for b := range 8 {
		if llrHarden(s.Bits[b]) {
			v |= 1 << b
		}
	}
	return v
}

func (s LLRSS) bitLLR(bit int) int8 { return s.Bits[bit] }

func llrHarden(v int8) bool {
	return v < 0
}

func probToLLR(p float32) int8 {
	if p <= 0 {
		return 127
	}
	if p >= 1 {
		return -127
	}
	var v = 5 * math.Log(float64((1-p)/p))
	return int8(math.Max(-127, math.Min(127, v)))
}

func setSoftSymbol[S SoftSymbol](dst *S, fss *fullSS) {
	switch ss := any(dst).(type) {
	case *HardSS:
		*ss = HardSS(fss.nearest)
	case *EuclSS:
		for s := range ss.Dists2 {
			ss.Dists2[s] = fss.dists2[s]
		}
		var second uint16 = 65535
		for s := 0; s < fss.nsyms; s++ {
			if s != int(fss.nearest) && fss.dists2[s] < second {
				second = fss.dists2[s]
			}
		}
		ss.Discr2 = second - fss.dists2[fss.nearest]
		ss.Nearest = fss.nearest
	case *LLRSS:
		for b := range ss.Bits {
			ss.Bits[b] = probToLLR(fss.p[b])
		}
	}
}

func hardenSoftSymbol[S SoftSymbol](dst *S) {
	switch ss := any(dst).(type) {
	case *HardSS:
	case *EuclSS:
		for s := range ss.Dists2 {
			ss.Dists2[s] = uint16(bits.OnesCount8(uint8(s) ^ ss.Nearest))
		}
		ss.Discr2 = 1
	case *LLRSS:
		for b := range ss.Bits {
			ss.Bits[b] = IfThenElse(llrHarden(ss.Bits[b]), int8(-127), int8(127))
		}
	}
}
