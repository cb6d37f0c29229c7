package dvbrx

import (
	"fmt"
	"math"
	"math/bits"
	"runtime"
)

// Because sometimes it's really convenient to have C's ternary ?:
func IfThenElse[T any](x bool, a T, b T) T { //nolint:ireturn
	if x {
		return a
	} else {
		return b
	}
}

// Can't be "assert" because of conflicts with stretchr/testify/assert, but otherwise, it's compatible enough
func Assert(t bool) {
	if !t {
		_, file, line, _ := runtime.Caller(1)
		panic(fmt.Sprintf("Assertion failed at %s:%d", file, line))
	}
}

func parity32(x uint32) uint8 {
	return uint8(bits.OnesCount32(x) & 1)
}

func parity64(x uint64) uint8 {
	return uint8(bits.OnesCount64(x) & 1)
}

func hammingWeight64(x uint64) int {
	return bits.OnesCount64(x)
}

// Signed modulo: result in [-m/2, m/2).  Used for phase differences in
// 1/65536 turn.
func fmodfs(x, m float32) float32 {
	return x - m*float32(math.Floor(float64((x+m/2)/m)))
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Bit i (MSB first) of a packed byte buffer.
func getBit(p []byte, i int) uint8 {
	return (p[i>>3] >> (7 - uint(i&7))) & 1
}

func flipBit(p []byte, i int) {
	p[i>>3] ^= 0x80 >> uint(i&7)
}
