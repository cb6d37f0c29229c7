package dvbrx

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCRCCheckValues(t *testing.T) {
	var check = []byte("123456789")

	assert.Equal(t, byte(0xbc), crc8(check))
	assert.Equal(t, byte(0xbc), crc8Bitwise(check))
	assert.Equal(t, uint32(0x0376e6e7), crc32MPEG(check))
}

func TestCRC8TableMatchesBitwise(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var data = rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		assert.Equal(t, crc8Bitwise(data), crc8(data))
	})
}

func TestCRC8TableMatchesBitwiseBulk(t *testing.T) {
	var rng = rand.New(rand.NewPCG(8, 8))
	var data = make([]byte, 256)
	for i := range 10000 {
		var msg = data[:rng.IntN(len(data)+1)]
		for j := range msg {
			msg[j] = byte(rng.UintN(256))
		}
		if !assert.Equal(t, crc8Bitwise(msg), crc8(msg), "input %d: %x", i, msg) {
			break
		}
	}
}

func TestCRC8AppendedIsZero(t *testing.T) {
	// With init 0 and no final xor, a message followed by its CRC has CRC 0.
	rapid.Check(t, func(t *rapid.T) {
		var data = rapid.SliceOfN(rapid.Byte(), 1, 200).Draw(t, "data")
		var withCRC = append(append([]byte{}, data...), crc8(data))
		assert.Equal(t, byte(0), crc8(withCRC))
	})
}

func TestCRC32MPEGDetectsSingleBitErrors(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var data = rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "data")
		var bit = rapid.IntRange(0, len(data)*8-1).Draw(t, "bit")
		var good = crc32MPEG(data)
		var bad = append([]byte{}, data...)
		flipBit(bad, bit)
		assert.NotEqual(t, good, crc32MPEG(bad))
	})
}
