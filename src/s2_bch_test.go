package dvbrx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func bchCodeword(c *BCHCode, msg []HardBit) []HardBit {
	var cw = make([]HardBit, c.N)
	copy(cw, msg)
	c.Encode(cw[:c.K], cw[c.K:])
	return cw
}

func TestBCHGeneratorRoots(t *testing.T) {
	for _, tc := range []struct {
		sf   bool
		rate CodeRate
	}{
		{false, FEC12},
		{false, FEC23},
		{true, FEC12},
	} {
		t.Run(fmt.Sprintf("sf=%v/%v", tc.sf, tc.rate), func(t *testing.T) {
			var c, err = builtinBCHCodes.Code(tc.sf, tc.rate)
			require.NoError(t, err)
			var gf = c.gf
			for j := 1; j <= 2*c.T; j++ {
				var x = gf.exp(j)
				var v uint16
				for i := c.gen.degree(); i >= 0; i-- {
					v = gf.mul(v, x) ^ uint16(c.gen.coeff(i))
				}
				assert.Equal(t, uint16(0), v, "alpha^%d", j)
			}
		})
	}
}

func TestBCHShape(t *testing.T) {
	for _, tc := range []struct {
		sf      bool
		rate    CodeRate
		maxErrs int
		nparity int
	}{
		{false, FEC12, 12, 192},
		{false, FEC23, 10, 160},
		{false, FEC56, 10, 160},
		{false, FEC89, 8, 128},
		{true, FEC12, 12, 168},
		{true, FEC89, 12, 168},
	} {
		var c, err = builtinBCHCodes.Code(tc.sf, tc.rate)
		require.NoError(t, err)
		assert.Equal(t, tc.maxErrs, c.T)
		assert.Equal(t, tc.nparity, c.NParity(), "sf=%v %v", tc.sf, tc.rate)
	}
}

func TestBCHCleanCodeword(t *testing.T) {
	var c, err = builtinBCHCodes.Code(true, FEC12)
	require.NoError(t, err)
	var msg = make([]HardBit, c.K)
	for i := range msg {
		msg[i] = HardBit(i*7/3) & 1
	}
	var cw = bchCodeword(c, msg)
	assert.Equal(t, msg, cw[:c.K])
	var s = make([]uint16, 2*c.T)
	assert.False(t, c.syndromes(cw, s))
	assert.Equal(t, 0, c.Decode(cw))
}

func TestBCHCorrectsUpToT(t *testing.T) {
	for _, sf := range []bool{true, false} {
		t.Run(fmt.Sprintf("sf=%v", sf), func(t *testing.T) {
			var c, err = builtinBCHCodes.Code(sf, FEC34)
			require.NoError(t, err)
			rapid.Check(t, func(t *rapid.T) {
				var seed = rapid.Uint64().Draw(t, "seed")
				var data = randomBytes(c.K/8+1, seed)
				var msg = make([]HardBit, c.K)
				for i := range msg {
					msg[i] = HardBit(getBit(data, i))
				}
				var clean = bchCodeword(c, msg)

				var nerr = rapid.IntRange(0, c.T).Draw(t, "nerr")
				var pos = rapid.SliceOfNDistinct(rapid.IntRange(0, c.N-1), nerr, nerr, rapid.ID[int]).Draw(t, "pos")
				var cw = append([]HardBit(nil), clean...)
				for _, p := range pos {
					cw[p] ^= 1
				}
				require.Equal(t, nerr, c.Decode(cw))
				require.Equal(t, clean, cw)
			})
		})
	}
}

func TestBCHTooManyErrors(t *testing.T) {
	var c, err = builtinBCHCodes.Code(false, FEC12)
	require.NoError(t, err)
	var clean = bchCodeword(c, make([]HardBit, c.K))
	var cw = append([]HardBit(nil), clean...)
	for i := range c.T + 1 {
		cw[100+i*997] ^= 1
	}
	var before = append([]HardBit(nil), cw...)
	var n = c.Decode(cw)
	if n < 0 {
		assert.Equal(t, before, cw)
	} else {
		// Miscorrection lands on some other codeword, never back on this one.
		assert.NotEqual(t, clean, cw)
		var s = make([]uint16, 2*c.T)
		assert.False(t, c.syndromes(cw, s))
	}
}

func TestNewBCHCodeErrors(t *testing.T) {
	_, err := NewBCHCode(false, 13, 1000)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = NewBCHCode(true, 12, 20000)
	assert.ErrorIs(t, err, ErrBadTable)
	_, err = NewBCHCode(true, 12, 0)
	assert.ErrorIs(t, err, ErrBadTable)
}
