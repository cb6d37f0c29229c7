package dvbrx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testTSPackets(n int, seed uint64) []TSPacket {
	var data = randomBytes(n*TSPacketSize, seed)
	var out = make([]TSPacket, n)
	for i := range out {
		copy(out[i][:], data[i*TSPacketSize:])
		out[i][0] = mpegSync
		out[i][1] &= 0x7f
	}
	return out
}

func randomizePackets(t *testing.T, pkts []TSPacket) []TSPacket {
	var sch = newScheduler(nil)
	var in = newPipebuf[TSPacket](sch, "ts", len(pkts))
	var out = newPipebuf[TSPacket](sch, "rand", len(pkts))
	sch.add(newRandomizer(in, out, nil))
	copy(in.wr(), pkts)
	in.written(len(pkts))
	sch.drain()
	require.Equal(t, len(pkts), out.readable())
	return append([]TSPacket(nil), out.rd()...)
}

func TestRandomizerInvolution(t *testing.T) {
	var pkts = testTSPackets(24, 1)
	var rnd = randomizePackets(t, pkts)
	assert.Equal(t, byte(mpegSyncInv), rnd[0][0])
	assert.Equal(t, byte(mpegSync), rnd[1][0])
	assert.Equal(t, byte(mpegSyncInv), rnd[8][0])
	assert.NotEqual(t, pkts[3], rnd[3])

	var sch = newScheduler(nil)
	var in = newPipebuf[TSPacket](sch, "rand", len(rnd))
	var out = newPipebuf[TSPacket](sch, "ts", len(rnd))
	sch.add(newDerandomizer(in, out, nil))
	copy(in.wr(), rnd)
	in.written(len(rnd))
	sch.drain()
	assert.Equal(t, pkts, out.rd())
}

func TestDerandomizerResyncs(t *testing.T) {
	var pkts = testTSPackets(24, 2)
	var rnd = randomizePackets(t, pkts)[3:]

	var sch = newScheduler(nil)
	var in = newPipebuf[TSPacket](sch, "rand", len(rnd))
	var out = newPipebuf[TSPacket](sch, "ts", len(rnd))
	sch.add(newDerandomizer(in, out, nil))
	copy(in.wr(), rnd)
	in.written(len(rnd))
	sch.drain()

	var got = out.rd()
	require.Len(t, got, len(rnd))
	// Packets 3..7 are descrambled with the wrong part of the sequence.
	assert.NotEqual(t, pkts[4], got[1])
	// From packet 8 on everything lines up.
	assert.Equal(t, pkts[8:], got[5:])
}

func TestDerandomizerMarksBadSync(t *testing.T) {
	var pkts = testTSPackets(8, 3)
	var rnd = randomizePackets(t, pkts)
	rnd[2][0] = 0x12

	var sch = newScheduler(nil)
	var in = newPipebuf[TSPacket](sch, "rand", len(rnd))
	var out = newPipebuf[TSPacket](sch, "ts", len(rnd))
	sch.add(newDerandomizer(in, out, nil))
	copy(in.wr(), rnd)
	in.written(len(rnd))
	sch.drain()

	var got = out.rd()
	assert.Equal(t, byte(mpegSync), got[2][0])
	assert.NotZero(t, got[2][1]&0x80)
	assert.Zero(t, got[3][1]&0x80)
}

func TestInterleaverRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var n = rapid.IntRange(23, 40).Draw(rt, "packets")
		var pkts = make([]RSPacket, n)
		for i := range pkts {
			copy(pkts[i][:], randomBytes(RSPacketSize, uint64(i)+rapid.Uint64().Draw(rt, "seed")))
		}

		var sch = newScheduler(nil)
		var in = newPipebuf[RSPacket](sch, "rs", n)
		var mid = newPipebuf[byte](sch, "interleaved", n*RSPacketSize)
		var out = newPipebuf[RSPacket](sch, "deinterleaved", n)
		sch.add(newInterleaver(in, mid))
		sch.add(newDeinterleaver(mid, out))
		copy(in.wr(), pkts)
		in.written(n)
		sch.drain()

		var got = out.rd()
		if len(got) != n-2*(interleaveI-1) {
			rt.Fatalf("got %d packets from %d", len(got), n)
		}
		for m := range got {
			if got[m] != pkts[m+interleaveI-1] {
				rt.Fatalf("packet %d differs", m)
			}
		}
	})
}

type countingAdvancer struct{ n int }

func (c *countingAdvancer) nextSync() { c.n++ }

// shiftBits drops the first k bits of b and optionally inverts.
func shiftBits(b []byte, k int, invert bool) []byte {
	var bitsIn = unpackBits(b)[k:]
	var out = make([]byte, len(bitsIn)/8)
	for i := range out {
		for j := range 8 {
			out[i] = out[i]<<1 | bitsIn[i*8+j]
		}
		if invert {
			out[i] ^= 0xff
		}
	}
	return out
}

func rsStream(t *testing.T, pkts []TSPacket) []byte {
	var rnd = randomizePackets(t, pkts)
	var stream []byte
	for _, p := range rnd {
		var r = rsEncodePacket(p)
		stream = append(stream, r[:]...)
	}
	return stream
}

func TestMPEGSyncLocksOnShiftedInvertedStream(t *testing.T) {
	var stream = shiftBits(rsStream(t, testTSPackets(64, 4)), 3, true)

	var sch = newScheduler(nil)
	var in = newPipebuf[byte](sch, "bits", len(stream))
	var out = newPipebuf[byte](sch, "aligned", len(stream)+RSPacketSize)
	var d = &recordingDiag{}
	var m = newMPEGSync(in, out, nil, d, nil)
	sch.add(m)
	copy(in.wr(), stream)
	in.written(len(stream))
	sch.drain()

	require.True(t, m.synchronized)
	assert.Equal(t, []bool{false, true}, d.locks)
	var got = out.rd()
	require.GreaterOrEqual(t, len(got), 16*RSPacketSize)
	var inverted = 0
	for k := 0; k+RSPacketSize <= len(got); k += RSPacketSize {
		var s = got[k]
		assert.True(t, s == mpegSync || s == mpegSyncInv, "packet %d sync %#x", k/RSPacketSize, s)
		if s == mpegSyncInv {
			inverted++
		}
	}
	assert.InDelta(t, len(got)/RSPacketSize/8, inverted, 1)
}

func TestMPEGSyncAsksForNextSync(t *testing.T) {
	// One full bit phase cycle per pass; the third one gives up.
	var cycle = RSPacketSize * 8 * 8
	var noise = randomBytes(3*cycle+1, 5)
	var sch = newScheduler(nil)
	var in = newPipebuf[byte](sch, "bits", cycle+1)
	var out = newPipebuf[byte](sch, "aligned", RSPacketSize*9)
	var adv = &countingAdvancer{}
	var m = newMPEGSync(in, out, adv, nil, nil)
	sch.add(m)

	in.write(noise[0])
	for pass := range 3 {
		require.GreaterOrEqual(t, in.writable(), cycle)
		copy(in.wr(), noise[1+pass*cycle:1+(pass+1)*cycle])
		in.written(cycle)
		sch.drain()
		assert.False(t, m.synchronized)
		assert.Equal(t, IfThenElse(pass == 2, 1, 0), adv.n, "pass %d", pass)
	}
}

// Full DVB-S bit chain, transmitter then receiver, on noiseless labels.
func TestDVBSBitChain(t *testing.T) {
	for _, useViterbi := range []bool{false, true} {
		t.Run(IfThenElse(useViterbi, "viterbi", "deconvolver"), func(t *testing.T) {
			var pkts = testTSPackets(400, 6)
			var labels = dvbsTransmitLabels(t, pkts, FEC12)

			var sch = newScheduler(nil)
			var sym = newPipebuf[HardSS](sch, "symbols", len(labels)+1)
			var raw = newPipebuf[byte](sch, "bytes", len(labels))
			var aligned = newPipebuf[byte](sch, "aligned", len(labels))
			var rs = newPipebuf[RSPacket](sch, "rs", len(pkts))
			var ts = newPipebuf[TSPacket](sch, "ts", len(pkts))
			var out = newPipebuf[TSPacket](sch, "out", len(pkts))
			var diag = &recordingDiag{}

			var adv syncAdvancer
			if useViterbi {
				var v, err = newViterbiSync(mustCstln(t, QPSK), FEC12, sym, raw, nil)
				require.NoError(t, err)
				sch.add(v)
			} else {
				var d, err = newDeconvolSync(FEC12, sym, raw, nil)
				require.NoError(t, err)
				sch.add(d)
				adv = d
			}
			sch.add(newMPEGSync(raw, aligned, adv, diag, nil))
			sch.add(newDeinterleaver(aligned, rs))
			sch.add(newRSDecoder(rs, ts, diag, nil))
			sch.add(newDerandomizer(ts, out, nil))

			for i, l := range labels {
				sym.wr()[i] = HardSS(l)
			}
			sym.written(len(labels))
			sch.drain()

			var index = map[TSPacket]int{}
			for j, p := range pkts {
				index[p] = j
			}
			// Packets ahead of the first inverted sync are descrambled at
			// the wrong offset and match nothing.
			var got = out.rd()
			var first, start = -1, -1
			for i, p := range got {
				if j, ok := index[p]; ok {
					first, start = i, j
					break
				}
			}
			require.GreaterOrEqual(t, first, 0, "no packet from the source")
			assert.Less(t, first, 8)
			var n = 0
			for i := first; i < len(got) && start+i-first < len(pkts); i++ {
				assert.Equal(t, pkts[start+i-first], got[i], "packet %d", i)
				n++
			}
			assert.GreaterOrEqual(t, n, 20)
			for _, c := range diag.corr {
				assert.Zero(t, c)
			}
			assert.Equal(t, true, diag.locks[len(diag.locks)-1])
		})
	}
}

func dvbsTransmitLabels(t *testing.T, pkts []TSPacket, rate CodeRate) []uint8 {
	var sch = newScheduler(nil)
	var ts = newPipebuf[TSPacket](sch, "ts", len(pkts))
	var rnd = newPipebuf[TSPacket](sch, "rand", len(pkts))
	var rs = newPipebuf[RSPacket](sch, "rs", len(pkts))
	var il = newPipebuf[byte](sch, "interleaved", len(pkts)*RSPacketSize)
	var labels = newPipebuf[uint8](sch, "labels", len(pkts)*RSPacketSize*16)
	var enc, err = newConvolEncoder(rate, 2, il, labels)
	require.NoError(t, err)
	sch.add(newRandomizer(ts, rnd, nil))
	sch.add(newRSEncoder(rnd, rs))
	sch.add(newInterleaver(rs, il))
	sch.add(enc)
	copy(ts.wr(), pkts)
	ts.written(len(pkts))
	sch.drain()
	return append([]uint8(nil), labels.rd()...)
}
