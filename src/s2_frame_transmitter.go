package dvbrx

import (
	"github.com/charmbracelet/log"
)

// s2FrameTransmitter turns a PLS pseudo-slot and its data slots into PL
// frame symbols: PLHEADER, slots with pilot blocks every 16 slots, PL
// scrambling after the header.
type s2FrameTransmitter struct {
	in     *pipebuf[PLSlot[HardSS]]
	out    *pipebuf[complex64]
	logger *log.Logger

	scrambling []uint8
	cstlns     [32]*Cstln
}

func newS2FrameTransmitter(in *pipebuf[PLSlot[HardSS]], out *pipebuf[complex64], logger *log.Logger) *s2FrameTransmitter {
	out.reserve(maxSymbolsPerFrame)
	var t = &s2FrameTransmitter{
		in:         in,
		out:        out,
		logger:     orDefaultLogger(logger),
		scrambling: plScrambling(0),
	}
	return t
}

func (t *s2FrameTransmitter) constellation(modcod uint8) *Cstln {
	if t.cstlns[modcod] == nil {
		var mc, err = checkModcod(modcod)
		Assert(err == nil)
		var g1, g2, g3 = mc.gammas()
		c, err := NewCstln(mc.kind, g1, g2, g3)
		Assert(err == nil)
		t.cstlns[modcod] = c
		t.logger.Debug("S2 transmitter constellation", "modcod", modcod, "kind", mc.kind, "rate", mc.rate)
	}
	return t.cstlns[modcod]
}

func (t *s2FrameTransmitter) run() {
	for t.in.readable() >= 1 {
		var pin = t.in.rd()
		// Upstream stages only ever produce whole frames.
		Assert(pin[0].IsPLS)
		var pls = pin[0].PLS
		var mc, err = checkModcod(pls.Modcod)
		Assert(err == nil)
		var nslots = mc.slots(pls.SF)
		if len(pin) < 1+nslots {
			return
		}
		var nsymbols = plhLength + frameSymbols(nslots, pls.Pilots)
		if t.out.writable() < nsymbols {
			return
		}
		var nw = t.runFrame(pls, pin[1:1+nslots], t.out.wr())
		Assert(nw == nsymbols)
		t.in.read(1 + nslots)
		t.out.written(nsymbols)
	}
}

func (t *s2FrameTransmitter) runFrame(pls PLS, slots []PLSlot[HardSS], pout []complex64) int {
	var plh = s2PLH()
	var n = copy(pout, plh.sof[:])
	n += copy(pout[n:], plh.plsSymbols[pls.index()][:])

	var csym = t.constellation(pls.Modcod).Symbols
	var scr = 0
	for s := range slots {
		if pls.Pilots && s > 0 && s%pilotPeriod == 0 {
			for range pilotLength {
				pout[n] = rotateQuarter(plh.pilot, t.scrambling[scr])
				n++
				scr++
			}
		}
		Assert(!slots[s].IsPLS)
		for _, sym := range slots[s].Symbols {
			pout[n] = rotateQuarter(csym[sym], t.scrambling[scr])
			n++
			scr++
		}
	}
	return n
}
