package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Energy dispersal, EN 300 421 section 4.4.1.
 *
 * Description:	PRBS 1 + x^14 + x^15, loaded with 100101010000000 at
 *		the start of every group of 8 packets.  Sync bytes are not
 *		scrambled but the first one of each group is inverted.
 *
 *--------------------------------------------------------------*/

import (
	"sync"

	"github.com/charmbracelet/log"
)

const randomizerPeriod = 8 * TSPacketSize

var randomizerPattern = sync.OnceValue(func() []byte {
	var pattern = make([]byte, randomizerPeriod)
	// Register 100101010000000, figure 2 bit-reversed.  The sequence
	// keeps running over sync bytes but is not applied to them.
	prbs15(pattern[1:], 0o00251)
	for i := TSPacketSize; i < randomizerPeriod; i += TSPacketSize {
		pattern[i] = 0
	}
	pattern[0] = 0xff // Inverts the first sync byte.
	return pattern
})

type randomizer struct {
	in     *pipebuf[TSPacket]
	out    *pipebuf[TSPacket]
	logger *log.Logger
	pos    int
}

func newRandomizer(in, out *pipebuf[TSPacket], logger *log.Logger) *randomizer {
	return &randomizer{in: in, out: out, logger: orDefaultLogger(logger)}
}

func (r *randomizer) run() {
	var pattern = randomizerPattern()
	for r.in.readable() >= 1 && r.out.writable() >= 1 {
		var pin = &r.in.rd()[0]
		var pout = &r.out.wr()[0]
		if pin[0] != mpegSync {
			r.logger.Warn("randomizer: bad MPEG sync", "byte", pin[0])
		}
		for i := range pin {
			pout[i] = pin[i] ^ pattern[r.pos+i]
		}
		r.pos = (r.pos + TSPacketSize) % randomizerPeriod
		r.in.read(1)
		r.out.written(1)
	}
}

// derandomizer realigns on every inverted sync byte.  Packets with a bad
// sync byte are forwarded with the sync restored and the transport error
// indicator set.
type derandomizer struct {
	in     *pipebuf[TSPacket]
	out    *pipebuf[TSPacket]
	logger *log.Logger
	pos    int
}

func newDerandomizer(in, out *pipebuf[TSPacket], logger *log.Logger) *derandomizer {
	return &derandomizer{in: in, out: out, logger: orDefaultLogger(logger)}
}

func (d *derandomizer) run() {
	var pattern = randomizerPattern()
	for d.in.readable() >= 1 && d.out.writable() >= 1 {
		var pin = &d.in.rd()[0]
		var pout = &d.out.wr()[0]

		if pin[0] == mpegSyncInv || pin[0] == mpegSyncInv^mpegSyncCorrupted {
			if d.pos != 0 {
				d.logger.Debug("derandomizer: resynchronizing")
				d.pos = 0
			}
		}
		for i := range pin {
			pout[i] = pin[i] ^ pattern[d.pos+i]
		}
		d.pos = (d.pos + TSPacketSize) % randomizerPeriod

		if pout[0] != mpegSync {
			if pout[0] != mpegSync^mpegSyncCorrupted {
				d.logger.Debug("derandomizer: bad sync", "byte", pout[0])
			}
			pout[0] = mpegSync
			pout[1] |= 0x80
		}
		d.in.read(1)
		d.out.written(1)
	}
}
