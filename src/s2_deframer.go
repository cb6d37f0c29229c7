package dvbrx

import (
	"io"

	"github.com/charmbracelet/log"
)

/*-------------------------------------------------------------
 *
 * Purpose:	Recover transport stream packets from DVB-S2 baseband
 *		frames.
 *
 * Description:	A frame with a bad BBHEADER CRC, an oversized or
 *		fractional-byte data field loses sync.  The next good TS
 *		frame resynchronizes at SYNCD.  While in sync, SYNCD must
 *		agree with the bytes carried over from the previous frame,
 *		otherwise a frame went missing.
 *
 *		Packets with a CRC mismatch are forwarded with TEI set.
 *
 *		Generic stream frames are counted and written to gse if
 *		one is configured.
 *
 *--------------------------------------------------------------*/

const maxTSPerBBFrame = kbchMax/8/TSPacketSize + 1

// bbHeader is the decoded BBHEADER.
type bbHeader struct {
	streamType uint8 // 3 TS, 1 generic continuous, 0 generic packetized.
	sis        bool
	ccm        bool
	issyi      bool
	npd        bool
	rolloff    uint8
	isi        uint8
	upl        int
	dfl        int
	sync       uint8
	syncd      int
	crcOK      bool
}

func parseBBHeader(b []byte) bbHeader {
	return bbHeader{
		streamType: b[0] >> 6,
		sis:        b[0]&matypeSIS != 0,
		ccm:        b[0]&matypeCCM != 0,
		issyi:      b[0]&0x08 != 0,
		npd:        b[0]&0x04 != 0,
		rolloff:    b[0] & 3,
		isi:        b[1],
		upl:        int(b[2])<<8 | int(b[3]),
		dfl:        int(b[4])<<8 | int(b[5]),
		sync:       b[6],
		syncd:      int(b[7])<<8 | int(b[8]),
		crcOK:      crc8(b[:9]) == b[9],
	}
}

type s2Deframer struct {
	in     *pipebuf[BBFrame]
	out    *pipebuf[TSPacket]
	gse    io.Writer // May be nil.
	diag   Diagnostics
	logger *log.Logger

	// -1 not synced, 0..187 bytes of an incomplete packet, 188 waiting
	// for its CRC.
	nleftover int
	leftover  [TSPacketSize]byte

	firstRun bool
	locked   bool
	locktime uint64

	nframes  uint64
	nbad     uint64
	ngse     uint64
	nerrors  uint64
	nresyncs uint64
}

func newS2Deframer(in *pipebuf[BBFrame], out *pipebuf[TSPacket], gse io.Writer, diag Diagnostics, logger *log.Logger) *s2Deframer {
	out.reserve(maxTSPerBBFrame)
	return &s2Deframer{
		in:        in,
		out:       out,
		gse:       gse,
		diag:      orNoDiag(diag),
		logger:    orDefaultLogger(logger),
		nleftover: -1,
		firstRun:  true,
	}
}

func (d *s2Deframer) run() {
	if d.firstRun {
		d.diag.LockState("bbframe", false)
		d.firstRun = false
	}
	for d.in.readable() >= 1 && d.out.writable() >= maxTSPerBBFrame {
		d.runFrame(&d.in.rd()[0])
		d.in.read(1)
	}
}

func (d *s2Deframer) runFrame(fr *BBFrame) {
	d.nframes++
	var h = parseBBHeader(fr.Bytes[:bbHeaderSize])
	d.logger.Debug("BBHEADER", "crc", h.crcOK, "type", h.streamType, "sis", h.sis, "ccm", h.ccm,
		"ro", h.rolloff, "upl", h.upl, "dfl", h.dfl, "sync", h.sync, "syncd", h.syncd)

	if !h.crcOK || h.dfl > kbchMax-bbHeaderSize*8 {
		d.nbad++
		d.logger.Debug("S2 deframer: bad BBHEADER", "bad", d.nbad)
		d.unlock()
		return
	}
	if h.dfl%8 != 0 || h.syncd%8 != 0 {
		d.logger.Debug("S2 deframer: data field not byte aligned", "dfl", h.dfl, "syncd", h.syncd)
		d.unlock()
		return
	}

	var data = fr.Bytes[bbHeaderSize : bbHeaderSize+h.dfl/8]
	switch {
	case h.streamType == 3 && h.upl == bbUPLTS && h.sync == mpegSync && h.syncd <= h.dfl:
		d.handleTS(data, h)
	case h.streamType == 1 || h.streamType == 0:
		d.ngse++
		if d.gse != nil {
			if _, err := d.gse.Write(data); err != nil {
				d.logger.Error("S2 deframer: generic stream", "err", err)
				d.gse = nil
			}
		}
	default:
		d.logger.Debug("S2 deframer: unrecognized BBFRAME", "type", h.streamType, "upl", h.upl, "sync", h.sync)
	}
}

func (d *s2Deframer) handleTS(data []byte, h bbHeader) {
	var pos int
	if d.nleftover < 0 {
		// Skip the tail of a packet that started before we got here.
		pos = h.syncd / 8
		d.nleftover = 0
		d.nresyncs++
		d.logger.Debug("S2 deframer: TS starts", "pos", pos)
	} else {
		if h.syncd/8 != TSPacketSize-d.nleftover {
			d.logger.Debug("S2 deframer: lost a BBFRAME", "syncd", h.syncd, "leftover", d.nleftover)
			d.unlock()
			return
		}
		pos = 0
	}

	// Each packet needs its own bytes and the CRC in the next slot.
	for pos+(TSPacketSize-d.nleftover)+1 <= len(data) {
		var p = &d.out.wr()[0]
		copy(p[:], d.leftover[:d.nleftover])
		var n = copy(p[d.nleftover:], data[pos:pos+TSPacketSize-d.nleftover])
		pos += n
		p[0] = h.sync
		if data[pos] == crc8(p[1:]) {
			d.goodPacket()
		} else {
			p[1] |= 0x80
			d.nerrors++
		}
		d.out.written(1)
		d.nleftover = 0
	}

	var remain = len(data) - pos
	Assert(d.nleftover+remain <= TSPacketSize)
	copy(d.leftover[d.nleftover:], data[pos:])
	d.nleftover += remain
}

func (d *s2Deframer) unlock() {
	d.nleftover = -1
	d.setLocked(false)
	d.locktime = 0
}

func (d *s2Deframer) goodPacket() {
	d.setLocked(true)
	d.locktime++
	d.diag.LockTime("bbframe", d.locktime)
}

func (d *s2Deframer) setLocked(locked bool) {
	if locked != d.locked {
		d.locked = locked
		d.diag.LockState("bbframe", locked)
	}
}
