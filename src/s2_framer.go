package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Pack transport stream packets into DVB-S2 baseband
 *		frames, EN 302 307-1 sections 5.1.4 to 5.1.6.
 *
 * Description:	Single input stream, no ISSY or null packet deletion.
 *		The data field is filled completely, so packets straddle
 *		frames.  Each sync byte is replaced by the CRC-8 of the
 *		previous packet, which is why one packet's CRC travels
 *		in the next packet's slot.
 *
 *--------------------------------------------------------------*/

import (
	"fmt"

	"github.com/charmbracelet/log"
)

const (
	bbHeaderSize = 10
	bbUPLTS      = TSPacketSize * 8
)

// MATYPE-1 fields.
const (
	matypeTS  = 0xc0
	matypeGS  = 0x40
	matypeSIS = 0x20
	matypeCCM = 0x10
)

// rolloffCode is the MATYPE-1 RO field.
func rolloffCode(rolloff float64) (uint8, error) {
	switch rolloff {
	case 0.35:
		return 0, nil
	case 0.25:
		return 1, nil
	case 0.20:
		return 2, nil
	}
	return 0, fmt.Errorf("roll-off %v: %w", rolloff, ErrUnsupported)
}

type s2Framer struct {
	in     *pipebuf[TSPacket]
	out    *pipebuf[BBFrame]
	logger *log.Logger

	plsSeq   []PLS
	plsIndex int
	rolloff  uint8

	nremain int
	rembuf  [TSPacketSize]byte
	remcrc  byte
}

/*-------------------------------------------------------------
 *
 * Name:	newS2Framer
 *
 * Inputs:	plsSeq	- Frame types, used in turn.  One entry is CCM.
 *		rolloff	- 0.35, 0.25 or 0.20.
 *
 *--------------------------------------------------------------*/

func newS2Framer(in *pipebuf[TSPacket], out *pipebuf[BBFrame], plsSeq []PLS, rolloff float64, logger *log.Logger) (*s2Framer, error) {
	if len(plsSeq) == 0 {
		return nil, fmt.Errorf("S2 framer: no PLS: %w", ErrUnsupported)
	}
	for _, pls := range plsSeq {
		if pls.IsDummy() {
			return nil, fmt.Errorf("S2 framer: dummy PLS: %w", ErrUnsupported)
		}
		if _, _, err := fecFor(pls); err != nil {
			return nil, fmt.Errorf("S2 framer: %w", err)
		}
	}
	var ro, err = rolloffCode(rolloff)
	if err != nil {
		return nil, err
	}
	return &s2Framer{
		in:      in,
		out:     out,
		logger:  orDefaultLogger(logger),
		plsSeq:  append([]PLS(nil), plsSeq...),
		rolloff: ro,
	}, nil
}

func (f *s2Framer) run() {
	for f.out.writable() >= 1 {
		var pls = f.plsSeq[f.plsIndex]
		var _, fi, _ = fecFor(pls)
		var framebytes = fi.Kbch / 8
		if bbHeaderSize+f.nremain+TSPacketSize*f.in.readable() < framebytes {
			return
		}

		var fr = &f.out.wr()[0]
		fr.PLS = pls
		var buf = fr.Bytes[:framebytes]
		var matype1 = matypeTS | matypeSIS | f.rolloff
		if len(f.plsSeq) == 1 {
			matype1 |= matypeCCM
		}
		var dfl = (framebytes - bbHeaderSize) * 8
		var syncd = f.nremain * 8
		buf[0] = matype1
		buf[1] = 0
		buf[2], buf[3] = byte(bbUPLTS>>8), byte(bbUPLTS&0xff)
		buf[4], buf[5] = byte(dfl>>8), byte(dfl)
		buf[6] = mpegSync
		buf[7], buf[8] = byte(syncd>>8), byte(syncd)
		buf[9] = crc8(buf[:9])

		var pos = bbHeaderSize
		pos += copy(buf[pos:], f.rembuf[:f.nremain])
		for pos < framebytes {
			var p = &f.in.rd()[0]
			if p[0] != mpegSync {
				f.logger.Warn("S2 framer: bad sync byte", "sync", p[0])
			}
			buf[pos] = f.remcrc
			pos++
			f.remcrc = crc8(p[1:])
			var n = copy(buf[pos:], p[1:])
			pos += n
			f.nremain = copy(f.rembuf[:], p[1+n:])
			f.in.read(1)
		}
		Assert(pos == framebytes)

		f.out.written(1)
		f.plsIndex = (f.plsIndex + 1) % len(f.plsSeq)
	}
}
