package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Byte alignment and polarity recovery on the output of
 *		the inner decoder.
 *
 * Description:	After the randomizer, seven of every eight RS packets
 *		start with 0x47 and one with 0xB8.  SEARCHING looks at
 *		scanSyncs packets at each of the 8 bit phases and both
 *		polarities, and locks when wantSyncs start codes line up
 *		204 bytes apart.  SYNCHRONIZED shifts, XORs and forwards
 *		204 bytes at a time and drops back after lockTimeout
 *		packets without the expected start code.
 *
 *--------------------------------------------------------------*/

import (
	"github.com/charmbracelet/log"
)

type mpegSyncDetector struct {
	in     *pipebuf[byte]
	out    *pipebuf[byte]
	deconv syncAdvancer // May be nil.
	diag   Diagnostics
	logger *log.Logger

	scanSyncs    int
	wantSyncs    int
	lockTimeout  int
	fastlock     bool
	resyncPeriod int

	polarity      byte // XOR mask, 0 or 0xff.
	resyncPhase   int
	bitphase      int
	synchronized  bool
	nextSyncCount int
	phase8        int // Position in the 8-packet cycle.
	lockTimeleft  int
	locktime      uint64
	reported      bool
}

func newMPEGSync(in, out *pipebuf[byte], deconv syncAdvancer, diag Diagnostics, logger *log.Logger) *mpegSyncDetector {
	var m = &mpegSyncDetector{
		in:           in,
		out:          out,
		deconv:       deconv,
		diag:         orNoDiag(diag),
		logger:       orDefaultLogger(logger),
		scanSyncs:    8,
		wantSyncs:    4,
		lockTimeout:  4,
		resyncPeriod: 1,
	}
	out.reserve(RSPacketSize * (m.scanSyncs + 1))
	return m
}

func (m *mpegSyncDetector) run() {
	if !m.reported {
		m.diag.LockState("mpeg", false)
		m.reported = true
	}
	if m.synchronized {
		m.runDecoding()
	} else if m.fastlock {
		m.runSearchingFast()
	} else {
		m.runSearching()
	}
}

func (m *mpegSyncDetector) runSearching() {
	var nextSync = false
	var chunk = RSPacketSize * m.scanSyncs

	// One byte ahead for bit shifting; out is scratch space.
	for m.in.readable() >= chunk+1 && m.out.writable() >= chunk+1 {
		if m.searchSync() {
			return
		}
		m.in.read(chunk)
		m.bitphase++
		if m.bitphase == 8 {
			m.bitphase = 0
			nextSync = true
		}
	}

	if nextSync {
		m.nextSyncCount++
		if m.nextSyncCount >= 3 {
			// No lock after a few cycles: maybe the deconvolver is wrong.
			m.nextSyncCount = 0
			if m.deconv != nil {
				m.deconv.nextSync()
			}
		}
	}
}

func (m *mpegSyncDetector) runSearchingFast() {
	var chunk = RSPacketSize * m.scanSyncs
	for m.in.readable() >= chunk+1 && m.out.writable() >= chunk+1 {
		if m.resyncPhase == 0 {
			for m.bitphase = 0; m.bitphase <= 7; m.bitphase++ {
				if m.searchSync() {
					return
				}
			}
		}
		m.in.read(RSPacketSize)
		m.resyncPhase++
		if m.resyncPhase >= m.resyncPeriod {
			m.resyncPhase = 0
		}
	}
}

func (m *mpegSyncDetector) searchSync() bool {
	var chunk = RSPacketSize * m.scanSyncs
	var pin = m.in.rd()
	var tmp = m.out.wr()
	var w = uint16(pin[0])
	for i := 0; i < chunk; i++ {
		w = w<<8 | uint16(pin[i+1])
		tmp[i] = byte(w >> m.bitphase)
	}

	for i := range RSPacketSize {
		var nP, nN = 0, 0
		var phaseP, phaseN = -1, -1
		for j := range m.scanSyncs {
			switch tmp[i+j*RSPacketSize] {
			case mpegSync:
				nP++
				phaseN = (8 - j) & 7
			case mpegSyncInv:
				nN++
				phaseP = (8 - j) & 7
			}
		}

		var nsyncs int
		if nP > nN {
			m.polarity = 0
			nsyncs = nP
			m.phase8 = phaseP
		} else {
			m.polarity = 0xff
			nsyncs = nN
			m.phase8 = phaseN
		}

		if nsyncs >= m.wantSyncs && m.phase8 >= 0 {
			if i == 0 {
				// Skip a whole packet so the reader always moves.
				i = RSPacketSize
				m.phase8 = (m.phase8 + 1) & 7
			}
			m.in.read(i)
			m.synchronized = true
			m.lockTimeleft = m.lockTimeout
			m.locktime = 0
			m.logger.Debug("MPEG sync found", "bitphase", m.bitphase, "inverted", m.polarity != 0)
			m.diag.LockState("mpeg", true)
			return true
		}
	}
	return false
}

func (m *mpegSyncDetector) runDecoding() {
	for m.in.readable() >= RSPacketSize+1 && m.out.writable() >= RSPacketSize {
		var pin = m.in.rd()
		var pout = m.out.wr()
		var w = uint16(pin[0])
		for i := range RSPacketSize {
			w = w<<8 | uint16(pin[i+1])
			pout[i] = byte(w>>m.bitphase) ^ m.polarity
		}
		m.in.read(RSPacketSize)
		var syncbyte = pout[0]
		m.out.written(RSPacketSize)
		m.locktime++
		m.diag.LockTime("mpeg", m.locktime)

		var expected = byte(IfThenElse(m.phase8 != 0, mpegSync, mpegSyncInv))
		if syncbyte == expected {
			m.lockTimeleft = m.lockTimeout
		}
		m.phase8 = (m.phase8 + 1) & 7
		m.lockTimeleft--
		if m.lockTimeleft == 0 {
			m.logger.Debug("MPEG sync lost", "after_packets", m.locktime)
			m.synchronized = false
			m.nextSyncCount = 0
			m.diag.LockState("mpeg", false)
			return
		}
	}
}
