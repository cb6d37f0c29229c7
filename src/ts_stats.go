package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Transport stream health counters.
 *
 * Description:	Per PID packet counts and continuity counter errors,
 *		packets flagged with the transport error indicator, and
 *		a CRC-32 check of every complete PAT section.  This is
 *		what tsdump prints and what tells whether the receiver
 *		is producing a usable stream.
 *
 * Reference:	ISO/IEC 13818-1 sections 2.4.3.2 and 2.4.4.3.
 *
 *---------------------------------------------------------------*/

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
)

const (
	pidPAT  = 0x0000
	pidNull = 0x1fff

	maxPSISection = 1024
)

type PIDStats struct {
	PID      uint16
	Packets  uint64
	CCErrors uint64
	TEI      uint64

	lastCC int8 // -1 before the first payload.
}

type TSStats struct {
	Packets  uint64
	SyncErr  uint64 // Bad sync byte.
	TEI      uint64
	CCErrors uint64
	PATs     uint64 // Complete PAT sections with a good CRC.
	PATErr   uint64 // ... with a bad CRC.
	Programs map[uint16]uint16

	pids    map[uint16]*PIDStats
	section []byte // PAT being reassembled.
}

func NewTSStats() *TSStats {
	return &TSStats{pids: make(map[uint16]*PIDStats), Programs: make(map[uint16]uint16)}
}

func (s *TSStats) pid(pid uint16) *PIDStats {
	var ps = s.pids[pid]
	if ps == nil {
		ps = &PIDStats{PID: pid, lastCC: -1}
		s.pids[pid] = ps
	}
	return ps
}

// PID returns the counters for one PID, zero if never seen.
func (s *TSStats) PID(pid uint16) PIDStats {
	if ps := s.pids[pid]; ps != nil {
		return *ps
	}
	return PIDStats{PID: pid, lastCC: -1}
}

// PIDs lists every PID seen, in ascending order.
func (s *TSStats) PIDs() []PIDStats {
	var out = make([]PIDStats, 0, len(s.pids))
	for _, ps := range s.pids {
		out = append(out, *ps)
	}
	slices.SortFunc(out, func(a, b PIDStats) int { return cmp.Compare(a.PID, b.PID) })
	return out
}

func (s *TSStats) WritePacket(p *TSPacket) error {
	s.Observe(p)
	return nil
}

func (s *TSStats) Close() error { return nil }

func (s *TSStats) Observe(p *TSPacket) {
	s.Packets++
	if p[0] != mpegSync {
		s.SyncErr++
		return
	}
	var pid = uint16(p[1]&0x1f)<<8 | uint16(p[2])
	var ps = s.pid(pid)
	ps.Packets++

	if p[1]&0x80 != 0 {
		// Nothing else in the header can be trusted.
		s.TEI++
		ps.TEI++
		return
	}

	var afc = p[3] >> 4 & 3
	var cc = int8(p[3] & 0x0f)
	var hasPayload = afc&1 != 0
	if pid != pidNull && hasPayload {
		var discontinuity = afc&2 != 0 && p[4] > 0 && p[5]&0x80 != 0
		if ps.lastCC >= 0 && !discontinuity && cc != (ps.lastCC+1)&0x0f && cc != ps.lastCC {
			// The same CC twice is a legal duplicate packet.
			s.CCErrors++
			ps.CCErrors++
		}
		ps.lastCC = cc
	}

	if pid == pidPAT && hasPayload {
		var start = 4
		if afc&2 != 0 {
			start += 1 + int(p[4])
		}
		if start < TSPacketSize {
			s.patPayload(p[1]&0x40 != 0, p[start:])
		}
	}
}

func (s *TSStats) patPayload(unitStart bool, payload []byte) {
	if unitStart {
		var ptr = int(payload[0])
		if ptr+1 > len(payload) {
			s.section = s.section[:0]
			return
		}
		if len(s.section) > 0 {
			s.section = append(s.section, payload[1:1+ptr]...)
			s.checkPAT()
		}
		s.section = append(s.section[:0], payload[1+ptr:]...)
	} else if len(s.section) > 0 {
		s.section = append(s.section, payload...)
	}
	s.checkPAT()
}

// checkPAT consumes the section if it is complete.
func (s *TSStats) checkPAT() {
	if len(s.section) < 3 || s.section[0] == 0xff {
		return
	}
	var length = int(s.section[1]&0x0f)<<8 | int(s.section[2])
	if length < 9 || length > maxPSISection {
		s.PATErr++
		s.section = s.section[:0]
		return
	}
	if len(s.section) < 3+length {
		return
	}
	var sec = s.section[:3+length]
	if sec[0] != 0x00 || crc32MPEG(sec) != 0 {
		s.PATErr++
	} else {
		s.PATs++
		clear(s.Programs)
		for i := 8; i+4 <= len(sec)-4; i += 4 {
			var program = uint16(sec[i])<<8 | uint16(sec[i+1])
			var pmt = uint16(sec[i+2]&0x1f)<<8 | uint16(sec[i+3])
			s.Programs[program] = pmt
		}
	}
	s.section = s.section[:0]
}

// Report prints a table of the counters.
func (s *TSStats) Report(w io.Writer) {
	fmt.Fprintf(w, "packets %d  sync errors %d  TEI %d  CC errors %d  PAT ok %d bad %d\n",
		s.Packets, s.SyncErr, s.TEI, s.CCErrors, s.PATs, s.PATErr)
	for _, program := range slices.Sorted(maps.Keys(s.Programs)) {
		fmt.Fprintf(w, "  program %5d  PMT PID 0x%04x\n", program, s.Programs[program])
	}
	fmt.Fprintf(w, "%6s %12s %8s %8s\n", "PID", "packets", "cc_err", "tei")
	for _, ps := range s.PIDs() {
		fmt.Fprintf(w, "0x%04x %12d %8d %8d\n", ps.PID, ps.Packets, ps.CCErrors, ps.TEI)
	}
}
