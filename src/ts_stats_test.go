package dvbrx

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tsPacket(pid uint16, cc uint8, unitStart bool, payload []byte) TSPacket {
	var p TSPacket
	for i := range p {
		p[i] = 0xff
	}
	p[0] = mpegSync
	p[1] = byte(pid >> 8 & 0x1f)
	if unitStart {
		p[1] |= 0x40
	}
	p[2] = byte(pid)
	p[3] = 0x10 | cc&0x0f
	copy(p[4:], payload)
	return p
}

// patSection builds a PAT section for program -> PMT PID pairs.
func patSection(programs [][2]uint16) []byte {
	var sec = []byte{0x00, 0, 0, 0x00, 0x01, 0xc1, 0x00, 0x00}
	for _, pr := range programs {
		sec = binary.BigEndian.AppendUint16(sec, pr[0])
		sec = binary.BigEndian.AppendUint16(sec, 0xe000|pr[1])
	}
	var length = len(sec) - 3 + 4
	sec[1] = 0xb0 | byte(length>>8)
	sec[2] = byte(length)
	return binary.BigEndian.AppendUint32(sec, crc32MPEG(sec))
}

func patPacket(cc uint8, programs [][2]uint16) TSPacket {
	return tsPacket(pidPAT, cc, true, append([]byte{0}, patSection(programs)...))
}

func TestTSStatsContinuity(t *testing.T) {
	var s = NewTSStats()
	for _, cc := range []uint8{0, 1, 2, 2, 3, 5, 6, 15, 0} {
		var p = tsPacket(0x100, cc, false, nil)
		s.Observe(&p)
	}
	var ps = s.PID(0x100)
	assert.EqualValues(t, 9, ps.Packets)
	// 3 -> 5 and 6 -> 15 are gaps, the repeated 2 is a duplicate.
	assert.EqualValues(t, 2, ps.CCErrors)
	assert.EqualValues(t, 2, s.CCErrors)

	// Null packets carry no meaningful CC.
	for _, cc := range []uint8{7, 3, 9} {
		var p = tsPacket(pidNull, cc, false, nil)
		s.Observe(&p)
	}
	assert.EqualValues(t, 0, s.PID(pidNull).CCErrors)
	assert.EqualValues(t, 3, s.PID(pidNull).Packets)
}

func TestTSStatsDiscontinuityFlag(t *testing.T) {
	var s = NewTSStats()
	var a = tsPacket(0x44, 4, false, nil)
	s.Observe(&a)
	var b = tsPacket(0x44, 9, false, []byte{1, 0x80})
	b[3] = 0x30 | 9 // Adaptation field and payload.
	s.Observe(&b)
	assert.EqualValues(t, 0, s.CCErrors)
}

func TestTSStatsTEIAndSync(t *testing.T) {
	var s = NewTSStats()
	var p = tsPacket(0x100, 0, false, nil)
	p[1] |= 0x80
	s.Observe(&p)
	var q = tsPacket(0x100, 9, false, nil)
	q[0] = mpegSyncCorrupted
	s.Observe(&q)
	var r = tsPacket(0x100, 3, false, nil)
	s.Observe(&r)

	assert.EqualValues(t, 3, s.Packets)
	assert.EqualValues(t, 1, s.TEI)
	assert.EqualValues(t, 1, s.SyncErr)
	assert.EqualValues(t, 1, s.PID(0x100).TEI)
	// The flagged packet does not update the CC.
	assert.EqualValues(t, 0, s.CCErrors)
}

func TestTSStatsPAT(t *testing.T) {
	var s = NewTSStats()
	var p = patPacket(0, [][2]uint16{{1, 0x100}, {2, 0x200}})
	require.NoError(t, s.WritePacket(&p))
	assert.EqualValues(t, 1, s.PATs)
	assert.EqualValues(t, 0, s.PATErr)
	assert.Equal(t, map[uint16]uint16{1: 0x100, 2: 0x200}, s.Programs)

	var bad = patPacket(1, [][2]uint16{{1, 0x100}})
	bad[12] ^= 0x01
	s.Observe(&bad)
	assert.EqualValues(t, 1, s.PATs)
	assert.EqualValues(t, 1, s.PATErr)
}

func TestTSStatsPATAcrossPackets(t *testing.T) {
	var programs [][2]uint16
	for i := range 60 {
		programs = append(programs, [2]uint16{uint16(i + 1), uint16(0x100 + i)})
	}
	// 8 + 240 + 4 bytes of section do not fit in one packet.
	var sec = patSection(programs)

	var first = append([]byte{0}, sec[:183]...)
	var p1 = tsPacket(pidPAT, 0, true, first)
	var p2 = tsPacket(pidPAT, 1, false, sec[183:])
	var s = NewTSStats()
	s.Observe(&p1)
	assert.EqualValues(t, 0, s.PATs)
	s.Observe(&p2)
	assert.EqualValues(t, 1, s.PATs)
	assert.Len(t, s.Programs, 60)
	assert.Equal(t, uint16(0x100+59), s.Programs[60])
}

func TestTSStatsReport(t *testing.T) {
	var s = NewTSStats()
	var p = patPacket(0, [][2]uint16{{1, 0x100}})
	s.Observe(&p)
	var q = tsPacket(0x100, 0, false, nil)
	s.Observe(&q)
	var b bytes.Buffer
	s.Report(&b)
	assert.Contains(t, b.String(), "PAT ok 1 bad 0")
	assert.Contains(t, b.String(), "PMT PID 0x0100")
	assert.Contains(t, b.String(), "0x0000")
	assert.Contains(t, b.String(), "0x0100")
}
