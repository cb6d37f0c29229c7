package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	DVB-S2 physical layer signalling: start of frame, PLS
 *		codes, pilots and the MODCOD and FEC parameter tables.
 *
 * References:	EN 302 307-1 sections 5.5.2 (PL signalling), 5.3 (FEC
 *		parameters, tables 5a and 5b) and 6 (error performance).
 *
 *--------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"sync"
)

const (
	sofValue      = 0x18d2e82
	sofLength     = 26
	plscodeLength = 64
	plhLength     = sofLength + plscodeLength
	plsCodeCount  = 128
	plsScrambling = 0x719d83c953422dfa

	plSlotLength = 90
	pilotLength  = 36
	pilotPeriod  = 16 // Slots between pilot blocks.

	// Frames with more header errors than this are not trusted.
	s2MaxErrSOF     = 13
	s2MaxErrPLSCODE = 8

	minSlotsPerFrame   = 144
	maxSlotsPerFrame   = 360
	maxSymbolsPerFrame = (1+maxSlotsPerFrame)*plSlotLength + (maxSlotsPerFrame-1)/pilotPeriod*pilotLength

	normalFrameBits = 64800
	shortFrameBits  = 16200
	kbchMax         = 58192
)

// PLS is the decoded PLSCODE: MODCOD, short frame flag and pilots flag.
type PLS struct {
	Modcod uint8
	SF     bool
	Pilots bool
}

func (p PLS) FrameBits() int {
	return IfThenElse(p.SF, shortFrameBits, normalFrameBits)
}

func (p PLS) IsDummy() bool { return p.Modcod == 0 }

// index is the 7-bit PLSCODE input, MODCOD|SF|PILOTS.
func (p PLS) index() int {
	return int(p.Modcod)<<2 | IfThenElse(p.SF, 2, 0) | IfThenElse(p.Pilots, 1, 0)
}

func plsFromIndex(i int) PLS {
	return PLS{Modcod: uint8(i >> 2), SF: i&2 != 0, Pilots: i&1 != 0}
}

func (p PLS) String() string {
	return fmt.Sprintf("modcod=%d sf=%v pilots=%v", p.Modcod, p.SF, p.Pilots)
}

// PLSlot is either a PLS pseudo-slot announcing a frame or one slot of
// 90 data symbols.
type PLSlot[S SoftSymbol] struct {
	IsPLS   bool
	PLS     PLS
	Symbols [plSlotLength]S
}

type modcodInfo struct {
	nslotsNF int // 90-symbol slots in a normal frame, 0 if unsupported.
	kind     Modulation
	rate     CodeRate
	esn0NF   float32 // Ideal Es/N0 for normal frames, dB.
	g1, g2   float32 // APSK ring ratios.
}

var modcodInfos = [32]modcodInfo{
	1:  {360, QPSK, FEC14, -2.35, 0, 0},
	2:  {360, QPSK, FEC13, -1.24, 0, 0},
	3:  {360, QPSK, FEC25, -0.30, 0, 0},
	4:  {360, QPSK, FEC12, 1.00, 0, 0},
	5:  {360, QPSK, FEC35, 2.23, 0, 0},
	6:  {360, QPSK, FEC23, 3.10, 0, 0},
	7:  {360, QPSK, FEC34, 4.03, 0, 0},
	8:  {360, QPSK, FEC45, 4.68, 0, 0},
	9:  {360, QPSK, FEC56, 5.18, 0, 0},
	10: {360, QPSK, FEC89, 6.20, 0, 0},
	11: {360, QPSK, FEC910, 6.42, 0, 0},
	12: {240, PSK8, FEC35, 5.50, 0, 0},
	13: {240, PSK8, FEC23, 6.62, 0, 0},
	14: {240, PSK8, FEC34, 7.91, 0, 0},
	15: {240, PSK8, FEC56, 9.35, 0, 0},
	16: {240, PSK8, FEC89, 10.69, 0, 0},
	17: {240, PSK8, FEC910, 10.98, 0, 0},
	18: {180, APSK16, FEC23, 8.97, 3.15, 0},
	19: {180, APSK16, FEC34, 10.21, 2.85, 0},
	20: {180, APSK16, FEC45, 11.03, 2.75, 0},
	21: {180, APSK16, FEC56, 11.61, 2.70, 0},
	22: {180, APSK16, FEC89, 12.89, 2.60, 0},
	23: {180, APSK16, FEC910, 13.13, 2.57, 0},
	24: {144, APSK32, FEC34, 12.73, 2.84, 5.27},
	25: {144, APSK32, FEC45, 13.64, 2.72, 4.87},
	26: {144, APSK32, FEC56, 14.28, 2.64, 4.64},
	27: {144, APSK32, FEC89, 15.69, 2.54, 4.33},
	28: {144, APSK32, FEC910, 16.05, 2.53, 4.30},
}

// gammas returns the ring ratios in NewCstln order.
func (m *modcodInfo) gammas() (float32, float32, float32) {
	return m.g1, m.g2, 0
}

func (m *modcodInfo) bitsPerSymbol() int {
	switch m.kind {
	case QPSK:
		return 2
	case PSK8:
		return 3
	case APSK16:
		return 4
	case APSK32:
		return 5
	}
	return 0
}

func checkModcod(modcod uint8) (*modcodInfo, error) {
	if modcod >= 32 || modcodInfos[modcod].nslotsNF == 0 {
		return nil, fmt.Errorf("MODCOD %d: %w", modcod, ErrUnsupported)
	}
	return &modcodInfos[modcod], nil
}

// slots returns the number of data slots in the frame.
func (m *modcodInfo) slots(sf bool) int {
	return IfThenElse(sf, m.nslotsNF/4, m.nslotsNF)
}

// frameSymbols counts every symbol after the PLHEADER.
func frameSymbols(nslots int, pilots bool) int {
	return nslots*plSlotLength + IfThenElse(pilots, (nslots-1)/pilotPeriod*pilotLength, 0)
}

type fecInfo struct {
	Kbch  int // BCH message bits.
	Kldpc int // LDPC message bits, i.e. BCH codeword bits.
	T     int // BCH correctable errors.
}

// Indexed by [short frame][code rate].  Zero entries are not defined by the
// standard.
var fecInfos = [2][fecCount]fecInfo{
	{
		FEC12:  {32208, 32400, 12},
		FEC23:  {43040, 43200, 10},
		FEC34:  {48408, 48600, 12},
		FEC56:  {53840, 54000, 10},
		FEC45:  {51648, 51840, 12},
		FEC89:  {57472, 57600, 8},
		FEC910: {58192, 58320, 8},
		FEC14:  {16008, 16200, 12},
		FEC13:  {21408, 21600, 12},
		FEC25:  {25728, 25920, 12},
		FEC35:  {38688, 38880, 12},
	},
	{
		FEC12: {7032, 7200, 12},
		FEC23: {10632, 10800, 12},
		FEC34: {11712, 11880, 12},
		FEC56: {13152, 13320, 12},
		FEC45: {12432, 12600, 12},
		FEC89: {14232, 14400, 12},
		FEC14: {3072, 3240, 12},
		FEC13: {5232, 5400, 12},
		FEC25: {6312, 6480, 12},
		FEC35: {9552, 9720, 12},
	},
}

func lookupFEC(sf bool, rate CodeRate) (*fecInfo, error) {
	if rate < 0 || rate >= fecCount {
		return nil, fmt.Errorf("code rate %d: %w", int(rate), ErrUnsupported)
	}
	var fi = &fecInfos[IfThenElse(sf, 1, 0)][rate]
	if fi.Kbch == 0 {
		return nil, fmt.Errorf("code rate %v with %s frames: %w", rate, IfThenElse(sf, "short", "normal"), ErrUnsupported)
	}
	return fi, nil
}

// fecFor resolves both tables for a frame header.
func fecFor(pls PLS) (*modcodInfo, *fecInfo, error) {
	var mc, err = checkModcod(pls.Modcod)
	if err != nil {
		return nil, nil, err
	}
	fi, err := lookupFEC(pls.SF, mc.rate)
	if err != nil {
		return nil, nil, err
	}
	return mc, fi, nil
}

type plhTables struct {
	sof        [sofLength]complex64
	codewords  [plsCodeCount]uint64
	plsSymbols [plsCodeCount][plscodeLength]complex64
	pilot      complex64
}

/*-------------------------------------------------------------
 *
 * Name:	s2PLH
 *
 * Purpose:	Known PLHEADER symbols.
 *
 * Description:	SOF is pi/2-BPSK: bit b of symbol s sits at angle
 *		pi/4 + (2b+(s&1))*pi/2.  PLSCODEs come from the (32,6)
 *		Reed-Muller generator, each bit repeated (or repeated
 *		and inverted when the pilots flag is set), then
 *		scrambled.
 *
 *--------------------------------------------------------------*/

var s2PLH = sync.OnceValue(func() *plhTables {
	var t = &plhTables{}
	for s := range sofLength {
		var angle = int(sofValue>>(sofLength-1-s))&1*2 + s&1
		var a = math.Pi/4 + 2*math.Pi*float64(angle)/4
		t.sof[s] = complex(float32(cstlnAmp*math.Cos(a)), float32(cstlnAmp*math.Sin(a)))
	}

	var g = [6]uint32{0x55555555, 0x33333333, 0x0f0f0f0f, 0x00ff00ff, 0x0000ffff, 0xffffffff}
	for index := range plsCodeCount {
		var y uint32
		for row := range 6 {
			if (index>>(6-row))&1 != 0 {
				y ^= g[row]
			}
		}
		var code uint64
		for bit := 31; bit >= 0; bit-- {
			var yi = uint64(y>>bit) & 1
			code = code<<2 | yi<<1 | IfThenElse(index&1 != 0, yi^1, yi)
		}
		code ^= plsScrambling
		t.codewords[index] = code

		var amp = cstlnAmp / math.Sqrt2
		for i := range plscodeLength {
			var yi = int(code>>(plscodeLength-1-i)) & 1
			var nyi = yi ^ (i & 1)
			t.plsSymbols[index][i] = complex(float32(amp*float64(1-2*nyi)), float32(amp*float64(1-2*yi)))
		}
	}

	t.pilot = complex(float32(cstlnAmp*math.Sqrt2/2), float32(cstlnAmp*math.Sqrt2/2))
	return t
})

// decodePLSCODE returns the nearest PLS index and its Hamming distance.
func decodePLSCODE(code uint64) (int, int) {
	var t = s2PLH()
	var best, bestErr = -1, plscodeLength + 1
	for i, cw := range t.codewords {
		if e := hammingWeight64(code ^ cw); e < bestErr {
			best, bestErr = i, e
		}
	}
	return best, bestErr
}
