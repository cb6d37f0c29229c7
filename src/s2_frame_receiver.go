package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	DVB-S2 PL frame synchronization, carrier and symbol
 *		timing recovery.
 *
 * Description:	Three states:
 *
 *		DETECT	Look for a PLHEADER by differential correlation,
 *			which does not need carrier lock.  Gives timing to
 *			a fraction of a symbol, a coarse frequency and
 *			phase.
 *
 *		PROBE	First frame after detection.  Refines frequency
 *			from the known PLHEADER symbols and resolves the
 *			ambiguity of pilot-aided tracking by trying
 *			integer numbers of cycles per block.
 *
 *		LOCKED	Steady state, one frame at a time.
 *
 *		Each frame is demodulated with the help of look-ahead:
 *		the next SOF gives the symbol rate and, with the pilots,
 *		anchor phases between which the carrier is interpolated.
 *		Any inconsistency sends the receiver back to DETECT.
 *
 *		Frequencies here are per symbol, 65536 = one turn.
 *
 *--------------------------------------------------------------*/

import (
	"math"
	"math/bits"
	"math/cmplx"
	"math/rand/v2"

	"github.com/charmbracelet/log"
)

type s2State int

const (
	s2Detect s2State = iota
	s2Probe
	s2Locked
)

// s2SamplerState is the whole state of the PLL.  Copies are used to look
// ahead and rewind.
type s2SamplerState struct {
	pos   int     // Sample index in the input window.
	mu    float32 // Time of next symbol, counted from pos.
	omega float32 // Samples per symbol.
	gain  float32 // Scaling toward cstlnAmp.
	ph16  float32 // Carrier phase at next symbol.
	fw16  float32 // Carrier frequency per symbol.
	scr   int     // Position in the PL scrambling sequence.
}

func (ss *s2SamplerState) normalize() {
	ss.ph16 = float32(math.Mod(float64(ss.ph16), 65536))
}

func (ss *s2SamplerState) skipSymbols(ns int) {
	ss.mu += ss.omega * float32(ns)
	var whole = float32(math.Floor(float64(ss.mu)))
	ss.pos += int(whole)
	ss.mu -= whole
	ss.ph16 += ss.fw16 * float32(ns)
	ss.normalize()
	ss.scr += ns
}

type s2FrameReceiver[S SoftSymbol] struct {
	sampler sampler
	in      *pipebuf[complex64]
	out     *pipebuf[PLSlot[S]]
	diag    Diagnostics
	logger  *log.Logger

	measDecimation int
	ftune          float32 // Tuning bias, cycles per symbol.
	allowDrift     bool
	omega0         float32
	modcods        uint32 // Bitmask of MODCODs to forward.
	framesizes     uint8  // Bit 0 normal, bit 1 short.
	fastlock       bool
	fastdrift      bool // Track every symbol even with pilots.
	freqTol        float32
	srTol          float32
	hardMetric     bool
	matched        bool // Sampler is a full matched filter.

	state      s2State
	ssCache    s2SamplerState
	minFreqw16 float32
	maxFreqw16 float32
	discard    int
	firstRun   bool
	locked     bool
	measCount  int
	rng        *rand.Rand

	qpsk       *CstlnLUT[S]
	cstlns     [32]*CstlnLUT[S]
	scrambling []uint8
	diffs      []complex64
	pilots     []s2SamplerState
	points     []complex64
}

func newS2FrameReceiver[S SoftSymbol](smp sampler, omega float32, in *pipebuf[complex64], out *pipebuf[PLSlot[S]], diag Diagnostics, logger *log.Logger) (*s2FrameReceiver[S], error) {
	var qpsk, err = cachedCstlnLUT[S](QPSK, 10, 0, 0, 0, false)
	if err != nil {
		return nil, err
	}
	out.reserve(1 + maxSlotsPerFrame)
	return &s2FrameReceiver[S]{
		sampler:        smp,
		in:             in,
		out:            out,
		diag:           orNoDiag(diag),
		logger:         orDefaultLogger(logger),
		measDecimation: 1048576,
		omega0:         omega,
		modcods:        0xffffffff,
		framesizes:     0x03,
		freqTol:        0.25,
		srTol:          100e-6,
		firstRun:       true,
		rng:            rand.New(rand.NewPCG(1, 2)),
		qpsk:           qpsk,
		scrambling:     plScrambling(0),
	}, nil
}

func (r *s2FrameReceiver[S]) minSamples() int {
	return int(float32(1+maxSymbolsPerFrame+plhLength)*r.omega0*2) + r.sampler.readahead()
}

func (r *s2FrameReceiver[S]) run() {
	for r.in.readable() >= r.minSamples() && r.out.writable() >= 1+maxSlotsPerFrame {
		if r.firstRun {
			r.enterDetect()
			r.firstRun = false
		}
		switch r.state {
		case s2Detect:
			r.runDetect()
		default:
			r.runFrame()
		}
	}
}

func (r *s2FrameReceiver[S]) enterDetect() {
	r.state = s2Detect
	r.ssCache = s2SamplerState{
		fw16:  65536 * r.ftune,
		gain:  1,
		omega: r.omega0,
	}
	if r.allowDrift {
		r.minFreqw16 = r.ssCache.fw16 - r.omega0*65536
		r.maxFreqw16 = r.ssCache.fw16 + r.omega0*65536
	} else {
		r.minFreqw16 = r.ssCache.fw16 - r.freqTol*65536
		r.maxFreqw16 = r.ssCache.fw16 + r.freqTol*65536
	}

	if r.fastlock || r.firstRun {
		r.discard = 0
	} else {
		// Keep CPU use during detection close to that of demodulation.
		const dutyFactor = 5
		r.discard = int(maxSymbolsPerFrame * r.omega0 * (dutyFactor + r.rng.Float32() - 0.5))
	}
	r.logger.Debug("S2 frame: detect")
}

func (r *s2FrameReceiver[S]) runDetect() {
	if r.discard > 0 {
		var d = min(r.discard, r.in.readable())
		r.in.read(d)
		r.discard -= d
		return
	}
	r.sampler.updateFreq(r.ssCache.fw16/r.omega0, 0)
	r.ssCache.pos = 0
	r.findPLHeader(&r.ssCache, maxSymbolsPerFrame)
	r.in.read(r.ssCache.pos)
	r.ssCache.pos = 0
	r.enterProbe()
}

func (r *s2FrameReceiver[S]) enterProbe() {
	if r.locked {
		r.logger.Info("S2 frame: unlocked")
		r.locked = false
		r.diag.LockState("s2frame", false)
	}
	r.state = s2Probe
}

func (r *s2FrameReceiver[S]) enterLocked() {
	r.state = s2Locked
	if !r.locked {
		r.logger.Info("S2 frame: locked")
		r.locked = true
		r.diag.LockState("s2frame", true)
	}
}

// reject abandons the current frame.
func (r *s2FrameReceiver[S]) reject(ss *s2SamplerState, msg string, kv ...any) {
	r.logger.Debug("S2 frame: "+msg, kv...)
	r.in.read(ss.pos)
	r.enterDetect()
}

/*-------------------------------------------------------------
 *
 * Name:	checkPLHeader
 *
 * Purpose:	Hard decode a received PLHEADER.
 *
 * Inputs:	p	- The 90 symbols, phase corrected.
 *
 * Returns:	PLSCODE index, bit errors in SOF and in PLSCODE, and
 *		whether both are within s2MaxErrSOF and s2MaxErrPLSCODE.
 *		PLSCODE is not decoded when SOF fails.
 *
 *--------------------------------------------------------------*/

func checkPLHeader(p *[plhLength]complex64) (int, int, int, bool) {
	// pi/2-BPSK decisions, two symbols at a time.
	var sofBits uint32
	for i := range sofLength / 2 {
		var p0, p1 = p[2*i], p[2*i+1]
		sofBits = sofBits<<2 | uint32(b2i(imag(p0)+real(p0) < 0))<<1 | uint32(b2i(imag(p1)-real(p1) < 0))
	}
	var sofErrors = bits.OnesCount32(sofBits ^ sofValue)
	if sofErrors > s2MaxErrSOF {
		return 0, sofErrors, 0, false
	}

	var plscode uint64
	for i := range plscodeLength / 2 {
		var p0, p1 = p[sofLength+2*i], p[sofLength+2*i+1]
		plscode = plscode<<2 | uint64(b2i(imag(p0)+real(p0) < 0))<<1 | uint64(b2i(imag(p1)-real(p1) < 0))
	}
	var plsIndex, plsErrors = decodePLSCODE(plscode)
	return plsIndex, sofErrors, plsErrors, plsErrors <= s2MaxErrPLSCODE
}

func (r *s2FrameReceiver[S]) interpNext(ss *s2SamplerState) complex64 {
	for ss.mu >= 1 {
		ss.pos++
		ss.mu--
	}
	var s = r.sampler.interp(r.in.rd(), ss.pos, ss.mu, ss.ph16)
	ss.mu += ss.omega
	ss.ph16 += ss.fw16
	return s
}

func (r *s2FrameReceiver[S]) descramble(ss *s2SamplerState, p complex64) complex64 {
	var rn = r.scrambling[ss.scr]
	ss.scr++
	return rotateQuarter(p, -rn&3)
}

func (r *s2FrameReceiver[S]) getCstln(modcod uint8) *CstlnLUT[S] {
	if r.cstlns[modcod] == nil {
		var mc = &modcodInfos[modcod]
		var g1, g2, g3 = mc.gammas()
		var l, err = cachedCstlnLUT[S](mc.kind, mc.esn0NF, g1, g2, g3, r.hardMetric)
		Assert(err == nil)
		r.logger.Debug("S2 frame: demapper", "modcod", modcod, "kind", mc.kind, "rate", mc.rate)
		if mc.kind == APSK32 && !r.matched {
			// Pulse overlap without a matched filter exceeds the 32APSK
			// decision distance.
			r.logger.Warn("S2 frame: 32APSK without the rrc sampler will mostly fail to decode", "modcod", modcod)
		}
		r.cstlns[modcod] = l
	}
	return r.cstlns[modcod]
}

/*-------------------------------------------------------------
 *
 * Name:	runFrame
 *
 * Purpose:	Demodulate one frame starting at the PLHEADER in
 *		ssCache, in PROBE or LOCKED state.
 *
 *--------------------------------------------------------------*/

func (r *s2FrameReceiver[S]) runFrame() {
	var plh = s2PLH()
	var ss = r.ssCache
	ss.pos = 0
	ss.normalize()
	r.sampler.updateFreq(ss.fw16/r.omega0, 0)

	var plhSymbols [plhLength]complex64
	for s := range plhSymbols {
		plhSymbols[s] = r.interpNext(&ss) * complex(ss.gain, 0)
	}

	var plsIndex, sofErrors, plsErrors, ok = checkPLHeader(&plhSymbols)
	if !ok && sofErrors > s2MaxErrSOF {
		r.diag.PLErrors(sofErrors, sofLength)
		r.reject(&ss, "too many errors in SOF", "errors", sofErrors)
		return
	}
	r.diag.PLErrors(sofErrors+plsErrors, plhLength)
	if !ok {
		r.reject(&ss, "too many errors in PLSCODE", "errors", plsErrors)
		return
	}

	// ss now points to the first data slot.
	ss.scr = 0

	var plhExpected [plhLength]complex64
	copy(plhExpected[:], plh.sof[:])
	copy(plhExpected[sofLength:], plh.plsSymbols[plsIndex][:])

	if r.state == s2Probe {
		// The differential detector is not accurate enough yet.
		r.matchFreq(plhExpected[:], plhSymbols[:], &ss)
	}
	var mer2 = r.matchPhAmp(plhExpected[:], plhSymbols[:], &ss)
	var mer = float32(10 * math.Log10(float64(mer2)))

	var pls = plsFromIndex(plsIndex)
	var pout = r.out.wr()
	var nout = 0

	var nslots int
	var dcstln *CstlnLUT[S]
	if pls.IsDummy() {
		nslots = 36
		dcstln = r.qpsk
	} else {
		var mc = &modcodInfos[pls.Modcod]
		if mc.nslotsNF == 0 {
			r.reject(&ss, "unsupported or corrupted MODCOD", "modcod", pls.Modcod)
			return
		}
		if mer < mc.esn0NF-3 {
			// False positive from PLHEADER detection.
			r.reject(&ss, "insufficient MER", "mer", mer, "need", mc.esn0NF-3)
			return
		}
		if _, err := lookupFEC(pls.SF, mc.rate); err != nil {
			r.reject(&ss, "unsupported FEC", "modcod", pls.Modcod, "sf", pls.SF)
			return
		}
		nslots = mc.slots(pls.SF)
		dcstln = r.getCstln(pls.Modcod)
		pout[nout] = PLSlot[S]{IsPLS: true, PLS: pls}
		nout++
	}

	// Next SOF: gives the symbol rate.
	var ns = frameSymbols(nslots, pls.Pilots)
	var ssnext = ss
	{
		var nsTol = int(math.Round(float64(float32(ns) * r.srTol)))
		ssnext.omega = r.omega0
		ssnext.skipSymbols(ns - nsTol)
		r.findPLHeader(&ssnext, 2*nsTol+1)
		// Our estimate is better than the differential correlator's.
		ssnext.fw16 = ss.fw16
		r.sampler.updateFreq(ss.fw16/r.omega0, 0)
		r.interpMatchSOF(&ssnext)
		var dist = float32(ssnext.pos-ss.pos) + (ssnext.mu - ss.mu)
		ss.omega = dist / float32(ns+sofLength)
	}

	var npilots = (nslots - 1) / pilotPeriod
	r.pilots = r.pilots[:0]
	if pls.Pilots {
		var ssp = ss
		for range npilots {
			ssp.skipSymbols(pilotPeriod * plSlotLength)
			r.interpMatchPilot(&ssp)
			r.pilots = append(r.pilots, ssp)
		}

		// Average frequency, unwrapping pilot by pilot.
		var totalph float32
		var prevph = ss.ph16
		const span = pilotPeriod*plSlotLength + pilotLength
		for i := range npilots {
			var dph = r.pilots[i].ph16 - (prevph + ss.fw16*span)
			totalph += fmodfs(dph, 65536)
			prevph = r.pilots[i].ph16
		}
		if npilots > 0 {
			ss.fw16 += totalph / float32(span*npilots)
		}
	} else {
		// Whole frame; mostly useful for dummy frames.
		var span = float32(nslots*plSlotLength + sofLength)
		var dph = ssnext.ph16 - (ss.ph16 + ss.fw16*span)
		ss.fw16 += fmodfs(dph, 65536) / span
	}

	if r.state == s2Probe {
		var fw0 = ss.fw16
		r.matchFrame(&ss, pls, nslots, dcstln)
		// Apply retroactively from the middle of each anchor block.
		var adj = ss.fw16 - fw0
		for i := range r.pilots {
			r.pilots[i].ph16 += adj * pilotLength / 2
		}
		ssnext.ph16 += adj * sofLength / 2
	}

	r.points = r.points[:0]
	for slot := range nslots {
		if pls.Pilots && slot > 0 && slot%pilotPeriod == 0 {
			ss.skipSymbols(pilotLength)
			ss.ph16 = r.pilots[slot/pilotPeriod-1].ph16
		}

		// Point the carrier at the next anchor.
		if pls.Pilots && slot%pilotPeriod == 0 && slot+pilotPeriod < nslots {
			var ssp = &r.pilots[slot/pilotPeriod]
			const span = pilotPeriod*plSlotLength + pilotLength
			var dph = ssp.ph16 - (ss.ph16 + ss.fw16*span)
			ss.fw16 += fmodfs(dph, 65536) / span
		} else if (pls.Pilots && slot%pilotPeriod == 0) || (!pls.Pilots && slot == 0) {
			var span = float32((nslots-slot)*plSlotLength + sofLength)
			var dph = ssnext.ph16 - (ss.ph16 + ss.fw16*span)
			ss.fw16 += fmodfs(dph, 65536) / span
		}

		var po = &pout[nout]
		po.IsPLS = false
		var p complex64
		for s := range plSlotLength {
			p = r.interpNext(&ss) * complex(ss.gain, 0)
			if !pls.Pilots || r.fastdrift {
				r.trackSymbol(&ss, p, dcstln)
			}
			var d = r.descramble(&ss, p)
			po.Symbols[s] = dcstln.Lookup(real(d), imag(d)).SS
		}
		nout++
		ss.normalize()
		r.points = append(r.points, p)
	}

	if !pls.IsDummy() {
		if r.modcods&(1<<pls.Modcod) != 0 && r.framesizes&(1<<b2i(pls.SF)) != 0 {
			r.out.written(nout)
		} else {
			r.logger.Debug("S2 frame: filtered out", "pls", pls)
		}
	}

	r.measCount += ss.pos
	r.in.read(ss.pos)
	ss.pos = 0
	r.ssCache = ss

	r.diag.Constellation(r.points)
	if r.measCount >= r.measDecimation {
		r.measCount -= r.measDecimation
		r.diag.Frequency(r.ssCache.fw16 / 65536 / r.ssCache.omega)
		r.diag.SignalStrength(cstlnAmp / r.ssCache.gain)
		r.diag.MER(IfThenElse(mer2 > 0, mer, -99))
	}

	if r.state == s2Probe {
		// First complete frame validates the lock.
		r.enterLocked()
	}

	if r.ssCache.fw16 < r.minFreqw16 || r.ssCache.fw16 > r.maxFreqw16 {
		r.logger.Debug("S2 frame: carrier out of bounds", "freq", r.ssCache.fw16/65536)
		r.enterDetect()
	}
}

/*-------------------------------------------------------------
 *
 * Name:	findPLHeader
 *
 * Purpose:	Most likely PLHEADER within searchRange symbols of *pss.
 *
 * Description:	Differential correlation against the SOF and the
 *		data-independent half of the PLSCODE, at 8 sub-symbol
 *		offsets.  Moves *pss to the best match and sets a rough
 *		frequency (to about 1%), phase (to about 45 degrees) and
 *		gain.
 *
 * Returns:	Match quality, 1 nominal.
 *
 *--------------------------------------------------------------*/

func (r *s2FrameReceiver[S]) findPLHeader(pss *s2SamplerState, searchRange int) float32 {
	const interp = 8
	var bestCorr complex64
	var bestImu, bestPos int
	var ndiffs = searchRange + plhLength
	if cap(r.diffs) < ndiffs {
		r.diffs = make([]complex64, ndiffs)
	}
	var diffs = r.diffs[:ndiffs]

	for imu := range interp {
		var ss = *pss
		ss.mu += float32(imu) * ss.omega / interp

		// Rotation between consecutive symbols.
		var prev complex64
		for i := range diffs {
			var p = r.interpNext(&ss)
			diffs[i] = conjprod(prev, p)
			prev = p
		}

		for i := range searchRange {
			var c = correlatePLHeaderDiff(diffs[i:])
			// imag(c) > 0 bounds the frequency error to +-Fm/4.
			if cnorm2(c) > cnorm2(bestCorr) && imag(c) > 0 {
				bestCorr = c
				bestImu = imu
				bestPos = i
			}
		}
	}

	pss.mu += float32(bestImu) * pss.omega / interp
	pss.skipSymbols(bestPos)

	// bestCorr is nominally +j.
	var freqw = math.Atan2(float64(-real(bestCorr)), float64(imag(bestCorr)))
	pss.fw16 += float32(freqw * 65536 / (2 * math.Pi))
	r.sampler.updateFreq(pss.fw16/r.omega0, 0)

	// Phase and naive AGC from the SOF.
	var plh = s2PLH()
	var ss = *pss
	var power float32
	var c complex64
	for i := range sofLength {
		var p = r.interpNext(&ss)
		power += cnorm2(p)
		c += conjprod(plh.sof[i], p)
	}
	c /= sofLength
	pss.ph16 += arg16(c)
	if power == 0 {
		return 0
	}
	var signalAmp = float32(math.Sqrt(float64(power / sofLength)))
	pss.gain = cstlnAmp / signalAmp
	return float32(cmplx.Abs(complex128(c))) / (cstlnAmp * signalAmp)
}

func correlatePLHeaderDiff(diffs []complex64) complex64 {
	var csof = correlateSOFDiff(diffs)
	var cplsc = correlatePLSCODEDiff(diffs[sofLength:])
	// c0 fits when the pilots flag is off, c1 when it is on.
	var c0 = csof + cplsc
	var c1 = csof - cplsc
	var c = IfThenElse(cnorm2(c0) > cnorm2(c1), c0, c1)
	return c / (sofLength - 1 + plscodeLength/2)
}

// The 25 transitions in the SOF.
func correlateSOFDiff(diffs []complex64) complex64 {
	var c complex64
	const dsof = sofValue ^ sofValue>>1
	for i := range sofLength {
		// Constant odd bit, toggled even bit: +pi/4.  Otherwise -pi/4.
		if ((dsof>>(sofLength-1-i))^i)&1 != 0 {
			c += diffs[i]
		} else {
			c -= diffs[i]
		}
	}
	return c
}

// The 32 transitions in the PLSCODE that do not depend on the data.
func correlatePLSCODEDiff(diffs []complex64) complex64 {
	var c complex64
	const dscr = uint64(plsScrambling) ^ uint64(plsScrambling)>>1
	for i := 1; i < plscodeLength; i += 2 {
		if (dscr>>(plscodeLength-1-i))&1 != 0 {
			c -= diffs[i]
		} else {
			c += diffs[i]
		}
	}
	return c
}

/*-------------------------------------------------------------
 *
 * Name:	matchFreq
 *
 * Purpose:	Frequency from known PSK symbols by differential
 *		correlation.
 *
 * Description:	Insensitive to phase and gain errors, handles about
 *		25% of the symbol rate.  recv is derotated in place and
 *		the phase in *ss corrected retroactively; *ss must point
 *		just past the symbols.
 *
 *--------------------------------------------------------------*/

func (r *s2FrameReceiver[S]) matchFreq(expect, recv []complex64, ss *s2SamplerState) {
	var diff complex64
	for i := 0; i+1 < len(expect); i++ {
		var de = conjprod(expect[i], expect[i+1])
		var dr = conjprod(recv[i], recv[i+1])
		diff += conjprod(de, dr)
	}
	var dfw16 = arg16(diff)
	for i := range recv {
		recv[i] *= expi(-dfw16 * float32(i))
	}
	ss.fw16 += dfw16
	ss.ph16 += dfw16 * float32(len(recv))
}

/*-------------------------------------------------------------
 *
 * Name:	matchPhAmp
 *
 * Purpose:	Phase and amplitude from known PSK symbols of amplitude
 *		cstlnAmp.
 *
 * Returns:	MER squared.  recv is corrected in place.
 *
 *--------------------------------------------------------------*/

func (r *s2FrameReceiver[S]) matchPhAmp(expect, recv []complex64, ss *s2SamplerState) float32 {
	var rr complex64
	for i := range expect {
		rr += conjprod(expect[i], recv[i])
	}
	rr /= complex(float32(len(expect))*cstlnAmp, 0)
	var dph16 = arg16(rr)
	ss.ph16 += dph16
	rr *= expi(-dph16)
	// real(rr) is now the amplitude.
	if real(rr) <= 0 {
		return 0
	}
	var dgain = cstlnAmp / real(rr)
	ss.gain *= dgain

	var adj = expi(-dph16) * complex(dgain, 0)
	var ev2 float32
	for i := range recv {
		recv[i] *= adj
		ev2 += cnorm2(recv[i] - expect[i])
	}
	ev2 /= float32(len(recv)) * cstlnAmp * cstlnAmp
	if ev2 == 0 {
		return 1e9
	}
	return 1 / ev2
}

func (r *s2FrameReceiver[S]) interpMatchPilot(ss *s2SamplerState) float32 {
	var plh = s2PLH()
	var symbols, expected [pilotLength]complex64
	for i := range symbols {
		var p = r.interpNext(ss) * complex(ss.gain, 0)
		symbols[i] = r.descramble(ss, p)
		expected[i] = plh.pilot
	}
	return r.matchPhAmp(expected[:], symbols[:], ss)
}

func (r *s2FrameReceiver[S]) interpMatchSOF(ss *s2SamplerState) float32 {
	var plh = s2PLH()
	var symbols [sofLength]complex64
	for i := range symbols {
		symbols[i] = r.interpNext(ss) * complex(ss.gain, 0)
	}
	return r.matchPhAmp(plh.sof[:], symbols[:], ss)
}

/*-------------------------------------------------------------
 *
 * Name:	matchFrame
 *
 * Purpose:	Resolve the integer number of carrier cycles between
 *		anchors.
 *
 * Description:	Tries frequency slips of whole turns per block and keeps
 *		the one with the smallest error vector on the data.  With
 *		pilots the block is the first 16 slots, otherwise the
 *		whole frame.  *pss must point to the first data slot.
 *
 *--------------------------------------------------------------*/

func (r *s2FrameReceiver[S]) matchFrame(pss *s2SamplerState, pls PLS, nslots int, dcstln *CstlnLUT[S]) {
	var ns = IfThenElse(pls.Pilots, pilotPeriod*plSlotLength, nslots*plSlotLength)
	var nwrap = float32(IfThenElse(pls.Pilots, pilotPeriod*plSlotLength+pilotLength, nslots*plSlotLength+sofLength))
	var sliprange = IfThenElse(pls.Pilots, 10, 50)
	ns = min(ns, nslots*plSlotLength)

	var bestErr = float32(math.Inf(1))
	var bestSlip = 0
	for slip := -sliprange; slip <= sliprange; slip++ {
		var ssl = *pss
		var dfw = float32(slip) * 65536 / nwrap
		ssl.fw16 += dfw
		// From the middle of the PLHEADER, where the phase is best known.
		ssl.ph16 += dfw * plhLength / 2
		var err float32
		for range ns {
			var p = r.interpNext(&ssl) * complex(ssl.gain, 0)
			var d = r.descramble(&ssl, p)
			var cr = dcstln.Lookup(real(d), imag(d))
			err += cnorm2(d - dcstln.Symbols[cr.Symbol])
		}
		if err < bestErr {
			bestErr = err
			bestSlip = slip
		}
	}
	pss.fw16 += float32(bestSlip) * 65536 / nwrap
}

func (r *s2FrameReceiver[S]) trackSymbol(ss *s2SamplerState, p complex64, c *CstlnLUT[S]) {
	const kph = 4e-2
	const kfw = 1e-4
	// Decisions need the unscrambled symbol; peek without consuming.
	var d = rotateQuarter(p, -r.scrambling[ss.scr]&3)
	var cr = c.Lookup(real(d), imag(d))
	ss.ph16 += float32(cr.PhaseError) * kph
	ss.fw16 = clampf(ss.fw16+float32(cr.PhaseError)*kfw, r.minFreqw16, r.maxFreqw16)
}

func conjprod(a, b complex64) complex64 {
	return complex(real(a)*real(b)+imag(a)*imag(b), real(a)*imag(b)-imag(a)*real(b))
}

func cnorm2(z complex64) float32 {
	return real(z)*real(z) + imag(z)*imag(z)
}

func b2i(b bool) int {
	return IfThenElse(b, 1, 0)
}
