package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	DVB-S2 bit interleaving and bit-to-symbol mapping,
 *		EN 302 307 section 5.3.3.
 *
 * Description:	QPSK has no interleaver: each pair of bits is a
 *		symbol, first bit in the MSB.  Higher orders write the
 *		FECFRAME column by column into bps columns of N/bps rows
 *		and read it row by row, column 0 giving the MSB of the
 *		symbol.  8PSK rate 3/5 reads its columns in reverse
 *		order.
 *
 *		Bits are kept unpacked, one per element.  The receive
 *		side is bit by bit for every row count; the transmit side
 *		packs 8 rows at a time and needs a separate path for the
 *		4050 rows of short 16APSK frames.
 *
 *--------------------------------------------------------------*/

// HardBit is 0 or 1.
type HardBit uint8

// LLRBit is log(P(0)/P(1)) scaled to int8.  Negative means 1.
type LLRBit int8

type SoftBit interface {
	HardBit | LLRBit
}

// FECFrame is one LDPC codeword, PLS.FrameBits() bits long.
type FECFrame[B SoftBit] struct {
	PLS  PLS
	Bits [normalFrameBits]B
}

func softBitFromLLR[B SoftBit](l int8) B {
	var b B
	switch p := any(&b).(type) {
	case *HardBit:
		*p = HardBit(b2i(llrHarden(l)))
	case *LLRBit:
		*p = LLRBit(l)
	}
	return b
}

func softBitLLR[B SoftBit](b B) int8 {
	switch v := any(b).(type) {
	case HardBit:
		return IfThenElse(v != 0, int8(-127), int8(127))
	case LLRBit:
		return int8(v)
	}
	return 0
}

func softBitHard[B SoftBit](b B) uint8 {
	return uint8(b2i(llrHarden(softBitLLR(b))))
}

// symbolBit returns which symbol bit column col carries.
func symbolBit(mc *modcodInfo, bps, col int) int {
	if mc.kind == PSK8 && mc.rate == FEC35 {
		return col
	}
	return bps - 1 - col
}

/*-------------------------------------------------------------
 *
 * Name:	interleaveFrame
 *
 * Purpose:	Map a FECFRAME onto symbol labels.
 *
 * Outputs:	slots	- nslots data slots.
 *
 * Description:	Columns are read 8 rows at a time into a byte, then
 *		spread over 8 symbols.  Short 16APSK frames have 4050
 *		rows, which leaves 2 rows per column after the last
 *		whole byte.
 *
 *--------------------------------------------------------------*/

func interleaveFrame(mc *modcodInfo, fr *FECFrame[HardBit], slots []PLSlot[HardSS]) {
	var bps = mc.bitsPerSymbol()
	var nbits = fr.PLS.FrameBits()
	var rows = nbits / bps
	Assert(len(slots)*plSlotLength == rows)
	for s := range slots {
		slots[s].Symbols = [plSlotLength]HardSS{}
	}

	switch {
	case bps == 2:
		for r := range rows {
			setSlotSymbol(slots, r, HardSS(fr.Bits[2*r]&1)<<1|HardSS(fr.Bits[2*r+1]&1))
		}
	case rows%8 == 0:
		interleaveBlocks(mc, fr.Bits[:nbits], rows, rows, slots)
	default:
		interleave16APSKShort(mc, fr.Bits[:nbits], slots)
	}
}

// interleaveBlocks handles rows [0,nblocked) of a column interleaver with
// the given number of rows.  nblocked must be a multiple of 8.
func interleaveBlocks(mc *modcodInfo, bits []HardBit, rows, nblocked int, slots []PLSlot[HardSS]) {
	var bps = mc.bitsPerSymbol()
	Assert(nblocked%8 == 0)
	for r0 := 0; r0 < nblocked; r0 += 8 {
		for col := range bps {
			var w byte
			for _, b := range bits[col*rows+r0 : col*rows+r0+8] {
				w = w<<1 | byte(b&1)
			}
			var sb = symbolBit(mc, bps, col)
			for i := range 8 {
				orSlotSymbol(slots, r0+i, HardSS(w>>(7-i)&1)<<sb)
			}
		}
	}
}

// 4050 = 506*8 + 2: each column starts in the middle of a byte.
func interleave16APSKShort(mc *modcodInfo, bits []HardBit, slots []PLSlot[HardSS]) {
	const rows = shortFrameBits / 4
	Assert(len(bits) == shortFrameBits)
	const nblocked = rows &^ 7
	interleaveBlocks(mc, bits, rows, nblocked, slots)
	for r := nblocked; r < rows; r++ {
		var sym HardSS
		for col := range 4 {
			sym |= HardSS(bits[col*rows+r]&1) << symbolBit(mc, 4, col)
		}
		setSlotSymbol(slots, r, sym)
	}
}

func setSlotSymbol[S SoftSymbol](slots []PLSlot[S], r int, s S) {
	slots[r/plSlotLength].Symbols[r%plSlotLength] = s
}

func orSlotSymbol(slots []PLSlot[HardSS], r int, s HardSS) {
	slots[r/plSlotLength].Symbols[r%plSlotLength] |= s
}

func deinterleaveFrame[S SoftSymbol, B SoftBit](mc *modcodInfo, slots []PLSlot[S], fr *FECFrame[B]) {
	var bps = mc.bitsPerSymbol()
	var rows = fr.PLS.FrameBits() / bps
	Assert(len(slots)*plSlotLength == rows)
	for r := range rows {
		var ss = slots[r/plSlotLength].Symbols[r%plSlotLength]
		for col := range bps {
			var l = ss.bitLLR(symbolBit(mc, bps, col))
			if bps == 2 {
				fr.Bits[2*r+col] = softBitFromLLR[B](l)
			} else {
				fr.Bits[col*rows+r] = softBitFromLLR[B](l)
			}
		}
	}
}

// s2Interleaver emits a PLS pseudo-slot followed by the data slots for
// each FECFRAME.
type s2Interleaver struct {
	in  *pipebuf[FECFrame[HardBit]]
	out *pipebuf[PLSlot[HardSS]]
}

func newS2Interleaver(in *pipebuf[FECFrame[HardBit]], out *pipebuf[PLSlot[HardSS]]) *s2Interleaver {
	out.reserve(1 + maxSlotsPerFrame)
	return &s2Interleaver{in: in, out: out}
}

func (il *s2Interleaver) run() {
	for il.in.readable() >= 1 && il.out.writable() >= 1+maxSlotsPerFrame {
		var fr = &il.in.rd()[0]
		var mc, err = checkModcod(fr.PLS.Modcod)
		Assert(err == nil)
		var nslots = mc.slots(fr.PLS.SF)
		var pout = il.out.wr()
		pout[0] = PLSlot[HardSS]{IsPLS: true, PLS: fr.PLS}
		for s := 1; s <= nslots; s++ {
			pout[s].IsPLS = false
		}
		interleaveFrame(mc, fr, pout[1:1+nslots])
		il.in.read(1)
		il.out.written(1 + nslots)
	}
}

type s2Deinterleaver[S SoftSymbol, B SoftBit] struct {
	in  *pipebuf[PLSlot[S]]
	out *pipebuf[FECFrame[B]]
}

func newS2Deinterleaver[S SoftSymbol, B SoftBit](in *pipebuf[PLSlot[S]], out *pipebuf[FECFrame[B]]) *s2Deinterleaver[S, B] {
	in.reserve(1 + maxSlotsPerFrame)
	return &s2Deinterleaver[S, B]{in: in, out: out}
}

func (d *s2Deinterleaver[S, B]) run() {
	for d.in.readable() >= 1 && d.out.writable() >= 1 {
		var pin = d.in.rd()
		// The frame receiver only ever emits whole frames.
		Assert(pin[0].IsPLS)
		var pls = pin[0].PLS
		var mc, err = checkModcod(pls.Modcod)
		Assert(err == nil)
		var nslots = mc.slots(pls.SF)
		if len(pin) < 1+nslots {
			return
		}
		var fr = &d.out.wr()[0]
		fr.PLS = pls
		deinterleaveFrame(mc, pin[1:1+nslots], fr)
		d.in.read(1 + nslots)
		d.out.written(1)
	}
}
