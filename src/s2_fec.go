package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	DVB-S2 outer and inner FEC, both directions.
 *
 * Description:	Encoder: BB scrambling, BCH, LDPC.
 *		Decoder: LDPC, hard decisions, BCH, BB descrambling.
 *		A frame that BCH cannot correct is dropped; the
 *		deframer resynchronizes on the next one.
 *
 *--------------------------------------------------------------*/

import (
	"github.com/charmbracelet/log"
)

// BBFrame is a baseband frame, BBHEADER then data field, Kbch bits.
type BBFrame struct {
	PLS   PLS
	Bytes [kbchMax / 8]byte
}

// fecCodes bundles the tables both directions need.
type fecCodes struct {
	ldpc *LDPCCodes
	bch  *BCHCodes
}

func defaultFECCodes() fecCodes {
	return fecCodes{ldpc: builtinLDPCCodes, bch: builtinBCHCodes}
}

func (fc fecCodes) lookup(pls PLS) (*fecInfo, *LDPCCode, *BCHCode, error) {
	var mc, fi, err = fecFor(pls)
	if err != nil {
		return nil, nil, nil, err
	}
	ldpc, err := fc.ldpc.Code(pls.SF, mc.rate)
	if err != nil {
		return nil, nil, nil, err
	}
	bch, err := fc.bch.Code(pls.SF, mc.rate)
	if err != nil {
		return nil, nil, nil, err
	}
	return fi, ldpc, bch, nil
}

type s2FECEncoder struct {
	in     *pipebuf[BBFrame]
	out    *pipebuf[FECFrame[HardBit]]
	codes  fecCodes
	logger *log.Logger
	tmp    [kbchMax / 8]byte
}

func newS2FECEncoder(in *pipebuf[BBFrame], out *pipebuf[FECFrame[HardBit]], logger *log.Logger) *s2FECEncoder {
	return &s2FECEncoder{in: in, out: out, codes: defaultFECCodes(), logger: orDefaultLogger(logger)}
}

func (e *s2FECEncoder) run() {
	for e.in.readable() >= 1 && e.out.writable() >= 1 {
		var bb = &e.in.rd()[0]
		var fi, ldpc, bch, err = e.codes.lookup(bb.PLS)
		if err != nil {
			// Upstream only builds frames for supported MODCODs.
			e.logger.Error("S2 FEC encoder", "pls", bb.PLS, "err", err)
			e.in.read(1)
			continue
		}
		var fr = &e.out.wr()[0]
		fr.PLS = bb.PLS
		var nbytes = fi.Kbch / 8
		bbScramble(e.tmp[:nbytes], bb.Bytes[:nbytes])
		for i := range fi.Kbch {
			fr.Bits[i] = HardBit(getBit(e.tmp[:], i))
		}
		bch.Encode(fr.Bits[:fi.Kbch], fr.Bits[fi.Kbch:fi.Kldpc])
		ldpc.Encode(fr.Bits[:fi.Kldpc], fr.Bits[fi.Kldpc:ldpc.N])
		e.in.read(1)
		e.out.written(1)
	}
}

// fecJob is one frame through the decoder, inline or on a worker.
type fecJob struct {
	pls      PLS
	llr      []LLRBit
	cw       []HardBit
	out      BBFrame
	ldpcCorr int
	bchCorr  int
	err      error
	done     chan struct{}
}

func newFECJob() *fecJob {
	return &fecJob{
		llr: make([]LLRBit, normalFrameBits),
		cw:  make([]HardBit, normalFrameBits),
	}
}

/*-------------------------------------------------------------
 *
 * Name:	decode
 *
 * Purpose:	LDPC then BCH then descrambling of one frame.
 *
 * Description:	The BCH result is authoritative: an LDPC decoder that
 *		ran out of budget may still leave few enough errors.
 *		bchCorr < 0 means the frame must be dropped.
 *
 *--------------------------------------------------------------*/

func (j *fecJob) decode(codes fecCodes, dec LDPCDecoder) {
	var fi, ldpc, bch, err = codes.lookup(j.pls)
	if err != nil {
		j.err = err
		j.bchCorr = -1
		return
	}
	j.ldpcCorr = dec.Decode(ldpc, j.llr[:ldpc.N], j.cw[:ldpc.N])
	j.bchCorr = bch.Decode(j.cw[:fi.Kldpc])
	if j.bchCorr < 0 {
		return
	}
	j.out.PLS = j.pls
	var nbytes = fi.Kbch / 8
	var packed = j.out.Bytes[:nbytes]
	clear(packed)
	for i := range fi.Kbch {
		if j.cw[i] != 0 {
			packed[i>>3] |= 0x80 >> (i & 7)
		}
	}
	bbScramble(packed, packed)
}

type s2FECDecoder[B SoftBit] struct {
	in      *pipebuf[FECFrame[B]]
	out     *pipebuf[BBFrame]
	codes   fecCodes
	decoder LDPCDecoder
	pool    *LDPCWorkerPool // May be nil.
	diag    Diagnostics
	logger  *log.Logger

	inline  *fecJob
	free    []*fecJob
	nframes uint64
	ndrop   uint64
}

func newS2FECDecoder[B SoftBit](in *pipebuf[FECFrame[B]], out *pipebuf[BBFrame], decoder LDPCDecoder, pool *LDPCWorkerPool, diag Diagnostics, logger *log.Logger) *s2FECDecoder[B] {
	return &s2FECDecoder[B]{
		in:      in,
		out:     out,
		codes:   defaultFECCodes(),
		decoder: decoder,
		pool:    pool,
		diag:    orNoDiag(diag),
		logger:  orDefaultLogger(logger),
		inline:  newFECJob(),
	}
}

func (d *s2FECDecoder[B]) load(j *fecJob, fr *FECFrame[B]) {
	j.pls = fr.PLS
	j.err = nil
	var n = fr.PLS.FrameBits()
	for i, b := range fr.Bits[:n] {
		j.llr[i] = LLRBit(softBitLLR(b))
	}
}

func (d *s2FECDecoder[B]) run() {
	if d.pool == nil {
		for d.in.readable() >= 1 && d.out.writable() >= 1 {
			d.load(d.inline, &d.in.rd()[0])
			d.in.read(1)
			d.inline.decode(d.codes, d.decoder)
			d.emit(d.inline)
		}
		return
	}

	for d.in.readable() >= 1 {
		var j = d.getJob()
		d.load(j, &d.in.rd()[0])
		if !d.pool.Submit(j, func(j *fecJob) { j.decode(d.codes, d.decoder) }) {
			d.free = append(d.free, j)
			break
		}
		d.in.read(1)
	}
	d.collect(false)
}

// collect forwards finished frames in submission order.
func (d *s2FECDecoder[B]) collect(wait bool) {
	for d.out.writable() >= 1 {
		var j = d.pool.Next(wait)
		if j == nil {
			return
		}
		d.emit(j)
		d.free = append(d.free, j)
	}
}

// flush waits for every frame handed to the pool.
func (d *s2FECDecoder[B]) flush() {
	if d.pool != nil {
		d.collect(true)
	}
}

// pending reports frames accepted but not yet forwarded.
func (d *s2FECDecoder[B]) pending() int {
	if d.pool == nil {
		return 0
	}
	return d.pool.Pending()
}

func (d *s2FECDecoder[B]) getJob() *fecJob {
	if n := len(d.free); n > 0 {
		var j = d.free[n-1]
		d.free = d.free[:n-1]
		return j
	}
	return newFECJob()
}

func (d *s2FECDecoder[B]) emit(j *fecJob) {
	d.nframes++
	if j.err != nil {
		d.logger.Warn("S2 FEC: no code", "pls", j.pls, "err", j.err)
		return
	}
	d.diag.Corrected("ldpc", j.ldpcCorr)
	d.diag.Corrected("bch", j.bchCorr)
	if j.bchCorr < 0 {
		d.ndrop++
		d.logger.Debug("S2 FEC: uncorrectable frame", "pls", j.pls, "dropped", d.ndrop, "frames", d.nframes)
		return
	}
	d.out.wr()[0] = j.out
	d.out.written(1)
}
