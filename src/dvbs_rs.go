package dvbrx

// SPDX-FileCopyrightText: 2002 Phil Karn, KA9Q
// SPDX-FileCopyrightText: The Samoyed Authors

// Reed-Solomon RS(204,188, t=8), the outer code of DVB-S.
// EN 300 421 section 4.4.2: shortened from RS(255,239) over GF(256) with
// field polynomial x^8+x^4+x^3+x^2+1 and code generator roots
// alpha^0 .. alpha^15.
//
// Encoder and decoder are Phil Karn's, also used for FX.25, with the
// shortening handled by a count of virtual leading zero bytes ("pad").

import (
	"github.com/charmbracelet/log"
)

type rsCodec struct {
	gf      *galoisField
	nroots  int
	fcr     int
	prim    int
	iprim   int
	pad     int
	genpoly []int // Index form.
}

var dvbsRS = func() *rsCodec {
	var rs, err = newRSCodec(0x11d, 0, 1, 16, 255-RSPacketSize)
	Assert(err == nil)
	return rs
}()

/*-------------------------------------------------------------
 *
 * Name:	newRSCodec
 *
 * Purpose:	Set up a Reed-Solomon codec over GF(256).
 *
 * Inputs:	gfpoly	- Field generator polynomial.
 *		fcr	- First root of the code generator, index form.
 *		prim	- Primitive element used to step through roots.
 *		nroots	- Number of check symbols.
 *		pad	- Zero symbols removed by shortening.
 *
 *--------------------------------------------------------------*/

func newRSCodec(gfpoly uint32, fcr, prim, nroots, pad int) (*rsCodec, error) {
	var gf, err = newGaloisField(8, gfpoly)
	if err != nil {
		return nil, err
	}
	if fcr < 0 || fcr > gf.n || prim <= 0 || prim > gf.n || nroots <= 0 || nroots >= gf.n {
		return nil, ErrUnsupported
	}
	if pad < 0 || pad >= gf.n-nroots {
		return nil, ErrUnsupported
	}

	var rs = &rsCodec{gf: gf, nroots: nroots, fcr: fcr, prim: prim, pad: pad}

	// prim-th root of 1, used in decoding.
	var iprim = 1
	for iprim%prim != 0 {
		iprim += gf.n
	}
	rs.iprim = iprim / prim

	// Form generator polynomial from its roots, in polynomial form first.
	var g = make([]uint16, nroots+1)
	g[0] = 1
	for i, root := 0, fcr*prim; i < nroots; i, root = i+1, root+prim {
		g[i+1] = 1
		for j := i; j > 0; j-- {
			if g[j] != 0 {
				g[j] = g[j-1] ^ gf.alpha[gf.modn(int(gf.index[g[j]])+root)]
			} else {
				g[j] = g[j-1]
			}
		}
		g[0] = gf.alpha[gf.modn(int(gf.index[g[0]])+root)]
	}
	rs.genpoly = make([]int, nroots+1)
	for i := range g {
		rs.genpoly[i] = int(gf.index[g[i]])
	}

	return rs, nil
}

func (rs *rsCodec) dataLen() int {
	return rs.gf.n - rs.nroots - rs.pad
}

// encode computes the check bytes for data[:dataLen()] into parity[:nroots].
func (rs *rsCodec) encode(data []byte, parity []byte) {
	var gf = rs.gf
	var a0 = gf.n
	var nroots = rs.nroots

	for i := range nroots {
		parity[i] = 0
	}

	for i := 0; i < rs.dataLen(); i++ {
		var feedback = int(gf.index[uint16(data[i]^parity[0])])

		if feedback != a0 {
			for j := 1; j < nroots; j++ {
				parity[j] ^= byte(gf.alpha[gf.modn(feedback+rs.genpoly[nroots-j])])
			}
		}

		copy(parity, parity[1:nroots])

		if feedback != a0 {
			parity[nroots-1] = byte(gf.alpha[gf.modn(feedback+rs.genpoly[0])])
		} else {
			parity[nroots-1] = 0
		}
	}
}

/*-------------------------------------------------------------
 *
 * Name:	decode
 *
 * Purpose:	Correct errors in place.
 *
 * Inputs:	data	- dataLen() message bytes followed by nroots check bytes.
 *
 * Returns:	Number of corrected symbols, or -1 if uncorrectable.
 *		data is left unmodified when uncorrectable.
 *
 *--------------------------------------------------------------*/

func (rs *rsCodec) decode(data []byte) int {
	var gf = rs.gf
	var nn = gf.n
	var a0 = nn
	var nroots = rs.nroots
	var length = nn - rs.pad
	Assert(len(data) >= length)

	var s = make([]int, nroots)
	var lambda = make([]int, nroots+1)
	var b = make([]int, nroots+1)
	var t = make([]int, nroots+1)
	var omega = make([]int, nroots+1)
	var reg = make([]int, nroots+1)
	var root = make([]int, nroots)
	var loc = make([]int, nroots)

	// Syndromes: evaluate data(x) at the roots of g(x).
	for i := range nroots {
		s[i] = int(data[0])
	}
	for j := 1; j < length; j++ {
		for i := range nroots {
			if s[i] == 0 {
				s[i] = int(data[j])
			} else {
				s[i] = int(data[j]) ^ int(gf.alpha[gf.modn(int(gf.index[s[i]])+(rs.fcr+i)*rs.prim)])
			}
		}
	}

	var synError = 0
	for i := range nroots {
		synError |= s[i]
		s[i] = int(gf.index[s[i]])
	}
	if synError == 0 {
		return 0
	}

	// Berlekamp-Massey.  lambda in polynomial form, b in index form.
	lambda[0] = 1
	for i := range b {
		b[i] = int(gf.index[lambda[i]])
	}

	var el = 0
	for r := 1; r <= nroots; r++ {
		var discr = 0
		for i := 0; i < r; i++ {
			if lambda[i] != 0 && s[r-i-1] != a0 {
				discr ^= int(gf.alpha[gf.modn(int(gf.index[lambda[i]])+s[r-i-1])])
			}
		}
		discr = int(gf.index[discr])

		if discr == a0 {
			copy(b[1:], b[:nroots])
			b[0] = a0
			continue
		}

		t[0] = lambda[0]
		for i := range nroots {
			if b[i] != a0 {
				t[i+1] = lambda[i+1] ^ int(gf.alpha[gf.modn(discr+b[i])])
			} else {
				t[i+1] = lambda[i+1]
			}
		}
		if 2*el <= r-1 {
			el = r - el
			for i := 0; i <= nroots; i++ {
				b[i] = IfThenElse(lambda[i] == 0, a0, gf.modn(int(gf.index[lambda[i]])-discr+nn))
			}
		} else {
			copy(b[1:], b[:nroots])
			b[0] = a0
		}
		copy(lambda, t)
	}

	var degLambda = 0
	for i := 0; i <= nroots; i++ {
		lambda[i] = int(gf.index[lambda[i]])
		if lambda[i] != a0 {
			degLambda = i
		}
	}

	// Chien search over every field element.
	copy(reg[1:], lambda[1:])
	var count = 0
	for i, k := 1, rs.iprim-1; i <= nn; i, k = i+1, gf.modn(k+rs.iprim) {
		var q = 1 // lambda[0] is always 0 in index form
		for j := degLambda; j > 0; j-- {
			if reg[j] != a0 {
				reg[j] = gf.modn(reg[j] + j)
				q ^= int(gf.alpha[reg[j]])
			}
		}
		if q != 0 {
			continue
		}
		if count == nroots {
			return -1
		}
		root[count] = i
		loc[count] = k
		count++
	}
	if count != degLambda {
		return -1
	}

	// Error evaluator omega(x) = s(x)*lambda(x) mod x^nroots, index form.
	var degOmega = 0
	for i := range nroots {
		var tmp = 0
		for j := min(degLambda, i); j >= 0; j-- {
			if s[i-j] != a0 && lambda[j] != a0 {
				tmp ^= int(gf.alpha[gf.modn(s[i-j]+lambda[j])])
			}
		}
		if tmp != 0 {
			degOmega = i
		}
		omega[i] = int(gf.index[tmp])
	}
	omega[nroots] = a0

	// Forney.  Compute every correction first so that a failure leaves data intact.
	var fix = make([]byte, count)
	for j := 0; j < count; j++ {
		if loc[j] < rs.pad {
			// Error located in the virtual zero bytes of the shortened code.
			return -1
		}

		var num1 = 0
		for i := degOmega; i >= 0; i-- {
			if omega[i] != a0 {
				num1 ^= int(gf.alpha[gf.modn(omega[i]+i*root[j])])
			}
		}
		var num2 = int(gf.alpha[gf.modn(root[j]*(rs.fcr-1)+nn)])

		// lambda[i+1] for i even is the formal derivative.
		var den = 0
		for i := min(degLambda, nroots-1) &^ 1; i >= 0; i -= 2 {
			if lambda[i+1] != a0 {
				den ^= int(gf.alpha[gf.modn(lambda[i+1]+i*root[j])])
			}
		}
		if den == 0 {
			return -1
		}
		if num1 != 0 {
			fix[j] = byte(gf.alpha[gf.modn(int(gf.index[num1])+int(gf.index[num2])+nn-int(gf.index[den]))])
		}
	}
	for j := 0; j < count; j++ {
		data[loc[j]-rs.pad] ^= fix[j]
	}

	return count
}

// rsEncoder appends 16 check bytes to each 188-byte packet.
type rsEncoder struct {
	in  *pipebuf[TSPacket]
	out *pipebuf[RSPacket]
}

func newRSEncoder(in *pipebuf[TSPacket], out *pipebuf[RSPacket]) *rsEncoder {
	return &rsEncoder{in: in, out: out}
}

func (e *rsEncoder) run() {
	for e.in.readable() >= 1 && e.out.writable() >= 1 {
		var pin = &e.in.rd()[0]
		var pout = &e.out.wr()[0]
		copy(pout[:], pin[:])
		dvbsRS.encode(pout[:TSPacketSize], pout[TSPacketSize:])
		e.in.read(1)
		e.out.written(1)
	}
}

/*-------------------------------------------------------------
 *
 * Name:	rsDecoder
 *
 * Purpose:	Correct RS(204,188) packets and strip the check bytes.
 *
 * Description:	An uncorrectable packet is passed through with its sync
 *		byte XORed with 0x55 so that the derandomizer can still
 *		keep its place in the 8-packet period.
 *
 *--------------------------------------------------------------*/

type rsDecoder struct {
	in     *pipebuf[RSPacket]
	out    *pipebuf[TSPacket]
	diag   Diagnostics
	logger *log.Logger

	bitcount uint64
	errcount uint64
}

func newRSDecoder(in *pipebuf[RSPacket], out *pipebuf[TSPacket], diag Diagnostics, logger *log.Logger) *rsDecoder {
	return &rsDecoder{in: in, out: out, diag: orNoDiag(diag), logger: orDefaultLogger(logger)}
}

func (d *rsDecoder) run() {
	for d.in.readable() >= 1 && d.out.writable() >= 1 {
		var pin = d.in.rd()[0]
		var pout = &d.out.wr()[0]

		var ncorr = dvbsRS.decode(pin[:])
		copy(pout[:], pin[:TSPacketSize])

		d.bitcount += RSPacketSize * 8
		if ncorr < 0 {
			pout[0] ^= mpegSyncCorrupted
			d.errcount += RSPacketSize * 8
			d.diag.Corrected("rs", -1)
		} else {
			d.errcount += uint64(ncorr)
			d.diag.Corrected("rs", ncorr)
			if ncorr > 0 {
				d.logger.Debug("RS corrected", "bytes", ncorr)
			}
		}

		d.in.read(1)
		d.out.written(1)
	}
}
