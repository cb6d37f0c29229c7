package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	Soft Viterbi decoding of the DVB-S inner code with
 *		automatic resolution of the constellation ambiguity.
 *
 * Description:	The trellis is expanded to one transition per
 *		puncturing period: 64 states, 2^period branches, each
 *		branch emitting 'weight' coded bits, i.e. weight/bps
 *		constellation labels.  Puncturing is thereby built into
 *		the branch labels.
 *
 *		One decoder runs per sync, a sync being a rotation,
 *		optional conjugation and symbol offset within a period.
 *		Only the selected sync runs normally; every
 *		resyncPeriod chunks all of them run and the one whose best
 *		path metric grew the least takes over.
 *
 *--------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/charmbracelet/log"
)

const (
	viterbiStates    = 64
	viterbiChunkSize = 128 // Trellis steps per run.
)

type viterbiTrellis struct {
	period  int
	nshifts int // Labels per step.
	bps     int
	// Indexed by state<<period | input.
	next   []uint8
	labels []uint32 // nshifts labels, first in the most significant position.
}

func newViterbiTrellis(c *convCode, bps int) *viterbiTrellis {
	var t = &viterbiTrellis{
		period:  c.period,
		nshifts: c.weight / bps,
		bps:     bps,
	}
	var nin = 1 << c.period
	t.next = make([]uint8, viterbiStates*nin)
	t.labels = make([]uint32, viterbiStates*nin)
	for s := range viterbiStates {
		for u := range nin {
			// Register holds the six previous inputs in bits 0..5.
			var reg = uint32(s) << 1
			var acc uint64
			var nacc int
			for p := range c.period {
				c.step(&reg, uint8(u>>(c.period-1-p)&1), p, &acc, &nacc)
			}
			t.next[s<<c.period|u] = uint8(reg >> 1)
			t.labels[s<<c.period|u] = uint32(acc)
		}
	}
	return t
}

func (t *viterbiTrellis) label(cs uint32, k int) int {
	return int(cs>>((t.nshifts-1-k)*t.bps)) & (1<<t.bps - 1)
}

type viterbiDecoder struct {
	trellis *viterbiTrellis
	metrics [viterbiStates]int32
	paths   [viterbiStates]uint64
	nm      [viterbiStates]int32
	np      [viterbiStates]uint64
	depth   int // Steps between decision and output.
}

func newViterbiDecoder(t *viterbiTrellis) *viterbiDecoder {
	return &viterbiDecoder{trellis: t, depth: 64/t.period - 1}
}

// update advances one step.  symcost[k][l] is the cost of label l at
// position k.  Returns the input decided depth steps ago and the growth of
// the best path metric.
func (v *viterbiDecoder) update(symcost [][]int32) (uint32, int32) {
	var t = v.trellis
	var nin = 1 << t.period
	for s := range v.nm {
		v.nm[s] = math.MaxInt32
	}
	for s := range viterbiStates {
		var m0 = v.metrics[s]
		for u := range nin {
			var idx = s<<t.period | u
			var cs = t.labels[idx]
			var m = m0
			for k := range t.nshifts {
				m += symcost[k][t.label(cs, k)]
			}
			var ns = t.next[idx]
			if m < v.nm[ns] {
				v.nm[ns] = m
				v.np[ns] = v.paths[s]<<t.period | uint64(u)
			}
		}
	}

	var best = 0
	for s := 1; s < viterbiStates; s++ {
		if v.nm[s] < v.nm[best] {
			best = s
		}
	}
	var growth = v.nm[best]
	for s := range viterbiStates {
		v.metrics[s] = v.nm[s] - growth
		v.paths[s] = v.np[s]
	}
	var decided = uint32(v.paths[best]>>(v.depth*t.period)) & (1<<t.period - 1)
	return decided, growth
}

type viterbiSyncState struct {
	shift int
	lmap  []uint8 // Transmitted label to the label it is received as.
	dec   *viterbiDecoder
}

type viterbiSync[S SoftSymbol] struct {
	code    *convCode
	cstln   *Cstln
	trellis *viterbiTrellis
	in      *pipebuf[S]
	out     *pipebuf[byte]
	logger  *log.Logger

	syncs        []viterbiSyncState
	current      int
	resyncPhase  int
	resyncPeriod int

	symcost [][]int32
	total   []int64
}

func newViterbiSync[S SoftSymbol](c *Cstln, rate CodeRate, in *pipebuf[S], out *pipebuf[byte], logger *log.Logger) (*viterbiSync[S], error) {
	var code, err = newConvCode(rate)
	if err != nil {
		return nil, err
	}
	var bps = c.BitsPerSymbol()
	if bps < 1 || code.weight%bps != 0 {
		return nil, fmt.Errorf("code rate %v with %v: %w", rate, c.Kind, ErrUnsupported)
	}
	var t = newViterbiTrellis(code, bps)

	var nconj = IfThenElse(c.NSymbols() == 2, 1, 2)
	// 180 degrees for BPSK and QPSK is polarity inversion, handled by mpegSync.
	var nrot = IfThenElse(c.NSymbols() <= 4, max(c.NRotations/2, 1), c.NRotations)

	var v = &viterbiSync[S]{
		code:         code,
		cstln:        c,
		trellis:      t,
		in:           in,
		out:          out,
		logger:       orDefaultLogger(logger),
		resyncPeriod: 32,
	}
	var maps = make([][]uint8, nconj*nrot)
	for s := range nconj * nrot * t.nshifts {
		var rot = s % nrot
		var conj = (s / nrot) % nconj
		var shift = s / nrot / nconj
		if shift == 0 {
			maps[conj*nrot+rot] = invertLabelMap(labelMap(c, conj == 1, 2*math.Pi*float64(rot)/float64(c.NRotations)))
		}
		v.syncs = append(v.syncs, viterbiSyncState{
			shift: shift,
			lmap:  maps[conj*nrot+rot],
			dec:   newViterbiDecoder(t),
		})
	}
	v.symcost = make([][]int32, t.nshifts)
	for k := range v.symcost {
		v.symcost[k] = make([]int32, c.NSymbols())
	}
	v.total = make([]int64, len(v.syncs))
	out.reserve(viterbiChunkSize * code.period / 8)
	return v, nil
}

// labelMap maps each label to the label of its image under the given
// conjugation and rotation.
func labelMap(c *Cstln, conj bool, angle float64) []uint8 {
	var rot = cmplx.Rect(1, angle)
	var m = make([]uint8, c.NSymbols())
	for i, p := range c.Symbols {
		var z = complex128(p)
		if conj {
			z = cmplx.Conj(z)
		}
		z *= rot
		var best, bestD = 0, math.Inf(1)
		for j, q := range c.Symbols {
			var d = cmplx.Abs(z - complex128(q))
			if d < bestD {
				best, bestD = j, d
			}
		}
		m[i] = uint8(best)
	}
	return m
}

func invertLabelMap(m []uint8) []uint8 {
	var inv = make([]uint8, len(m))
	for i, j := range m {
		inv[j] = uint8(i)
	}
	return inv
}

// step charges each label the confidence of every received bit it
// disagrees with.
func (v *viterbiSync[S]) step(s int, pin []S) (uint32, int32) {
	var sy = &v.syncs[s]
	var t = v.trellis
	var llr [8]int32
	for k := range t.nshifts {
		var ss = pin[sy.shift+k]
		for b := range t.bps {
			llr[b] = int32(ss.bitLLR(b))
		}
		for l := range v.symcost[k] {
			var rx = sy.lmap[l]
			var cost int32
			for b := range t.bps {
				if (rx>>b)&1 != 0 {
					cost += max(llr[b], 0)
				} else {
					cost += max(-llr[b], 0)
				}
			}
			v.symcost[k][l] = cost
		}
	}
	return sy.dec.update(v.symcost)
}

func (v *viterbiSync[S]) run() {
	var t = v.trellis
	var period = v.code.period
	// Steps needed to fill the path before syncs can be compared.
	var discrDelay = 64 / period

	for v.in.readable() >= t.nshifts*viterbiChunkSize+(t.nshifts-1) && v.out.writable()*8 >= period*viterbiChunkSize {
		for s := range v.total {
			v.total[s] = 0
		}
		var outstream uint64
		var nout = 0
		var pin = v.in.rd()

		for block := range viterbiChunkSize {
			var p = pin[block*t.nshifts:]
			var result, growth = v.step(v.current, p)
			outstream = outstream<<period | uint64(result)
			nout += period
			if block >= discrDelay {
				v.total[v.current] -= int64(growth)
			}

			if v.resyncPhase == 0 {
				for s := range v.syncs {
					if s == v.current {
						continue
					}
					var _, g = v.step(s, p)
					if block >= discrDelay {
						v.total[s] -= int64(g)
					}
				}
			}

			for nout >= 8 {
				v.out.write(byte(outstream >> (nout - 8)))
				nout -= 8
			}
		}
		v.in.read(viterbiChunkSize * t.nshifts)
		Assert(nout == 0)

		if v.resyncPhase == 0 {
			var best = v.current
			for s := range v.syncs {
				if v.total[s] > v.total[best] {
					best = s
				}
			}
			if best != v.current {
				v.logger.Debug("viterbi sync", "from", v.current, "to", best)
				v.current = best
			}
		}
		v.resyncPhase++
		if v.resyncPhase >= v.resyncPeriod {
			v.resyncPhase = 0
		}
	}
}
