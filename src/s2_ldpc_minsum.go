package dvbrx

import (
	"math"
	"sync"
)

/*-------------------------------------------------------------
 *
 * Purpose:	Soft LDPC decoding, layered normalized min-sum.
 *
 * Description:	Checks are processed one at a time (one layer each),
 *		updating the posterior of every bit they touch before
 *		the next check runs.  A check's edges are its
 *		information bits plus parity bits j and j-1.  Stops as
 *		soon as the hard decisions satisfy every check.
 *
 *--------------------------------------------------------------*/

type MinSumDecoder struct {
	MaxTrials int     // Iterations over all checks.
	Scale     float32 // Normalization of check messages, 0 for 0.75.
}

type minSumGraph struct {
	offsets []int32 // Check j uses edges[offsets[j]:offsets[j+1]].
	edges   []int32 // Codeword bit index.
}

var minSumGraphs sync.Map // *LDPCCode -> *minSumGraph

func minSumGraphFor(code *LDPCCode) *minSumGraph {
	if g, ok := minSumGraphs.Load(code); ok {
		return g.(*minSumGraph)
	}
	var nk = code.N - code.K
	var g = &minSumGraph{offsets: make([]int32, nk+1)}
	for j := range nk {
		g.offsets[j] = int32(len(g.edges))
		g.edges = append(g.edges, code.cnodes[j]...)
		g.edges = append(g.edges, int32(code.K+j))
		if j > 0 {
			g.edges = append(g.edges, int32(code.K+j-1))
		}
	}
	g.offsets[nk] = int32(len(g.edges))
	var actual, _ = minSumGraphs.LoadOrStore(code, g)
	return actual.(*minSumGraph)
}

func (d *MinSumDecoder) Decode(code *LDPCCode, llr []LLRBit, cw []HardBit) int {
	var scale = IfThenElse(d.Scale > 0, d.Scale, 0.75)
	var g = minSumGraphFor(code)
	var n = code.N

	var post = make([]float32, n)
	for i, l := range llr[:n] {
		post[i] = float32(l)
	}
	var msgs = make([]float32, len(g.edges))
	var q = make([]float32, 0, 16)

	hardenLLRs(llr[:n], cw[:n])
	if code.Syndrome(cw) == 0 {
		return 0
	}

	for range max(d.MaxTrials, 1) {
		for j := range len(g.offsets) - 1 {
			var e0, e1 = g.offsets[j], g.offsets[j+1]
			q = q[:0]
			var min1, min2 = float32(math.Inf(1)), float32(math.Inf(1))
			var imin = -1
			var sign = false
			for e := e0; e < e1; e++ {
				var v = post[g.edges[e]] - msgs[e]
				q = append(q, v)
				var a = abs32(v)
				if a < min1 {
					min2 = min1
					min1 = a
					imin = int(e - e0)
				} else if a < min2 {
					min2 = a
				}
				sign = sign != (v < 0)
			}
			for i, v := range q {
				var m = IfThenElse(i == imin, min2, min1) * scale
				if sign != (v < 0) {
					m = -m
				}
				var e = e0 + int32(i)
				msgs[e] = m
				post[g.edges[e]] = v + m
			}
		}

		for i, p := range post {
			cw[i] = HardBit(b2i(p < 0))
		}
		if code.Syndrome(cw) == 0 {
			return countChanged(llr[:n], cw[:n])
		}
	}
	return -1
}

func abs32(x float32) float32 {
	return IfThenElse(x < 0, -x, x)
}
