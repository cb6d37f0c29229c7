package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	DVB-S2 LDPC code: parity-check graph, encoder and the
 *		decoder interface.
 *
 * Description:	The standard describes each code with one table row
 *		per group of 360 information bits.  Information bit m
 *		in row i contributes to parity accumulator
 *
 *			(x + (m mod 360) * q) mod (N-K)
 *
 *		for every address x in the row, q = (N-K)/360.  The
 *		accumulators are then chained: p[j] ^= p[j-1].  Check j
 *		is therefore satisfied when its information connections,
 *		p[j] and p[j-1] sum to zero.
 *
 *		Bits are unpacked throughout, one per byte, codeword
 *		order: K information bits then N-K parity bits.
 *
 *--------------------------------------------------------------*/

import (
	"fmt"
)

const (
	ldpcGroup   = 360
	ldpcMaxRows = normalFrameBits * 9 / 10 / ldpcGroup
	ldpcMaxCols = 13
)

// LDPCTable is the compact description of one code.
type LDPCTable struct {
	Q    int
	Rows [][]int
}

// LDPCCode is the expanded bipartite graph.
type LDPCCode struct {
	K, N   int
	vnodes [][]int32 // Checks connected to each information bit.
	cnodes [][]int32 // Information bits connected to each check.
}

/*-------------------------------------------------------------
 *
 * Name:	NewLDPCCode
 *
 * Purpose:	Expand a table into the check/variable graph.
 *
 * Inputs:	table	- Rows of addresses.
 *		k, n	- Message and codeword bits.
 *
 * Errors:	ErrBadTable when the table does not fit k and n.
 *
 *--------------------------------------------------------------*/

func NewLDPCCode(table *LDPCTable, k, n int) (*LDPCCode, error) {
	if err := table.validate(k, n); err != nil {
		return nil, err
	}
	var nk = n - k
	var c = &LDPCCode{
		K:      k,
		N:      n,
		vnodes: make([][]int32, k),
		cnodes: make([][]int32, nk),
	}
	var m = 0
	for _, row := range table.Rows {
		for j := range ldpcGroup {
			var edges = make([]int32, len(row))
			for e, x := range row {
				var a = int32((x + j*table.Q) % nk)
				edges[e] = a
				c.cnodes[a] = append(c.cnodes[a], int32(m))
			}
			c.vnodes[m] = edges
			m++
		}
	}
	return c, nil
}

func (t *LDPCTable) validate(k, n int) error {
	var nk = n - k
	if k <= 0 || nk <= 0 || k%ldpcGroup != 0 || nk%ldpcGroup != 0 {
		return fmt.Errorf("LDPC(%d,%d): %w", n, k, ErrBadTable)
	}
	if len(t.Rows) != k/ldpcGroup || len(t.Rows) > ldpcMaxRows {
		return fmt.Errorf("LDPC(%d,%d): %d rows: %w", n, k, len(t.Rows), ErrBadTable)
	}
	if t.Q*ldpcGroup != nk {
		return fmt.Errorf("LDPC(%d,%d): q=%d: %w", n, k, t.Q, ErrBadTable)
	}
	for i, row := range t.Rows {
		if len(row) == 0 || len(row) > ldpcMaxCols {
			return fmt.Errorf("LDPC(%d,%d): row %d has %d columns: %w", n, k, i, len(row), ErrBadTable)
		}
		for _, x := range row {
			if x < 0 || x >= nk {
				return fmt.Errorf("LDPC(%d,%d): row %d address %d: %w", n, k, i, x, ErrBadTable)
			}
		}
	}
	return nil
}

func (c *LDPCCode) String() string {
	var nedges = 0
	for _, v := range c.vnodes {
		nedges += len(v)
	}
	return fmt.Sprintf("LDPC(%d,%d) %.2f edges/vnode %.2f edges/cnode",
		c.N, c.K, float64(nedges)/float64(c.K), float64(nedges)/float64(c.N-c.K))
}

// accumulate computes the parity accumulators of msg, before chaining.
func (c *LDPCCode) accumulate(msg []HardBit, parity []HardBit) {
	clear(parity)
	for m, b := range msg[:c.K] {
		if b&1 == 0 {
			continue
		}
		for _, a := range c.vnodes[m] {
			parity[a] ^= 1
		}
	}
}

// Encode writes the N-K parity bits of msg.
func (c *LDPCCode) Encode(msg []HardBit, parity []HardBit) {
	Assert(len(msg) >= c.K && len(parity) >= c.N-c.K)
	parity = parity[:c.N-c.K]
	c.accumulate(msg, parity)
	for j := 1; j < len(parity); j++ {
		parity[j] ^= parity[j-1]
	}
}

// Syndrome counts unsatisfied checks in a hard codeword.
func (c *LDPCCode) Syndrome(cw []HardBit) int {
	Assert(len(cw) >= c.N)
	var nk = c.N - c.K
	var bad = 0
	var prev HardBit
	for j := range nk {
		var p = cw[c.K+j] & 1
		var s = p ^ prev
		for _, v := range c.cnodes[j] {
			s ^= cw[v] & 1
		}
		if s != 0 {
			bad++
		}
		prev = p
	}
	return bad
}

// LDPCDecoder corrects one codeword.  llr holds N channel values, cw
// receives the N decided bits.  Returns the number of bits that differ
// from the hard channel decisions, or -1 when checks still fail.
type LDPCDecoder interface {
	Decode(code *LDPCCode, llr []LLRBit, cw []HardBit) int
}

func hardenLLRs(llr []LLRBit, cw []HardBit) {
	for i, l := range llr {
		cw[i] = HardBit(b2i(llrHarden(int8(l))))
	}
}

func countChanged(llr []LLRBit, cw []HardBit) int {
	var n = 0
	for i, l := range llr {
		if HardBit(b2i(llrHarden(int8(l)))) != cw[i] {
			n++
		}
	}
	return n
}
