package dvbrx

import (
	"slices"
)

/*-------------------------------------------------------------
 *
 * Purpose:	Hard-decision LDPC decoding by bit flipping.
 *
 * Description:	A bit's score is twice the number of unsatisfied checks
 *		it touches minus its degree, so a positive score means
 *		most of its checks are bad.  Only bits next to a bad check
 *		can score above zero.  Each pass flips every bit at the
 *		highest score.
 *
 *		The parity bits form a chain, one check each side of
 *		every bit, so a run of wrong parity bits only shows at
 *		its two ends.  When no bit scores above zero, runs
 *		between neighbouring bad checks are closed.
 *
 *		Still stuck, an information bit near the bad checks is
 *		flipped by hand and kept out of the following passes.
 *		The try is kept if it lowers the number of bad checks,
 *		otherwise undone.  This gets out of the common trap of
 *		one wrong information bit next to wrong parity bits,
 *		where the checks cancel pairwise.
 *
 *--------------------------------------------------------------*/

type BitFlipParams struct {
	MaxFlips int `yaml:"max_flips"`    // Per codeword, tries included.
	MaxRun   int `yaml:"max_run"`      // Longest parity run closed between two bad checks.
	Escapes  int `yaml:"escapes"`      // Information bits tried each time the passes stall.
	Depth    int `yaml:"escape_depth"` // Flips allowed after each try.
}

var DefaultBitFlipParams = BitFlipParams{
	MaxFlips: 4000,
	MaxRun:   16,
	Escapes:  64,
	Depth:    64,
}

type BitFlipDecoder struct {
	Params BitFlipParams
}

func (d *BitFlipDecoder) Decode(code *LDPCCode, llr []LLRBit, cw []HardBit) int {
	hardenLLRs(llr[:code.N], cw[:code.N])
	DecodeBitflip(code, cw, d.Params)
	if code.Syndrome(cw) != 0 {
		return -1
	}
	return countChanged(llr[:code.N], cw[:code.N])
}

type bitflipState struct {
	code  *LDPCCode
	cw    []HardBit
	bad   []bool // Per check.
	nbad  int
	flips int
	log   []int32 // Flips since the start of a try.

	badList []int32
	cand    []int32
	scores  []int
	seen    []uint32 // Per bit, epoch of the last candidate scan.
	epoch   uint32
}

func newBitflipState(code *LDPCCode, cw []HardBit) *bitflipState {
	var k, nk = code.K, code.N - code.K
	var s = &bitflipState{
		code: code,
		cw:   cw[:code.N],
		bad:  make([]bool, nk),
		seen: make([]uint32, code.N),
	}
	var prev HardBit
	for j := range nk {
		var p = cw[k+j] & 1
		var v = p ^ prev
		for _, m := range code.cnodes[j] {
			v ^= cw[m] & 1
		}
		s.bad[j] = v != 0
		s.nbad += b2i(v != 0)
		prev = p
	}
	return s
}

// checks lists the checks bit v takes part in.
func (s *bitflipState) checks(v int32, buf *[2]int32) []int32 {
	var k = int32(s.code.K)
	if v < k {
		return s.code.vnodes[v]
	}
	var j = v - k
	buf[0] = j
	if int(j+1) < len(s.bad) {
		buf[1] = j + 1
		return buf[:2]
	}
	return buf[:1]
}

func (s *bitflipState) toggle(v int32) {
	var buf [2]int32
	s.cw[v] ^= 1
	for _, c := range s.checks(v, &buf) {
		s.bad[c] = !s.bad[c]
		s.nbad += IfThenElse(s.bad[c], 1, -1)
	}
}

func (s *bitflipState) flip(v int32) {
	s.toggle(v)
	s.flips++
	s.log = append(s.log, v)
}

func (s *bitflipState) score(v int32) int {
	var buf [2]int32
	var cs = s.checks(v, &buf)
	var u = 0
	for _, c := range cs {
		u += b2i(s.bad[c])
	}
	return 2*u - len(cs)
}

func (s *bitflipState) isBad(c int32) bool {
	return c >= 0 && int(c) < len(s.bad) && s.bad[c]
}

func (s *bitflipState) collectBad() {
	s.badList = s.badList[:0]
	for c, b := range s.bad {
		if b {
			s.badList = append(s.badList, int32(c))
		}
	}
}

func (s *bitflipState) consider(v, tabu int32) {
	if v == tabu || s.seen[v] == s.epoch {
		return
	}
	s.seen[v] = s.epoch
	s.cand = append(s.cand, v)
	s.scores = append(s.scores, s.score(v))
}

// passes flips bits until every check is satisfied, nothing scores above
// zero with no parity run to close, or the budget runs out.
func (s *bitflipState) passes(budget, maxRun int, tabu int32) bool {
	var k = int32(s.code.K)
	for s.nbad > 0 && s.flips < budget {
		s.collectBad()
		s.epoch++
		s.cand, s.scores = s.cand[:0], s.scores[:0]
		for _, c := range s.badList {
			for _, m := range s.code.cnodes[c] {
				s.consider(m, tabu)
			}
			s.consider(k+c, tabu)
			if c > 0 {
				s.consider(k+c-1, tabu)
			}
		}
		if len(s.cand) == 0 {
			return false
		}

		var best = slices.Max(s.scores)
		if best > 0 {
			for i, v := range s.cand {
				if s.scores[i] == best {
					s.flip(v)
				}
			}
			continue
		}

		var closed = false
		for i := 0; i+1 < len(s.badList); {
			var a, b = s.badList[i], s.badList[i+1]
			if int(b-a) > maxRun {
				i++
				continue
			}
			for j := a; j < b; j++ {
				s.flip(k + j)
			}
			closed = true
			i += 2
		}
		if !closed {
			return false
		}
	}
	return s.nbad == 0
}

// nearBad counts the checks of v that are bad or next to a bad one.
func (s *bitflipState) nearBad(v int32) int {
	var n = 0
	for _, c := range s.code.vnodes[v] {
		n += b2i(s.isBad(c-1) || s.isBad(c) || s.isBad(c+1))
	}
	return n
}

// escape tries information bits until one lowers the number of bad checks.
func (s *bitflipState) escape(p BitFlipParams) bool {
	var before = s.nbad
	s.collectBad()
	s.epoch++
	s.cand = s.cand[:0]
	for _, c := range s.badList {
		for cc := c - 1; cc <= c+1; cc++ {
			if cc < 0 || int(cc) >= len(s.bad) {
				continue
			}
			for _, m := range s.code.cnodes[cc] {
				if s.seen[m] != s.epoch {
					s.seen[m] = s.epoch
					s.cand = append(s.cand, m)
				}
			}
		}
	}
	var tries = slices.Clone(s.cand)
	var near = make(map[int32]int, len(tries))
	for _, v := range tries {
		near[v] = s.nearBad(v)
	}
	slices.SortStableFunc(tries, func(a, b int32) int { return near[b] - near[a] })

	for _, v := range tries[:min(len(tries), p.Escapes)] {
		if s.flips >= p.MaxFlips {
			return false
		}
		s.log = s.log[:0]
		s.flip(v)
		s.passes(min(p.MaxFlips, s.flips+p.Depth), p.MaxRun, v)
		if s.nbad < before {
			return true
		}
		for i := len(s.log) - 1; i >= 0; i-- {
			s.toggle(s.log[i])
		}
	}
	return false
}

/*-------------------------------------------------------------
 *
 * Name:	DecodeBitflip
 *
 * Purpose:	Correct a hard codeword in place.
 *
 * Inputs:	cw	- N bits, one per byte.
 *		p	- Tunables.
 *
 * Returns:	Number of flips made, undone tries included.  The
 *		codeword is the best effort; check Syndrome to know
 *		whether it converged.
 *
 *--------------------------------------------------------------*/

func DecodeBitflip(code *LDPCCode, cw []HardBit, p BitFlipParams) int {
	var s = newBitflipState(code, cw)
	for !s.passes(p.MaxFlips, p.MaxRun, -1) && s.flips < p.MaxFlips {
		if !s.escape(p) {
			break
		}
	}
	return s.flips
}
