package dvbrx

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

/*-------------------------------------------------------------
 *
 * Purpose:	Source of LDPC tables.
 *
 * Description:	Tables can be loaded from a directory holding one text
 *		file per code, named nf<rate>.txt or sf<rate>.txt with the
 *		rate digits only (nf12.txt, sf35.txt, nf910.txt).  Each
 *		line holds the addresses of one row, as printed in
 *		EN 302 307 annexes B and C.
 *
 *		Without a directory a built-in set is generated: the
 *		same q, row count and degree profile as the standard's
 *		codes, addresses from a fixed-seed generator.  Both ends
 *		of a link must use the same set.
 *
 *--------------------------------------------------------------*/

// ParseLDPCTable reads the text layout for a code with k message bits and n
// codeword bits.
func ParseLDPCTable(r io.Reader, k, n int) (*LDPCTable, error) {
	var t = &LDPCTable{Q: (n - k) / ldpcGroup}
	var sc = bufio.NewScanner(r)
	var line = 0
	for sc.Scan() {
		line++
		var fields = strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var row = make([]int, 0, len(fields))
		for _, f := range fields {
			var a, err = strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: %q: %w", line, f, ErrBadTable)
			}
			row = append(row, a)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading LDPC table: %w", err)
	}
	if err := t.validate(k, n); err != nil {
		return nil, err
	}
	return t, nil
}

func ldpcTableName(sf bool, rate CodeRate) string {
	return IfThenElse(sf, "sf", "nf") + strings.ReplaceAll(rate.String(), "/", "") + ".txt"
}

// Degree of the first third of the rows; the rest have 3.
var ldpcHighDegree = [fecCount]int{
	FEC14:  12,
	FEC13:  12,
	FEC25:  12,
	FEC12:  8,
	FEC35:  12,
	FEC23:  13,
	FEC34:  12,
	FEC45:  11,
	FEC56:  13,
	FEC89:  4,
	FEC910: 4,
}

// builtinLDPCTable generates a table with the standard's shape.
func builtinLDPCTable(sf bool, rate CodeRate, k, n int) *LDPCTable {
	var nk = n - k
	var nrows = k / ldpcGroup
	var rng = rand.New(rand.NewPCG(uint64(b2i(sf))<<8|uint64(rate), uint64(n)<<16|uint64(k)))
	var t = &LDPCTable{Q: nk / ldpcGroup, Rows: make([][]int, nrows)}
	var nhigh = nrows / 3
	for i := range t.Rows {
		var deg = IfThenElse(i < nhigh, max(ldpcHighDegree[rate], 4), 3)
		var row = make([]int, 0, deg)
		for len(row) < deg {
			var a = rng.IntN(nk)
			if !containsInt(row, a) {
				row = append(row, a)
			}
		}
		t.Rows[i] = row
	}
	return t
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// LDPCCodes lazily builds and caches one code per frame size and rate.
type LDPCCodes struct {
	dir   string
	once  [2][fecCount]sync.Once
	codes [2][fecCount]*LDPCCode
	errs  [2][fecCount]error
}

// NewLDPCCodes uses tables from dir, or the built-in set if dir is empty.
func NewLDPCCodes(dir string) *LDPCCodes {
	return &LDPCCodes{dir: dir}
}

var builtinLDPCCodes = NewLDPCCodes("")

func (s *LDPCCodes) Code(sf bool, rate CodeRate) (*LDPCCode, error) {
	var fi, err = lookupFEC(sf, rate)
	if err != nil {
		return nil, err
	}
	var i = b2i(sf)
	s.once[i][rate].Do(func() {
		var n = IfThenElse(sf, shortFrameBits, normalFrameBits)
		var t *LDPCTable
		if s.dir == "" {
			t = builtinLDPCTable(sf, rate, fi.Kldpc, n)
		} else {
			var path = filepath.Join(s.dir, ldpcTableName(sf, rate))
			var f, err = os.Open(path)
			if err != nil {
				s.errs[i][rate] = fmt.Errorf("LDPC table: %w", err)
				return
			}
			defer f.Close()
			t, err = ParseLDPCTable(f, fi.Kldpc, n)
			if err != nil {
				s.errs[i][rate] = fmt.Errorf("%s: %w", path, err)
				return
			}
		}
		s.codes[i][rate], s.errs[i][rate] = NewLDPCCode(t, fi.Kldpc, n)
	})
	return s.codes[i][rate], s.errs[i][rate]
}
