package dvbrx

import (
	"fmt"
	"strings"
)

// Transport-stream constants shared by the DVB-S and DVB-S2 chains.
const (
	TSPacketSize = 188
	RSPacketSize = 204

	mpegSync          = 0x47
	mpegSyncInv       = 0xb8 // First packet of each randomizer period.
	mpegSyncCorrupted = 0x55 // XORed into the sync byte when RS gives up.
)

type TSPacket [TSPacketSize]byte
type RSPacket [RSPacketSize]byte

// CodeRate numbering follows the order of the FEC tables; do not reorder.
type CodeRate int

const (
	FEC12 CodeRate = iota
	FEC23
	FEC46 // QPSK 2/3 handled as 4/6 by the Viterbi decoder.
	FEC34
	FEC56
	FEC78
	FEC45
	FEC89
	FEC910
	FEC14
	FEC13
	FEC25
	FEC35
	fecCount
)

var codeRateNames = [fecCount]string{
	FEC12:  "1/2",
	FEC23:  "2/3",
	FEC46:  "4/6",
	FEC34:  "3/4",
	FEC56:  "5/6",
	FEC78:  "7/8",
	FEC45:  "4/5",
	FEC89:  "8/9",
	FEC910: "9/10",
	FEC14:  "1/4",
	FEC13:  "1/3",
	FEC25:  "2/5",
	FEC35:  "3/5",
}

func (r CodeRate) String() string {
	if r < 0 || r >= fecCount {
		return fmt.Sprintf("CodeRate(%d)", int(r))
	}
	return codeRateNames[r]
}

func ParseCodeRate(s string) (CodeRate, error) {
	var t = strings.TrimSpace(s)
	for r, name := range codeRateNames {
		if name == t || strings.ReplaceAll(name, "/", "") == t {
			return CodeRate(r), nil
		}
	}
	return 0, fmt.Errorf("code rate %q: %w", s, ErrUnsupported)
}

func (r CodeRate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *CodeRate) UnmarshalText(b []byte) error {
	var v, err = ParseCodeRate(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
