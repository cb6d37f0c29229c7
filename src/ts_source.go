package dvbrx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

// OpenTSInput opens a transport stream file, "-" for stdin.  Names ending
// in .zst are decompressed.
func OpenTSInput(path string) (io.ReadCloser, error) {
	if path == "-" || path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	var f, err = os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("TS input: %w", err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("TS input %s: %w", path, err)
	}
	return &zstdFile{zr, f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

/*------------------------------------------------------------------
 *
 * Name:	ReadTS
 *
 * Purpose:	Call fn for every packet in r.
 *
 * Description:	The stream is assumed aligned.  If a sync byte is
 *		missing the reader slides forward one byte at a time
 *		until it finds two sync bytes a packet apart.  A
 *		trailing partial packet is dropped.
 *
 *---------------------------------------------------------------*/

func ReadTS(r io.Reader, logger *log.Logger, fn func(p *TSPacket) error) error {
	logger = orDefaultLogger(logger)
	var br = bufio.NewReaderSize(r, 256*TSPacketSize)
	var p TSPacket
	for {
		var peek, err = br.Peek(TSPacketSize + 1)
		if len(peek) < TSPacketSize {
			if errors.Is(err, io.EOF) {
				if len(peek) > 0 {
					logger.Warn("TS input: partial packet at end", "bytes", len(peek))
				}
				return nil
			}
			return fmt.Errorf("TS input: %w", err)
		}
		var aligned = peek[0] == mpegSync && (len(peek) == TSPacketSize || peek[TSPacketSize] == mpegSync)
		if !aligned {
			var skipped = 0
			for {
				peek, _ = br.Peek(TSPacketSize + 1)
				if len(peek) <= TSPacketSize || peek[0] == mpegSync && peek[TSPacketSize] == mpegSync {
					break
				}
				br.Discard(1) //nolint:errcheck
				skipped++
			}
			logger.Warn("TS input: lost sync", "skipped", skipped)
			if len(peek) < TSPacketSize {
				continue
			}
		}
		copy(p[:], peek)
		br.Discard(TSPacketSize) //nolint:errcheck
		if err := fn(&p); err != nil {
			return err
		}
	}
}
