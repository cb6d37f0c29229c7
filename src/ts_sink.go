package dvbrx

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"
)

// TSSink receives the recovered transport stream, one packet at a time.
type TSSink interface {
	WritePacket(p *TSPacket) error
	Close() error
}

// TSFileSink writes packets to a file or stdout.
type TSFileSink struct {
	name string
	bw   *bufio.Writer
	file *os.File // nil for stdout.
}

/*------------------------------------------------------------------
 *
 * Name:	NewTSFileSink
 *
 * Inputs:	path	- File name, "-" or empty for stdout.
 *		pattern	- If not empty, a strftime pattern expanded with
 *			  now.  Overrides path.
 *
 * Description:	A pattern like "dvb-%Y%m%d-%H%M%S.ts" gives each run
 *		its own capture.
 *
 *---------------------------------------------------------------*/

func NewTSFileSink(path, pattern string, now time.Time) (*TSFileSink, error) {
	if pattern != "" {
		var name, err = strftime.Format(pattern, now)
		if err != nil {
			return nil, fmt.Errorf("output pattern %q: %w", pattern, err)
		}
		path = name
	}
	if path == "" || path == "-" {
		return &TSFileSink{name: "stdout", bw: bufio.NewWriterSize(os.Stdout, 64*TSPacketSize)}, nil
	}

	var f, err = os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("TS output: %w", err)
	}
	return &TSFileSink{name: path, bw: bufio.NewWriterSize(f, 64*TSPacketSize), file: f}, nil
}

func (s *TSFileSink) Name() string { return s.name }

func (s *TSFileSink) WritePacket(p *TSPacket) error {
	var _, err = s.bw.Write(p[:])
	return err
}

func (s *TSFileSink) Close() error {
	var err = s.bw.Flush()
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// tsWriterSink adapts an io.Writer, for tests and pipes.
type tsWriterSink struct{ w io.Writer }

func NewTSWriterSink(w io.Writer) TSSink { return tsWriterSink{w} }

func (s tsWriterSink) WritePacket(p *TSPacket) error {
	var _, err = s.w.Write(p[:])
	return err
}

func (tsWriterSink) Close() error { return nil }
