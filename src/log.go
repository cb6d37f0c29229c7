package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Logger setup shared by the command line tools.
 *
 * Description:	Everything goes to stderr so that stdout can carry the
 *		transport stream.  An optional strftime pattern puts a
 *		time stamp in front of each line, same as the -T option
 *		of the other tools.
 *
 *---------------------------------------------------------------*/

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

/*------------------------------------------------------------------
 *
 * Name:	NewLogger
 *
 * Inputs:	w		- Destination, usually os.Stderr.
 *		level		- debug, info, warn or error.
 *		debug		- Count of -d options.  Any forces debug level.
 *		timestamp	- strftime pattern, empty for none.
 *
 *---------------------------------------------------------------*/

func NewLogger(w io.Writer, level string, debug int, timestamp string) (*log.Logger, error) {
	var lvl, err = log.ParseLevel(IfThenElse(level == "", "info", level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if debug > 0 {
		lvl = log.DebugLevel
	}

	if timestamp != "" {
		var f, err = strftime.New(timestamp)
		if err != nil {
			return nil, fmt.Errorf("log timestamp %q: %w", timestamp, err)
		}
		w = &stampedWriter{w: w, f: f, now: time.Now}
	}

	var logger = log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportCaller:    debug > 1,
		ReportTimestamp: false,
	})
	return logger, nil
}

// NewLoggerFromConfig applies the logging fields of cfg.
func NewLoggerFromConfig(w io.Writer, cfg *Config) (*log.Logger, error) {
	return NewLogger(w, cfg.LogLevel, cfg.Debug, cfg.LogTimestamp)
}

// stampedWriter starts every line with the formatted time.
type stampedWriter struct {
	mu      sync.Mutex
	w       io.Writer
	f       *strftime.Strftime
	now     func() time.Time
	midLine bool
}

func (s *stampedWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n = len(p)
	for len(p) > 0 {
		if !s.midLine {
			if _, err := io.WriteString(s.w, s.f.FormatString(s.now())+" "); err != nil {
				return 0, err
			}
		}
		var line = p
		var i = bytes.IndexByte(p, '\n')
		if i >= 0 {
			line = p[:i+1]
		}
		if _, err := s.w.Write(line); err != nil {
			return 0, err
		}
		s.midLine = i < 0
		p = p[len(line):]
	}
	return n, nil
}
