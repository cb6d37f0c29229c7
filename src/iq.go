package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Complex baseband samples in and out.
 *
 * Description:	Interleaved I,Q in one of four formats:
 *
 *		cu8	unsigned bytes centred on 127.5 (rtl-sdr)
 *		cs8	signed bytes (HackRF)
 *		cs16	signed 16 bit little endian
 *		cf32	32 bit float little endian
 *
 *		Integer formats are scaled to roughly the range of a
 *		signed byte, which is what the demodulators expect from
 *		their AGC starting point.
 *
 *		"-" is stdin or stdout.  A name ending in .zst is
 *		zstd compressed.  Plain files are memory mapped.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
)

type iqFormat struct {
	size   int // Bytes per complex sample.
	decode func(dst []complex64, src []byte)
	encode func(dst []byte, src []complex64)
}

var iqFormats = map[string]iqFormat{
	"cu8": {2,
		func(dst []complex64, src []byte) {
			for i := range dst {
				dst[i] = complex(float32(src[2*i])-127.5, float32(src[2*i+1])-127.5)
			}
		},
		func(dst []byte, src []complex64) {
			for i, z := range src {
				dst[2*i] = byte(clampInt8(real(z))) ^ 0x80
				dst[2*i+1] = byte(clampInt8(imag(z))) ^ 0x80
			}
		}},
	"cs8": {2,
		func(dst []complex64, src []byte) {
			for i := range dst {
				dst[i] = complex(float32(int8(src[2*i])), float32(int8(src[2*i+1])))
			}
		},
		func(dst []byte, src []complex64) {
			for i, z := range src {
				dst[2*i] = byte(clampInt8(real(z)))
				dst[2*i+1] = byte(clampInt8(imag(z)))
			}
		}},
	"cs16": {4,
		func(dst []complex64, src []byte) {
			for i := range dst {
				var re = int16(binary.LittleEndian.Uint16(src[4*i:]))
				var im = int16(binary.LittleEndian.Uint16(src[4*i+2:]))
				dst[i] = complex(float32(re)/256, float32(im)/256)
			}
		},
		func(dst []byte, src []complex64) {
			for i, z := range src {
				binary.LittleEndian.PutUint16(dst[4*i:], uint16(clampInt16(real(z)*256)))
				binary.LittleEndian.PutUint16(dst[4*i+2:], uint16(clampInt16(imag(z)*256)))
			}
		}},
	"cf32": {8,
		func(dst []complex64, src []byte) {
			for i := range dst {
				var re = math.Float32frombits(binary.LittleEndian.Uint32(src[8*i:]))
				var im = math.Float32frombits(binary.LittleEndian.Uint32(src[8*i+4:]))
				dst[i] = complex(re, im)
			}
		},
		func(dst []byte, src []complex64) {
			for i, z := range src {
				binary.LittleEndian.PutUint32(dst[8*i:], math.Float32bits(real(z)))
				binary.LittleEndian.PutUint32(dst[8*i+4:], math.Float32bits(imag(z)))
			}
		}},
}

func clampInt16(v float32) int16 {
	return int16(max(math.MinInt16, min(math.MaxInt16, math.Round(float64(v)))))
}

func lookupIQFormat(name string) (iqFormat, error) {
	var f, ok = iqFormats[name]
	if !ok {
		return iqFormat{}, fmt.Errorf("sample format %q: %w", name, ErrUnsupported)
	}
	return f, nil
}

// IQSource delivers complex samples.  Read returns io.EOF once the input
// is exhausted; a trailing partial sample is discarded.
type IQSource interface {
	Read(dst []complex64) (int, error)
	Close() error
}

/*------------------------------------------------------------------
 *
 * Name:	OpenIQSource
 *
 * Inputs:	path	- File name, or "-" for stdin.
 *		format	- cu8, cs8, cs16 or cf32.
 *
 *---------------------------------------------------------------*/

func OpenIQSource(path, format string, logger *log.Logger) (IQSource, error) {
	logger = orDefaultLogger(logger)
	var f, err = lookupIQFormat(format)
	if err != nil {
		return nil, err
	}

	if path == "-" {
		return newStreamSource(os.Stdin, nil, f), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("IQ input: %w", err)
	}

	if strings.HasSuffix(path, ".zst") {
		var zr, err = zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("IQ input %s: %w", path, err)
		}
		return newStreamSource(zr.IOReadCloser(), file, f), nil
	}

	if src, err := mmapSource(file, f); err == nil {
		logger.Debug("IQ input mapped", "path", path, "bytes", len(src.data))
		return src, nil
	} else if !errors.Is(err, errNotMappable) {
		logger.Debug("IQ input not mapped", "path", path, "err", err)
	}
	return newStreamSource(file, nil, f), nil
}

type streamSource struct {
	r      io.Reader
	closer []io.Closer
	f      iqFormat
	buf    []byte
	nbuf   int // Bytes of a partial sample carried over.
}

func newStreamSource(r io.Reader, extra io.Closer, f iqFormat) *streamSource {
	var s = &streamSource{r: bufio.NewReaderSize(r, 1<<16), f: f}
	if c, ok := r.(io.Closer); ok && r != os.Stdin {
		s.closer = append(s.closer, c)
	}
	if extra != nil {
		s.closer = append(s.closer, extra)
	}
	return s
}

func (s *streamSource) Read(dst []complex64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	var need = len(dst) * s.f.size
	if cap(s.buf) < need {
		var nb = make([]byte, need)
		copy(nb, s.buf[:s.nbuf])
		s.buf = nb
	}
	s.buf = s.buf[:need]

	var n, err = io.ReadAtLeast(s.r, s.buf[s.nbuf:], s.f.size-s.nbuf)
	n += s.nbuf
	var ns = n / s.f.size
	s.f.decode(dst[:ns], s.buf[:ns*s.f.size])
	s.nbuf = copy(s.buf, s.buf[ns*s.f.size:n])

	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	if ns > 0 && err == io.EOF {
		err = nil
	}
	return ns, err
}

func (s *streamSource) Close() error {
	var errs []error
	for _, c := range s.closer {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

var errNotMappable = errors.New("not a regular file")

type mappedSource struct {
	data []byte
	pos  int
	f    iqFormat
}

func mmapSource(file *os.File, f iqFormat) (*mappedSource, error) {
	var st, err = file.Stat()
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() || st.Size() == 0 || st.Size() > math.MaxInt {
		return nil, errNotMappable
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	// The mapping stays valid after the descriptor is closed.
	file.Close()
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	return &mappedSource{data: data, f: f}, nil
}

func (m *mappedSource) Read(dst []complex64) (int, error) {
	var avail = (len(m.data) - m.pos) / m.f.size
	if avail == 0 {
		return 0, io.EOF
	}
	var n = min(avail, len(dst))
	m.f.decode(dst[:n], m.data[m.pos:])
	m.pos += n * m.f.size
	return n, nil
}

func (m *mappedSource) Close() error {
	if m.data == nil {
		return nil
	}
	var err = unix.Munmap(m.data)
	m.data = nil
	return err
}

// IQSink writes complex samples in one of the formats above.
type IQSink struct {
	w      io.Writer
	closer []io.Closer
	f      iqFormat
	buf    []byte
}

// CreateIQSink opens path for writing, "-" for stdout, compressing
// names ending in .zst.
func CreateIQSink(path, format string) (*IQSink, error) {
	var f, err = lookupIQFormat(format)
	if err != nil {
		return nil, err
	}
	var s = &IQSink{f: f}
	var bw *bufio.Writer
	if path == "-" {
		bw = bufio.NewWriterSize(os.Stdout, 1<<16)
		s.w = bw
		s.closer = []io.Closer{flushCloser{bw}}
		return s, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("IQ output: %w", err)
	}
	bw = bufio.NewWriterSize(file, 1<<16)
	s.w = bw
	s.closer = []io.Closer{flushCloser{bw}, file}
	if strings.HasSuffix(path, ".zst") {
		var zw, err = zstd.NewWriter(bw)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("IQ output %s: %w", path, err)
		}
		s.w = zw
		s.closer = append([]io.Closer{zw}, s.closer...)
	}
	return s, nil
}

func NewIQSink(w io.Writer, format string) (*IQSink, error) {
	var f, err = lookupIQFormat(format)
	if err != nil {
		return nil, err
	}
	return &IQSink{w: w, f: f}, nil
}

func (s *IQSink) Write(src []complex64) error {
	var need = len(src) * s.f.size
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.f.encode(s.buf[:need], src)
	var _, err = s.w.Write(s.buf[:need])
	return err
}

// Close flushes and closes in order: compressor, buffer, file.
func (s *IQSink) Close() error {
	for _, c := range s.closer {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

type flushCloser struct{ w *bufio.Writer }

func (f flushCloser) Close() error { return f.w.Flush() }
