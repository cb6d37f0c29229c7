package dvbrx

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var iqTestSamples = []complex64{
	complex(0, 0), complex(1, -1), complex(100, -100), complex(-128, 127), complex(35, 7),
}

func readAllIQ(t *testing.T, src IQSource, chunk int) []complex64 {
	t.Helper()
	var all []complex64
	var buf = make([]complex64, chunk)
	for {
		var n, err = src.Read(buf)
		all = append(all, buf[:n]...)
		if err == io.EOF {
			return all
		}
		require.NoError(t, err)
	}
}

func TestIQFormatsRoundTrip(t *testing.T) {
	for name, f := range iqFormats {
		t.Run(name, func(t *testing.T) {
			var b bytes.Buffer
			var sink, err = NewIQSink(&b, name)
			require.NoError(t, err)
			require.NoError(t, sink.Write(iqTestSamples))
			assert.Equal(t, len(iqTestSamples)*f.size, b.Len())

			var got = readAllIQ(t, newStreamSource(&b, nil, f), 2)
			require.Len(t, got, len(iqTestSamples))
			for i, want := range iqTestSamples {
				// cu8 is centred on 127.5, the others are exact.
				var tol = IfThenElse(name == "cu8", 0.5, 0.0)
				assert.InDelta(t, real(want), real(got[i]), tol, "sample %d", i)
				assert.InDelta(t, imag(want), imag(got[i]), tol, "sample %d", i)
			}
		})
	}
}

func TestIQStreamDropsPartialSample(t *testing.T) {
	var raw = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	var src = newStreamSource(&oneByteReader{bytes.NewReader(raw)}, nil, iqFormats["cs16"])
	var got = readAllIQ(t, src, 4)
	assert.Equal(t, []complex64{
		complex(float32(0x0201)/256, float32(0x0403)/256),
		complex(float32(0x0605)/256, float32(0x0807)/256),
	}, got)
}

// oneByteReader exercises samples split across reads.
type oneByteReader struct{ r io.Reader }

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestOpenIQSourceFile(t *testing.T) {
	for _, name := range []string{"capture.cs8", "capture.cs8.zst"} {
		t.Run(name, func(t *testing.T) {
			var path = filepath.Join(t.TempDir(), name)
			var sink, err = CreateIQSink(path, "cs8")
			require.NoError(t, err)
			require.NoError(t, sink.Write(iqTestSamples))
			require.NoError(t, sink.Close())

			src, err := OpenIQSource(path, "cs8", nil)
			require.NoError(t, err)
			if filepath.Ext(name) == ".zst" {
				assert.IsType(t, &streamSource{}, src)
			} else {
				assert.IsType(t, &mappedSource{}, src)
			}
			assert.Equal(t, iqTestSamples, readAllIQ(t, src, 3))
			require.NoError(t, src.Close())
		})
	}
}

func TestOpenIQSourceErrors(t *testing.T) {
	_, err := OpenIQSource("x", "s24", nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = OpenIQSource(filepath.Join(t.TempDir(), "none"), "cf32", nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Empty files are read as streams and end at once.
	var path = filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	src, err := OpenIQSource(path, "cf32", nil)
	require.NoError(t, err)
	assert.Empty(t, readAllIQ(t, src, 8))
	require.NoError(t, src.Close())
}
