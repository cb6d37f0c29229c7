package dvbrx

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	var path = filepath.Join(t.TempDir(), "dvbrx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	var path = writeConfig(t, `
standard: dvbs
constellation: BPSK
code_rate: 3/4
symbol_rate: 250000
sample_rate: 1000000
center_offset: -12500
sampler: rrc
viterbi: true
bitflip:
  max_flips: 50
input_format: cs16
`)
	var cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dvbs", cfg.Standard)
	assert.Equal(t, BPSK, cfg.Constellation)
	assert.Equal(t, FEC34, cfg.CodeRate)
	assert.InDelta(t, 4.0, cfg.omega(), 1e-9)
	require.NotNil(t, cfg.CenterOffset)
	assert.InDelta(t, -12500, *cfg.CenterOffset, 0)
	assert.True(t, cfg.Viterbi)
	assert.Equal(t, 50, cfg.Bitflip.MaxFlips)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultBitFlipParams.Depth, cfg.Bitflip.Depth)
	assert.InDelta(t, 0.35, cfg.Rolloff, 0)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadConfig(writeConfig(t, "symbol_rat: 1000\n"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "code_rate: 4/7\n"))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		edit func(*Config)
	}{
		{"symbol rate", func(c *Config) { c.SymbolRate = 0 }},
		{"undersampled", func(c *Config) { c.SampleRate = c.SymbolRate / 2 }},
		{"rolloff", func(c *Config) { c.Rolloff = 0 }},
		{"sampler", func(c *Config) { c.Sampler = "sinc" }},
		{"input format", func(c *Config) { c.InputFormat = "s24" }},
		{"standard", func(c *Config) { c.Standard = "dvbt" }},
		{"dvbs 8psk", func(c *Config) { c.Standard = "dvbs"; c.Constellation = PSK8 }},
		{"dvbs rate", func(c *Config) { c.Standard = "dvbs"; c.CodeRate = FEC910 }},
		{"no modcods", func(c *Config) { c.Modcods = 0 }},
		{"framesizes", func(c *Config) { c.Framesizes = 4 }},
		{"workers", func(c *Config) { c.LDPCWorkers = -1 }},
		{"bitflips", func(c *Config) { c.Bitflip.MaxFlips = 0 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"two outputs", func(c *Config) { c.Output = "x.ts"; c.OutputPattern = "%H.ts" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var cfg = DefaultConfig()
			tc.edit(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrBadConfig)
		})
	}

	var cfg = DefaultConfig()
	cfg.Bitflip.MaxFlips = 0
	cfg.MaxBitflips = 10
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.bitflipParams().MaxFlips)
}

func TestParseConfigFlagsOnly(t *testing.T) {
	var fs = pflag.NewFlagSet("dvbrx", pflag.ContinueOnError)
	var cfg, err = ParseConfig(fs, []string{"-R", "1e6", "--center-offset", "250", "-m", "8PSK", "-dd", "in.iq"})
	require.NoError(t, err)
	assert.InDelta(t, 1e6, cfg.SymbolRate, 0)
	require.NotNil(t, cfg.CenterOffset)
	assert.InDelta(t, 250, *cfg.CenterOffset, 0)
	assert.Equal(t, PSK8, cfg.Constellation)
	assert.Equal(t, 2, cfg.Debug)
	assert.Equal(t, []string{"in.iq"}, fs.Args())
}

func TestParseConfigFlagsOverrideFile(t *testing.T) {
	var path = writeConfig(t, "symbol_rate: 500000\nsampler: rrc\nldpc_workers: 2\n")
	var fs = pflag.NewFlagSet("dvbrx", pflag.ContinueOnError)
	var cfg, err = ParseConfig(fs, []string{"-c", path, "--sampler", "nearest", "--fastlock"})
	require.NoError(t, err)
	assert.InDelta(t, 500000, cfg.SymbolRate, 0)
	assert.Equal(t, "nearest", cfg.Sampler)
	assert.Equal(t, 2, cfg.LDPCWorkers)
	assert.True(t, cfg.Fastlock)
	assert.Nil(t, cfg.CenterOffset)
}

func TestParseConfigBadFlag(t *testing.T) {
	var fs = pflag.NewFlagSet("dvbrx", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := ParseConfig(fs, []string{"--code-rate", "1/9"})
	assert.Error(t, err)
}
