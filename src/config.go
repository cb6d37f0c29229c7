package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Receiver configuration.
 *
 * Description:	Defaults, then an optional YAML file, then whatever was
 *		given on the command line.  Every file key has a flag of
 *		the same name with dashes instead of underscores.
 *
 *---------------------------------------------------------------*/

import (
	"encoding"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var ErrBadConfig = errors.New("invalid configuration")

type Config struct {
	Standard      string     `yaml:"standard"` // dvbs or dvbs2
	Constellation Modulation `yaml:"constellation"`
	CodeRate      CodeRate   `yaml:"code_rate"`
	SymbolRate    float64    `yaml:"symbol_rate"`
	SampleRate    float64    `yaml:"sample_rate"`   // 0 for twice the symbol rate.
	CenterOffset  *float64   `yaml:"center_offset"` // Hz.  nil estimates it from the signal.
	Rolloff       float64    `yaml:"rolloff"`

	Sampler      string  `yaml:"sampler"` // nearest, linear or rrc
	RRCSteps     int     `yaml:"rrc_steps"`
	RRCRejection float64 `yaml:"rrc_rejection"` // dB

	AllowDrift bool `yaml:"allow_drift"`
	Fastlock   bool `yaml:"fastlock"`
	Fastdrift  bool `yaml:"fastdrift"`
	Viterbi    bool `yaml:"viterbi"`
	HardMetric bool `yaml:"hard_metric"`

	SoftLDPC      bool          `yaml:"soft_ldpc"`
	LDPCMaxTrials int           `yaml:"ldpc_max_trials"`
	LDPCWorkers   int           `yaml:"ldpc_workers"` // 0 decodes on the pipeline goroutine.
	MaxBitflips   int           `yaml:"max_bitflips"` // Overrides bitflip.max_flips when set.
	Bitflip       BitFlipParams `yaml:"bitflip"`
	LDPCTableDir  string        `yaml:"ldpc_table_dir"`

	// Accepted for compatibility with existing configurations.  No
	// notch filter is applied; a nonzero value logs a warning.
	NotchFilters int `yaml:"notch_filters"`

	FreqTolerance  float64 `yaml:"freq_tolerance"` // Fraction of the symbol rate.
	SRTolerance    float64 `yaml:"sr_tolerance"`
	Modcods        uint32  `yaml:"modcods"`    // Bit n accepts MODCOD n.
	Framesizes     uint8   `yaml:"framesizes"` // Bit 0 normal, bit 1 short.
	MeasDecimation int     `yaml:"meas_decimation"`

	InputFormat   string `yaml:"input_format"` // cu8, cs8, cs16 or cf32
	Output        string `yaml:"output"`         // File, or "-" for stdout.
	OutputPattern string `yaml:"output_pattern"` // strftime pattern, new file per run.
	GSEOutput     string `yaml:"gse_output"`     // Generic stream payloads.
	MetricsAddr   string `yaml:"metrics_addr"`
	ScatterAddr   string `yaml:"scatter_addr"`

	LogLevel     string `yaml:"log_level"`
	LogTimestamp string `yaml:"log_timestamp"` // strftime pattern, empty for none.
	Debug        int    `yaml:"debug"`

	Logger *log.Logger `yaml:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Standard:       "dvbs2",
		Constellation:  QPSK,
		CodeRate:       FEC12,
		SymbolRate:     2e6,
		Rolloff:        0.35,
		Sampler:        "linear",
		RRCRejection:   10,
		SoftLDPC:       true,
		LDPCMaxTrials:  25,
		Bitflip:        DefaultBitFlipParams,
		FreqTolerance:  0.25,
		SRTolerance:    100e-6,
		Modcods:        0xfffffffe,
		Framesizes:     0x03,
		MeasDecimation: 1048576,
		InputFormat:    "cf32",
		Output:         "-",
		LogLevel:       "info",
	}
}

/*------------------------------------------------------------------
 *
 * Name:	LoadConfig
 *
 * Purpose:	Read a YAML configuration on top of the defaults.
 *
 * Description:	Unknown keys are an error, so a typo doesn't silently
 *		fall back to a default.
 *
 *---------------------------------------------------------------*/

func LoadConfig(path string) (*Config, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	var cfg = DefaultConfig()
	var dec = yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) omega() float64 {
	return c.sampleRate() / c.SymbolRate
}

func (c *Config) sampleRate() float64 {
	return IfThenElse(c.SampleRate > 0, c.SampleRate, 2*c.SymbolRate)
}

func (c *Config) bitflipParams() BitFlipParams {
	var p = c.Bitflip
	if c.MaxBitflips > 0 {
		p.MaxFlips = c.MaxBitflips
	}
	return p
}

func (c *Config) logger() *log.Logger {
	return orDefaultLogger(c.Logger)
}

// Validate rejects combinations no pipeline can be built for.
func (c *Config) Validate() error {
	var bad = func(format string, args ...any) error {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrBadConfig)
	}

	if c.SymbolRate <= 0 {
		return bad("symbol_rate %v", c.SymbolRate)
	}
	if c.SampleRate < 0 || c.omega() < 1 {
		return bad("sample_rate %v below symbol rate %v", c.SampleRate, c.SymbolRate)
	}
	if c.Rolloff <= 0 || c.Rolloff > 1 {
		return bad("rolloff %v", c.Rolloff)
	}
	switch c.Sampler {
	case "nearest", "linear", "rrc":
	default:
		return bad("sampler %q", c.Sampler)
	}
	if c.RRCSteps < 0 || c.RRCRejection < 0 {
		return bad("rrc_steps %d rrc_rejection %v", c.RRCSteps, c.RRCRejection)
	}
	if _, ok := iqFormats[c.InputFormat]; !ok {
		return bad("input_format %q", c.InputFormat)
	}
	if c.MeasDecimation <= 0 {
		return bad("meas_decimation %d", c.MeasDecimation)
	}
	if c.FreqTolerance <= 0 || c.SRTolerance <= 0 {
		return bad("freq_tolerance %v sr_tolerance %v", c.FreqTolerance, c.SRTolerance)
	}
	if c.Output != "" && c.OutputPattern != "" && c.Output != "-" {
		return bad("output and output_pattern are exclusive")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return bad("log_level %q", c.LogLevel)
	}

	switch c.Standard {
	case "dvbs":
		if c.Constellation != BPSK && c.Constellation != QPSK {
			return bad("DVB-S with %v", c.Constellation)
		}
		if _, err := newConvCode(c.CodeRate); err != nil {
			return bad("DVB-S code_rate %v", c.CodeRate)
		}
	case "dvbs2":
		if c.Modcods == 0 {
			return bad("modcods selects nothing")
		}
		if c.Framesizes == 0 || c.Framesizes&^3 != 0 {
			return bad("framesizes %#x", c.Framesizes)
		}
		if c.LDPCWorkers < 0 || c.LDPCMaxTrials < 1 {
			return bad("ldpc_workers %d ldpc_max_trials %d", c.LDPCWorkers, c.LDPCMaxTrials)
		}
		if p := c.bitflipParams(); p.MaxFlips < 1 || p.Depth < 1 || p.MaxRun < 0 || p.Escapes < 0 {
			return bad("bitflip %+v", p)
		}
	default:
		return bad("standard %q", c.Standard)
	}
	return nil
}

// textValue lets pflag set anything with text marshalling.
type textValue struct {
	v interface {
		encoding.TextMarshaler
		encoding.TextUnmarshaler
	}
	typ string
}

func (t textValue) String() string {
	var b, _ = t.v.MarshalText()
	return string(b)
}

func (t textValue) Set(s string) error { return t.v.UnmarshalText([]byte(s)) }
func (t textValue) Type() string       { return t.typ }

// optFloat is a float flag that can be left unset.
type optFloat struct{ p **float64 }

func (o optFloat) String() string {
	if *o.p == nil {
		return ""
	}
	return strconv.FormatFloat(**o.p, 'g', -1, 64)
}

func (o optFloat) Set(s string) error {
	var v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*o.p = &v
	return nil
}

func (optFloat) Type() string { return "float" }

// bindFlags registers one flag per configuration field.
func (c *Config) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Standard, "standard", c.Standard, "dvbs or dvbs2.")
	fs.VarP(textValue{&c.Constellation, "modulation"}, "constellation", "m", "BPSK, QPSK, 8PSK, 16APSK, 32APSK, 64APSKe, 16QAM, 64QAM, 256QAM.  DVB-S2 takes it from each frame.")
	fs.VarP(textValue{&c.CodeRate, "rate"}, "code-rate", "f", "DVB-S code rate: 1/2, 2/3, 3/4, 5/6, 7/8.")
	fs.Float64VarP(&c.SymbolRate, "symbol-rate", "R", c.SymbolRate, "Symbols per second.")
	fs.Float64VarP(&c.SampleRate, "sample-rate", "s", c.SampleRate, "Input samples per second, 0 for twice the symbol rate.")
	fs.Var(optFloat{&c.CenterOffset}, "center-offset", "Carrier offset in Hz.  Estimated from the signal when not given.")
	fs.Float64Var(&c.Rolloff, "rolloff", c.Rolloff, "RRC roll-off factor.")
	fs.StringVar(&c.Sampler, "sampler", c.Sampler, "Interpolator: nearest, linear or rrc.")
	fs.IntVar(&c.RRCSteps, "rrc-steps", c.RRCSteps, "RRC polyphase branches, 0 for automatic.")
	fs.Float64Var(&c.RRCRejection, "rrc-rejection", c.RRCRejection, "RRC stopband rejection in dB.")
	fs.BoolVar(&c.AllowDrift, "allow-drift", c.AllowDrift, "Let the carrier loop wander outside the acquisition window.")
	fs.BoolVar(&c.Fastlock, "fastlock", c.Fastlock, "Faster acquisition, at some CPU cost.")
	fs.BoolVar(&c.Fastdrift, "fastdrift", c.Fastdrift, "DVB-S2: track the carrier on every symbol even with pilots.")
	fs.BoolVar(&c.Viterbi, "viterbi", c.Viterbi, "DVB-S: soft Viterbi decoder instead of the algebraic deconvolver.")
	fs.BoolVar(&c.HardMetric, "hard-metric", c.HardMetric, "Use hard decisions in the constellation tables.")
	fs.BoolVar(&c.SoftLDPC, "soft-ldpc", c.SoftLDPC, "DVB-S2: min-sum LDPC decoding instead of bit flipping.")
	fs.IntVar(&c.LDPCMaxTrials, "ldpc-max-trials", c.LDPCMaxTrials, "Min-sum iterations.")
	fs.IntVar(&c.LDPCWorkers, "ldpc-workers", c.LDPCWorkers, "Parallel LDPC decoders, 0 for none.")
	fs.IntVar(&c.MaxBitflips, "max-bitflips", c.MaxBitflips, "Bit flipping budget per frame.")
	fs.IntVar(&c.Bitflip.MaxRun, "bitflip-max-run", c.Bitflip.MaxRun, "Bit flipping: longest parity run closed at once.")
	fs.IntVar(&c.Bitflip.Escapes, "bitflip-escapes", c.Bitflip.Escapes, "Bit flipping: information bits tried when stuck.")
	fs.IntVar(&c.Bitflip.Depth, "bitflip-escape-depth", c.Bitflip.Depth, "Bit flipping: flips allowed after each try.")
	fs.StringVar(&c.LDPCTableDir, "ldpc-table-dir", c.LDPCTableDir, "Directory of LDPC table files, empty for the built-in set.")
	fs.IntVar(&c.NotchFilters, "notch-filters", c.NotchFilters, "Not implemented, warns when nonzero.")
	fs.Float64Var(&c.FreqTolerance, "freq-tolerance", c.FreqTolerance, "DVB-S2 carrier search range, fraction of symbol rate.")
	fs.Float64Var(&c.SRTolerance, "sr-tolerance", c.SRTolerance, "Symbol rate tolerance.")
	fs.Uint32Var(&c.Modcods, "modcods", c.Modcods, "Bitmask of DVB-S2 MODCODs to decode.")
	fs.Uint8Var(&c.Framesizes, "framesizes", c.Framesizes, "Bitmask of DVB-S2 frame sizes: 1 normal, 2 short.")
	fs.IntVar(&c.MeasDecimation, "meas-decimation", c.MeasDecimation, "Samples between measurements.")
	fs.StringVarP(&c.InputFormat, "input-format", "F", c.InputFormat, "cu8, cs8, cs16 or cf32.")
	fs.StringVarP(&c.Output, "output", "o", c.Output, "Transport stream output, - for stdout.")
	fs.StringVar(&c.OutputPattern, "output-pattern", c.OutputPattern, "strftime pattern for the output file name.")
	fs.StringVar(&c.GSEOutput, "gse-output", c.GSEOutput, "File for DVB-S2 generic stream payloads.")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Serve Prometheus metrics here, e.g. :9100.")
	fs.StringVar(&c.ScatterAddr, "scatter-addr", c.ScatterAddr, "Serve the constellation websocket here.")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error.")
	fs.StringVarP(&c.LogTimestamp, "log-timestamp", "T", c.LogTimestamp, "strftime pattern for log timestamps.")
	fs.CountVarP(&c.Debug, "debug", "d", "More debug output, may be repeated.")
}

/*------------------------------------------------------------------
 *
 * Name:	ParseConfig
 *
 * Purpose:	Build the configuration from the command line.
 *
 * Inputs:	fs	- Flag set the caller may have added its own flags to.
 *		args	- Command line, without the program name.
 *
 * Description:	-c names a YAML file.  Flags given explicitly win over
 *		the file.
 *
 *---------------------------------------------------------------*/

func ParseConfig(fs *pflag.FlagSet, args []string) (*Config, error) {
	var cfg = DefaultConfig()
	cfg.bindFlags(fs)
	var path = fs.StringP("config", "c", "", "YAML configuration file.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *path == "" {
		return cfg, nil
	}

	var file, err = LoadConfig(*path)
	if err != nil {
		return nil, err
	}
	var over = pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	file.bindFlags(over)
	fs.Visit(func(f *pflag.Flag) {
		if g := over.Lookup(f.Name); g != nil && err == nil {
			err = g.Value.Set(f.Value.String())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return file, nil
}
