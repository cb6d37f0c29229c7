package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for "dvbtx", a test signal generator.
 *
 *		Transport stream in, IQ samples out, in any of the
 *		formats dvbrx reads.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func DvbtxMain() {
	var cfg = DefaultTxConfig()

	pflag.StringVar(&cfg.Standard, "standard", cfg.Standard, "dvbs or dvbs2.")
	pflag.VarP(textValue{&cfg.Constellation, "modulation"}, "constellation", "m", "DVB-S: BPSK or QPSK.")
	pflag.VarP(textValue{&cfg.CodeRate, "rate"}, "code-rate", "f", "DVB-S code rate.")
	pflag.Uint8Var(&cfg.Modcod, "modcod", cfg.Modcod, "DVB-S2 MODCOD, 1 to 28.")
	pflag.BoolVar(&cfg.ShortFrames, "short-frames", cfg.ShortFrames, "DVB-S2 short FECFRAMEs.")
	pflag.BoolVar(&cfg.Pilots, "pilots", cfg.Pilots, "DVB-S2 pilot blocks.")
	pflag.IntVar(&cfg.Modulator.SamplesPerSymbol, "sps", cfg.Modulator.SamplesPerSymbol, "Samples per symbol.")
	pflag.Float64Var(&cfg.Modulator.Rolloff, "rolloff", cfg.Modulator.Rolloff, "RRC roll-off, 0 for rectangular pulses.")
	pflag.Float64Var(&cfg.Modulator.Freq, "freq", cfg.Modulator.Freq, "Carrier offset, cycles per sample.")
	pflag.Float64Var(&cfg.Modulator.EsN0, "esn0", cfg.Modulator.EsN0, "Es/N0 in dB of added noise, +Inf for none.")
	pflag.Uint64Var(&cfg.Modulator.Seed, "seed", cfg.Modulator.Seed, "Noise generator seed.")
	var output = pflag.StringP("output", "o", "-", "IQ output, - for stdout.  .zst names are compressed.")
	var format = pflag.StringP("output-format", "F", "cf32", "cu8, cs8, cs16 or cf32.")
	var logLevel = pflag.String("log-level", "info", "debug, info, warn or error.")
	var version = pflag.BoolP("version", "V", false, "Print version and exit.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Generate DVB-S or DVB-S2 baseband IQ.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [ts-file]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Example:  %s --standard dvbs2 --modcod 11 --esn0 9 -o test.cf32 in.ts\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "          dvbrx --sample-rate 2e6 -R 1e6 -o out.ts test.cf32\n")
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}
	if *version {
		printVersion("dvbtx", false)
		return
	}

	var logger, err = NewLogger(os.Stderr, *logLevel, 0, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	in, err := OpenTSInput(IfThenElse(pflag.NArg() > 0, pflag.Arg(0), "-"))
	if err != nil {
		logger.Fatal("dvbtx", "err", err)
	}
	defer in.Close()

	sink, err := CreateIQSink(*output, *format)
	if err != nil {
		logger.Fatal("dvbtx", "err", err)
	}
	tx, err := NewTransmitter(cfg, sink, logger)
	if err != nil {
		logger.Fatal("dvbtx", "err", err)
	}

	var npkt = 0
	err = ReadTS(in, logger, func(p *TSPacket) error {
		npkt++
		return tx.WritePacket(p)
	})
	if err == nil {
		err = tx.Close()
	}
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Fatal("dvbtx", "err", err)
	}
	logger.Info("done", "packets", npkt, "samples", tx.Samples())
}
