package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for "dvbrx", the DVB-S / DVB-S2 receiver.
 *
 *		IQ samples in, MPEG transport stream out.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func DvbrxMain() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - DVB-S and DVB-S2 receiver.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [iq-file]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Reads IQ samples from the file, or stdin if none or \"-\",\n")
		fmt.Fprintf(os.Stderr, "and writes the transport stream to --output.\n")
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Example:  rtl_sdr -f 1252000000 -s 2400000 - | %s --standard dvbs -R 1200000 -s 2400000 -F cu8 -o out.ts\n", os.Args[0])
	}
	var version = pflag.BoolP("version", "V", false, "Print version and exit.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	var cfg, err = ParseConfig(pflag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *help {
		pflag.Usage()
		os.Exit(1)
	}
	if *version {
		printVersion("dvbrx", cfg.Debug > 0)
		return
	}

	logger, err := NewLoggerFromConfig(os.Stderr, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Logger = logger

	if err := runReceiver(cfg, IfThenElse(pflag.NArg() > 0, pflag.Arg(0), "-")); err != nil {
		logger.Error("dvbrx", "err", err)
		os.Exit(1)
	}
}

func runReceiver(cfg *Config, input string) error {
	var logger = cfg.Logger
	if err := cfg.Validate(); err != nil {
		return err
	}

	var src, err = OpenIQSource(input, cfg.InputFormat, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	sink, err := NewTSFileSink(cfg.Output, cfg.OutputPattern, time.Now())
	if err != nil {
		return err
	}
	logger.Info("writing transport stream", "to", sink.Name())

	var gse io.Writer
	if cfg.GSEOutput != "" {
		var f, err = os.Create(cfg.GSEOutput)
		if err != nil {
			sink.Close()
			return fmt.Errorf("GSE output: %w", err)
		}
		defer f.Close()
		gse = f
	}

	var diags = []Diagnostics{newLogDiag(logger)}
	var metrics *Metrics
	if cfg.MetricsAddr != "" {
		metrics = NewMetrics()
		diags = append(diags, metrics)
	}
	var scatter *ScatterServer
	if cfg.ScatterAddr != "" {
		scatter = NewScatterServer(logger)
		diags = append(diags, scatter)
	}

	p, err := NewPipeline(cfg, sink, gse, newMultiDiag(diags...))
	if err != nil {
		sink.Close()
		return err
	}
	var stats = NewTSStats()
	p.SetStats(stats)
	if metrics != nil {
		p.SetMetrics(metrics)
	}

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var g, gctx = errgroup.WithContext(ctx)
	var runCtx, done = context.WithCancel(gctx)
	defer done()
	if metrics != nil {
		serveHTTP(runCtx, g, cfg.MetricsAddr, metrics.Handler(), logger)
	}
	if scatter != nil {
		serveHTTP(runCtx, g, cfg.ScatterAddr, scatter, logger)
	}
	g.Go(func() error {
		defer done()
		return p.Run(runCtx, src)
	})

	err = g.Wait()
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	stats.Report(os.Stderr)
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
		return nil
	}
	return err
}

// serveHTTP runs h on addr until ctx ends.
func serveHTTP(ctx context.Context, g *errgroup.Group, addr string, h http.Handler, logger *log.Logger) {
	var srv = &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		var sctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}
