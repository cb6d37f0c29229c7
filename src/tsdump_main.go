package dvbrx

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

// TsdumpMain prints transport stream health for each file named, stdin if
// none.
func TsdumpMain() {
	var version = pflag.BoolP("version", "V", false, "Print version and exit.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Transport stream statistics.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [ts-file ...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}
	if *version {
		printVersion("tsdump", false)
		return
	}

	var logger = log.New(os.Stderr)
	var files = pflag.Args()
	if len(files) == 0 {
		files = []string{"-"}
	}
	var failed = false
	for _, name := range files {
		if err := tsdump(os.Stdout, name, logger); err != nil {
			logger.Error("tsdump", "file", name, "err", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func tsdump(w io.Writer, name string, logger *log.Logger) error {
	var in, err = OpenTSInput(name)
	if err != nil {
		return err
	}
	defer in.Close()

	var stats = NewTSStats()
	if err := ReadTS(in, logger, stats.WritePacket); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s:\n", IfThenElse(name == "-", "stdin", name))
	stats.Report(w)
	return nil
}
