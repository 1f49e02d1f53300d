package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keel/internal/config"
	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
)

// Version will be set at build time via -ldflags
var Version = "v0.0.1-alpha"

// cli carries global flags and I/O for every subcommand.
type cli struct {
	in     io.Reader
	br     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	logFormat  string

	logger logging.Logger
	sync   func() error
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", config.FormatError(err, false))
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut, logger: logging.Nop()}

	root := &cobra.Command{
		Use:   "keel",
		Short: "keel - signed webapp updates for desktop clients",
		Long: `keel fetches a signed update envelope, verifies trust, signature and
release policy, then downloads, double-checks and commits the new webapp
bundle.

Release tooling (keygen, sign, inspect) builds and examines envelopes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, sync, err := logging.NewZap(c.logLevel, c.logFormat)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger, c.sync = logger, sync
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.sync != nil {
				_ = c.sync()
			}
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default is keel.lua in the keel config directory)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "console", "log format (json, console)")

	root.AddCommand(
		newInitCmd(c),
		newCheckCmd(c),
		newWatchCmd(c),
		newLocalCmd(c),
		newInspectCmd(c),
		newKeygenCmd(c),
		newSignCmd(c),
	)
	return root
}
