package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keel/internal/config"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
	"github.com/ZebulonRouseFrantzich/keel/internal/updater"
	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

func addClientFlags(cmd *cobra.Command, flags *clientFlags) {
	cmd.Flags().StringVar(&flags.webappVersion, "webapp-version", verify.WebappVersionFloor, "build timestamp of the webapp shipped with the client")
	cmd.Flags().StringVar(&flags.webappEnvironment, "webapp-environment", "", "environment of the shipped webapp (default: configured environment)")
	cmd.Flags().BoolVarP(&flags.assumeYes, "yes", "y", false, "install without asking")
}

// startup loads the installed bundle, if any, and derives the options for
// the first cycle from what it found.
func (c *cli) startup(ctx context.Context, cfg *config.Config, o *updater.Orchestrator) updater.Options {
	var opts updater.Options

	if m, err := o.LocalVersion(ctx); err != nil {
		switch updateerr.KindOf(err) {
		case updateerr.KindNotFound:
			c.logger.Info("no installed bundle, serving shipped webapp", "version", o.Current().WebappVersion)
		case updateerr.KindIntegrity:
			c.logger.Warn("installed bundle failed verification", "error", err)
			opts.IsWebappTamperedWith = true
		default:
			c.logger.Warn("could not load installed bundle", "error", err)
		}
	} else {
		c.logger.Info("serving installed webapp", "version", m.WebappVersionNumber, "environment", m.TargetEnvironment)
	}

	if cur := o.Current(); cur.Environment != cfg.Environment {
		c.logger.Info("environment switch pending", "running", cur.Environment, "configured", cfg.Environment)
		opts.LocalEnvironmentMismatch = true
	}
	return opts
}

func newCheckCmd(c *cli) *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one update cycle",
		Long: `Check the update endpoint once. When a newer webapp is offered and
passes verification, ask whether to install it, then download, verify and
commit it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}
			o, err := c.buildOrchestrator(cfg, flags)
			if err != nil {
				return err
			}

			m, err := o.RunOnce(ctx, c.startup(ctx, cfg, o))
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if m == nil {
				cur := o.Current()
				fmt.Fprintf(c.out, "No update installed. Serving %s (%s).\n", cur.WebappVersion, cur.Environment)
				return nil
			}
			fmt.Fprintf(c.out, "✓ Installed webapp %s (%s)\n", m.WebappVersionNumber, m.TargetEnvironment)
			return nil
		},
	}
	addClientFlags(cmd, &flags)
	return cmd
}

func newWatchCmd(c *cli) *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Check for updates periodically",
		Long: `Run a silent check now, then one every check_interval, until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}
			o, err := c.buildOrchestrator(cfg, flags)
			if err != nil {
				return err
			}
			opts := c.startup(ctx, cfg, o)

			fmt.Fprintf(c.errOut, "Watching %s every %s (Ctrl-C to stop)\n", cfg.Endpoint, cfg.CheckInterval)
			if err := o.RunPeriodic(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	addClientFlags(cmd, &flags)
	return cmd
}
