package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/keel/internal/config"
)

func newInitCmd(c *cli) *cobra.Command {
	cfg := &config.Config{}
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter keel.lua",
		Long: `Write a keel.lua with the given endpoint and trusted keys to the keel
config directory (or --config). An existing file is kept unless --force.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists\nUse --force to overwrite it", path)
			}

			pins, _ := cmd.Flags().GetStringSlice("pin")
			for _, p := range pins {
				host, sum, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("invalid --pin %q, want HOST=SHA256", p)
				}
				cfg.Pins = append(cfg.Pins, config.Pin{Host: host, SHA256: strings.ToLower(sum)})
			}

			keys, _ := cmd.Flags().GetStringSlice("trust-key")
			cfg.TrustStores = map[string][]string{cfg.Environment: keys}
			cfg.ManifestName = config.DefaultManifestName
			cfg.CheckInterval = config.DefaultCheckInterval
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(config.NewGenerator().Generate(cfg)), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Fprintf(c.out, "✓ Wrote %s\n", path)
			if len(cfg.Pins) == 0 {
				fmt.Fprintln(c.out, "  Add a pin for your update host before running 'keel check'.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.ClientVersion, "client-version", "1.0", "version of this client (MAJOR.MINOR[.PATCH])")
	cmd.Flags().StringVar(&cfg.Environment, "environment", "PRODUCTION", "environment this client belongs to")
	cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", "", "https URL the envelope and bundles are served from")
	cmd.Flags().StringSlice("trust-key", nil, "hex public key trusted for the environment (repeatable)")
	cmd.Flags().StringSlice("pin", nil, "HOST=SHA256 of the host's public key (repeatable)")
	cmd.Flags().StringSliceVar(&cfg.Hosts, "host", nil, "backend host probed for connectivity (repeatable)")
	cmd.Flags().StringVar(&cfg.SupportURL, "support-url", "", "support page shown after a failure")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("trust-key")
	return cmd
}
