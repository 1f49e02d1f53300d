package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/keel/internal/store"
)

func newLocalCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Verify and show the installed webapp",
		Long: `Re-verify the installed manifest and bundle without network access and
print the manifest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}
			o, err := c.buildOrchestrator(cfg, clientFlags{})
			if err != nil {
				return err
			}

			m, err := o.LocalVersion(ctx)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(c.out)
			enc.SetIndent(2)
			if err := enc.Encode(viewOf(m)); err != nil {
				return fmt.Errorf("encode manifest: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "# bundle: %s\n", store.BundleFileName(m.FileChecksum))
			return nil
		},
	}
	return cmd
}
