package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

func newInspectCmd(c *cli) *cobra.Command {
	var trusted []string
	var checkSignature bool

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Decode an envelope and print it as YAML",
		Long: `Decode a manifest.bin envelope and print the signer and manifest.

--verify checks the signature. --trust-key additionally requires the signer
to be one of the given keys.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}
			env, err := envelope.Decode(raw)
			if err != nil {
				return err
			}
			m, err := env.Manifest()
			if err != nil {
				return err
			}

			view := envelopeView{
				PublicKey: hex.EncodeToString(env.PublicKey),
				Signature: hex.EncodeToString(env.Signature),
				Manifest:  viewOf(m),
			}

			var verifyErr error
			if len(trusted) > 0 {
				verifyErr = verify.EnsurePublicKeyIsTrusted(env.PublicKey, verify.TrustStore(trusted), m.TargetEnvironment)
			}
			if verifyErr == nil && (checkSignature || len(trusted) > 0) {
				runner := sandbox.NewRunner(sandbox.Providers{Crypto: sandbox.DefaultCrypto()}, sandbox.WithLogger(c.logger))
				v, err := verify.New(runner, verify.WithLogger(c.logger))
				if err != nil {
					return err
				}
				verifyErr = v.VerifyEnvelopeIntegrity(cmd.Context(), env.Data, env.Signature, env.PublicKey)
				ok := verifyErr == nil
				view.Verified = &ok
			}

			enc := yaml.NewEncoder(c.out)
			enc.SetIndent(2)
			if err := enc.Encode(view); err != nil {
				return fmt.Errorf("encode envelope: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}
			return verifyErr
		},
	}
	cmd.Flags().BoolVar(&checkSignature, "verify", false, "check the signature")
	cmd.Flags().StringSliceVar(&trusted, "trust-key", nil, "hex public key the signer must match (repeatable)")
	return cmd
}
