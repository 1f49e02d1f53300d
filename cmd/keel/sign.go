package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/keel/internal/config"
	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
	"github.com/ZebulonRouseFrantzich/keel/internal/store"
	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

type signOptions struct {
	keyPath      string
	manifestPath string
	bundlePath   string
	outDir       string
}

func newSignCmd(c *cli) *cobra.Command {
	var opts signOptions

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Build a signed envelope from a YAML manifest",
		Long: `Sign a YAML manifest with a keygen key and write the envelope to
<out-dir>/manifest.bin.

With --bundle, the file is gzipped and written next to the envelope under its
content-addressed name, and the manifest's checksums and length are filled in
from it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, bundleName, err := signRelease(opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "✓ Signed envelope: %s (%d bytes)\n", filepath.Join(opts.outDir, config.DefaultManifestName), len(env.Raw))
			if bundleName != "" {
				fmt.Fprintf(c.out, "✓ Bundle: %s\n", filepath.Join(opts.outDir, bundleName))
			}
			fmt.Fprintf(c.out, "Signed by: %s\n", hex.EncodeToString(env.PublicKey))
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.keyPath, "key", "k", "keel-signing.key", "private key file from keygen")
	cmd.Flags().StringVarP(&opts.manifestPath, "manifest", "m", "", "YAML manifest")
	cmd.Flags().StringVarP(&opts.bundlePath, "bundle", "b", "", "uncompressed webapp bundle")
	cmd.Flags().StringVarP(&opts.outDir, "out-dir", "o", ".", "output directory")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

// signRelease writes the envelope, and the compressed bundle when one is
// given, to opts.outDir. It returns the envelope and the bundle file name.
func signRelease(opts signOptions) (*envelope.Envelope, string, error) {
	key, err := readSigningKey(opts.keyPath)
	if err != nil {
		return nil, "", err
	}

	m, err := readManifestYAML(opts.manifestPath)
	if err != nil {
		return nil, "", err
	}
	if m.SpecVersion == 0 {
		m.SpecVersion = verify.SupportedSpecVersion
	}

	var compressed []byte
	if opts.bundlePath != "" {
		content, err := os.ReadFile(opts.bundlePath)
		if err != nil {
			return nil, "", fmt.Errorf("read bundle: %w", err)
		}
		if compressed, err = gzipBundle(content); err != nil {
			return nil, "", err
		}
		crypto := sandbox.DefaultCrypto()
		m.FileChecksum = crypto.Digest(content)
		m.FileChecksumCompressed = crypto.Digest(compressed)
		m.FileContentLength = uint64(len(content))
	}

	if len(m.FileChecksum) != sandbox.DigestSize || len(m.FileChecksumCompressed) != sandbox.DigestSize {
		return nil, "", fmt.Errorf("manifest checksums must be %d-byte digests; pass --bundle to compute them", sandbox.DigestSize)
	}

	data := m.Marshal()
	env := envelope.New(data, key.Public().(ed25519.PublicKey), ed25519.Sign(key, data))

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create output directory: %w", err)
	}
	bundleName := ""
	if compressed != nil {
		bundleName = store.BundleFileName(m.FileChecksum)
		if err := store.WriteFileAtomic(filepath.Join(opts.outDir, bundleName), compressed, 0o644); err != nil {
			return nil, "", err
		}
	}
	if err := store.WriteFileAtomic(filepath.Join(opts.outDir, config.DefaultManifestName), env.Raw, 0o644); err != nil {
		return nil, "", err
	}
	return env, bundleName, nil
}

func readManifestYAML(path string) (*envelope.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var view manifestView
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&view); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return view.manifest()
}

func gzipBundle(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(content); err != nil {
		return nil, fmt.Errorf("compress bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress bundle: %w", err)
	}
	return buf.Bytes(), nil
}
