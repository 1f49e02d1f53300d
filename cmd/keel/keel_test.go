package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/ZebulonRouseFrantzich/keel/internal/config"
	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/platform"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
	"github.com/ZebulonRouseFrantzich/keel/internal/store"
	"github.com/ZebulonRouseFrantzich/keel/internal/testutil"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

// runKeel executes the root command and returns stdout.
func runKeel(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const releaseYAML = `author:
  - Release Team
changelog: |
  Faster startup
release_date: "2026-10-01T00:00:00Z"
expires_on: "2026-11-01T00:00:00Z"
minimum_client_version: "2.0"
minimum_webapp_version: "2026-09-01-00-00"
webapp_version_number: "2026-10-01-12-00"
target_environment: PRODUCTION
`

func keygen(t *testing.T, dir string) (keyPath, publicKey string) {
	t.Helper()
	keyPath = filepath.Join(dir, "release.key")
	out, err := runKeel(t, "", "keygen", "--out", keyPath)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if hexKey, ok := strings.CutPrefix(line, "Public key: "); ok {
			return keyPath, hexKey
		}
	}
	t.Fatalf("keygen output has no public key:\n%s", out)
	return "", ""
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	keyPath, _ := keygen(t, dir)

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key mode = %o, want 600", perm)
	}

	if _, err := runKeel(t, "", "keygen", "--out", keyPath); err == nil {
		t.Error("expected error when key exists")
	}
	if _, err := runKeel(t, "", "keygen", "--out", keyPath, "--force"); err != nil {
		t.Errorf("--force: %v", err)
	}
}

func TestSignAndInspect(t *testing.T) {
	dir := t.TempDir()
	keyPath, pub := keygen(t, dir)

	manifestPath := filepath.Join(dir, "release.yaml")
	if err := os.WriteFile(manifestPath, []byte(releaseYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	content := []byte("<html>release</html>")
	bundlePath := filepath.Join(dir, "webapp.html")
	if err := os.WriteFile(bundlePath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	dist := filepath.Join(dir, "dist")

	if _, err := runKeel(t, "", "sign", "--key", keyPath, "--manifest", manifestPath, "--bundle", bundlePath, "--out-dir", dist); err != nil {
		t.Fatalf("sign: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dist, config.DefaultManifestName))
	if err != nil {
		t.Fatal(err)
	}
	env, err := envelope.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, err := env.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.WebappVersionNumber != "2026-10-01-12-00" || m.SpecVersion != 1 || m.FileContentLength != uint64(len(content)) {
		t.Errorf("unexpected manifest: %+v", m)
	}

	compressed, err := os.ReadFile(filepath.Join(dist, store.BundleFileName(m.FileChecksum)))
	if err != nil {
		t.Fatalf("bundle not written: %v", err)
	}
	if !bytes.Equal(testutil.Digest(compressed), m.FileChecksumCompressed) {
		t.Error("compressed checksum does not match written bundle")
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("bundle does not decompress to the original content")
	}

	out, err := runKeel(t, "", "inspect", filepath.Join(dist, config.DefaultManifestName), "--trust-key", pub)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"signature_valid: true", pub, "2026-10-01-12-00"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}

	_, other := keygen(t, t.TempDir())
	_, err = runKeel(t, "", "inspect", filepath.Join(dist, config.DefaultManifestName), "--trust-key", other)
	if updateerr.KindOf(err) != updateerr.KindIntegrity {
		t.Errorf("inspect with another key: got %v, want IntegrityError", err)
	}
}

func TestSignRequiresChecksums(t *testing.T) {
	dir := t.TempDir()
	keyPath, _ := keygen(t, dir)
	manifestPath := filepath.Join(dir, "release.yaml")
	if err := os.WriteFile(manifestPath, []byte(releaseYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runKeel(t, "", "sign", "--key", keyPath, "--manifest", manifestPath, "--out-dir", dir)
	if err == nil || !strings.Contains(err.Error(), "--bundle") {
		t.Errorf("expected checksum error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.DefaultManifestName)); !os.IsNotExist(err) {
		t.Error("no envelope should be written")
	}
}

func TestSignRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	keyPath, _ := keygen(t, dir)
	manifestPath := filepath.Join(dir, "release.yaml")
	if err := os.WriteFile(manifestPath, []byte(releaseYAML+"channel: beta\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runKeel(t, "", "sign", "--key", keyPath, "--manifest", manifestPath, "--bundle", manifestPath, "--out-dir", dir); err == nil {
		t.Error("expected error for unknown manifest field")
	}
}

func TestInit(t *testing.T) {
	testutil.SetupTestEnv(t)
	path := filepath.Join(t.TempDir(), "keel.lua")
	key := strings.Repeat("ab", 32)
	pin := strings.Repeat("0F", 32)

	args := []string{"init", "--config", path,
		"--endpoint", "https://updates.example.com/",
		"--trust-key", key,
		"--pin", "updates.example.com=" + pin,
		"--host", "app.example.com",
		"--client-version", "3.1",
	}
	if _, err := runKeel(t, "", args...); err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg, err := config.NewParser(platform.Static{OS: "linux", Arch: "amd64"}, nil).ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	if cfg.ClientVersion != "3.1" || cfg.Environment != "PRODUCTION" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if got := cfg.TrustStore("PRODUCTION"); len(got) != 1 || got[0] != key {
		t.Errorf("trust store = %v", got)
	}
	if len(cfg.Pins) != 1 || cfg.Pins[0].SHA256 != strings.ToLower(pin) {
		t.Errorf("pins = %+v", cfg.Pins)
	}

	if _, err := runKeel(t, "", args...); err == nil {
		t.Error("expected error when config exists")
	}
}

func TestInitValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keel.lua")
	_, err := runKeel(t, "", "init", "--config", path, "--endpoint", "http://insecure.example.com/", "--trust-key", strings.Repeat("ab", 32))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("invalid config should not be written")
	}
}

func TestCheckWithoutConfig(t *testing.T) {
	testutil.SetupTestEnv(t)
	_, err := runKeel(t, "", "check")
	if err == nil || !strings.Contains(err.Error(), "keel init") {
		t.Errorf("expected hint to run keel init, got %v", err)
	}
}

func TestInspectGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.bin")
	if err := os.WriteFile(path, []byte{0xff, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runKeel(t, "", "inspect", path)
	if updateerr.KindOf(err) != updateerr.KindProtobuf {
		t.Errorf("got %v, want ProtobufError", err)
	}
}

func TestGzipBundle(t *testing.T) {
	content := bytes.Repeat([]byte("keel "), 1000)
	compressed, err := gzipBundle(content)
	if err != nil {
		t.Fatal(err)
	}
	if len(compressed) >= len(content) {
		t.Errorf("compressed %d bytes into %d", len(content), len(compressed))
	}
	if sandbox.DigestSize != len(testutil.Digest(compressed)) {
		t.Error("unexpected digest size")
	}
}
