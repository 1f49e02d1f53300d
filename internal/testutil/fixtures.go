package testutil

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
)

// Environment used by fixtures.
const Environment = "PRODUCTION"

// ClientVersion used by fixtures.
const ClientVersion = "3.0"

// Signer signs fixture manifests with a throwaway Ed25519 key.
type Signer struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// NewSigner generates a signing key.
func NewSigner(t testing.TB) *Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Signer{Public: pub, Private: priv}
}

// KeyHex returns the lowercase hex public key, as stored in trust stores.
func (s *Signer) KeyHex() string {
	return hex.EncodeToString(s.Public)
}

// Seal encodes and signs m.
func (s *Signer) Seal(m *envelope.Manifest) *envelope.Envelope {
	data := m.Marshal()
	return envelope.New(data, s.Public, ed25519.Sign(s.Private, data))
}

// BuildVersion formats t as a webapp build timestamp.
func BuildVersion(t time.Time) string {
	return t.UTC().Format("2006-01-02-15-04")
}

// Bundle is a fixture bundle with its compressed form.
type Bundle struct {
	Content    []byte
	Compressed []byte
}

// NewBundle gzips content.
func NewBundle(t testing.TB, content []byte) *Bundle {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &Bundle{Content: content, Compressed: buf.Bytes()}
}

// Digest returns the bundle digest of b.
func Digest(b []byte) []byte {
	return sandbox.DefaultCrypto().Digest(b)
}

// Manifest returns a manifest that passes policy at now: released now,
// expiring in ten days, offering a webapp built now.
func Manifest(now time.Time, b *Bundle) *envelope.Manifest {
	m := &envelope.Manifest{
		SpecVersion:          1,
		Author:               []string{"Release Team"},
		Changelog:            "Fixes and improvements",
		ReleaseDate:          now.UTC().Format(time.RFC3339),
		ExpiresOn:            now.UTC().Add(10 * 24 * time.Hour).Format(time.RFC3339),
		MinimumClientVersion: "2.0",
		MinimumWebAppVersion: BuildVersion(now.Add(-30 * 24 * time.Hour)),
		WebappVersionNumber:  BuildVersion(now),
		TargetEnvironment:    Environment,
		FileContentLength:    1,
	}
	if b != nil {
		m.FileChecksum = Digest(b.Content)
		m.FileChecksumCompressed = Digest(b.Compressed)
		m.FileContentLength = uint64(len(b.Content))
	} else {
		m.FileChecksum = bytes.Repeat([]byte{0x11}, sandbox.DigestSize)
		m.FileChecksumCompressed = bytes.Repeat([]byte{0x22}, sandbox.DigestSize)
	}
	return m
}

// InstalledWebapp returns a webapp version one day older than now.
func InstalledWebapp(now time.Time) string {
	return BuildVersion(now.Add(-24 * time.Hour))
}
