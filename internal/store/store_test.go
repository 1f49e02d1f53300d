package store

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

func TestBundleFileName(t *testing.T) {
	tests := []struct {
		name     string
		checksum []byte
		want     string
	}{
		{"full digest", bytes.Repeat([]byte{0xab}, 32), "abababababababab.bundle"},
		{"short digest", []byte{0x01, 0x02}, "0102.bundle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BundleFileName(tt.checksum); got != tt.want {
				t.Errorf("BundleFileName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadManifestNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.ReadManifest()
	if updateerr.KindOf(err) != updateerr.KindNotFound {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestWriteAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.WriteManifest([]byte("first")); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if err := s.WriteManifest([]byte("second")); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	got, err := s.ReadManifest()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("ReadManifest() = %q", got)
	}

	if err := s.WriteBundle("aa.bundle", []byte("bundle")); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}
	if !s.HasBundle("aa.bundle") {
		t.Error("HasBundle() = false after write")
	}
	if s.HasBundle("missing.bundle") {
		t.Error("HasBundle() = true for missing file")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}

	info, err := os.Stat(s.Path(ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("manifest permissions = %o, want 600", perm)
	}
}

func TestWriteBundleRejectsPaths(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"", "../escape.bundle", "sub/dir.bundle"} {
		err := s.WriteBundle(name, []byte("x"))
		if updateerr.KindOf(err) != updateerr.KindInstaller {
			t.Errorf("WriteBundle(%q) = %v, want InstallerError", name, err)
		}
	}
}

func TestNewRequiresDir(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty directory")
	}
}
