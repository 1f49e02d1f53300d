// Package store owns the on-disk update cache: the installed manifest
// envelope, bundle files, the install lock and the install journal.
//
// Every write goes through WriteFileAtomic so a crash leaves either the old or
// the new file, never a partial one. Bundles are never deleted here.
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

const (
	// ManifestFile is the raw envelope of the installed update.
	ManifestFile = "manifest.bin"
	// BundleExt is appended to bundle names.
	BundleExt = ".bundle"
	// bundlePrefixLen is the number of checksum hex characters in a bundle name.
	bundlePrefixLen = 16
)

// BundleFileName derives the bundle file name from its checksum.
func BundleFileName(checksum []byte) string {
	h := hex.EncodeToString(checksum)
	if len(h) > bundlePrefixLen {
		h = h[:bundlePrefixLen]
	}
	return h + BundleExt
}

// Store is a data directory.
type Store struct {
	dir string
}

// New returns a store rooted at dir. The directory is created on first write.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path of a file in the store.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// ReadManifest returns the raw installed envelope, or a NotFound error when
// nothing has been installed yet.
func (s *Store) ReadManifest() ([]byte, error) {
	raw, err := os.ReadFile(s.Path(ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, updateerr.NotFound("no local manifest in %s", s.dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read local manifest: %w", err)
	}
	return raw, nil
}

// WriteManifest replaces the installed envelope.
func (s *Store) WriteManifest(raw []byte) error {
	if err := WriteFileAtomic(s.Path(ManifestFile), raw, 0o600); err != nil {
		return updateerr.Installer(err, "write %s", ManifestFile)
	}
	return nil
}

// WriteBundle stores a verified bundle under name.
func (s *Store) WriteBundle(name string, content []byte) error {
	if name == "" || filepath.Base(name) != name {
		return updateerr.Installer(nil, "invalid bundle name %q", name)
	}
	if err := WriteFileAtomic(s.Path(name), content, 0o600); err != nil {
		return updateerr.Installer(err, "write bundle %s", name)
	}
	return nil
}

// HasBundle reports whether a bundle file exists.
func (s *Store) HasBundle(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// WriteFileAtomic writes data next to path and renames it into place, then
// syncs the directory.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}

	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync directory: %w", syncErr)
		}
		df.Close()
	}
	return nil
}
