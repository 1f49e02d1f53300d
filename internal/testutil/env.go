// Package testutil provides utilities for testing keel in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv points every keel directory at a fresh temp directory and
// returns its data directory. Cleanup is handled by t.TempDir.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "data")
	configDir := filepath.Join(tmpDir, "config")

	t.Setenv("KEEL_DATA_DIR", dataDir)
	t.Setenv("KEEL_CONFIG_DIR", configDir)
	t.Setenv("KEEL_TEST_MODE", "1")

	for _, dir := range []string{dataDir, configDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return dataDir
}
