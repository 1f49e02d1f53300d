package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the configuration file name.
const FileName = "keel.lua"

// ConfigDir returns KEEL_CONFIG_DIR or the per-user config directory.
func ConfigDir() (string, error) {
	if dir := os.Getenv("KEEL_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, "keel"), nil
}

// DataDir returns KEEL_DATA_DIR or a data directory under the config directory.
func DataDir() (string, error) {
	if dir := os.Getenv("KEEL_DATA_DIR"); dir != "" {
		return dir, nil
	}
	base, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "data"), nil
}

// DefaultPath returns the keel.lua path in the config directory.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}
