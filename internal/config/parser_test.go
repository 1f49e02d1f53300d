package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/keel/internal/platform"
)

const validKey = "ffbab1f0aa4c9e6dbd0e3b16cbf9bf1e3f2a4c9e6dbd0e3b16cbf9bf1e3f2a4c"

const validPin = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func minimalConfig() string {
	return `
		keel = {
			client_version = "3.0",
			environment = "PRODUCTION",
			endpoint = "https://updates.example.com/",
			trust_stores = {
				PRODUCTION = { "` + validKey + `" },
			},
		}
	`
}

func TestParser_ParseString_Minimal(t *testing.T) {
	cfg, err := NewParser(nil, nil).ParseString(context.Background(), minimalConfig())
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	if cfg.ClientVersion != "3.0" || cfg.Environment != "PRODUCTION" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.ManifestName != DefaultManifestName {
		t.Errorf("ManifestName = %q, want default", cfg.ManifestName)
	}
	if cfg.CheckInterval != DefaultCheckInterval {
		t.Errorf("CheckInterval = %v, want default", cfg.CheckInterval)
	}
	if got := cfg.TrustStore("PRODUCTION"); len(got) != 1 || got[0] != validKey {
		t.Errorf("TrustStore() = %v", got)
	}
	if cfg.TrustStore("STAGING") != nil {
		t.Error("unexpected trust store for STAGING")
	}
}

func TestParser_ParseString_Full(t *testing.T) {
	src := `
		keel = {
			client_version = "3.1.4",
			environment = "INTERNAL",
			endpoint = "https://updates.example.com/internal/",
			manifest_name = "latest.bin",
			hosts = { "app.example.com", platform.when(platform.is_linux, "linux.example.com") },
			check_interval = "6h",
			support_url = "https://support.example.com",
			telemetry = { enabled = true, endpoint = "https://telemetry.example.com/incidents" },
			pins = {
				{ host = "Updates.Example.com", sha256 = "` + validPin + `" },
			},
			trust_stores = {
				INTERNAL = { "` + validKey + `", "aa" },
				PRODUCTION = { "bb" },
			},
		}
	`
	parser := NewParser(platform.Static{OS: "linux", Arch: "amd64"}, nil)
	cfg, err := parser.ParseString(context.Background(), src)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	if cfg.ManifestName != "latest.bin" {
		t.Errorf("ManifestName = %q", cfg.ManifestName)
	}
	if len(cfg.Hosts) != 2 || cfg.Hosts[1] != "linux.example.com" {
		t.Errorf("Hosts = %v", cfg.Hosts)
	}
	if cfg.CheckInterval != 6*time.Hour {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint == "" {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
	pins := cfg.PinSet()
	if got := pins["updates.example.com"]; len(got) != 1 || got[0] != validPin {
		t.Errorf("PinSet() = %v", pins)
	}
	if len(cfg.TrustStores) != 2 || len(cfg.TrustStores["INTERNAL"]) != 2 {
		t.Errorf("TrustStores = %v", cfg.TrustStores)
	}
}

func TestParser_PlatformWhenSkipsNil(t *testing.T) {
	src := strings.Replace(minimalConfig(), `environment = "PRODUCTION",`,
		`environment = "PRODUCTION", hosts = { platform.when(platform.is_windows, "win.example.com"), "all.example.com" },`, 1)

	cfg, err := NewParser(platform.Static{OS: "darwin", Arch: "arm64"}, nil).ParseString(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0] != "all.example.com" {
		t.Errorf("Hosts = %v", cfg.Hosts)
	}
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"syntax error", `keel = {`, "Lua error"},
		{"missing table", `other = {}`, "missing or invalid 'keel' table"},
		{"table is string", `keel = "x"`, "missing or invalid 'keel' table"},
		{"wrong field type", `keel = { client_version = 3 }`, "invalid client_version"},
		{"hosts not list", strings.Replace(minimalConfig(), `environment = "PRODUCTION",`, `environment = "PRODUCTION", hosts = "a",`, 1), "invalid hosts"},
		{"bad interval", strings.Replace(minimalConfig(), `environment = "PRODUCTION",`, `environment = "PRODUCTION", check_interval = "daily",`, 1), "invalid check_interval"},
		{"pins not tables", strings.Replace(minimalConfig(), `environment = "PRODUCTION",`, `environment = "PRODUCTION", pins = { "x" },`, 1), "invalid pins"},
		{"validation", strings.Replace(minimalConfig(), `"3.0"`, `"3"`, 1), "config validation failed"},
		{"os blocked", `os.exit(1)`, "Lua error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(nil, nil).ParseString(context.Background(), tt.src)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q missing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParser_DetectorFailure(t *testing.T) {
	parser := NewParser(failingDetector{}, nil)
	if _, err := parser.ParseString(context.Background(), minimalConfig()); err == nil {
		t.Fatal("expected detector error")
	}
}

type failingDetector struct{}

func (failingDetector) Detect(context.Context) (*platform.Info, error) {
	return nil, errors.New("no host")
}

func TestParser_ParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(minimalConfig()), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewParser(nil, nil).ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if cfg.Environment != "PRODUCTION" {
		t.Errorf("Environment = %q", cfg.Environment)
	}

	if _, err := NewParser(nil, nil).ParseFile(context.Background(), filepath.Join(dir, "missing.lua")); err == nil {
		t.Error("expected error for missing file")
	}

	big := filepath.Join(dir, "big.lua")
	if err := os.WriteFile(big, []byte(strings.Repeat("-", maxConfigSize+1)), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewParser(nil, nil).ParseFile(context.Background(), big); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestFormatError(t *testing.T) {
	err := &ParseError{Message: "Lua error", Detail: "line 1: boom\nstack traceback:\n\t[G]: ?"}

	if got := FormatError(err, false); got != "Lua error: line 1: boom" {
		t.Errorf("FormatError(false) = %q", got)
	}
	if got := FormatError(err, true); !strings.Contains(got, "stack traceback") {
		t.Errorf("FormatError(true) = %q", got)
	}
	if got := FormatError(errors.New("plain"), false); got != "plain" {
		t.Errorf("FormatError(plain) = %q", got)
	}
}
