package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

const (
	// DefaultManifestName is the envelope resource name.
	DefaultManifestName = "manifest.bin"
	// DefaultCheckInterval is the periodic check interval.
	DefaultCheckInterval = 24 * time.Hour
	// MinCheckInterval keeps a misconfigured client from hammering the endpoint.
	MinCheckInterval = time.Minute
)

// Config is the client configuration.
type Config struct {
	ClientVersion string `yaml:"client_version"`
	Environment   string `yaml:"environment"`
	Endpoint      string `yaml:"endpoint"`
	ManifestName  string `yaml:"manifest_name"`
	// Hosts are backend hosts probed for connectivity.
	Hosts         []string      `yaml:"hosts"`
	CheckInterval time.Duration `yaml:"check_interval"`
	SupportURL    string        `yaml:"support_url,omitempty"`
	Telemetry     Telemetry     `yaml:"telemetry"`
	Pins          []Pin         `yaml:"pins"`
	// TrustStores maps an environment to its lowercase hex public keys.
	TrustStores map[string][]string `yaml:"trust_stores"`
}

// Telemetry controls incident reporting.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Pin is the hex SHA-256 of a host's leaf SubjectPublicKeyInfo.
type Pin struct {
	Host   string `yaml:"host"`
	SHA256 string `yaml:"sha256"`
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

func (c *Config) applyDefaults() {
	if c.ManifestName == "" {
		c.ManifestName = DefaultManifestName
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
}

// Validate checks every field needed to run an update cycle.
func (c *Config) Validate() error {
	if !verify.IsValidVersion(c.ClientVersion) {
		return &ValidationError{Field: "client_version", Message: fmt.Sprintf("%q is not MAJOR.MINOR[.PATCH]", c.ClientVersion)}
	}
	if c.Environment == "" {
		return &ValidationError{Field: "environment", Message: "cannot be empty"}
	}
	if err := validateHTTPS(c.Endpoint); err != nil {
		return &ValidationError{Field: "endpoint", Message: err.Error()}
	}
	if c.ManifestName != "" && strings.ContainsAny(c.ManifestName, "/\\?#") {
		return &ValidationError{Field: "manifest_name", Message: "must be a plain resource name"}
	}
	for i, h := range c.Hosts {
		if h == "" || strings.ContainsAny(h, "/ ") {
			return &ValidationError{Field: fmt.Sprintf("hosts[%d]", i), Message: fmt.Sprintf("invalid host %q", h)}
		}
	}
	if c.CheckInterval != 0 && c.CheckInterval < MinCheckInterval {
		return &ValidationError{Field: "check_interval", Message: fmt.Sprintf("must be at least %s", MinCheckInterval)}
	}
	if c.Telemetry.Enabled {
		if err := validateHTTPS(c.Telemetry.Endpoint); err != nil {
			return &ValidationError{Field: "telemetry.endpoint", Message: err.Error()}
		}
	}
	for i, p := range c.Pins {
		if p.Host == "" {
			return &ValidationError{Field: fmt.Sprintf("pins[%d].host", i), Message: "cannot be empty"}
		}
		if b, err := hex.DecodeString(p.SHA256); err != nil || len(b) != 32 {
			return &ValidationError{Field: fmt.Sprintf("pins[%d].sha256", i), Message: "must be 64 hex characters"}
		}
	}

	keys, ok := c.TrustStores[c.Environment]
	if !ok || len(keys) == 0 {
		return &ValidationError{Field: "trust_stores", Message: fmt.Sprintf("no trusted keys for environment %s", c.Environment)}
	}
	for env, keys := range c.TrustStores {
		for i, k := range keys {
			if _, err := hex.DecodeString(k); err != nil || k == "" || k != strings.ToLower(k) {
				return &ValidationError{Field: fmt.Sprintf("trust_stores.%s[%d]", env, i), Message: "must be lowercase hex"}
			}
		}
	}
	return nil
}

// TrustStore returns the keys trusted for env.
func (c *Config) TrustStore(env string) verify.TrustStore {
	keys, ok := c.TrustStores[env]
	if !ok {
		return nil
	}
	return append(verify.TrustStore{}, keys...)
}

// PinSet groups pins by lowercase host.
func (c *Config) PinSet() map[string][]string {
	out := make(map[string][]string, len(c.Pins))
	for _, p := range c.Pins {
		host := strings.ToLower(p.Host)
		out[host] = append(out[host], strings.ToLower(p.SHA256))
	}
	return out
}

func validateHTTPS(raw string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%q must be an https URL", raw)
	}
	return nil
}
