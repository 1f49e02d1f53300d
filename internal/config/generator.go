package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Generator writes a Config as keel.lua source.
type Generator struct {
	indent string
}

// NewGenerator returns a generator using two-space indentation.
func NewGenerator() *Generator {
	return &Generator{indent: "  "}
}

// Generate renders cfg. Parsing the output yields an equal Config.
func (g *Generator) Generate(cfg *Config) string {
	var buf bytes.Buffer

	buf.WriteString("-- keel update client configuration\n\n")
	buf.WriteString("keel = {\n")

	g.field(&buf, 1, "client_version", cfg.ClientVersion)
	g.field(&buf, 1, "environment", cfg.Environment)
	g.field(&buf, 1, "endpoint", cfg.Endpoint)
	g.field(&buf, 1, "manifest_name", cfg.ManifestName)
	if cfg.CheckInterval > 0 {
		g.field(&buf, 1, "check_interval", formatDuration(cfg.CheckInterval))
	}
	g.field(&buf, 1, "support_url", cfg.SupportURL)

	if len(cfg.Hosts) > 0 {
		g.list(&buf, 1, "hosts", cfg.Hosts)
	}

	if cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "" {
		g.open(&buf, 1, "telemetry")
		fmt.Fprintf(&buf, "%senabled = %t,\n", g.pad(2), cfg.Telemetry.Enabled)
		g.field(&buf, 2, "endpoint", cfg.Telemetry.Endpoint)
		g.close(&buf, 1)
	}

	if len(cfg.Pins) > 0 {
		g.open(&buf, 1, "pins")
		for _, p := range cfg.Pins {
			fmt.Fprintf(&buf, "%s{ host = %s, sha256 = %s },\n", g.pad(2), quoteLuaString(p.Host), quoteLuaString(p.SHA256))
		}
		g.close(&buf, 1)
	}

	if len(cfg.TrustStores) > 0 {
		g.open(&buf, 1, "trust_stores")
		envs := make([]string, 0, len(cfg.TrustStores))
		for env := range cfg.TrustStores {
			envs = append(envs, env)
		}
		sort.Strings(envs)
		for _, env := range envs {
			g.list(&buf, 2, env, cfg.TrustStores[env])
		}
		g.close(&buf, 1)
	}

	buf.WriteString("}\n")
	return buf.String()
}

func (g *Generator) pad(depth int) string {
	return strings.Repeat(g.indent, depth)
}

func (g *Generator) field(buf *bytes.Buffer, depth int, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(buf, "%s%s = %s,\n", g.pad(depth), luaKey(name), quoteLuaString(value))
}

func (g *Generator) open(buf *bytes.Buffer, depth int, name string) {
	fmt.Fprintf(buf, "%s%s = {\n", g.pad(depth), luaKey(name))
}

func (g *Generator) close(buf *bytes.Buffer, depth int) {
	fmt.Fprintf(buf, "%s},\n", g.pad(depth))
}

func (g *Generator) list(buf *bytes.Buffer, depth int, name string, items []string) {
	g.open(buf, depth, name)
	for _, item := range items {
		fmt.Fprintf(buf, "%s%s,\n", g.pad(depth+1), quoteLuaString(item))
	}
	g.close(buf, depth)
}

// luaKey returns name as a table key, bracketing anything that is not a plain
// identifier.
func luaKey(name string) string {
	for i, r := range name {
		ident := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9')
		if !ident {
			return "[" + quoteLuaString(name) + "]"
		}
	}
	if name == "" {
		return `[""]`
	}
	return name
}

// formatDuration drops the zero minute and second suffixes time.Duration adds.
func formatDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

func quoteLuaString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}
