package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
	"github.com/ZebulonRouseFrantzich/keel/internal/platform"
)

const (
	luaGlobal = "keel"

	// maxConfigSize bounds keel.lua.
	maxConfigSize = 1 << 20
)

// Parser evaluates keel.lua.
type Parser struct {
	detector platform.Detector
	logger   logging.Logger
}

// NewParser creates a parser. A nil detector leaves the platform table out.
func NewParser(detector platform.Detector, logger logging.Logger) *Parser {
	return &Parser{detector: detector, logger: logging.OrNop(logger)}
}

// ParseError is a configuration error with a friendly message.
type ParseError struct {
	Message string
	Detail  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// ParseFile reads and evaluates path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > maxConfigSize {
		return nil, &ParseError{Message: "config file too large", Detail: fmt.Sprintf("%s exceeds %d bytes", path, maxConfigSize)}
	}

	p.logger.Debug("parsing config", "path", path)
	return p.ParseString(ctx, string(data))
}

// ParseString evaluates Lua source.
func (p *Parser) ParseString(ctx context.Context, src string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(src); err != nil {
		return nil, &ParseError{Message: "Lua error", Detail: err.Error()}
	}

	cfg, err := extractConfig(L)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{Message: "config validation failed", Detail: err.Error()}
	}
	return cfg, nil
}

func extractConfig(L *lua.LState) (*Config, error) {
	v := L.GetGlobal(luaGlobal)
	root, ok := v.(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: "missing or invalid 'keel' table",
			Detail:  fmt.Sprintf("expected table, got %s", v.Type()),
		}
	}

	cfg := &Config{}
	var err error
	if cfg.ClientVersion, err = optString(root, "client_version"); err != nil {
		return nil, err
	}
	if cfg.Environment, err = optString(root, "environment"); err != nil {
		return nil, err
	}
	if cfg.Endpoint, err = optString(root, "endpoint"); err != nil {
		return nil, err
	}
	if cfg.ManifestName, err = optString(root, "manifest_name"); err != nil {
		return nil, err
	}
	if cfg.SupportURL, err = optString(root, "support_url"); err != nil {
		return nil, err
	}
	if cfg.Hosts, err = stringList(root, "hosts"); err != nil {
		return nil, err
	}

	interval, err := optString(root, "check_interval")
	if err != nil {
		return nil, err
	}
	if interval != "" {
		d, perr := time.ParseDuration(interval)
		if perr != nil {
			return nil, &ParseError{Message: "invalid check_interval", Detail: perr.Error()}
		}
		cfg.CheckInterval = d
	}

	if t, ok := root.RawGetString("telemetry").(*lua.LTable); ok {
		if b, ok := t.RawGetString("enabled").(lua.LBool); ok {
			cfg.Telemetry.Enabled = bool(b)
		}
		if cfg.Telemetry.Endpoint, err = optString(t, "endpoint"); err != nil {
			return nil, err
		}
	}

	if cfg.Pins, err = extractPins(root); err != nil {
		return nil, err
	}
	if cfg.TrustStores, err = extractTrustStores(root); err != nil {
		return nil, err
	}
	return cfg, nil
}

func optString(t *lua.LTable, field string) (string, error) {
	switch v := t.RawGetString(field).(type) {
	case lua.LString:
		return string(v), nil
	case *lua.LNilType:
		return "", nil
	default:
		return "", &ParseError{Message: "invalid " + field, Detail: fmt.Sprintf("expected string, got %s", v.Type())}
	}
}

// stringList reads an array of strings. nil entries, as produced by
// platform.when, are skipped.
func stringList(t *lua.LTable, field string) ([]string, error) {
	v := t.RawGetString(field)
	if v == lua.LNil {
		return nil, nil
	}
	list, ok := v.(*lua.LTable)
	if !ok {
		return nil, &ParseError{Message: "invalid " + field, Detail: fmt.Sprintf("expected list, got %s", v.Type())}
	}

	var out []string
	var bad lua.LValue
	list.ForEach(func(_, item lua.LValue) {
		switch s := item.(type) {
		case lua.LString:
			out = append(out, string(s))
		case *lua.LNilType:
		default:
			if bad == nil {
				bad = item
			}
		}
	})
	if bad != nil {
		return nil, &ParseError{Message: "invalid " + field, Detail: fmt.Sprintf("expected strings, found %s", bad.Type())}
	}
	return out, nil
}

func extractPins(root *lua.LTable) ([]Pin, error) {
	v := root.RawGetString("pins")
	if v == lua.LNil {
		return nil, nil
	}
	list, ok := v.(*lua.LTable)
	if !ok {
		return nil, &ParseError{Message: "invalid pins", Detail: fmt.Sprintf("expected list, got %s", v.Type())}
	}

	var pins []Pin
	var perr error
	list.ForEach(func(_, item lua.LValue) {
		if perr != nil {
			return
		}
		entry, ok := item.(*lua.LTable)
		if !ok {
			perr = &ParseError{Message: "invalid pins", Detail: fmt.Sprintf("expected table entry, got %s", item.Type())}
			return
		}
		var pin Pin
		if pin.Host, perr = optString(entry, "host"); perr != nil {
			return
		}
		if pin.SHA256, perr = optString(entry, "sha256"); perr != nil {
			return
		}
		pins = append(pins, pin)
	})
	if perr != nil {
		return nil, perr
	}
	return pins, nil
}

func extractTrustStores(root *lua.LTable) (map[string][]string, error) {
	v := root.RawGetString("trust_stores")
	if v == lua.LNil {
		return nil, nil
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, &ParseError{Message: "invalid trust_stores", Detail: fmt.Sprintf("expected table, got %s", v.Type())}
	}

	stores := make(map[string][]string)
	var serr error
	t.ForEach(func(k, _ lua.LValue) {
		if serr != nil {
			return
		}
		env, ok := k.(lua.LString)
		if !ok {
			serr = &ParseError{Message: "invalid trust_stores", Detail: "environment names must be strings"}
			return
		}
		keys, err := stringList(t, string(env))
		if err != nil {
			serr = err
			return
		}
		stores[string(env)] = keys
	})
	if serr != nil {
		return nil, serr
	}
	return stores, nil
}

// FormatError renders err for the terminal. Lua stack traces are only shown
// when verbose.
func FormatError(err error, verbose bool) string {
	perr, ok := err.(*ParseError)
	if !ok {
		return err.Error()
	}
	if verbose {
		return fmt.Sprintf("%s\n\nDetails:\n%s", perr.Message, perr.Detail)
	}
	detail := perr.Detail
	if idx := strings.Index(detail, "stack traceback"); idx > 0 {
		detail = strings.TrimSpace(detail[:idx])
	}
	return fmt.Sprintf("%s: %s", perr.Message, detail)
}
