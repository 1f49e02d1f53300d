package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
)

// Capability names an external facility an operation may use.
type Capability string

const (
	// CapCrypto grants the fixed signature/digest library.
	CapCrypto Capability = "crypto"
	// CapNetwork grants the pinned HTTP client.
	CapNetwork Capability = "network"
	// CapFilesystem grants read access below the configured root.
	CapFilesystem Capability = "filesystem"
	// CapProgress grants the per-request progress sink.
	CapProgress Capability = "progress"
)

var knownCapabilities = map[Capability]bool{
	CapCrypto:     true,
	CapNetwork:    true,
	CapFilesystem: true,
	CapProgress:   true,
}

// ErrCapabilityDenied is returned when an operation asks for a capability
// that was not granted to it.
var ErrCapabilityDenied = errors.New("capability not granted")

// ProgressFunc receives transferred and total byte counts. total is -1 when
// unknown.
type ProgressFunc func(transferred, total int64)

// Operation is a sandboxed unit of work.
type Operation func(ctx context.Context, env *Env) (interface{}, error)

// Env is the only view an operation has of the outside world.
type Env struct {
	name      string
	constants Constants
	granted   map[Capability]bool

	crypto   Crypto
	client   *http.Client
	root     *os.Root
	progress ProgressFunc
}

// Operation returns the name the operation runs under.
func (e *Env) Operation() string {
	return e.name
}

// Granted returns the granted capabilities in sorted order.
func (e *Env) Granted() []Capability {
	caps := make([]Capability, 0, len(e.granted))
	for c := range e.granted {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

func (e *Env) check(c Capability) error {
	if !e.granted[c] {
		return fmt.Errorf("%s: %w: %s", e.name, ErrCapabilityDenied, c)
	}
	return nil
}

// Crypto returns the crypto library.
func (e *Env) Crypto() (Crypto, error) {
	if err := e.check(CapCrypto); err != nil {
		return nil, err
	}
	return e.crypto, nil
}

// HTTPClient returns the pinned HTTP client.
func (e *Env) HTTPClient() (*http.Client, error) {
	if err := e.check(CapNetwork); err != nil {
		return nil, err
	}
	return e.client, nil
}

// ReadFile reads a file relative to the filesystem root.
func (e *Env) ReadFile(name string) ([]byte, error) {
	if err := e.check(CapFilesystem); err != nil {
		return nil, err
	}
	return e.root.ReadFile(name)
}

// Open opens a file relative to the filesystem root.
func (e *Env) Open(name string) (*os.File, error) {
	if err := e.check(CapFilesystem); err != nil {
		return nil, err
	}
	return e.root.Open(name)
}

// Progress returns the progress sink.
func (e *Env) Progress() (ProgressFunc, error) {
	if err := e.check(CapProgress); err != nil {
		return nil, err
	}
	return e.progress, nil
}
