package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"sync"

	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

// Providers are the concrete facilities a Runner can hand out. A capability
// whose provider is missing cannot be granted.
type Providers struct {
	Crypto     Crypto
	HTTPClient *http.Client
	// FSRoot is the only directory CapFilesystem can read from.
	FSRoot string
}

// Request describes a single sandboxed invocation.
type Request struct {
	Operation    string
	Constants    Constants
	Capabilities []Capability
	// Progress is only reachable by the operation when CapProgress is granted.
	Progress ProgressFunc
}

// Runner executes registered operations with an explicit capability set.
type Runner struct {
	mu        sync.RWMutex
	ops       map[string]Operation
	providers Providers
	logger    logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.OrNop(l)
	}
}

// NewRunner creates a runner backed by the given providers.
func NewRunner(p Providers, opts ...Option) *Runner {
	r := &Runner{
		ops:       make(map[string]Operation),
		providers: p,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an operation. Names are unique.
func (r *Runner) Register(name string, op Operation) error {
	if name == "" || op == nil {
		return fmt.Errorf("operation name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[name]; exists {
		return fmt.Errorf("operation %q already registered", name)
	}
	r.ops[name] = op
	return nil
}

// Registered reports whether an operation exists.
func (r *Runner) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[name]
	return ok
}

// Run executes the named operation with only the requested capabilities.
func (r *Runner) Run(ctx context.Context, req Request) (interface{}, error) {
	r.mu.RLock()
	op, ok := r.ops[req.Operation]
	r.mu.RUnlock()
	if !ok {
		return nil, updateerr.New(updateerr.KindSandbox, "unknown operation %q", req.Operation)
	}

	env, cleanup, err := r.prepare(req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	r.logger.Debug("sandbox run", "operation", req.Operation, "capabilities", env.Granted())

	value, err := invoke(ctx, op, env)
	if err != nil {
		return nil, updateerr.Wrap(updateerr.KindInternalSandbox, err, "operation %q failed", req.Operation)
	}
	if verr, isErr := value.(error); isErr {
		return nil, updateerr.Wrap(updateerr.KindInternalSandbox, verr, "operation %q returned an error value", req.Operation)
	}
	return value, nil
}

// RunBytes runs an operation whose result is a byte slice.
func (r *Runner) RunBytes(ctx context.Context, req Request) ([]byte, error) {
	v, err := r.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, updateerr.New(updateerr.KindInternalSandbox, "operation %q returned %T, not []byte", req.Operation, v)
	}
	return b, nil
}

func (r *Runner) prepare(req Request) (*Env, func(), error) {
	constants, err := freeze(req.Constants)
	if err != nil {
		return nil, nil, updateerr.Wrap(updateerr.KindSandbox, err, "operation %q", req.Operation)
	}

	env := &Env{
		name:      req.Operation,
		constants: constants,
		granted:   make(map[Capability]bool, len(req.Capabilities)),
	}

	for _, c := range req.Capabilities {
		if !knownCapabilities[c] {
			return nil, nil, updateerr.New(updateerr.KindSandbox, "operation %q: unknown capability %q", req.Operation, c)
		}
		switch c {
		case CapCrypto:
			if r.providers.Crypto == nil {
				return nil, nil, updateerr.New(updateerr.KindSandbox, "operation %q: no crypto provider", req.Operation)
			}
			env.crypto = r.providers.Crypto
		case CapNetwork:
			if r.providers.HTTPClient == nil {
				return nil, nil, updateerr.New(updateerr.KindSandbox, "operation %q: no network provider", req.Operation)
			}
			env.client = r.providers.HTTPClient
		case CapProgress:
			env.progress = req.Progress
			if env.progress == nil {
				env.progress = func(int64, int64) {}
			}
		case CapFilesystem:
			if r.providers.FSRoot == "" {
				return nil, nil, updateerr.New(updateerr.KindSandbox, "operation %q: no filesystem root", req.Operation)
			}
		}
		env.granted[c] = true
	}

	// Opened after validation: the error paths above hold nothing.
	if env.granted[CapFilesystem] {
		root, err := os.OpenRoot(r.providers.FSRoot)
		if err != nil {
			return nil, nil, updateerr.Wrap(updateerr.KindSandbox, err, "operation %q: open filesystem root", req.Operation)
		}
		env.root = root
		return env, func() { root.Close() }, nil
	}

	return env, func() {}, nil
}

// invoke runs op and converts panics into errors.
func invoke(ctx context.Context, op Operation, env *Env) (value interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
			value = nil
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return op(ctx, env)
}
