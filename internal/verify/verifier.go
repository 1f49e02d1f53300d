// Package verify decides whether an update envelope can be trusted.
//
// Checks run in a fixed order: the public key must be in the environment's
// trust store, then the detached signature must verify, then the manifest
// must pass the policy battery in VerifyManifest. Signature and checksum
// computation run inside the sandbox with only the crypto capability.
package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/ZebulonRouseFrantzich/keel/internal/clock"
	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

// Sandboxed operation names.
const (
	OpVerifySignature = "verify-signature"
	OpChecksum        = "checksum"
)

// Verifier runs integrity and policy checks.
type Verifier struct {
	runner *sandbox.Runner
	clock  clock.Clock
	logger logging.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the clock used for date checks.
func WithClock(c clock.Clock) Option {
	return func(v *Verifier) { v.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(v *Verifier) { v.logger = logging.OrNop(l) }
}

// New creates a verifier and registers its sandboxed operations on runner.
func New(runner *sandbox.Runner, opts ...Option) (*Verifier, error) {
	if runner == nil {
		return nil, fmt.Errorf("sandbox runner is required")
	}
	v := &Verifier{
		runner: runner,
		clock:  clock.Real{},
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}

	ops := map[string]sandbox.Operation{
		OpVerifySignature: verifySignatureOp,
		OpChecksum:        checksumOp,
	}
	for name, op := range ops {
		if runner.Registered(name) {
			continue
		}
		if err := runner.Register(name, op); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}

	return v, nil
}

// VerifyEnvelopeIntegrity checks the detached signature over data.
func (v *Verifier) VerifyEnvelopeIntegrity(ctx context.Context, data, signature, publicKey []byte) error {
	_, err := v.runner.Run(ctx, sandbox.Request{
		Operation: OpVerifySignature,
		Constants: sandbox.Constants{
			"data":      data,
			"signature": signature,
			"publicKey": publicKey,
		},
		Capabilities: []sandbox.Capability{sandbox.CapCrypto},
	})
	if err != nil {
		v.logger.Error("envelope signature rejected", "publicKey", hex.EncodeToString(publicKey), "error", err)
		return &updateerr.Error{
			Kind: updateerr.KindIntegrity,
			Message: fmt.Sprintf("Envelope signature is invalid (signature %s, data %s)",
				base64.StdEncoding.EncodeToString(signature), base64.StdEncoding.EncodeToString(data)),
			Err: err,
		}
	}
	return nil
}

// VerifyFileIntegrity checks that fileBytes hash to expected.
func (v *Verifier) VerifyFileIntegrity(ctx context.Context, fileBytes, expected []byte) error {
	return v.compareDigest(ctx, sandbox.Request{
		Operation:    OpChecksum,
		Constants:    sandbox.Constants{"data": fileBytes},
		Capabilities: []sandbox.Capability{sandbox.CapCrypto},
	}, expected)
}

// VerifyStoredFile checks a file below the runner's filesystem root without
// loading it into the caller.
func (v *Verifier) VerifyStoredFile(ctx context.Context, name string, expected []byte) error {
	return v.compareDigest(ctx, sandbox.Request{
		Operation:    OpChecksum,
		Constants:    sandbox.Constants{"path": name},
		Capabilities: []sandbox.Capability{sandbox.CapCrypto, sandbox.CapFilesystem},
	}, expected)
}

func (v *Verifier) compareDigest(ctx context.Context, req sandbox.Request, expected []byte) error {
	actual, err := v.runner.RunBytes(ctx, req)
	if err != nil {
		return &updateerr.Error{
			Kind:    updateerr.KindIntegrity,
			Message: "Could not compute checksum",
			Err:     err,
		}
	}
	if !bytes.Equal(actual, expected) {
		return updateerr.Integrity("Checksum mismatch: expected %s, got %s",
			hex.EncodeToString(expected), hex.EncodeToString(actual))
	}
	return nil
}

func verifySignatureOp(ctx context.Context, env *sandbox.Env) (interface{}, error) {
	c, err := env.Crypto()
	if err != nil {
		return nil, err
	}
	data, err := env.Bytes("data")
	if err != nil {
		return nil, err
	}
	sig, err := env.Bytes("signature")
	if err != nil {
		return nil, err
	}
	pub, err := env.Bytes("publicKey")
	if err != nil {
		return nil, err
	}
	if err := c.VerifyDetached(pub, data, sig); err != nil {
		return nil, err
	}
	return true, nil
}

func checksumOp(ctx context.Context, env *sandbox.Env) (interface{}, error) {
	c, err := env.Crypto()
	if err != nil {
		return nil, err
	}

	if env.Has("path") {
		name, err := env.String("path")
		if err != nil {
			return nil, err
		}
		f, err := env.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return c.DigestReader(f)
	}

	data, err := env.Bytes("data")
	if err != nil {
		return nil, err
	}
	return c.Digest(data), nil
}
