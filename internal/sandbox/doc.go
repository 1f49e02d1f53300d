// Package sandbox implements the capability runner used to isolate the
// riskiest steps of the update pipeline.
//
// # Security Model
//
// An operation is a narrowly scoped function registered under a name. It
// never receives the caller's state directly. Instead it gets an *Env that
// exposes:
//   - a frozen copy of the input constants (byte slices are copied, only
//     plain values are accepted)
//   - only the capabilities named in the request (crypto library, pinned
//     HTTP client, a filesystem root, a progress sink)
//
// Asking the Env for a capability that was not granted fails with
// ErrCapabilityDenied. Filesystem access goes through an os.Root, so paths
// cannot escape the whitelisted directory.
//
// # Failures
//
// Setup problems (unknown operation, unknown or unavailable capability,
// constants that cannot be frozen, unreadable filesystem root) are reported
// as updateerr.KindSandbox. Anything the operation itself raises, including
// panics and error values returned as results, is reported as
// updateerr.KindInternalSandbox.
//
// # Usage
//
//	runner := sandbox.NewRunner(sandbox.Providers{Crypto: sandbox.DefaultCrypto()})
//	runner.Register("checksum", checksumOp)
//
//	v, err := runner.Run(ctx, sandbox.Request{
//	    Operation:    "checksum",
//	    Constants:    sandbox.Constants{"data": payload},
//	    Capabilities: []sandbox.Capability{sandbox.CapCrypto},
//	})
package sandbox
