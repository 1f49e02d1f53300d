// Package updateerr defines the failure taxonomy shared by every stage of the
// update pipeline.
//
// A failure is always an *Error carrying a Kind. Callers match on the kind
// (KindOf, Is) rather than on concrete types, and the error dispatcher maps
// each kind to a stable numeric code shown to users.
package updateerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of an update failure.
type Kind int

const (
	// KindUnknown is used for errors that did not originate in the pipeline.
	KindUnknown Kind = iota
	// KindLogical means the orchestrator was misconfigured by its caller.
	KindLogical
	// KindIntegrity covers trust store, signature and checksum failures.
	KindIntegrity
	// KindVerify is a generic manifest policy failure.
	KindVerify
	// KindVerifyExpiration means the manifest validity window has passed.
	KindVerifyExpiration
	// KindVerifyMismatchEnvironment means the manifest targets another environment.
	KindVerifyMismatchEnvironment
	// KindBlacklistedVersion means the client or webapp is below a minimum version.
	KindBlacklistedVersion
	// KindDownload covers transport and decompression failures.
	KindDownload
	// KindProtobuf means wire data could not be decoded.
	KindProtobuf
	// KindInstaller covers failures after verification, while committing.
	KindInstaller
	// KindNotFound means there is no local manifest yet.
	KindNotFound
	// KindSandbox is a capability runner setup failure.
	KindSandbox
	// KindInternalSandbox means the sandboxed operation itself failed.
	KindInternalSandbox
)

var kindNames = map[Kind]string{
	KindUnknown:                   "UnknownError",
	KindLogical:                   "LogicalError",
	KindIntegrity:                 "IntegrityError",
	KindVerify:                    "VerifyError",
	KindVerifyExpiration:          "VerifyExpirationError",
	KindVerifyMismatchEnvironment: "VerifyMismatchEnvironment",
	KindBlacklistedVersion:        "BlacklistedVersionError",
	KindDownload:                  "DownloadError",
	KindProtobuf:                  "ProtobufError",
	KindInstaller:                 "InstallerError",
	KindNotFound:                  "NotFoundError",
	KindSandbox:                   "SandboxError",
	KindInternalSandbox:           "InternalSandboxError",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Blacklist codes carried by KindBlacklistedVersion errors.
const (
	BlacklistWrapper = "0"
	BlacklistWebapp  = "1"
)

// Transport subtypes carried by KindDownload errors.
const (
	DownloadTransport  = "transport"
	DownloadTimeout    = "timeout"
	DownloadTLS        = "tls"
	DownloadTooLarge   = "too_large"
	DownloadStatus     = "status"
	DownloadDecompress = "decompress"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Message string
	// Code is kind specific: the blacklist code for KindBlacklistedVersion,
	// the transport subtype for KindDownload, empty otherwise.
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" && e.Kind == KindBlacklistedVersion {
		msg = fmt.Sprintf("%s (code %s)", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty Code matches any code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind with a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Logical reports a misconfigured caller.
func Logical(format string, args ...interface{}) *Error {
	return New(KindLogical, format, args...)
}

// Integrity reports a trust, signature or checksum failure.
func Integrity(format string, args ...interface{}) *Error {
	return New(KindIntegrity, format, args...)
}

// Verify reports a manifest policy failure.
func Verify(format string, args ...interface{}) *Error {
	return New(KindVerify, format, args...)
}

// Expired reports an expired manifest.
func Expired(format string, args ...interface{}) *Error {
	return New(KindVerifyExpiration, format, args...)
}

// MismatchEnvironment reports a manifest built for another environment.
func MismatchEnvironment(format string, args ...interface{}) *Error {
	return New(KindVerifyMismatchEnvironment, format, args...)
}

// Blacklisted reports a version below the manifest minimum. code is
// BlacklistWrapper or BlacklistWebapp.
func Blacklisted(code string, format string, args ...interface{}) *Error {
	e := New(KindBlacklistedVersion, format, args...)
	e.Code = code
	return e
}

// Download reports a transport failure with a subtype.
func Download(subtype string, err error, format string, args ...interface{}) *Error {
	e := Wrap(KindDownload, err, format, args...)
	e.Code = subtype
	return e
}

// Protobuf reports malformed wire data.
func Protobuf(err error, format string, args ...interface{}) *Error {
	return Wrap(KindProtobuf, err, format, args...)
}

// Installer reports a failure while committing a verified bundle.
func Installer(err error, format string, args ...interface{}) *Error {
	return Wrap(KindInstaller, err, format, args...)
}

// NotFound reports a missing local manifest.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
