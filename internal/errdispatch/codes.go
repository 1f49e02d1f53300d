// Package errdispatch turns update failures into a stable numeric code, asks
// the user whether to retry, and optionally reports the incident.
package errdispatch

import (
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

// Code is the user-visible failure code. Values never change between
// releases.
type Code int

const (
	CodeUnknown            Code = 1000
	CodeProtobuf           Code = 1001
	CodeDownload           Code = 1002
	CodeDownloadTimeout    Code = 1003
	CodeDownloadTLS        Code = 1004
	CodeDownloadTooLarge   Code = 1005
	CodeDownloadStatus     Code = 1006
	CodeDownloadDecompress Code = 1007
	CodeVerify             Code = 1008
	CodeVerifyExpired      Code = 1009
	CodeIntegrity          Code = 1010
	CodeInstaller          Code = 1011
	CodeLogical            Code = 1012
)

var downloadCodes = map[string]Code{
	updateerr.DownloadTimeout:    CodeDownloadTimeout,
	updateerr.DownloadTLS:        CodeDownloadTLS,
	updateerr.DownloadTooLarge:   CodeDownloadTooLarge,
	updateerr.DownloadStatus:     CodeDownloadStatus,
	updateerr.DownloadDecompress: CodeDownloadDecompress,
}

// Classify maps err onto a Code using the outermost classified error.
func Classify(err error) Code {
	switch updateerr.KindOf(err) {
	case updateerr.KindProtobuf:
		return CodeProtobuf
	case updateerr.KindDownload:
		if c, ok := downloadCodes[updateerr.CodeOf(err)]; ok {
			return c
		}
		return CodeDownload
	case updateerr.KindVerify, updateerr.KindVerifyMismatchEnvironment, updateerr.KindBlacklistedVersion:
		return CodeVerify
	case updateerr.KindVerifyExpiration:
		return CodeVerifyExpired
	case updateerr.KindIntegrity:
		return CodeIntegrity
	case updateerr.KindInstaller:
		return CodeInstaller
	case updateerr.KindLogical:
		return CodeLogical
	default:
		return CodeUnknown
	}
}
