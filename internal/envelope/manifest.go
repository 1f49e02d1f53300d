package envelope

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

// Manifest field numbers.
const (
	fieldAuthor                 protowire.Number = 1
	fieldChangelog              protowire.Number = 2
	fieldExpiresOn              protowire.Number = 3
	fieldFileChecksum           protowire.Number = 4
	fieldFileChecksumCompressed protowire.Number = 5
	fieldFileContentLength      protowire.Number = 6
	fieldMinimumClientVersion   protowire.Number = 7
	fieldMinimumWebAppVersion   protowire.Number = 8
	fieldReleaseDate            protowire.Number = 9
	fieldSpecVersion            protowire.Number = 10
	fieldTargetEnvironment      protowire.Number = 11
	fieldWebappVersionNumber    protowire.Number = 12
)

// Manifest describes an available update.
type Manifest struct {
	SpecVersion uint32
	Author      []string
	Changelog   string
	// ReleaseDate and ExpiresOn are ISO-8601 timestamps.
	ReleaseDate string
	ExpiresOn   string
	// MinimumClientVersion is MAJOR.MINOR[.PATCH].
	MinimumClientVersion string
	// MinimumWebAppVersion and WebappVersionNumber are build timestamps.
	MinimumWebAppVersion   string
	WebappVersionNumber    string
	TargetEnvironment      string
	FileChecksum           []byte
	FileChecksumCompressed []byte
	FileContentLength      uint64
}

// Marshal returns the wire encoding of m.
func (m *Manifest) Marshal() []byte {
	var b []byte
	for _, a := range m.Author {
		b = protowire.AppendTag(b, fieldAuthor, protowire.BytesType)
		b = protowire.AppendString(b, a)
	}
	b = appendString(b, fieldChangelog, m.Changelog)
	b = appendString(b, fieldExpiresOn, m.ExpiresOn)
	b = appendBytes(b, fieldFileChecksum, m.FileChecksum)
	b = appendBytes(b, fieldFileChecksumCompressed, m.FileChecksumCompressed)
	b = appendVarint(b, fieldFileContentLength, m.FileContentLength)
	b = appendString(b, fieldMinimumClientVersion, m.MinimumClientVersion)
	b = appendString(b, fieldMinimumWebAppVersion, m.MinimumWebAppVersion)
	b = appendString(b, fieldReleaseDate, m.ReleaseDate)
	b = appendVarint(b, fieldSpecVersion, uint64(m.SpecVersion))
	b = appendString(b, fieldTargetEnvironment, m.TargetEnvironment)
	b = appendString(b, fieldWebappVersionNumber, m.WebappVersionNumber)
	return b
}

// DecodeManifest parses a wire-encoded manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}

	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldFileContentLength, fieldSpecVersion:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			if num == fieldSpecVersion {
				if v > math.MaxUint32 {
					return 0, fmt.Errorf("specVersion %d overflows uint32", v)
				}
				m.SpecVersion = uint32(v)
			} else {
				m.FileContentLength = v
			}
			return n, nil

		case fieldFileChecksum, fieldFileChecksumCompressed:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			if num == fieldFileChecksum {
				m.FileChecksum = v
			} else {
				m.FileChecksumCompressed = v
			}
			return n, nil

		case fieldAuthor, fieldChangelog, fieldExpiresOn, fieldMinimumClientVersion,
			fieldMinimumWebAppVersion, fieldReleaseDate, fieldTargetEnvironment, fieldWebappVersionNumber:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.setString(num, string(v))
			return n, nil
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, updateerr.Protobuf(err, "decode manifest")
	}

	return m, nil
}

func (m *Manifest) setString(num protowire.Number, v string) {
	switch num {
	case fieldAuthor:
		m.Author = append(m.Author, v)
	case fieldChangelog:
		m.Changelog = v
	case fieldExpiresOn:
		m.ExpiresOn = v
	case fieldMinimumClientVersion:
		m.MinimumClientVersion = v
	case fieldMinimumWebAppVersion:
		m.MinimumWebAppVersion = v
	case fieldReleaseDate:
		m.ReleaseDate = v
	case fieldTargetEnvironment:
		m.TargetEnvironment = v
	case fieldWebappVersionNumber:
		m.WebappVersionNumber = v
	}
}
