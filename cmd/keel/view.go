package main

import (
	"encoding/hex"
	"fmt"

	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
)

// manifestView is the YAML form of a manifest used by sign and inspect.
// Checksums are lowercase hex.
type manifestView struct {
	SpecVersion            uint32   `yaml:"spec_version"`
	Author                 []string `yaml:"author"`
	Changelog              string   `yaml:"changelog,omitempty"`
	ReleaseDate            string   `yaml:"release_date"`
	ExpiresOn              string   `yaml:"expires_on"`
	MinimumClientVersion   string   `yaml:"minimum_client_version"`
	MinimumWebAppVersion   string   `yaml:"minimum_webapp_version"`
	WebappVersionNumber    string   `yaml:"webapp_version_number"`
	TargetEnvironment      string   `yaml:"target_environment"`
	FileChecksum           string   `yaml:"file_checksum,omitempty"`
	FileChecksumCompressed string   `yaml:"file_checksum_compressed,omitempty"`
	FileContentLength      uint64   `yaml:"file_content_length,omitempty"`
}

func viewOf(m *envelope.Manifest) manifestView {
	return manifestView{
		SpecVersion:            m.SpecVersion,
		Author:                 m.Author,
		Changelog:              m.Changelog,
		ReleaseDate:            m.ReleaseDate,
		ExpiresOn:              m.ExpiresOn,
		MinimumClientVersion:   m.MinimumClientVersion,
		MinimumWebAppVersion:   m.MinimumWebAppVersion,
		WebappVersionNumber:    m.WebappVersionNumber,
		TargetEnvironment:      m.TargetEnvironment,
		FileChecksum:           hex.EncodeToString(m.FileChecksum),
		FileChecksumCompressed: hex.EncodeToString(m.FileChecksumCompressed),
		FileContentLength:      m.FileContentLength,
	}
}

func (v manifestView) manifest() (*envelope.Manifest, error) {
	sum, err := hex.DecodeString(v.FileChecksum)
	if err != nil {
		return nil, fmt.Errorf("file_checksum: %w", err)
	}
	sumCompressed, err := hex.DecodeString(v.FileChecksumCompressed)
	if err != nil {
		return nil, fmt.Errorf("file_checksum_compressed: %w", err)
	}
	return &envelope.Manifest{
		SpecVersion:            v.SpecVersion,
		Author:                 v.Author,
		Changelog:              v.Changelog,
		ReleaseDate:            v.ReleaseDate,
		ExpiresOn:              v.ExpiresOn,
		MinimumClientVersion:   v.MinimumClientVersion,
		MinimumWebAppVersion:   v.MinimumWebAppVersion,
		WebappVersionNumber:    v.WebappVersionNumber,
		TargetEnvironment:      v.TargetEnvironment,
		FileChecksum:           sum,
		FileChecksumCompressed: sumCompressed,
		FileContentLength:      v.FileContentLength,
	}, nil
}

// envelopeView adds the signer to a manifest view.
type envelopeView struct {
	PublicKey string       `yaml:"public_key"`
	Signature string       `yaml:"signature"`
	Verified  *bool        `yaml:"signature_valid,omitempty"`
	Manifest  manifestView `yaml:"manifest"`
}
