package verify

import (
	"time"

	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

const (
	// SupportedSpecVersion is the only manifest schema version accepted.
	SupportedSpecVersion uint32 = 1

	// MaxValidity bounds expiresOn - releaseDate.
	MaxValidity = 90 * 24 * time.Hour

	// WebappVersionFloor is the oldest build timestamp ever accepted, for the
	// offered webapp, its declared minimum and the installed webapp.
	WebappVersionFloor = "2019-01-01-00-00"

	// ExpiredMessage is the message of every expiration error.
	ExpiredMessage = "This update expired and is no longer valid"
)

// Current describes what is running locally.
type Current struct {
	// WebappVersion is the installed webapp build timestamp.
	WebappVersion string
	// WebappEnvironment is the environment the installed webapp targets.
	WebappEnvironment string
	// ClientVersion is the running client version, MAJOR.MINOR[.PATCH].
	ClientVersion string
	// Environment is the configured local environment. Empty skips the
	// local-vs-remote environment check.
	Environment string
}

// VerifyManifest applies the manifest policy. Checks run in a fixed order and
// blacklist checks always run last, so structural defects are reported even
// for retired versions.
func (v *Verifier) VerifyManifest(m *envelope.Manifest, cur Current) error {
	_, err := v.verifyManifest(m, cur, false)
	return err
}

// VerifyInstalledManifest applies the same policy to a manifest that is
// already installed. Expiry does not stop the remaining checks; it is
// reported through the expired result instead.
func (v *Verifier) VerifyInstalledManifest(m *envelope.Manifest, cur Current) (expired bool, err error) {
	return v.verifyManifest(m, cur, true)
}

func (v *Verifier) verifyManifest(m *envelope.Manifest, cur Current, tolerateExpiry bool) (bool, error) {
	expired := false
	if m == nil {
		return expired, updateerr.Verify("Manifest is missing")
	}

	if m.SpecVersion != SupportedSpecVersion {
		return expired, updateerr.Verify("Unsupported manifest spec version %d (supported: %d)", m.SpecVersion, SupportedSpecVersion)
	}

	now := v.clock.Now().UTC()
	if now.IsZero() {
		return expired, updateerr.Verify("Current time is not valid")
	}
	expiresOn, errExp := ParseDate(m.ExpiresOn)
	releaseDate, errRel := ParseDate(m.ReleaseDate)
	if errExp != nil || errRel != nil {
		return expired, updateerr.Verify("Manifest dates are not valid (releaseDate %q, expiresOn %q)", m.ReleaseDate, m.ExpiresOn)
	}

	if releaseDate.After(now) {
		return expired, updateerr.Verify("Release date %s is in the future", m.ReleaseDate)
	}

	if expiresOn.Sub(releaseDate) > MaxValidity {
		return expired, updateerr.Verify("Validity window from %s to %s exceeds the maximum of %s",
			m.ReleaseDate, m.ExpiresOn, MaxValidity)
	}

	if !now.Before(expiresOn) {
		if !tolerateExpiry {
			return true, updateerr.Expired(ExpiredMessage)
		}
		expired = true
		v.logger.Warn("installed manifest has expired", "expiresOn", m.ExpiresOn)
	}

	if !IsValidVersion(m.MinimumClientVersion) || !IsValidVersion(cur.ClientVersion) {
		return expired, updateerr.Verify("Minimum client version (%s) or current client version (%s) is invalid",
			m.MinimumClientVersion, cur.ClientVersion)
	}

	offered, err1 := ParseBuildTimestamp(m.WebappVersionNumber)
	minimum, err2 := ParseBuildTimestamp(m.MinimumWebAppVersion)
	installed, err3 := ParseBuildTimestamp(cur.WebappVersion)
	if err1 != nil || err2 != nil || err3 != nil {
		return expired, updateerr.Verify("Webapp versions are not valid (offered %q, minimum %q, installed %q)",
			m.WebappVersionNumber, m.MinimumWebAppVersion, cur.WebappVersion)
	}
	floor, _ := ParseBuildTimestamp(WebappVersionFloor)
	if offered.Before(floor) || minimum.Before(floor) || installed.Before(floor) {
		return expired, updateerr.Verify("Webapp versions older than %s are not accepted (offered %s, minimum %s, installed %s)",
			WebappVersionFloor, m.WebappVersionNumber, m.MinimumWebAppVersion, cur.WebappVersion)
	}

	if cur.WebappEnvironment == m.TargetEnvironment && installed.After(offered) {
		return expired, updateerr.Verify("The offered webapp version (%s) is older than ours (%s)",
			m.WebappVersionNumber, cur.WebappVersion)
	}

	if minimum.After(offered) {
		return expired, updateerr.Verify("Minimum webapp version (%s) is newer than the offered version (%s)",
			m.MinimumWebAppVersion, m.WebappVersionNumber)
	}

	if len(m.FileChecksum) != sandbox.DigestSize || len(m.FileChecksumCompressed) != sandbox.DigestSize {
		return expired, updateerr.Verify("File checksums must be %d-byte digests (got %d and %d bytes)",
			sandbox.DigestSize, len(m.FileChecksum), len(m.FileChecksumCompressed))
	}
	if len(m.Author) == 0 {
		return expired, updateerr.Verify("Manifest has no author")
	}

	return expired, verifyBlacklist(m, cur, minimum, installed)
}

func verifyBlacklist(m *envelope.Manifest, cur Current, minimum, installed time.Time) error {
	cmp, err := CompareVersions(cur.ClientVersion, m.MinimumClientVersion)
	if err != nil {
		return updateerr.Verify("Compare client versions: %v", err)
	}
	if cmp < 0 {
		return updateerr.Blacklisted(updateerr.BlacklistWrapper,
			"Client version %s is older than the minimum %s", cur.ClientVersion, m.MinimumClientVersion)
	}

	if cur.Environment != "" && cur.Environment != m.TargetEnvironment {
		return updateerr.MismatchEnvironment("Manifest targets %s but the local environment is %s",
			m.TargetEnvironment, cur.Environment)
	}
	if cur.WebappEnvironment != "" && m.TargetEnvironment != cur.WebappEnvironment {
		return updateerr.MismatchEnvironment("Manifest targets %s but the running webapp targets %s",
			m.TargetEnvironment, cur.WebappEnvironment)
	}

	if installed.Before(minimum) {
		return updateerr.Blacklisted(updateerr.BlacklistWebapp,
			"Webapp version %s is older than the minimum %s", cur.WebappVersion, m.MinimumWebAppVersion)
	}

	return nil
}
