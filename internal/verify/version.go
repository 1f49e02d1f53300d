package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// BuildTimestampLayout is the layout of webapp build versions, e.g.
// "2026-10-18-12-30". Build timestamps are UTC.
const BuildTimestampLayout = "2006-01-02-15-04"

var versionPattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}(\.\d{1,3})?$`)

// IsValidVersion reports whether v matches MAJOR.MINOR[.PATCH] with at most
// three digits per segment.
func IsValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// canonical converts a valid MAJOR.MINOR[.PATCH] string into a semver string.
func canonical(v string) (string, error) {
	if !IsValidVersion(v) {
		return "", fmt.Errorf("invalid version %q", v)
	}
	parts := strings.Split(v, ".")
	nums := make([]string, 3)
	nums[2] = "0"
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid version %q: %w", v, err)
		}
		nums[i] = strconv.Itoa(n)
	}
	return "v" + strings.Join(nums, "."), nil
}

// CompareVersions compares two MAJOR.MINOR[.PATCH] versions and returns -1, 0
// or +1. A missing patch segment counts as zero.
func CompareVersions(a, b string) (int, error) {
	ca, err := canonical(a)
	if err != nil {
		return 0, err
	}
	cb, err := canonical(b)
	if err != nil {
		return 0, err
	}
	return semver.Compare(ca, cb), nil
}

// ParseBuildTimestamp parses a webapp build version.
func ParseBuildTimestamp(v string) (time.Time, error) {
	t, err := time.ParseInLocation(BuildTimestampLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid build timestamp %q: %w", v, err)
	}
	return t, nil
}

// ParseDate parses an ISO-8601 timestamp and returns it in UTC.
func ParseDate(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ISO-8601 date %q: %w", v, err)
	}
	return t.UTC(), nil
}
