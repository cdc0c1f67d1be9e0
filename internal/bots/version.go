package bots

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions compares two version strings semantically, returning -1,
// 0 or 1. A leading "v" is ignored.
func CompareVersions(v1, v2 string) (int, error) {
	version1, err := semver.NewVersion(strings.TrimPrefix(v1, "v"))
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", v1, err)
	}
	version2, err := semver.NewVersion(strings.TrimPrefix(v2, "v"))
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", v2, err)
	}
	return version1.Compare(version2), nil
}

// IsValidVersion checks if a version string is a valid semantic version.
func IsValidVersion(version string) bool {
	_, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	return err == nil
}

// Compatible reports whether a server at appVersion can run a bot that
// requires minVersion. Development builds (non-semver app versions) accept
// every bot.
func Compatible(minVersion, appVersion string) (bool, error) {
	if minVersion == "" || !IsValidVersion(appVersion) {
		return true, nil
	}
	constraint, err := semver.NewConstraint(">= " + strings.TrimPrefix(minVersion, "v"))
	if err != nil {
		return false, fmt.Errorf("invalid min_server_version %s: %w", minVersion, err)
	}
	app, _ := semver.NewVersion(strings.TrimPrefix(appVersion, "v"))
	return constraint.Check(app), nil
}
