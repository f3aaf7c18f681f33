// Package versionutil normalizes the version string printed by the CLI.
package versionutil

import "strings"

// Dev is the placeholder version of builds without -ldflags.
const Dev = "dev"

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
func EnsureVPrefix(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// Resolve returns the display version for a build. A Dev build asks
// describe (normally `git describe`) and marks the result with a "-dev"
// suffix; release builds only get the "v" prefix that GoReleaser strips.
func Resolve(build string, describe func() (string, error)) string {
	build = strings.TrimSpace(build)
	if build == "" || build == Dev {
		if describe == nil {
			return Dev
		}
		desc, err := describe()
		desc = strings.TrimSpace(desc)
		if err != nil || desc == "" {
			return Dev
		}
		return EnsureVPrefix(desc) + "-dev"
	}
	return EnsureVPrefix(build)
}
