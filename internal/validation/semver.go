// Package validation holds the input rules applied to uploaded packages:
// version number format and ordering, package name format, and archive entry
// path safety. Validators are pure and run before anything is persisted.
package validation

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/hashicorp/go-version"
)

// maxVersionNumberLength matches package_versions.version_number.
const maxVersionNumberLength = 16

// versionNumberPattern is the accepted shape: exactly Major.Minor.Patch.
var versionNumberPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)

// ValidateVersionNumber accepts only plain Major.Minor.Patch numbers.
func ValidateVersionNumber(v string) error {
	if len(v) > maxVersionNumberLength {
		return fmt.Errorf("version number must be at most %d characters", maxVersionNumberLength)
	}
	if !versionNumberPattern.MatchString(v) {
		return fmt.Errorf("version number %q must be in Major.Minor.Patch format", v)
	}
	if _, err := version.NewVersion(v); err != nil {
		return fmt.Errorf("invalid version number: %w", err)
	}
	return nil
}

// CompareVersions compares two version numbers semantically.
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1Str, v2Str string) (int, error) {
	v1, err := version.NewVersion(v1Str)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1: %w", err)
	}

	v2, err := version.NewVersion(v2Str)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2: %w", err)
	}

	return v1.Compare(v2), nil
}

// CheckStrictlyGreater verifies candidate is greater than every existing
// version. It names the first sibling that blocks the candidate.
func CheckStrictlyGreater(candidate string, existing []string) error {
	for _, other := range existing {
		cmp, err := CompareVersions(candidate, other)
		if err != nil {
			return err
		}
		if cmp == 0 {
			return fmt.Errorf("version %s already exists", candidate)
		}
		if cmp < 0 {
			return fmt.Errorf("version %s must be greater than existing version %s", candidate, other)
		}
	}
	return nil
}

// SortVersionsDesc sorts items newest first by the version returned from key.
// Items with unparsable versions sort last, in their original order.
func SortVersionsDesc[T any](items []T, key func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		vi, errI := version.NewVersion(key(items[i]))
		vj, errJ := version.NewVersion(key(items[j]))
		switch {
		case errI != nil:
			return false
		case errJ != nil:
			return true
		default:
			return vi.GreaterThan(vj)
		}
	})
}
