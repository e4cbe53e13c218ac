package validation

import (
	"fmt"
	"regexp"
)

const maxPackageNameLength = 128

var packageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidatePackageName checks a manifest package name. Dashes are reserved as
// the full-name separator.
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name is required")
	}
	if len(name) > maxPackageNameLength {
		return fmt.Errorf("package name must be at most %d characters", maxPackageNameLength)
	}
	if !packageNamePattern.MatchString(name) {
		return fmt.Errorf("package name can only contain a-z A-Z 0-9 _ characters")
	}
	return nil
}
