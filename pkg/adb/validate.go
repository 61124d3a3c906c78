package adb

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	deviceIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.$]+$`)
)

// ValidateDeviceID rejects ids that could smuggle extra arguments into an
// adb invocation.
func ValidateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("device id is required")
	}
	if !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid device id %q", id)
	}
	return nil
}

// ValidatePackage checks an application package name.
func ValidatePackage(pkg string) error {
	if strings.TrimSpace(pkg) == "" {
		return fmt.Errorf("package name is required")
	}
	if !identifierPattern.MatchString(pkg) {
		return fmt.Errorf("invalid package name %q", pkg)
	}
	return nil
}
