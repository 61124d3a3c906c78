package adb

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrNotFound is returned when no usable adb binary can be located.
var ErrNotFound = errors.New("adb binary not found")

// CommonPaths lists well-known install locations, checked after the
// configured path and before $PATH.
func CommonPaths() []string {
	paths := []string{
		"/usr/bin/adb",
		"/usr/local/bin/adb",
		"/opt/homebrew/bin/adb",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, "Library", "Android", "sdk", "platform-tools", "adb"),
			filepath.Join(home, "Android", "Sdk", "platform-tools", "adb"),
		)
	}
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if sdk := os.Getenv(env); sdk != "" {
			paths = append(paths, filepath.Join(sdk, "platform-tools", "adb"))
		}
	}
	return paths
}

// Find resolves the adb binary. A non-empty configured path must exist;
// otherwise common locations and then $PATH are searched.
func Find(configured string) (string, error) {
	return find(configured, CommonPaths(), exec.LookPath)
}

func find(configured string, candidates []string, lookPath func(string) (string, error)) (string, error) {
	if configured != "" {
		if executable(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("%w at %s", ErrNotFound, configured)
	}
	for _, p := range candidates {
		if executable(p) {
			return p, nil
		}
	}
	if p, err := lookPath("adb"); err == nil {
		return p, nil
	}
	return "", ErrNotFound
}

func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
