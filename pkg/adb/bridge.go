// Package adb wraps the Android debug bridge binary.
package adb

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
)

// Bridge runs commands through the adb binary at a fixed path.
type Bridge struct {
	path   string
	logger *slog.Logger
}

// New creates a bridge for the binary at path.
func New(path string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{path: path, logger: logger}
}

// Path returns the binary path.
func (b *Bridge) Path() string { return b.path }

// Run executes adb with args and returns trimmed stdout. On a non-zero exit
// the error carries stderr (or stdout) as its detail.
func (b *Bridge) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			return "", fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("adb %s: %s: %w", strings.Join(args, " "), detail, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Devices lists attached devices.
func (b *Bridge) Devices(ctx context.Context) ([]Device, error) {
	out, err := b.Run(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

// PidOf returns the pid of pkg on the device, or "" if it is not running.
// pidof exits non-zero when nothing matches; callers that only care about
// "running or not" may treat any error as not running.
func (b *Bridge) PidOf(ctx context.Context, deviceID, pkg string) (string, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return "", err
	}
	if err := ValidatePackage(pkg); err != nil {
		return "", err
	}
	out, err := b.Run(ctx, "-s", deviceID, "shell", "pidof", "-s", pkg)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

// Packages lists third-party packages installed on the device, sorted.
func (b *Bridge) Packages(ctx context.Context, deviceID string) ([]string, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	out, err := b.Run(ctx, "-s", deviceID, "shell", "pm", "list", "packages", "-3")
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if pkg, ok := strings.CutPrefix(line, "package:"); ok && pkg != "" {
			pkgs = append(pkgs, pkg)
		}
	}
	sort.Strings(pkgs)
	return pkgs, nil
}

// LogcatCommand builds the long-running threadtime logcat command for the
// device. The caller starts and supervises it.
func (b *Bridge) LogcatCommand(deviceID string) (*exec.Cmd, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	b.logger.Debug("logcat command", "adb", b.path, "device", deviceID)
	return exec.Command(b.path, "-s", deviceID, "logcat", "-v", "threadtime"), nil
}
