// Package service manages the droidwatchd systemd user service unit.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

const unitName = "droidwatchd.service"

// UnitContents returns the systemd unit file contents for the given binary path.
func UnitContents(binaryPath string) string {
	return fmt.Sprintf(`[Unit]
Description=droidwatch daemon: live Android device logs
Documentation=https://github.com/modoterra/droidwatch

[Service]
Type=notify
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, binaryPath)
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes the unit file, reloads the user manager, and enables and
// starts the service.
func Install(ctx context.Context) error {
	binaryPath, err := exec.LookPath("droidwatchd")
	if err != nil {
		return fmt.Errorf("droidwatchd not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve droidwatchd path: %w", err)
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(UnitContents(binaryPath)), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", unitName, err)
	}
	return runJob(ctx, "start", func(ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, unitName, "replace", ch)
	})
}

// Uninstall stops and disables the service, removes the unit file, and
// reloads the user manager.
func Uninstall(ctx context.Context) error {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	// Not running or not enabled is fine here.
	_ = runJob(ctx, "stop", func(ch chan<- string) (int, error) {
		return conn.StopUnitContext(ctx, unitName, "replace", ch)
	})
	_, _ = conn.DisableUnitFilesContext(ctx, []string{unitName}, false)

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

// UnitState is what the user manager reports about the unit.
type UnitState struct {
	Installed   bool
	ActiveState string
	SubState    string
	MainPID     uint32
	Err         error
}

// Status returns a human-readable status string.
func Status(ctx context.Context, socketPath string) string {
	_, err := os.Stat(socketPath)
	return describe(socketPath, err == nil, queryUnit(ctx))
}

func queryUnit(ctx context.Context) UnitState {
	unitPath, err := UnitPath()
	if err != nil {
		return UnitState{Err: err}
	}
	if _, err := os.Stat(unitPath); err != nil {
		return UnitState{}
	}

	st := UnitState{Installed: true}
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		st.Err = fmt.Errorf("dbus connect: %w", err)
		return st
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName})
	if err != nil || len(units) == 0 {
		st.Err = fmt.Errorf("list units: %w", err)
		return st
	}
	st.ActiveState, st.SubState = units[0].ActiveState, units[0].SubState
	if st.ActiveState == "active" {
		props, err := conn.GetUnitTypePropertiesContext(ctx, unitName, "Service")
		if err == nil {
			if pid, ok := props["MainPID"].(uint32); ok {
				st.MainPID = pid
			}
		}
	}
	return st
}

func describe(socketPath string, socketActive bool, unit UnitState) string {
	var lines []string

	if socketActive {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	switch {
	case !unit.Installed:
		lines = append(lines, "systemd user service: not installed")
	case unit.Err != nil:
		lines = append(lines, "systemd user service: unknown ("+unit.Err.Error()+")")
	case unit.MainPID > 0:
		lines = append(lines, fmt.Sprintf("systemd user service: %s (%s, pid %d)", unit.ActiveState, unit.SubState, unit.MainPID))
	default:
		lines = append(lines, fmt.Sprintf("systemd user service: %s (%s)", unit.ActiveState, unit.SubState))
	}

	return strings.Join(lines, "\n")
}

// runJob starts a unit job and waits for its result.
func runJob(ctx context.Context, action string, start func(ch chan<- string) (int, error)) error {
	ch := make(chan string, 1)
	if _, err := start(ch); err != nil {
		return fmt.Errorf("systemd %s %s: %w", action, unitName, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd %s %s: job result %q", action, unitName, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
