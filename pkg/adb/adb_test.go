package adb

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeADB writes an executable script standing in for adb.
func fakeADB(t *testing.T, script string) *Bridge {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "adb")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return New(path, testLogger())
}

func TestParseDevices(t *testing.T) {
	out := `* daemon not running; starting now at tcp:5037
* daemon started successfully
List of devices attached
emulator-5554          device product:sdk_gphone64_x86_64 model:sdk_gphone64_x86_64 device:emu64xa transport_id:1
192.168.1.20:5555      device product:oriole model:Pixel_6 device:oriole transport_id:3
R58M123ABC             unauthorized usb:1-1 transport_id:2
`
	devices := ParseDevices(out)
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d: %+v", len(devices), devices)
	}

	emu := devices[0]
	if emu.ID != "emulator-5554" || !emu.Online() || !emu.Emulator() {
		t.Errorf("emulator: %+v", emu)
	}
	if emu.Model != "sdk_gphone64_x86_64" || emu.Name != "emu64xa" || emu.TransportID != "1" {
		t.Errorf("emulator properties: %+v", emu)
	}
	if emu.Wifi {
		t.Error("emulator should not be wifi")
	}

	wifi := devices[1]
	if !wifi.Wifi {
		t.Error("ip:port device should be wifi")
	}
	if wifi.Label() != "Pixel 6" {
		t.Errorf("label: got %q", wifi.Label())
	}

	usb := devices[2]
	if usb.Online() || usb.State != "unauthorized" {
		t.Errorf("unauthorized device: %+v", usb)
	}
	if usb.Label() != "R58M123ABC" {
		t.Errorf("label without model: got %q", usb.Label())
	}
}

func TestParseDevicesEmpty(t *testing.T) {
	if got := ParseDevices("List of devices attached\n\n"); len(got) != 0 {
		t.Errorf("expected no devices, got %+v", got)
	}
}

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"emulator-5554", true},
		{"192.168.1.20:5555", true},
		{"R58M123ABC", true},
		{"adb-R58M.local_tcp", true},
		{"", false},
		{"  ", false},
		{"emulator-5554 shell", false},
		{"dev;rm", false},
	}
	for _, tt := range tests {
		err := ValidateDeviceID(tt.id)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateDeviceID(%q): err=%v, want ok=%v", tt.id, err, tt.ok)
		}
	}
}

func TestValidatePackage(t *testing.T) {
	tests := []struct {
		pkg string
		ok  bool
	}{
		{"com.example.app", true},
		{"com.example.app$Inner", true},
		{"org.app_2", true},
		{"", false},
		{"com.example app", false},
		{"com.example;reboot", false},
		{"com-example", false},
	}
	for _, tt := range tests {
		err := ValidatePackage(tt.pkg)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePackage(%q): err=%v, want ok=%v", tt.pkg, err, tt.ok)
		}
	}
}

func TestPidOf(t *testing.T) {
	b := fakeADB(t, `
if [ "$1" = "-s" ] && [ "$2" = "emulator-5554" ] && [ "$4" = "pidof" ] && [ "$6" = "com.example.app" ]; then
  echo "4321"
  exit 0
fi
exit 1`)

	pid, err := b.PidOf(context.Background(), "emulator-5554", "com.example.app")
	if err != nil {
		t.Fatalf("PidOf: %v", err)
	}
	if pid != "4321" {
		t.Errorf("pid: got %q", pid)
	}

	if _, err := b.PidOf(context.Background(), "emulator-5554", "com.other"); err == nil {
		t.Error("expected error when pidof finds nothing")
	}
}

func TestPidOfRejectsBadInput(t *testing.T) {
	b := New("/nonexistent/adb", testLogger())
	if _, err := b.PidOf(context.Background(), "bad id", "com.example"); err == nil {
		t.Error("expected device validation error")
	}
	if _, err := b.PidOf(context.Background(), "emulator-5554", "bad pkg"); err == nil {
		t.Error("expected package validation error")
	}
}

func TestPackages(t *testing.T) {
	b := fakeADB(t, `printf 'package:org.zeta\npackage:com.example.app\n\npackage:com.alpha\n'`)

	pkgs, err := b.Packages(context.Background(), "emulator-5554")
	if err != nil {
		t.Fatalf("Packages: %v", err)
	}
	want := []string{"com.alpha", "com.example.app", "org.zeta"}
	if strings.Join(pkgs, ",") != strings.Join(want, ",") {
		t.Errorf("packages: got %v, want %v", pkgs, want)
	}
}

func TestRunErrorCarriesStderr(t *testing.T) {
	b := fakeADB(t, `echo "error: no devices/emulators found" >&2; exit 1`)

	_, err := b.Devices(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "no devices/emulators found") {
		t.Errorf("error should carry stderr, got %v", err)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("error should wrap the exit error, got %T", err)
	}
}

func TestLogcatCommand(t *testing.T) {
	b := New("/opt/adb", testLogger())
	cmd, err := b.LogcatCommand("emulator-5554")
	if err != nil {
		t.Fatalf("LogcatCommand: %v", err)
	}
	got := strings.Join(cmd.Args, " ")
	if got != "/opt/adb -s emulator-5554 logcat -v threadtime" {
		t.Errorf("args: got %q", got)
	}

	if _, err := b.LogcatCommand("dev; rm -rf /"); err == nil {
		t.Error("expected validation error")
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "adb")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	plain := filepath.Join(dir, "adb-noexec")
	if err := os.WriteFile(plain, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	noPath := func(string) (string, error) { return "", exec.ErrNotFound }

	t.Run("configured", func(t *testing.T) {
		got, err := find(exe, nil, noPath)
		if err != nil || got != exe {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("configured missing", func(t *testing.T) {
		_, err := find(filepath.Join(dir, "missing"), []string{exe}, noPath)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("candidates skip non-executables", func(t *testing.T) {
		got, err := find("", []string{plain, dir, exe}, noPath)
		if err != nil || got != exe {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("path lookup", func(t *testing.T) {
		lookPath := func(string) (string, error) { return "/from/path/adb", nil }
		got, err := find("", []string{plain}, lookPath)
		if err != nil || got != "/from/path/adb" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("nothing", func(t *testing.T) {
		if _, err := find("", []string{plain}, noPath); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
