package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/droidwatch/pkg/logcat"
)

func TestParseValidConfig(t *testing.T) {
	yaml := `
version: 1
adb: "${ANDROID_SDK_TEST}/platform-tools/adb"
socket: /run/user/1000/droidwatch.sock
log_level: debug
logs:
  max_records: 500
  flush_interval: 250ms
  pid_poll_interval: 1s
  min_level: warn
devices:
  poll_interval: 3s
  default: emulator-5554
`
	t.Setenv("ANDROID_SDK_TEST", "/opt/android-sdk")

	c, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if c.ADB != "/opt/android-sdk/platform-tools/adb" {
		t.Errorf("adb interpolation: got %q", c.ADB)
	}
	if c.Socket != "/run/user/1000/droidwatch.sock" {
		t.Errorf("socket: got %q", c.Socket)
	}
	if c.Logs.MaxRecords != 500 {
		t.Errorf("max_records: got %d", c.Logs.MaxRecords)
	}
	if c.Logs.FlushInterval != 250*time.Millisecond {
		t.Errorf("flush_interval: got %s", c.Logs.FlushInterval)
	}
	if c.Logs.PidPollInterval != time.Second {
		t.Errorf("pid_poll_interval: got %s", c.Logs.PidPollInterval)
	}
	if c.MinLevel() != logcat.LevelWarn {
		t.Errorf("min level: got %q", c.MinLevel())
	}
	if c.Devices.PollInterval != 3*time.Second || c.Devices.Default != "emulator-5554" {
		t.Errorf("devices: got %+v", c.Devices)
	}
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("version: 1\nlog_level: warn\n"))
	if err != nil {
		t.Fatal(err)
	}
	d := Default()
	if c.Socket != d.Socket || c.Logs != d.Logs || c.Devices != d.Devices {
		t.Errorf("unset fields should keep defaults: got %+v", c)
	}
	if c.LogLevel != "warn" {
		t.Errorf("log_level: got %q", c.LogLevel)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("logs: [unterminated")); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if errs := Validate(Default()); len(errs) != 0 {
		t.Errorf("default config should validate: %v", errs)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.FilePath != "" {
		t.Errorf("file path should be empty, got %q", c.FilePath)
	}
	if c.Logs.MaxRecords != 200 || c.Logs.FlushInterval != 500*time.Millisecond {
		t.Errorf("defaults not applied: %+v", c.Logs)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("version: 1\nsocket: /tmp/from-file.sock\nadb: /usr/bin/adb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DROIDWATCH_SOCKET", "/tmp/from-env.sock")
	t.Setenv("DROIDWATCH_MAX_RECORDS", "50")
	t.Setenv("DROIDWATCH_FLUSH_INTERVAL", "100ms")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.FilePath != path {
		t.Errorf("file path: got %q", c.FilePath)
	}
	if c.Socket != "/tmp/from-env.sock" {
		t.Errorf("socket override: got %q", c.Socket)
	}
	if c.ADB != "/usr/bin/adb" {
		t.Errorf("adb from file: got %q", c.ADB)
	}
	if c.Logs.MaxRecords != 50 {
		t.Errorf("max_records override: got %d", c.Logs.MaxRecords)
	}
	if c.Logs.FlushInterval != 100*time.Millisecond {
		t.Errorf("flush_interval override: got %s", c.Logs.FlushInterval)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	c := Default()
	c.ADB = "/opt/adb"
	c.Logs.MinLevel = "E"
	c.Devices.Default = "R58M123ABC"

	if err := Save(c, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "flush_interval: 500ms") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ADB != "/opt/adb" || loaded.MinLevel() != logcat.LevelError || loaded.Devices.Default != "R58M123ABC" {
		t.Errorf("loaded config differs: %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"version", func(c *Config) { c.Version = 2 }, "version must be 1"},
		{"socket", func(c *Config) { c.Socket = "" }, "socket is required"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level must be"},
		{"max records", func(c *Config) { c.Logs.MaxRecords = 0 }, "max_records must be positive"},
		{"flush interval", func(c *Config) { c.Logs.FlushInterval = time.Millisecond }, "flush_interval"},
		{"pid poll interval", func(c *Config) { c.Logs.PidPollInterval = 0 }, "pid_poll_interval"},
		{"min level", func(c *Config) { c.Logs.MinLevel = "X" }, "unknown level"},
		{"device poll", func(c *Config) { c.Devices.PollInterval = 0 }, "devices.poll_interval"},
		{"default device", func(c *Config) { c.Devices.Default = "bad id" }, "devices.default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assertHasError(t, Validate(c), tt.want)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "", "warn", "warning", "error"} {
		if _, ok := ParseLogLevel(s); !ok {
			t.Errorf("ParseLogLevel(%q) should be ok", s)
		}
	}
	if _, ok := ParseLogLevel("trace"); ok {
		t.Error("trace should be rejected")
	}
}

func assertHasError(t *testing.T, errs []error, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e.Error(), substr) {
			return
		}
	}
	t.Errorf("expected error containing %q, got: %v", substr, errs)
}
