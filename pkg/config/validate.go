package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/logcat"
)

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}

	if c.Socket == "" {
		errs = append(errs, fmt.Errorf("socket is required"))
	}

	if _, ok := ParseLogLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn, or error; got %q", c.LogLevel))
	}

	// Logs
	if c.Logs.MaxRecords <= 0 {
		errs = append(errs, fmt.Errorf("logs.max_records must be positive, got %d", c.Logs.MaxRecords))
	}
	if c.Logs.FlushInterval < 10*time.Millisecond {
		errs = append(errs, fmt.Errorf("logs.flush_interval must be at least 10ms, got %s", c.Logs.FlushInterval))
	}
	if c.Logs.PidPollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("logs.pid_poll_interval must be at least 100ms, got %s", c.Logs.PidPollInterval))
	}
	if _, ok := logcat.ParseLevel(c.Logs.MinLevel); !ok {
		errs = append(errs, fmt.Errorf("logs.min_level: unknown level %q", c.Logs.MinLevel))
	}

	// Devices
	if c.Devices.PollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("devices.poll_interval must be at least 100ms, got %s", c.Devices.PollInterval))
	}
	if c.Devices.Default != "" {
		if err := adb.ValidateDeviceID(c.Devices.Default); err != nil {
			errs = append(errs, fmt.Errorf("devices.default: %w", err))
		}
	}

	return errs
}

// ParseLogLevel maps a log_level value to an slog level.
func ParseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// MinLevel returns the configured default level floor.
func (c *Config) MinLevel() logcat.Level {
	if l, ok := logcat.ParseLevel(c.Logs.MinLevel); ok {
		return l
	}
	return logcat.LevelVerbose
}
