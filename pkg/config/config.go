// Package config loads droidwatch.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "droidwatch.yaml"

// DefaultSocket is where the daemon listens unless configured otherwise.
const DefaultSocket = "/tmp/droidwatch.sock"

// Config represents a droidwatch.yaml file. Environment variables named in
// the env tags override values from the file.
type Config struct {
	Version  int     `yaml:"version"   json:"version"`
	ADB      string  `yaml:"adb"       json:"adb,omitempty"       env:"DROIDWATCH_ADB"`
	Socket   string  `yaml:"socket"    json:"socket"              env:"DROIDWATCH_SOCKET"`
	LogLevel string  `yaml:"log_level" json:"log_level"           env:"DROIDWATCH_LOG_LEVEL"`
	Logs     Logs    `yaml:"logs"      json:"logs"`
	Devices  Devices `yaml:"devices"   json:"devices"`

	// FilePath is where the config was loaded from; empty for defaults.
	FilePath string `yaml:"-" json:"-"`
}

// Logs configures live log sessions.
type Logs struct {
	MaxRecords      int           `yaml:"max_records"       json:"max_records"       env:"DROIDWATCH_MAX_RECORDS"`
	FlushInterval   time.Duration `yaml:"flush_interval"    json:"flush_interval"    env:"DROIDWATCH_FLUSH_INTERVAL"`
	PidPollInterval time.Duration `yaml:"pid_poll_interval" json:"pid_poll_interval" env:"DROIDWATCH_PID_POLL_INTERVAL"`
	MinLevel        string        `yaml:"min_level"         json:"min_level"         env:"DROIDWATCH_MIN_LEVEL"`
}

// Devices configures the device watcher.
type Devices struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" env:"DROIDWATCH_DEVICE_POLL_INTERVAL"`
	Default      string        `yaml:"default"       json:"default,omitempty" env:"DROIDWATCH_DEVICE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:  1,
		Socket:   DefaultSocket,
		LogLevel: "info",
		Logs: Logs{
			MaxRecords:      200,
			FlushInterval:   500 * time.Millisecond,
			PidPollInterval: 2 * time.Second,
			MinLevel:        "V",
		},
		Devices: Devices{
			PollInterval: 2 * time.Second,
		},
	}
}

// Parse decodes YAML on top of the defaults and expands ${VAR} references in
// paths. Environment overrides are not applied.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.expand()
	return c, nil
}

// Load reads the file at path, then applies environment overrides. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	var c *Config
	switch {
	case errors.Is(err, os.ErrNotExist):
		c = Default()
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if c, err = Parse(data); err != nil {
			return nil, err
		}
		c.FilePath = path
	}

	if err := cleanenv.ReadEnv(c); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	c.expand()
	return c, nil
}

// Save writes the config as YAML.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) expand() {
	c.ADB = os.ExpandEnv(c.ADB)
	c.Socket = os.ExpandEnv(c.Socket)
}
