package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/droidwatch/internal/buildinfo"
	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/config"
	"github.com/modoterra/droidwatch/pkg/daemon/service"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
	tuimodel "github.com/modoterra/droidwatch/pkg/tui/model"
)

var (
	socketPath string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "droidwatch",
	Short: "Live Android device logs in the terminal",
	Long:  "droidwatch is a TUI + daemon that streams logcat from attached Android devices, optionally narrowed to one app.",
	RunE:  runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (default from config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to droidwatch.yaml")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(logcatCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(serviceCmd)
}

// defaultConfigPath prefers ./droidwatch.yaml, then the user config dir.
func defaultConfigPath() string {
	if _, err := os.Stat(config.FileName); err == nil {
		return config.FileName
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "droidwatch", config.FileName)
	}
	return config.FileName
}

// loadConfig reads the config and applies the --socket flag on top.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newBridge locates adb the way the daemon does.
func newBridge(cfg *config.Config, logger *slog.Logger) (*adb.Bridge, error) {
	path, err := adb.Find(cfg.ADB)
	if err != nil {
		return nil, err
	}
	return adb.New(path, logger), nil
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ensureDaemon(cfg.Socket)
	app := tuimodel.New(cfg.Socket, tuimodel.Options{
		Device:   cfg.Devices.Default,
		MinLevel: cfg.MinLevel(),
	})
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func ensureDaemon(sock string) {
	if _, err := os.Stat(sock); err == nil {
		return
	}
	args := []string{"--socket", sock}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command("droidwatchd", args...)
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start daemon:", err)
		return
	}
	for i := 0; i < 30; i++ {
		if _, err := os.Stat(sock); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: daemon did not come up, continuing anyway")
}

func dialDaemon(sock string) (*uds.Client, error) {
	client, err := uds.Dial(sock)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", sock, err)
	}
	return client, nil
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := dialDaemon(cfg.Socket)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var pong uds.PingResponse
		if err := client.Call(ctx, uds.MethodPing, nil, &pong); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Fprintf(cmd.OutOrStdout(), "pong ✓ (droidwatchd %s)\n", pong.Version)
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "droidwatch %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Daemon ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start daemon in foreground (for debugging)",
	Long:  "Normally the TUI auto-spawns the daemon. Use this to run it manually.",
	RunE: func(_ *cobra.Command, _ []string) error {
		var args []string
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		if socketPath != "" {
			args = append(args, "--socket", socketPath)
		}
		cmd := exec.Command("droidwatchd", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage droidwatch.yaml",
}

var configInitOutput string

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a droidwatch.yaml with the default settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configInitOutput
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		cfg := config.Default()
		if found, err := adb.Find(""); err == nil {
			cfg.ADB = found
		}
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a droidwatch.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.FileName
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err != nil {
			return err
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", path)
			return nil
		}

		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
		}
		return fmt.Errorf("%s: %d error(s)", path, len(errs))
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitOutput, "output", config.FileName, "output file path")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the droidwatchd systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install, enable, and start droidwatchd as a user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := service.Install(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "droidwatchd service installed ✓")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable, and remove the user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := service.Uninstall(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "droidwatchd service removed")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon socket and service state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(ctx, cfg.Socket))
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

// exitCode maps well-known failures to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, adb.ErrNotFound):
		return 3
	default:
		return 1
	}
}
