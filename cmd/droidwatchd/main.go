package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/modoterra/droidwatch/internal/buildinfo"
	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/config"
	"github.com/modoterra/droidwatch/pkg/daemon"
	"github.com/modoterra/droidwatch/pkg/logcat"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("droidwatchd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	configPath := flag.String("config", defaultConfigPath(), "path to droidwatch.yaml")
	socketPath := flag.String("socket", "", "socket path (overrides config)")
	flag.Parse()

	if err := run(*configPath, *socketPath); err != nil {
		fmt.Fprintln(os.Stderr, "droidwatchd:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if _, err := os.Stat(config.FileName); err == nil {
		return config.FileName
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "droidwatch", config.FileName)
	}
	return config.FileName
}

func run(configPath, socketPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "  •", e)
		}
		return fmt.Errorf("%s: %d config error(s)", configPath, len(errs))
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	adbPath, err := adb.Find(cfg.ADB)
	if err != nil {
		return err
	}
	bridge := adb.New(adbPath, logger)
	source := logcat.NewProcessSource(bridge.LogcatCommand, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg.Socket, bridge, source, daemon.SessionDefaults{
		MaxRecords:    cfg.Logs.MaxRecords,
		FlushInterval: cfg.Logs.FlushInterval,
		PollInterval:  cfg.Logs.PidPollInterval,
	}, logger)
	defer d.Shutdown()

	watcher := daemon.NewDeviceWatcher(d, cfg.Devices.PollInterval, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(ctx)
	})
	g.Go(func() error {
		watcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-d.Server().Ready():
		case <-ctx.Done():
			return nil
		}
		if _, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
			logger.Warn("sd_notify failed", "err", err)
		}
		return nil
	})

	logger.Info("starting droidwatchd", "version", buildinfo.Version, "adb", adbPath, "config", configPath)
	err = g.Wait()
	logger.Info("shutting down")
	return err
}
