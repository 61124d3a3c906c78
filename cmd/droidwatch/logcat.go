package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/logcat"
)

var (
	logcatDevice  string
	logcatPackage string
	logcatLevel   string
	logcatGrep    string
	logcatJSON    bool
)

var logcatCmd = &cobra.Command{
	Use:   "logcat",
	Short: "Stream a device log to stdout without the TUI",
	Long: `Runs a log session in-process and prints records as they are published.
With --package only lines from that app's current process are shown.`,
	Args: cobra.NoArgs,
	RunE: runLogcat,
}

func init() {
	logcatCmd.Flags().StringVarP(&logcatDevice, "device", "s", "", "device serial (default from config)")
	logcatCmd.Flags().StringVarP(&logcatPackage, "package", "p", "", "only show lines from this app")
	logcatCmd.Flags().StringVarP(&logcatLevel, "level", "l", "", "minimum level: V, D, I, W, E, F (default from config)")
	logcatCmd.Flags().StringVarP(&logcatGrep, "grep", "g", "", "case-insensitive match on tag or message")
	logcatCmd.Flags().BoolVar(&logcatJSON, "json", false, "print records as JSON lines")
}

func runLogcat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	device := logcatDevice
	if device == "" {
		device = cfg.Devices.Default
	}
	if device == "" {
		return errors.New("no device given: pass --device or set devices.default")
	}
	if err := adb.ValidateDeviceID(device); err != nil {
		return err
	}
	if logcatPackage != "" {
		if err := adb.ValidatePackage(logcatPackage); err != nil {
			return err
		}
	}

	minLevel := cfg.MinLevel()
	if logcatLevel != "" {
		lv, ok := logcat.ParseLevel(logcatLevel)
		if !ok {
			return fmt.Errorf("unknown level %q", logcatLevel)
		}
		minLevel = lv
	}

	bridge, err := newBridge(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := logcat.NewSession(
		logcat.NewProcessSource(bridge.LogcatCommand, logger),
		bridge,
		logcat.Options{
			DeviceID:      device,
			Package:       logcatPackage,
			MaxRecords:    cfg.Logs.MaxRecords,
			FlushInterval: cfg.Logs.FlushInterval,
			PollInterval:  cfg.Logs.PidPollInterval,
		},
		logger,
	)
	if err := session.Start(ctx); err != nil {
		session.Stop()
		return err
	}
	defer session.Stop()

	snaps, unsubscribe := session.Subscribe()
	defer unsubscribe()

	p := &printer{out: cmd.OutOrStdout(), json: logcatJSON, minLevel: minLevel, search: logcatGrep}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if err := p.print(snap); err != nil {
				return err
			}
			switch snap.State {
			case logcat.StateFailed:
				return fmt.Errorf("log stream failed: %s", snap.Error)
			case logcat.StateStopped:
				return nil
			}
		}
	}
}

// tailer tracks which records of a newest-first buffer were already seen.
type tailer struct {
	last string
}

// next returns the records published since the previous call, oldest first.
// If the last seen record is no longer in the buffer everything is new.
func (t *tailer) next(entries []logcat.Record) []logcat.Record {
	n := 0
	for n < len(entries) && entries[n].ID != t.last {
		n++
	}
	if n == 0 {
		return nil
	}
	t.last = entries[0].ID

	out := make([]logcat.Record, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out
}

type printer struct {
	out      io.Writer
	json     bool
	minLevel logcat.Level
	search   string
	tail     tailer
}

func (p *printer) print(snap logcat.Snapshot) error {
	fresh := logcat.Filter(p.tail.next(snap.Entries), p.minLevel, p.search)
	for _, r := range fresh {
		if err := p.write(r); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) write(r logcat.Record) error {
	if p.json {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintln(p.out, r.Raw)
	return err
}
