package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/config"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check adb, the adb server, and the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		failed := runDoctor(ctx, cmd.OutOrStdout(), cfg)
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

type check struct {
	name   string
	detail string
	ok     bool
}

func (c check) print(w io.Writer) {
	mark := "✓"
	if !c.ok {
		mark = "✗"
	}
	fmt.Fprintf(w, "  %s %-12s %s\n", mark, c.name, c.detail)
}

// runDoctor prints one line per check and returns how many failed.
func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config) int {
	var checks []check

	for _, e := range config.Validate(cfg) {
		checks = append(checks, check{name: "config", detail: e.Error()})
	}

	path, err := adb.Find(cfg.ADB)
	if err != nil {
		checks = append(checks, check{name: "adb", detail: err.Error()})
	} else {
		bridge := adb.New(path, newLogger(cfg))
		out, err := bridge.Run(ctx, "version")
		if err != nil {
			checks = append(checks, check{name: "adb", detail: err.Error()})
		} else {
			first, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
			checks = append(checks, check{name: "adb", detail: path + " (" + first + ")", ok: true})
		}

		if devices, err := bridge.Devices(ctx); err != nil {
			checks = append(checks, check{name: "devices", detail: err.Error()})
		} else {
			online := 0
			for _, d := range devices {
				if d.Online() {
					online++
				}
			}
			checks = append(checks, check{
				name:   "devices",
				detail: fmt.Sprintf("%d attached, %d online", len(devices), online),
				ok:     true,
			})
		}
	}

	servers, err := adb.ServerProcesses(ctx)
	switch {
	case err != nil:
		checks = append(checks, check{name: "adb server", detail: err.Error()})
	case len(servers) == 0:
		checks = append(checks, check{name: "adb server", detail: "not running (adb starts it on demand)", ok: true})
	default:
		checks = append(checks, check{name: "adb server", detail: fmt.Sprintf("pid %d", servers[0].PID), ok: true})
	}

	checks = append(checks, pingDaemon(ctx, cfg.Socket))

	failed := 0
	for _, c := range checks {
		c.print(w)
		if !c.ok {
			failed++
		}
	}
	return failed
}

func pingDaemon(ctx context.Context, sock string) check {
	client, err := uds.Dial(sock)
	if err != nil {
		return check{name: "daemon", detail: "not reachable at " + sock, ok: true}
	}
	defer client.Close()

	var pong uds.PingResponse
	if err := client.Call(ctx, uds.MethodPing, nil, &pong); err != nil {
		return check{name: "daemon", detail: err.Error()}
	}
	return check{name: "daemon", detail: fmt.Sprintf("droidwatchd %s at %s", pong.Version, sock), ok: pong.Pong}
}
