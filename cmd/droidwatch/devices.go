package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/droidwatch/pkg/adb"
)

var (
	devicesJSON bool
	appsJSON    bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List attached devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		bridge, err := newBridge(cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		devices, err := bridge.Devices(ctx)
		if err != nil {
			return err
		}
		if devicesJSON {
			return writeJSON(cmd.OutOrStdout(), devices)
		}
		return printDevices(cmd.OutOrStdout(), devices)
	},
}

var appsCmd = &cobra.Command{
	Use:   "apps <device>",
	Short: "List third-party packages installed on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		bridge, err := newBridge(cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		packages, err := bridge.Packages(ctx, args[0])
		if err != nil {
			return err
		}
		if appsJSON {
			return writeJSON(cmd.OutOrStdout(), packages)
		}
		for _, pkg := range packages {
			fmt.Fprintln(cmd.OutOrStdout(), pkg)
		}
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "output as JSON")
	appsCmd.Flags().BoolVar(&appsJSON, "json", false, "output as JSON")
}

func printDevices(w io.Writer, devices []adb.Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no devices attached")
		return err
	}
	fmt.Fprintf(w, "%-24s %-14s %-20s %s\n", "SERIAL", "STATE", "MODEL", "TRANSPORT")
	for _, d := range devices {
		transport := "usb"
		switch {
		case d.Emulator():
			transport = "emulator"
		case d.Wifi:
			transport = "wifi"
		}
		model := d.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%-24s %-14s %-20s %s\n", d.ID, d.State, model, transport)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
