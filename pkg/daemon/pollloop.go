package daemon

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

// DeviceWatcher polls the device list every interval and broadcasts
// devices.delta events when it changes.
type DeviceWatcher struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger
	lastErr  string
}

// NewDeviceWatcher creates a device watcher for the given daemon.
func NewDeviceWatcher(d *Daemon, interval time.Duration, logger *slog.Logger) *DeviceWatcher {
	return &DeviceWatcher{daemon: d, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (w *DeviceWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *DeviceWatcher) tick(ctx context.Context) {
	list, err := w.daemon.bridge.Devices(ctx)
	if err != nil {
		// Logged once per distinct failure; adb being absent would otherwise
		// repeat every interval.
		if msg := err.Error(); msg != w.lastErr {
			w.logger.Warn("device list failed", "err", err)
			w.lastErr = msg
		}
		return
	}
	w.lastErr = ""

	current := make(map[string]adb.Device, len(list))
	for _, dev := range list {
		current[dev.ID] = dev
	}

	w.daemon.mu.Lock()
	previous := w.daemon.devices
	w.daemon.devices = current
	w.daemon.mu.Unlock()

	delta := computeDelta(previous, current)
	if !hasChanges(delta) {
		return
	}
	w.logger.Debug("devices changed", "upserted", len(delta.Upserted), "removed", len(delta.Removed))
	evt, err := uds.NewEvent(uds.EventDevicesDelta, delta)
	if err == nil {
		w.daemon.Server().Broadcast(evt)
	}
}

// KnownDevices returns the devices seen by the last successful poll, sorted
// by id.
func (d *Daemon) KnownDevices() []adb.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]adb.Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasChanges(d uds.DevicesDeltaEvent) bool {
	return len(d.Upserted) > 0 || len(d.Removed) > 0
}

// computeDelta lists devices that are new or whose properties changed, and
// ids that disappeared. Both lists are sorted by id.
func computeDelta(old, new map[string]adb.Device) uds.DevicesDeltaEvent {
	var d uds.DevicesDeltaEvent

	for id, dev := range new {
		if prev, existed := old[id]; !existed || prev != dev {
			d.Upserted = append(d.Upserted, dev)
		}
	}
	for id := range old {
		if _, exists := new[id]; !exists {
			d.Removed = append(d.Removed, id)
		}
	}

	sort.Slice(d.Upserted, func(i, j int) bool { return d.Upserted[i].ID < d.Upserted[j].ID })
	sort.Strings(d.Removed)
	return d
}
