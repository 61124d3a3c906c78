package adb

import "strings"

// Device is one row of `adb devices -l`.
type Device struct {
	ID          string `json:"id"`
	State       string `json:"state"` // device, offline, unauthorized, ...
	Model       string `json:"model,omitempty"`
	Product     string `json:"product,omitempty"`
	Name        string `json:"device,omitempty"`
	TransportID string `json:"transport_id,omitempty"`
	Wifi        bool   `json:"wifi"`
}

// Emulator reports whether the device is a local emulator.
func (d Device) Emulator() bool {
	return strings.HasPrefix(d.ID, "emulator-")
}

// Online reports whether the device accepts commands.
func (d Device) Online() bool {
	return d.State == "device"
}

// Label is a short human-readable name.
func (d Device) Label() string {
	if d.Model != "" {
		return strings.ReplaceAll(d.Model, "_", " ")
	}
	return d.ID
}

// ParseDevices parses `adb devices -l` output. The header line and daemon
// chatter ("* daemon started successfully") are skipped.
func ParseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		d := Device{ID: fields[0], State: fields[1]}
		for _, f := range fields[2:] {
			key, value, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch key {
			case "model":
				d.Model = value
			case "product":
				d.Product = value
			case "device":
				d.Name = value
			case "transport_id":
				d.TransportID = value
			}
		}
		d.Wifi = strings.Contains(d.ID, ":") || strings.HasPrefix(d.ID, "192.168")
		devices = append(devices, d)
	}
	return devices
}
