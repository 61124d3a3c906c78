package adb

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ServerProcess describes a running adb server on this host.
type ServerProcess struct {
	PID     int32  `json:"pid"`
	Cmdline string `json:"cmdline"`
}

// ServerProcesses finds local adb server processes. adb forks its server as
// "adb ... fork-server server"; plain client invocations are ignored.
func ServerProcesses(ctx context.Context) ([]ServerProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var servers []ServerProcess
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || filepath.Base(name) != "adb" {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if !strings.Contains(cmdline, "server") {
			continue
		}
		servers = append(servers, ServerProcess{PID: p.Pid, Cmdline: cmdline})
	}
	return servers, nil
}
