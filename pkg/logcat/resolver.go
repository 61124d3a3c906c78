package logcat

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often the target pid is re-queried.
const DefaultPollInterval = 2 * time.Second

const queryTimeout = 5 * time.Second

// PIDLookup returns the current pid of pkg on a device, or "" if it is not
// running.
type PIDLookup interface {
	PidOf(ctx context.Context, deviceID, pkg string) (string, error)
}

// Resolver tracks the pid of a target package, which changes whenever the
// app restarts.
type Resolver struct {
	lookup   PIDLookup
	deviceID string
	pkg      string
	interval time.Duration
	logger   *slog.Logger
}

// NewResolver creates a resolver for pkg on deviceID.
func NewResolver(lookup PIDLookup, deviceID, pkg string, interval time.Duration, logger *slog.Logger) *Resolver {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Resolver{lookup: lookup, deviceID: deviceID, pkg: pkg, interval: interval, logger: logger}
}

// Run queries immediately and then every interval, passing each result to
// update. Blocks until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context, update func(pid string)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		pid := r.resolve(ctx)
		if ctx.Err() != nil {
			return
		}
		update(pid)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resolve treats every lookup failure as "not running": the app may simply be
// between a crash and its restart.
func (r *Resolver) resolve(ctx context.Context) string {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pid, err := r.lookup.PidOf(qctx, r.deviceID, r.pkg)
	if err != nil {
		r.logger.Debug("pid lookup failed", "device", r.deviceID, "package", r.pkg, "err", err)
		return ""
	}
	return pid
}
