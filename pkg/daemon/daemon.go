package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modoterra/droidwatch/internal/buildinfo"
	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/logcat"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

// ErrUnknownSession is returned for requests naming a session that does not exist.
var ErrUnknownSession = errors.New("unknown log session")

// Bridge is the subset of the adb bridge the daemon needs.
type Bridge interface {
	Devices(ctx context.Context) ([]adb.Device, error)
	Packages(ctx context.Context, deviceID string) ([]string, error)
	PidOf(ctx context.Context, deviceID, pkg string) (string, error)
}

// SessionDefaults configure every log session the daemon opens.
type SessionDefaults struct {
	MaxRecords    int
	FlushInterval time.Duration
	PollInterval  time.Duration
}

// logSession is a registered session and the peer that owns it.
type logSession struct {
	id      string
	peer    string
	session *logcat.Session
}

// Daemon is the droidwatchd process: it owns log sessions on behalf of
// connected clients and watches the device list.
type Daemon struct {
	server   *uds.Server
	bridge   Bridge
	source   logcat.Source
	defaults SessionDefaults
	devices  map[string]adb.Device
	sessions map[string]*logSession
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	logger   *slog.Logger
}

// New creates a new daemon instance.
func New(socketPath string, bridge Bridge, source logcat.Source, defaults SessionDefaults, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		server:   uds.NewServer(socketPath, logger),
		bridge:   bridge,
		source:   source,
		defaults: defaults,
		devices:  make(map[string]adb.Device),
		sessions: make(map[string]*logSession),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
	d.registerHandlers()
	d.server.OnDisconnect(d.dropPeer)
	return d
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	return d.server.Start(ctx)
}

// Shutdown stops every session and closes the server.
func (d *Daemon) Shutdown() {
	d.cancel()
	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[string]*logSession)
	d.mu.Unlock()

	for _, ls := range sessions {
		ls.session.Stop()
	}
	d.server.Shutdown()
}

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server {
	return d.server
}

// Sessions returns the number of live sessions.
func (d *Daemon) Sessions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodListDevices, d.handleListDevices)
	d.server.Handle(uds.MethodListApps, d.handleListApps)
	d.server.Handle(uds.MethodLogsSubscribe, d.handleLogsSubscribe)
	d.server.Handle(uds.MethodLogsSetTarget, d.handleLogsSetTarget)
	d.server.Handle(uds.MethodLogsClear, d.handleLogsClear)
	d.server.Handle(uds.MethodLogsSnapshot, d.handleLogsSnapshot)
	d.server.Handle(uds.MethodLogsUnsubscribe, d.handleLogsUnsubscribe)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true, Version: buildinfo.Version}, nil
}

func (d *Daemon) handleListDevices(ctx context.Context, _ uds.Message) (any, error) {
	devices, err := d.bridge.Devices(ctx)
	if err != nil {
		return nil, err
	}
	return uds.ListDevicesResponse{Devices: devices}, nil
}

func (d *Daemon) handleListApps(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.ListAppsRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	pkgs, err := d.bridge.Packages(ctx, req.Device)
	if err != nil {
		return nil, err
	}
	return uds.ListAppsResponse{Packages: pkgs}, nil
}

func (d *Daemon) handleLogsSubscribe(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.LogsSubscribeRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := adb.ValidateDeviceID(req.Device); err != nil {
		return nil, err
	}
	if req.Package != "" {
		if err := adb.ValidatePackage(req.Package); err != nil {
			return nil, err
		}
	}
	peer, _ := uds.PeerFromContext(ctx)

	ls := &logSession{id: uuid.NewString(), peer: peer}
	ls.session = logcat.NewSession(d.source, d.bridge, logcat.Options{
		DeviceID:      req.Device,
		Package:       req.Package,
		MaxRecords:    d.defaults.MaxRecords,
		FlushInterval: d.defaults.FlushInterval,
		PollInterval:  d.defaults.PollInterval,
	}, d.logger.With("session", ls.id))

	if err := ls.session.Start(d.ctx); err != nil {
		ls.session.Stop()
		return nil, err
	}

	d.mu.Lock()
	d.sessions[ls.id] = ls
	d.mu.Unlock()

	go d.forward(ls)

	d.logger.Info("log session started", "session", ls.id, "device", req.Device, "package", req.Package)
	return uds.LogsSubscribeResponse{Session: ls.id, Snapshot: ls.session.Snapshot()}, nil
}

// forward pushes every published snapshot of the session to its peer until
// the session is stopped.
func (d *Daemon) forward(ls *logSession) {
	snaps, unsubscribe := ls.session.Subscribe()
	defer unsubscribe()

	for snap := range snaps {
		evt, err := uds.NewEvent(uds.EventLogsSnapshot, uds.LogsSnapshotEvent{Session: ls.id, Snapshot: snap})
		if err != nil {
			d.logger.Error("encode snapshot", "session", ls.id, "err", err)
			continue
		}
		if ls.peer == "" {
			continue
		}
		d.server.Send(ls.peer, evt)
	}
}

func (d *Daemon) handleLogsSetTarget(_ context.Context, msg uds.Message) (any, error) {
	var req uds.LogsSetTargetRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Package != "" {
		if err := adb.ValidatePackage(req.Package); err != nil {
			return nil, err
		}
	}
	ls, err := d.lookup(req.Session)
	if err != nil {
		return nil, err
	}
	if err := ls.session.SetTarget(req.Package); err != nil {
		return nil, err
	}
	return ls.session.Snapshot(), nil
}

func (d *Daemon) handleLogsClear(_ context.Context, msg uds.Message) (any, error) {
	ls, err := d.sessionFromRequest(msg)
	if err != nil {
		return nil, err
	}
	if err := ls.session.Clear(); err != nil {
		return nil, err
	}
	return ls.session.Snapshot(), nil
}

func (d *Daemon) handleLogsSnapshot(_ context.Context, msg uds.Message) (any, error) {
	ls, err := d.sessionFromRequest(msg)
	if err != nil {
		return nil, err
	}
	return ls.session.Snapshot(), nil
}

func (d *Daemon) handleLogsUnsubscribe(_ context.Context, msg uds.Message) (any, error) {
	var req uds.SessionRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	d.mu.Lock()
	ls, ok := d.sessions[req.Session]
	delete(d.sessions, req.Session)
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, req.Session)
	}

	ls.session.Stop()
	d.logger.Info("log session stopped", "session", ls.id)
	return map[string]bool{"ok": true}, nil
}

func (d *Daemon) sessionFromRequest(msg uds.Message) (*logSession, error) {
	var req uds.SessionRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return d.lookup(req.Session)
}

func (d *Daemon) lookup(id string) (*logSession, error) {
	d.mu.RLock()
	ls, ok := d.sessions[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return ls, nil
}

// dropPeer stops the sessions owned by a disconnected client.
func (d *Daemon) dropPeer(peer string) {
	var dropped []*logSession
	d.mu.Lock()
	for id, ls := range d.sessions {
		if ls.peer == peer {
			dropped = append(dropped, ls)
			delete(d.sessions, id)
		}
	}
	d.mu.Unlock()

	for _, ls := range dropped {
		ls.session.Stop()
		d.logger.Info("log session dropped with client", "session", ls.id)
	}
}
