package logcat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultFlushInterval is how often accumulated records are published.
const DefaultFlushInterval = 500 * time.Millisecond

var (
	// ErrSessionClosed is returned by operations on a stopped session.
	ErrSessionClosed = errors.New("log session closed")
	// ErrNotStarted is returned by operations on a session that was never started.
	ErrNotStarted = errors.New("log session not started")
)

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Terminal reports whether no further records will be accepted.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateStopped
}

// Snapshot is what a Session publishes after every change. Entries are
// newest first and must be treated as read-only.
type Snapshot struct {
	Device   string   `json:"device"`
	Package  string   `json:"package,omitempty"`
	Identity string   `json:"identity,omitempty"`
	State    State    `json:"state"`
	Loading  bool     `json:"loading"`
	Error    string   `json:"error,omitempty"`
	Entries  []Record `json:"entries"`
}

// View applies Filter to the snapshot's entries.
func (s Snapshot) View(minLevel Level, search string) []Record {
	return Filter(s.Entries, minLevel, search)
}

// Options configure a Session. Zero values fall back to the defaults.
type Options struct {
	DeviceID      string
	Package       string
	MaxRecords    int
	FlushInterval time.Duration
	PollInterval  time.Duration
}

type identityUpdate struct {
	gen int
	pid string
}

// Session streams the log of one device, optionally narrowed to one app.
// All record state is owned by a single goroutine; other goroutines reach it
// only through control requests and published snapshots.
type Session struct {
	opts   Options
	source Source
	lookup PIDLookup
	logger *slog.Logger

	ctrl     chan func()
	identity chan identityUpdate
	done     chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	snap    Snapshot
	subs    map[chan Snapshot]struct{}
	started bool
	closed  bool

	stopOnce sync.Once

	// owned by run
	ctx          context.Context
	agg          *Aggregator
	stream       Stream
	pkg          string
	gen          int
	stopResolver context.CancelFunc
}

// NewSession prepares a session. Nothing is spawned until Start.
func NewSession(source Source, lookup PIDLookup, opts Options, logger *slog.Logger) *Session {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:     opts,
		source:   source,
		lookup:   lookup,
		logger:   logger.With("device", opts.DeviceID),
		ctrl:     make(chan func()),
		identity: make(chan identityUpdate),
		done:     make(chan struct{}),
		subs:     make(map[chan Snapshot]struct{}),
		snap:     Snapshot{Device: opts.DeviceID, Package: opts.Package, State: StateIdle},
		agg:      NewAggregator(opts.MaxRecords),
		pkg:      opts.Package,
	}
}

// Start spawns the log stream. A spawn failure leaves the session in
// StateFailed with the error recorded in its snapshot; it is not retried.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("log session for %s already started", s.opts.DeviceID)
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.update(func(snap *Snapshot) {
		snap.State = StateStarting
		snap.Loading = true
	})

	stream, err := s.source.Open(runCtx, s.opts.DeviceID)
	if err != nil {
		cancel()
		close(s.done)
		s.logger.Error("log stream failed to start", "err", err)
		s.update(func(snap *Snapshot) {
			snap.State = StateFailed
			snap.Loading = false
			snap.Error = err.Error()
		})
		return fmt.Errorf("open log stream: %w", err)
	}
	s.stream = stream
	s.ctx = runCtx

	s.update(func(snap *Snapshot) {
		snap.State = StateStreaming
		snap.Loading = false
	})
	s.logger.Info("log session started", "package", s.pkg)

	s.retarget(runCtx, s.pkg)
	go s.run(runCtx)
	return nil
}

// Stop tears the session down: timers and polling end, the subprocess is
// terminated and unflushed records are discarded. It is safe to call more
// than once and on a session that never started.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()

		if started {
			s.cancel()
			<-s.done
		}

		s.update(func(snap *Snapshot) {
			if !snap.State.Terminal() {
				snap.State = StateStopped
			}
			snap.Loading = false
		})

		s.mu.Lock()
		s.closed = true
		for ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		s.mu.Unlock()
		s.logger.Info("log session stopped")
	})
}

// Done is closed once the session's run loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the most recently published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe returns a channel that receives every published snapshot,
// starting with the current one. Slow readers only see the latest snapshot.
// The channel is closed when the session stops or the returned func is
// called.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- s.snap
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// Clear empties the published entries. The stream and pid polling are not
// affected.
func (s *Session) Clear() error {
	return s.do(func() {
		s.agg.Clear()
		s.update(func(snap *Snapshot) { snap.Entries = nil })
	})
}

// SetTarget narrows the session to pkg, or widens it to the whole device when
// pkg is empty. Buffered and pending records are dropped and pid resolution
// restarts; the stream itself keeps running.
func (s *Session) SetTarget(pkg string) error {
	return s.do(func() {
		s.retarget(s.ctx, pkg)
	})
}

// do runs fn on the owner goroutine and waits for it.
func (s *Session) do(fn func()) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	finished := make(chan struct{})
	select {
	case s.ctrl <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrSessionClosed
	}
	<-finished
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	events := s.stream.Events()
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			s.handle(ev)

		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			s.flush()

		case u := <-s.identity:
			if u.gen != s.gen || u.pid == s.agg.Identity() {
				continue
			}
			s.logger.Debug("target pid changed", "package", s.pkg, "pid", u.pid)
			s.agg.SetIdentity(u.pid)
			s.update(func(snap *Snapshot) { snap.Identity = u.pid })

		case fn := <-s.ctrl:
			fn()
		}
	}
}

func (s *Session) handle(ev Event) {
	if s.Snapshot().State.Terminal() {
		return
	}

	switch ev.Kind {
	case EventData:
		for _, line := range ev.Lines {
			s.agg.Offer(Parse(line))
		}

	case EventFailed:
		s.flush()
		s.halt()
		s.logger.Error("log stream failed", "err", ev.Err)
		detail := "log stream failed"
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		s.update(func(snap *Snapshot) {
			snap.State = StateFailed
			snap.Loading = false
			snap.Error = detail
		})

	case EventClosed:
		s.flush()
		s.halt()
		s.logger.Info("log stream closed")
		s.update(func(snap *Snapshot) {
			snap.State = StateStopped
			snap.Loading = false
		})
	}
}

// retarget must run on the owner goroutine, or before it starts.
func (s *Session) retarget(ctx context.Context, pkg string) {
	if s.stopResolver != nil {
		s.stopResolver()
		s.stopResolver = nil
	}
	s.gen++
	s.pkg = pkg
	s.agg.Reset()
	s.agg.SetTargeted(pkg != "")
	s.update(func(snap *Snapshot) {
		snap.Package = pkg
		snap.Identity = ""
		snap.Entries = nil
	})

	if pkg == "" || s.Snapshot().State.Terminal() {
		return
	}

	rctx, cancel := context.WithCancel(ctx)
	s.stopResolver = cancel
	gen := s.gen
	resolver := NewResolver(s.lookup, s.opts.DeviceID, pkg, s.opts.PollInterval, s.logger)
	go resolver.Run(rctx, func(pid string) {
		select {
		case s.identity <- identityUpdate{gen: gen, pid: pid}:
		case <-rctx.Done():
		}
	})
}

func (s *Session) flush() {
	if entries, changed := s.agg.Flush(); changed {
		s.update(func(snap *Snapshot) { snap.Entries = entries })
	}
}

// halt stops identity polling once the stream has ended on its own.
func (s *Session) halt() {
	if s.stopResolver != nil {
		s.stopResolver()
		s.stopResolver = nil
	}
}

func (s *Session) teardown() {
	s.halt()
	s.stream.Stop()
	s.agg.Discard()
	s.update(func(snap *Snapshot) {
		if !snap.State.Terminal() {
			snap.State = StateStopped
		}
		snap.Loading = false
	})
}

// update applies fn to the snapshot and publishes the result.
func (s *Session) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	snap := s.snap
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
