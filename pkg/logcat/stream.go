package logcat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// EventKind identifies what a stream Event carries.
type EventKind int

const (
	EventData EventKind = iota
	EventFailed
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventFailed:
		return "failed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is emitted by a Stream. Data events carry complete, non-blank lines;
// a Failed event carries the error detail. Failed and Closed are final.
type Event struct {
	Kind  EventKind
	Lines []string
	Err   error
}

// Stream is a running log source. Events is closed after the final event.
// Stop is idempotent and, once it returns, no further event is sent.
type Stream interface {
	Events() <-chan Event
	Stop()
}

// Source opens the log stream of a device.
type Source interface {
	Open(ctx context.Context, deviceID string) (Stream, error)
}

// CommandFunc builds the long-running subprocess that writes the device log
// to stdout.
type CommandFunc func(deviceID string) (*exec.Cmd, error)

// ProcessSource opens streams by spawning a subprocess per call.
type ProcessSource struct {
	command CommandFunc
	logger  *slog.Logger
}

// NewProcessSource creates a Source backed by command.
func NewProcessSource(command CommandFunc, logger *slog.Logger) *ProcessSource {
	return &ProcessSource{command: command, logger: logger}
}

// Open spawns the subprocess for deviceID. The stream is stopped when ctx is
// cancelled.
func (s *ProcessSource) Open(ctx context.Context, deviceID string) (Stream, error) {
	cmd, err := s.command(deviceID)
	if err != nil {
		return nil, err
	}
	return StartProcess(ctx, cmd, s.logger)
}

const (
	readChunk   = 32 * 1024
	stopTimeout = 5 * time.Second
	stderrLines = 5
)

// Process supervises one streaming subprocess.
type Process struct {
	cmd    *exec.Cmd
	events chan Event
	done   chan struct{}
	exited chan struct{}
	stderr *tailWriter
	logger *slog.Logger

	stopOnce sync.Once
}

// StartProcess starts cmd and begins forwarding its stdout as line events.
// Stderr is captured only to describe a failure.
func StartProcess(ctx context.Context, cmd *exec.Cmd, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Process{
		cmd:    cmd,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		stderr: newTailWriter(stderrLines),
		logger: logger,
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = p.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	logger.Debug("stream started", "pid", cmd.Process.Pid, "args", cmd.Args)

	go p.read(stdout)
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.exited:
		}
	}()
	return p, nil
}

// Events returns the event channel.
func (p *Process) Events() <-chan Event {
	return p.events
}

// Pid returns the subprocess id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stop terminates the process group with SIGTERM, escalating to SIGKILL if it
// has not exited in time. Errors from an already-exited process are ignored.
// Output queued before the call is discarded; once Stop returns Events is
// closed and empty.
func (p *Process) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)

		pid := p.cmd.Process.Pid
		_ = syscall.Kill(-pid, syscall.SIGTERM)

		select {
		case <-p.exited:
		case <-time.After(stopTimeout):
			p.logger.Warn("stream did not exit, killing", "pid", pid)
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			<-p.exited
		}
		for range p.events {
		}
		p.logger.Debug("stream stopped", "pid", pid)
	})
}

func (p *Process) read(stdout io.Reader) {
	defer close(p.events)
	defer close(p.exited)

	var split lineSplitter
	buf := make([]byte, readChunk)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if lines := split.Feed(buf[:n]); len(lines) > 0 {
				p.emit(Event{Kind: EventData, Lines: lines})
			}
		}
		if err != nil {
			break
		}
	}
	if rest := split.Rest(); rest != "" {
		p.emit(Event{Kind: EventData, Lines: []string{rest}})
	}

	err := p.cmd.Wait()
	switch {
	case p.stopped():
		// Exit caused by Stop; nothing to report.
	case err != nil:
		p.emit(Event{Kind: EventFailed, Err: p.describe(err)})
	default:
		p.emit(Event{Kind: EventClosed})
	}
}

func (p *Process) describe(err error) error {
	if detail := p.stderr.String(); detail != "" {
		return fmt.Errorf("%s: %w", detail, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("log stream exited with code %d: %w", exitErr.ExitCode(), err)
	}
	return fmt.Errorf("log stream: %w", err)
}

func (p *Process) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// emit delivers ev unless Stop has been called.
func (p *Process) emit(ev Event) {
	if p.stopped() {
		return
	}
	select {
	case p.events <- ev:
	case <-p.done:
	}
}
