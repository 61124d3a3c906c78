package logcat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStream struct {
	events chan Event
	stops  atomic.Int32
	once   sync.Once
	done   chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event), done: make(chan struct{})}
}

func (f *fakeStream) Events() <-chan Event { return f.events }

func (f *fakeStream) Stop() {
	f.stops.Add(1)
	f.once.Do(func() { close(f.done) })
}

func (f *fakeStream) send(t *testing.T, ev Event) {
	t.Helper()
	select {
	case f.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not consume event")
	}
}

func (f *fakeStream) lines(t *testing.T, lines ...string) {
	t.Helper()
	f.send(t, Event{Kind: EventData, Lines: lines})
}

type fakeSource struct {
	stream *fakeStream
	err    error
	opened atomic.Int32
}

func (s *fakeSource) Open(_ context.Context, _ string) (Stream, error) {
	s.opened.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

type fakeLookup struct {
	mu  sync.Mutex
	pid string
	err error
}

func (l *fakeLookup) set(pid string, err error) {
	l.mu.Lock()
	l.pid, l.err = pid, err
	l.mu.Unlock()
}

func (l *fakeLookup) PidOf(_ context.Context, _, _ string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pid, l.err
}

func line(pid, msg string) string {
	return fmt.Sprintf("01-15 10:23:45.123 %s %s I Tag: %s", pid, pid, msg)
}

func messages(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Message
	}
	return out
}

func waitFor(t *testing.T, s *Session, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap := s.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s; last snapshot %+v", what, s.Snapshot())
	return Snapshot{}
}

func startSession(t *testing.T, pkg string, lookup *fakeLookup) (*Session, *fakeStream) {
	t.Helper()
	stream := newFakeStream()
	if lookup == nil {
		lookup = &fakeLookup{}
	}
	s := NewSession(&fakeSource{stream: stream}, lookup, Options{
		DeviceID:      "emulator-5554",
		Package:       pkg,
		FlushInterval: 20 * time.Millisecond,
		PollInterval:  20 * time.Millisecond,
	}, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, stream
}

func TestSessionStreamsNewestFirst(t *testing.T) {
	s, stream := startSession(t, "", nil)

	snap := s.Snapshot()
	if snap.State != StateStreaming || snap.Loading {
		t.Fatalf("after start: state=%s loading=%v", snap.State, snap.Loading)
	}

	stream.lines(t, line("1", "a"), line("2", "b"))
	stream.lines(t, line("3", "c"))

	snap = waitFor(t, s, "3 entries", func(s Snapshot) bool { return len(s.Entries) == 3 })
	if fmt.Sprint(messages(snap.Entries)) != "[c b a]" {
		t.Errorf("got %v, want [c b a]", messages(snap.Entries))
	}
}

func TestSessionTargetFiltersByPid(t *testing.T) {
	lookup := &fakeLookup{pid: "1234"}
	s, stream := startSession(t, "com.example.app", lookup)

	waitFor(t, s, "identity", func(s Snapshot) bool { return s.Identity == "1234" })

	stream.lines(t, line("999", "system"), line("1234", "mine"), line("42", "other"))
	snap := waitFor(t, s, "one entry", func(s Snapshot) bool { return len(s.Entries) > 0 })
	if fmt.Sprint(messages(snap.Entries)) != "[mine]" {
		t.Errorf("got %v, want [mine]", messages(snap.Entries))
	}
}

func TestSessionDropsWhileTargetNotRunning(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("exit status 1")}
	s, stream := startSession(t, "com.example.app", lookup)

	stream.lines(t, line("1234", "before"))
	time.Sleep(100 * time.Millisecond)
	if n := len(s.Snapshot().Entries); n != 0 {
		t.Fatalf("records should be dropped while the app is not running, got %d", n)
	}

	lookup.set("1234", nil)
	waitFor(t, s, "identity", func(s Snapshot) bool { return s.Identity == "1234" })
	stream.lines(t, line("1234", "after"))
	snap := waitFor(t, s, "entry", func(s Snapshot) bool { return len(s.Entries) == 1 })
	if snap.Entries[0].Message != "after" {
		t.Errorf("got %q, want after", snap.Entries[0].Message)
	}

	lookup.set("", nil)
	waitFor(t, s, "identity cleared", func(s Snapshot) bool { return s.Identity == "" })
	stream.lines(t, line("1234", "late"))
	time.Sleep(100 * time.Millisecond)
	if n := len(s.Snapshot().Entries); n != 1 {
		t.Errorf("record should be dropped after the app stopped, got %d entries", n)
	}
}

func TestSessionSetTargetClearsWithoutRestartingStream(t *testing.T) {
	src := &fakeSource{stream: newFakeStream()}
	lookup := &fakeLookup{pid: "7"}
	s := NewSession(src, lookup, Options{
		DeviceID:      "emulator-5554",
		FlushInterval: 20 * time.Millisecond,
		PollInterval:  20 * time.Millisecond,
	}, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	src.stream.lines(t, line("1", "system"))
	waitFor(t, s, "entry", func(s Snapshot) bool { return len(s.Entries) == 1 })

	if err := s.SetTarget("com.example.app"); err != nil {
		t.Fatalf("set target: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Entries) != 0 || snap.Package != "com.example.app" {
		t.Errorf("after retarget: entries=%d package=%q", len(snap.Entries), snap.Package)
	}

	waitFor(t, s, "identity", func(s Snapshot) bool { return s.Identity == "7" })
	src.stream.lines(t, line("1", "system"), line("7", "app"))
	snap = waitFor(t, s, "entry", func(s Snapshot) bool { return len(s.Entries) == 1 })
	if snap.Entries[0].Message != "app" {
		t.Errorf("got %q, want app", snap.Entries[0].Message)
	}

	if err := s.SetTarget(""); err != nil {
		t.Fatal(err)
	}
	src.stream.lines(t, line("1", "system again"))
	waitFor(t, s, "system entry", func(s Snapshot) bool { return len(s.Entries) == 1 && s.Entries[0].Message == "system again" })

	if n := src.opened.Load(); n != 1 {
		t.Errorf("stream opened %d times, want 1", n)
	}
	if n := src.stream.stops.Load(); n != 0 {
		t.Errorf("stream stopped %d times during retarget", n)
	}
}

func TestSessionClear(t *testing.T) {
	s, stream := startSession(t, "", nil)
	stream.lines(t, line("1", "a"))
	waitFor(t, s, "entry", func(s Snapshot) bool { return len(s.Entries) == 1 })

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := len(s.Snapshot().Entries); n != 0 {
		t.Errorf("entries after clear: %d", n)
	}
	if stream.stops.Load() != 0 {
		t.Error("clear must not stop the stream")
	}

	stream.lines(t, line("1", "b"))
	waitFor(t, s, "new entry", func(s Snapshot) bool { return len(s.Entries) == 1 })
}

func TestSessionFailureIsTerminal(t *testing.T) {
	s, stream := startSession(t, "", nil)
	stream.lines(t, line("1", "kept"))
	stream.send(t, Event{Kind: EventFailed, Err: errors.New("error: device offline")})

	snap := waitFor(t, s, "failed", func(s Snapshot) bool { return s.State == StateFailed })
	if snap.Error != "error: device offline" || snap.Loading {
		t.Errorf("failed snapshot: error=%q loading=%v", snap.Error, snap.Loading)
	}
	if fmt.Sprint(messages(snap.Entries)) != "[kept]" {
		t.Errorf("records received before the failure should be flushed, got %v", messages(snap.Entries))
	}

	stream.lines(t, line("1", "ignored"))
	time.Sleep(60 * time.Millisecond)
	if n := len(s.Snapshot().Entries); n != 1 {
		t.Errorf("failed session accepted records: %d entries", n)
	}
}

func TestSessionClosedStream(t *testing.T) {
	s, stream := startSession(t, "", nil)
	stream.lines(t, line("1", "last words"))
	stream.send(t, Event{Kind: EventClosed})

	snap := waitFor(t, s, "stopped", func(s Snapshot) bool { return s.State == StateStopped })
	if len(snap.Entries) != 1 {
		t.Errorf("final flush missing: %d entries", len(snap.Entries))
	}
}

func TestSessionStartFailure(t *testing.T) {
	src := &fakeSource{err: errors.New(`exec: "adb": executable file not found in $PATH`)}
	s := NewSession(src, &fakeLookup{}, Options{DeviceID: "emulator-5554"}, testLogger())

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	snap := s.Snapshot()
	if snap.State != StateFailed || snap.Error == "" || snap.Loading {
		t.Errorf("snapshot after failed start: %+v", snap)
	}
	if err := s.Clear(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("clear on failed session: got %v", err)
	}
	s.Stop()
	s.Stop()
}

func TestSessionStopTwice(t *testing.T) {
	s, stream := startSession(t, "com.example.app", &fakeLookup{pid: "1"})
	updates, _ := s.Subscribe()

	s.Stop()
	s.Stop()

	if n := stream.stops.Load(); n != 1 {
		t.Errorf("stream stopped %d times, want 1", n)
	}
	if st := s.Snapshot().State; st != StateStopped {
		t.Errorf("state: got %s, want stopped", st)
	}
	select {
	case <-s.Done():
	default:
		t.Error("run loop still active after Stop")
	}
	if err := s.Clear(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("clear after stop: got %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("stopped session must not restart")
	}

	for range updates {
	}
}

func TestSessionStopDiscardsPending(t *testing.T) {
	stream := newFakeStream()
	s := NewSession(&fakeSource{stream: stream}, &fakeLookup{}, Options{
		DeviceID:      "emulator-5554",
		FlushInterval: time.Hour,
	}, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	stream.lines(t, line("1", "pending"))
	s.Stop()

	if n := len(s.Snapshot().Entries); n != 0 {
		t.Errorf("pending records were flushed on stop: %d", n)
	}
}

func TestSessionCancelIgnoresLateEvents(t *testing.T) {
	for i := 0; i < 50; i++ {
		stream := newFakeStream()
		s := NewSession(&fakeSource{stream: stream}, &fakeLookup{}, Options{
			DeviceID:      "emulator-5554",
			FlushInterval: time.Millisecond,
		}, testLogger())
		ctx, cancel := context.WithCancel(context.Background())
		if err := s.Start(ctx); err != nil {
			t.Fatal(err)
		}

		cancel()
		select {
		case stream.events <- Event{Kind: EventFailed, Err: errors.New("late")}:
		case <-stream.done:
		}
		<-s.Done()

		if st := s.Snapshot().State; st != StateStopped {
			t.Fatalf("iteration %d: state after cancel: got %s, want stopped", i, st)
		}
		s.Stop()
	}
}

func TestSessionNotStarted(t *testing.T) {
	s := NewSession(&fakeSource{}, &fakeLookup{}, Options{DeviceID: "x"}, testLogger())
	if err := s.SetTarget("com.example"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("got %v, want ErrNotStarted", err)
	}
	s.Stop()
	if st := s.Snapshot().State; st != StateStopped {
		t.Errorf("state: got %s", st)
	}
}

func TestSessionSubscribe(t *testing.T) {
	s, stream := startSession(t, "", nil)
	updates, cancel := s.Subscribe()
	defer cancel()

	first := <-updates
	if first.State != StateStreaming {
		t.Errorf("first snapshot state: %s", first.State)
	}

	stream.lines(t, line("1", "hello"))
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-updates:
			if len(snap.Entries) == 1 && snap.Entries[0].Message == "hello" {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot with the new entry")
		}
	}
}
