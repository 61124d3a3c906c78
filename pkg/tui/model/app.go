package model

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/logcat"
	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneDevices Pane = iota
	PaneLogs
	PaneDetail
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModePicker
)

// Options seed the TUI from config and flags.
type Options struct {
	Device   string
	Package  string
	MinLevel logcat.Level
}

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan tea.Msg

	// Devices
	devices   []adb.Device
	deviceIdx int
	initial   Options

	// Log session
	session  string
	snap     logcat.Snapshot
	paused   bool
	frozen   []logcat.Record
	minLevel logcat.Level
	logIdx   int

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	picker     *PickerModel
	width      int
	height     int

	// Error display
	statusMsg string
}

// New creates a new TUI app model.
func New(socketPath string, opts Options) App {
	si := textinput.New()
	si.Placeholder = "search tag or message..."
	si.CharLimit = 128

	if !opts.MinLevel.Valid() {
		opts.MinLevel = logcat.LevelVerbose
	}

	return App{
		socketPath: socketPath,
		events:     make(chan tea.Msg, 64),
		initial:    opts,
		minLevel:   opts.MinLevel,
		search:     si,
		activePane: PaneDevices,
		mode:       ModeNormal,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("droidwatch"),
	)
}

// connectedMsg indicates successful daemon connection.
type connectedMsg struct{ client *uds.Client }

// devicesMsg carries the full device list.
type devicesMsg struct{ devices []adb.Device }

// devicesDeltaMsg signals that the daemon saw the device list change.
type devicesDeltaMsg uds.DevicesDeltaEvent

// appsMsg carries the packages installed on a device.
type appsMsg struct {
	device   string
	packages []string
}

// subscribedMsg reports a newly opened log session.
type subscribedMsg uds.LogsSubscribeResponse

// snapshotMsg carries a pushed session snapshot.
type snapshotMsg uds.LogsSnapshotEvent

// disconnectedMsg reports that the daemon connection is gone.
type disconnectedMsg struct{}

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// resultMsg carries the outcome of a request.
type resultMsg struct{ msg string }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		return connectedMsg{client}
	}
}

// waitEventCmd delivers the next pushed event to Update.
func waitEventCmd(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// forwardEvents turns pushed daemon events into tea messages. Snapshots are
// latest-wins, so one that finds the channel full is dropped.
func forwardEvents(client *uds.Client, ch chan<- tea.Msg) {
	client.OnEvent(func(m uds.Message) {
		var msg tea.Msg
		switch m.Method {
		case uds.EventLogsSnapshot:
			var evt uds.LogsSnapshotEvent
			if err := m.UnmarshalData(&evt); err != nil {
				return
			}
			msg = snapshotMsg(evt)
		case uds.EventDevicesDelta:
			var evt uds.DevicesDeltaEvent
			if err := m.UnmarshalData(&evt); err != nil {
				return
			}
			msg = devicesDeltaMsg(evt)
		default:
			return
		}
		select {
		case ch <- msg:
		default:
		}
	})
	go func() {
		<-client.Done()
		ch <- disconnectedMsg{}
	}()
}

func call(client *uds.Client, timeout time.Duration, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.Call(ctx, method, in, out)
}

func fetchDevicesCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		var resp uds.ListDevicesResponse
		if err := call(client, 5*time.Second, uds.MethodListDevices, nil, &resp); err != nil {
			return errorMsg{err}
		}
		return devicesMsg{resp.Devices}
	}
}

func fetchAppsCmd(client *uds.Client, device string) tea.Cmd {
	return func() tea.Msg {
		var resp uds.ListAppsResponse
		if err := call(client, 10*time.Second, uds.MethodListApps, uds.ListAppsRequest{Device: device}, &resp); err != nil {
			return errorMsg{err}
		}
		return appsMsg{device: device, packages: resp.Packages}
	}
}

// subscribeCmd closes the previous session, if any, and opens a new one.
func subscribeCmd(client *uds.Client, previous, device, pkg string) tea.Cmd {
	return func() tea.Msg {
		if previous != "" {
			_ = call(client, 2*time.Second, uds.MethodLogsUnsubscribe, uds.SessionRequest{Session: previous}, nil)
		}
		var resp uds.LogsSubscribeResponse
		req := uds.LogsSubscribeRequest{Device: device, Package: pkg}
		if err := call(client, 5*time.Second, uds.MethodLogsSubscribe, req, &resp); err != nil {
			return errorMsg{err}
		}
		return subscribedMsg(resp)
	}
}

func setTargetCmd(client *uds.Client, session, pkg string) tea.Cmd {
	return func() tea.Msg {
		req := uds.LogsSetTargetRequest{Session: session, Package: pkg}
		if err := call(client, 2*time.Second, uds.MethodLogsSetTarget, req, nil); err != nil {
			return errorMsg{err}
		}
		if pkg == "" {
			return resultMsg{"showing all apps"}
		}
		return resultMsg{"target → " + pkg}
	}
}

func clearCmd(client *uds.Client, session string) tea.Cmd {
	return func() tea.Msg {
		if err := call(client, 2*time.Second, uds.MethodLogsClear, uds.SessionRequest{Session: session}, nil); err != nil {
			return errorMsg{err}
		}
		return resultMsg{"cleared"}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.connected = true
		a.statusMsg = "connected"
		forwardEvents(a.client, a.events)
		return a, tea.Batch(waitEventCmd(a.events), fetchDevicesCmd(a.client))

	case disconnectedMsg:
		a.client = nil
		a.connected = false
		a.session = ""
		a.statusMsg = "daemon connection lost"
		return a, nil

	case devicesMsg:
		return a.setDevices(msg.devices)

	case devicesDeltaMsg:
		var cmd tea.Cmd
		if a.client != nil {
			cmd = fetchDevicesCmd(a.client)
		}
		return a, tea.Batch(cmd, waitEventCmd(a.events))

	case appsMsg:
		if a.snap.Device != msg.device {
			return a, nil
		}
		a.picker = NewPicker(msg.device, msg.packages, a.snap.Package)
		a.mode = ModePicker
		return a, textinput.Blink

	case subscribedMsg:
		a.session = msg.Session
		a.snap = msg.Snapshot
		a.logIdx = 0
		a.paused = false
		a.frozen = nil
		a.statusMsg = "streaming " + msg.Snapshot.Device
		return a, nil

	case snapshotMsg:
		if msg.Session == a.session {
			a.snap = msg.Snapshot
			if a.snap.Error != "" {
				a.statusMsg = "error: " + a.snap.Error
			}
			a.clampLogIdx()
		}
		return a, waitEventCmd(a.events)

	case resultMsg:
		a.statusMsg = msg.msg
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

// setDevices replaces the device list, keeping the selection on the same
// device when it is still present, and opens the initial session once the
// configured default device shows up.
func (a App) setDevices(devices []adb.Device) (tea.Model, tea.Cmd) {
	selected := ""
	if d := a.selectedDevice(); d != nil {
		selected = d.ID
	}
	a.devices = devices
	a.deviceIdx = 0
	for i, d := range devices {
		if d.ID == selected || (selected == "" && d.ID == a.initial.Device) {
			a.deviceIdx = i
		}
	}

	if a.session == "" && a.initial.Device != "" && a.client != nil {
		for _, d := range devices {
			if d.ID == a.initial.Device && d.Online() {
				pkg := a.initial.Package
				a.initial = Options{}
				a.activePane = PaneLogs
				return a, subscribeCmd(a.client, "", d.ID, pkg)
			}
		}
	}
	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Search mode: the filter applies while typing.
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			a.clampLogIdx()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			a.clampLogIdx()
			return a, cmd
		}
	}

	if a.mode == ModePicker && a.picker != nil {
		return a.picker.HandleKey(a, msg)
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		a.move(1)
	case "k", "up":
		a.move(-1)
	case "g", "home":
		a.logIdx = 0
	case "G", "end":
		a.logIdx = max(0, len(a.visible())-1)

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "enter":
		if a.activePane != PaneDevices {
			return a, nil
		}
		d := a.selectedDevice()
		if a.client == nil || d == nil {
			return a, nil
		}
		if !d.Online() {
			a.statusMsg = d.ID + " is " + d.State
			return a, nil
		}
		a.activePane = PaneLogs
		a.statusMsg = "connecting to " + d.ID + "..."
		return a, subscribeCmd(a.client, a.session, d.ID, "")

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "v":
		a.minLevel = nextLevel(a.minLevel)
		a.clampLogIdx()
		a.statusMsg = "level ≥ " + levelName(a.minLevel)

	case "a":
		if a.client == nil || a.session == "" {
			a.statusMsg = "open a device first"
			return a, nil
		}
		a.statusMsg = "loading apps..."
		return a, fetchAppsCmd(a.client, a.snap.Device)

	case "A":
		if a.client != nil && a.session != "" {
			return a, setTargetCmd(a.client, a.session, "")
		}

	case "c":
		if a.client != nil && a.session != "" {
			a.frozen = nil
			return a, clearCmd(a.client, a.session)
		}

	case " ":
		a.paused = !a.paused
		if a.paused {
			a.frozen = a.snap.Entries
		} else {
			a.frozen = nil
			a.clampLogIdx()
		}

	case "r":
		if a.client != nil {
			return a, fetchDevicesCmd(a.client)
		}
		return a, connectCmd(a.socketPath)
	}

	return a, nil
}

func (a *App) move(delta int) {
	switch a.activePane {
	case PaneDevices:
		if len(a.devices) > 0 {
			a.deviceIdx = min(max(a.deviceIdx+delta, 0), len(a.devices)-1)
		}
	default:
		if n := len(a.visible()); n > 0 {
			a.logIdx = min(max(a.logIdx+delta, 0), n-1)
		}
	}
}

func (a *App) clampLogIdx() {
	if n := len(a.visible()); a.logIdx >= n {
		a.logIdx = max(0, n-1)
	}
}

// visible returns the records the log pane shows: the live (or frozen)
// entries narrowed by level and search.
func (a App) visible() []logcat.Record {
	entries := a.snap.Entries
	if a.paused {
		entries = a.frozen
	}
	return logcat.Filter(entries, a.minLevel, a.search.Value())
}

func (a App) selectedDevice() *adb.Device {
	if a.deviceIdx < len(a.devices) {
		return &a.devices[a.deviceIdx]
	}
	return nil
}

func (a App) selectedRecord() *logcat.Record {
	records := a.visible()
	if a.logIdx < len(records) {
		return &records[a.logIdx]
	}
	return nil
}

func nextLevel(l logcat.Level) logcat.Level {
	i := l.Ordinal() + 1
	if i <= 0 || i >= len(logcat.Levels) {
		i = 0
	}
	return logcat.Levels[i]
}

func levelName(l logcat.Level) string {
	switch l {
	case logcat.LevelVerbose:
		return "verbose"
	case logcat.LevelDebug:
		return "debug"
	case logcat.LevelInfo:
		return "info"
	case logcat.LevelWarn:
		return "warn"
	case logcat.LevelError:
		return "error"
	case logcat.LevelFatal:
		return "fatal"
	}
	return fmt.Sprintf("%q", string(l))
}
