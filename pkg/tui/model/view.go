package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/logcat"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	levelStyles = map[logcat.Level]lipgloss.Style{
		logcat.LevelFatal:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		logcat.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		logcat.LevelWarn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		logcat.LevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		logcat.LevelDebug:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		logcat.LevelVerbose: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	// Picker overlay
	if a.mode == ModePicker && a.picker != nil {
		return paneStyle.Width(a.width - 4).Height(a.height - 2).Render(a.picker.View(a.width-8, a.height-2))
	}

	statusBarH := 2
	detailH := max(a.height/5, 4)
	mainH := a.height - detailH - statusBarH - 2
	devicesW := max(a.width/4, 20) - 2
	logsW := a.width - devicesW - 4

	devices := a.paneBox(PaneDevices, " Devices ", a.renderDevices(devicesW, mainH), devicesW, mainH)
	logs := a.paneBox(PaneLogs, a.logTitle(), a.renderLogs(logsW, mainH), logsW, mainH)
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, devices, logs)

	detail := a.paneBox(PaneDetail, " Record ", a.renderDetail(a.width-4), a.width-4, detailH)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, detail, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderDevices(w, h int) string {
	if !a.connected {
		return dimStyle.Render("not connected (r to retry)")
	}
	if len(a.devices) == 0 {
		return dimStyle.Render("no devices")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.deviceIdx >= maxVisible {
		start = a.deviceIdx - maxVisible + 1
	}

	for i := start; i < len(a.devices) && i-start < maxVisible; i++ {
		d := a.devices[i]
		label := d.Label()
		if a.session != "" && d.ID == a.snap.Device {
			label = "▸ " + label
		}
		line := fmt.Sprintf(" %s %-*s", deviceIndicator(d), w-6, truncate(label, w-6))

		if i == a.deviceIdx && a.activePane == PaneDevices {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) renderLogs(w, h int) string {
	if a.session == "" {
		return dimStyle.Render("select a device and press enter")
	}
	if a.snap.Loading {
		return dimStyle.Render("starting log stream...")
	}

	records := a.visible()
	var b strings.Builder
	if a.mode == ModeSearch || a.search.Value() != "" {
		b.WriteString(a.search.View() + "\n")
		h--
	}
	if len(records) == 0 {
		b.WriteString(dimStyle.Render(a.emptyLogText()))
		return b.String()
	}

	maxVisible := h - 2
	start := 0
	if a.logIdx >= maxVisible {
		start = a.logIdx - maxVisible + 1
	}
	for i := start; i < len(records) && i-start < maxVisible; i++ {
		line := renderRecord(records[i], w)
		if i == a.logIdx && a.activePane == PaneLogs {
			line = selectedStyle.Width(w).Render(truncate(plainRecord(records[i]), w))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) emptyLogText() string {
	switch {
	case a.snap.State == logcat.StateFailed:
		return "log stream failed: " + a.snap.Error
	case a.snap.Package != "" && a.snap.Identity == "":
		return a.snap.Package + " is not running"
	case a.search.Value() != "" || a.minLevel != logcat.LevelVerbose:
		return "no records match"
	default:
		return "waiting for log output"
	}
}

func (a App) renderDetail(w int) string {
	r := a.selectedRecord()
	if r == nil {
		return dimStyle.Render("no record selected")
	}

	var b strings.Builder
	if r.Structured() {
		fmt.Fprintf(&b, "%s  pid %s  tid %s  %s  %s\n",
			dimStyle.Render(r.Timestamp), r.PID, r.TID, levelStyle(r.Level).Render(levelName(r.Level)), r.Tag)
	}
	b.WriteString(truncate(r.Raw, w*2))
	return b.String()
}

func (a App) logTitle() string {
	title := " Logs "
	if a.session != "" {
		title = " " + a.snap.Device
		if a.snap.Package != "" {
			title += " · " + a.snap.Package
			if a.snap.Identity != "" {
				title += " (" + a.snap.Identity + ")"
			}
		}
		title += " "
	}
	if a.minLevel != logcat.LevelVerbose {
		title += dimStyle.Render("[≥"+string(a.minLevel)+"]") + " "
	}
	if a.paused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	if a.snap.State == logcat.StateStopped && a.session != "" {
		title += warnStyle.Render("[ENDED]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "j/k:nav tab:pane enter:open /:search v:level a:app A:all c:clear space:pause q:quit"
	if a.mode == ModeSearch {
		right = "enter:keep esc:clear"
	}

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func renderRecord(r logcat.Record, w int) string {
	if !r.Structured() {
		return levelStyle(r.Level).Render(truncate(r.Raw, w))
	}
	prefix := fmt.Sprintf("%s %s ", r.Timestamp[6:], string(r.Level))
	tag := truncate(r.Tag, 20)
	rest := max(w-len(prefix)-len(tag)-2, 0)
	return dimStyle.Render(r.Timestamp[6:]) + " " +
		levelStyle(r.Level).Render(string(r.Level)+" "+tag) + ": " +
		truncate(r.Message, rest)
}

func plainRecord(r logcat.Record) string {
	if !r.Structured() {
		return r.Raw
	}
	return fmt.Sprintf("%s %s %s: %s", r.Timestamp[6:], r.Level, r.Tag, r.Message)
}

func levelStyle(l logcat.Level) lipgloss.Style {
	if s, ok := levelStyles[l]; ok {
		return s
	}
	return dimStyle
}

func deviceIndicator(d adb.Device) string {
	switch {
	case d.Online() && d.Wifi:
		return onlineStyle.Render("≋")
	case d.Online():
		return onlineStyle.Render("●")
	case d.State == "unauthorized":
		return warnStyle.Render("!")
	default:
		return offlineStyle.Render("○")
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
