package model

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// PickerModel chooses the target app for the current log session.
type PickerModel struct {
	device   string
	packages []string
	current  string
	filter   textinput.Model
	idx      int
}

// NewPicker creates a picker over the device's packages, with the cursor on
// the current target if there is one.
func NewPicker(device string, packages []string, current string) *PickerModel {
	ti := textinput.New()
	ti.Placeholder = "filter packages..."
	ti.CharLimit = 128
	ti.Focus()

	p := &PickerModel{device: device, packages: packages, current: current, filter: ti}
	for i, pkg := range p.matches() {
		if pkg == current {
			p.idx = i
		}
	}
	return p
}

// matches returns the packages containing the filter text.
func (p *PickerModel) matches() []string {
	q := strings.ToLower(strings.TrimSpace(p.filter.Value()))
	if q == "" {
		return p.packages
	}
	var out []string
	for _, pkg := range p.packages {
		if strings.Contains(strings.ToLower(pkg), q) {
			out = append(out, pkg)
		}
	}
	return out
}

// Selected returns the package under the cursor, or "" if nothing matches.
func (p *PickerModel) Selected() string {
	m := p.matches()
	if p.idx < len(m) {
		return m[p.idx]
	}
	return ""
}

// HandleKey processes key events in picker mode.
func (p *PickerModel) HandleKey(a App, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = ModeNormal
		a.picker = nil
		a.statusMsg = ""
		return a, nil

	case "enter":
		pkg := p.Selected()
		a.mode = ModeNormal
		a.picker = nil
		if pkg == "" || a.client == nil || a.session == "" {
			return a, nil
		}
		a.statusMsg = "targeting " + pkg + "..."
		return a, setTargetCmd(a.client, a.session, pkg)

	case "down", "ctrl+n":
		if n := len(p.matches()); p.idx < n-1 {
			p.idx++
		}
		return a, nil

	case "up", "ctrl+p":
		if p.idx > 0 {
			p.idx--
		}
		return a, nil

	default:
		var cmd tea.Cmd
		p.filter, cmd = p.filter.Update(msg)
		if n := len(p.matches()); p.idx >= n {
			p.idx = max(0, n-1)
		}
		return a, cmd
	}
}

// View renders the picker.
func (p *PickerModel) View(width, height int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" Target app on "+p.device+" ") + "\n\n")
	b.WriteString("  " + p.filter.View() + "\n\n")

	matches := p.matches()
	if len(matches) == 0 {
		b.WriteString(dimStyle.Render("  no matching packages") + "\n")
	}

	maxVisible := max(height-8, 1)
	start := 0
	if p.idx >= maxVisible {
		start = p.idx - maxVisible + 1
	}
	for i := start; i < len(matches) && i-start < maxVisible; i++ {
		pkg := matches[i]
		prefix := "  "
		if i == p.idx {
			prefix = "▸ "
		}
		line := prefix + truncate(pkg, width-4)
		if pkg == p.current {
			line += dimStyle.Render(" (current)")
		}
		if i == p.idx {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("  ↑/↓:move  enter:target  esc:cancel"))
	return b.String()
}
