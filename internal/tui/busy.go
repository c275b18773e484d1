package tui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// busyFrame stands in for the animation when motion is reduced.
const busyFrame = "…"

// busy animates next to accounts whose gateway is starting or waiting on a
// ticket. With reduced motion it renders a fixed frame and never ticks.
type busy struct {
	model  spinner.Model
	static bool
}

// reducedMotion reports whether GWSUP_REDUCED_MOTION or REDUCED_MOTION asks
// for a still dashboard.
func reducedMotion() bool {
	for _, name := range []string{"GWSUP_REDUCED_MOTION", "REDUCED_MOTION"} {
		v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
		if v == "yes" || v == "on" {
			return true
		}
		if b, err := strconv.ParseBool(v); err == nil && b {
			return true
		}
	}
	return false
}

func newBusy(color lipgloss.TerminalColor, static bool) busy {
	m := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	if color != nil && !NoColorFromEnv() {
		m.Style = lipgloss.NewStyle().Foreground(color)
	}
	return busy{model: m, static: static}
}

func (b busy) tick() tea.Cmd {
	if b.static {
		return nil
	}
	return b.model.Tick
}

func (b busy) update(msg tea.Msg) (busy, tea.Cmd) {
	tick, ok := msg.(spinner.TickMsg)
	if !ok || b.static {
		return b, nil
	}
	var cmd tea.Cmd
	b.model, cmd = b.model.Update(tick)
	return b, cmd
}

func (b busy) frame() string {
	if b.static {
		return busyFrame
	}
	return b.model.View()
}
