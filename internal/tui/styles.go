package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
)

// Color palette - Dracula theme inspired.
var (
	colorPurple   = lipgloss.Color("#bd93f9")
	colorPink     = lipgloss.Color("#ff79c6")
	colorGreen    = lipgloss.Color("#50fa7b")
	colorYellow   = lipgloss.Color("#f1fa8c")
	colorCyan     = lipgloss.Color("#8be9fd")
	colorOrange   = lipgloss.Color("#ffb86c")
	colorRed      = lipgloss.Color("#ff5555")
	colorWhite    = lipgloss.Color("#f8f8f2")
	colorGray     = lipgloss.Color("#6272a4")
	colorDarkGray = lipgloss.Color("#44475a")
)

// Styles holds all the lipgloss styles for the TUI.
type Styles struct {
	Header lipgloss.Style

	// Account list
	Item         lipgloss.Style
	SelectedItem lipgloss.Style
	Running      lipgloss.Style
	Stopped      lipgloss.Style

	// Status bar
	StatusBar  lipgloss.Style
	StatusKey  lipgloss.Style
	StatusText lipgloss.Style
	Error      lipgloss.Style

	Empty lipgloss.Style
	Help  lipgloss.Style
	Input lipgloss.Style

	NoColor bool
}

// NoColorFromEnv reports whether NO_COLOR or TERM=dumb asks for plain output.
func NoColorFromEnv() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb")
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	if NoColorFromEnv() {
		return PlainStyles()
	}
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple).
			MarginBottom(1),

		Item: lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(colorWhite),

		SelectedItem: lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(colorPurple).
			Bold(true).
			Background(colorDarkGray),

		Running: lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true),

		Stopped: lipgloss.NewStyle().
			Foreground(colorGray),

		StatusBar: lipgloss.NewStyle().
			Padding(0, 1).
			Background(colorDarkGray).
			Foreground(colorWhite),

		StatusKey: lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true),

		StatusText: lipgloss.NewStyle().
			Foreground(colorGray),

		Error: lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true),

		Empty: lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true).
			Padding(2, 4),

		Help: lipgloss.NewStyle().
			Padding(2, 4).
			Foreground(colorWhite),

		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPink).
			Padding(0, 1),
	}
}

// PlainStyles renders without colors or backgrounds.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:       plain.MarginBottom(1),
		Item:         plain.Padding(0, 1),
		SelectedItem: plain.Padding(0, 1).Reverse(true),
		Running:      plain,
		Stopped:      plain,
		StatusBar:    plain,
		StatusKey:    plain,
		StatusText:   plain,
		Error:        plain,
		Empty:        plain.Padding(2, 4),
		Help:         plain.Padding(2, 4),
		Input:        plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
		NoColor:      true,
	}
}

// statusColors groups login statuses by how urgently they need an operator.
var statusColors = map[login.Status]lipgloss.Color{
	login.StatusSuccess:        colorGreen,
	login.StatusError:          colorRed,
	login.StatusOffline:        colorGray,
	login.StatusInit:           colorCyan,
	login.StatusContinue:       colorCyan,
	login.StatusQRCode:         colorYellow,
	login.StatusCaptcha:        colorYellow,
	login.StatusSlider:         colorYellow,
	login.StatusSMS:            colorOrange,
	login.StatusSMSConfirm:     colorOrange,
	login.StatusSMSOrQRCode:    colorOrange,
	login.StatusSliderOrQRCode: colorOrange,
}

// Status renders a login status with its color.
func (s Styles) Status(st login.Status) string {
	if st == "" {
		st = login.StatusOffline
	}
	if s.NoColor {
		return string(st)
	}
	c, ok := statusColors[st]
	if !ok {
		c = colorWhite
	}
	return lipgloss.NewStyle().Foreground(c).Bold(st.Interactive()).Render(string(st))
}
