package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/api"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
)

// DetailPanel renders the right panel with the selected account's login
// state and the actions that make sense for it.
type DetailPanel struct {
	account *api.AccountResponse
	width   int
	styles  DetailPanelStyles
	status  func(login.Status) string
}

// DetailPanelStyles holds the styles for the detail panel.
type DetailPanelStyles struct {
	Border        lipgloss.Style
	Title         lipgloss.Style
	Label         lipgloss.Style
	Value         lipgloss.Style
	Hint          lipgloss.Style
	Empty         lipgloss.Style
	SectionHeader lipgloss.Style
}

// DefaultDetailPanelStyles returns the default styles for the detail panel.
func DefaultDetailPanelStyles(noColor bool) DetailPanelStyles {
	if noColor {
		plain := lipgloss.NewStyle()
		return DetailPanelStyles{
			Border:        plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
			Title:         plain.Bold(true).MarginBottom(1),
			Label:         plain.Width(10),
			Value:         plain,
			Hint:          plain,
			Empty:         plain.Padding(2, 2),
			SectionHeader: plain.Bold(true).MarginTop(1),
		}
	}
	return DetailPanelStyles{
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDarkGray).
			Padding(0, 1),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(colorGray).
			Width(10),

		Value: lipgloss.NewStyle().
			Foreground(colorWhite),

		Hint: lipgloss.NewStyle().
			Foreground(colorCyan),

		Empty: lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true).
			Padding(2, 2),

		SectionHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPink).
			MarginTop(1),
	}
}

// NewDetailPanel creates a new detail panel.
func NewDetailPanel(styles Styles) *DetailPanel {
	return &DetailPanel{
		styles: DefaultDetailPanelStyles(styles.NoColor),
		status: styles.Status,
	}
}

// SetAccount sets the account to display.
func (p *DetailPanel) SetAccount(a *api.AccountResponse) {
	p.account = a
}

// SetWidth sets the panel width.
func (p *DetailPanel) SetWidth(width int) {
	p.width = width
}

// View renders the detail panel.
func (p *DetailPanel) View() string {
	border := p.styles.Border
	if p.width > 4 {
		border = border.Width(p.width - 2)
	}
	if p.account == nil {
		return border.Render(p.styles.Empty.Render("Select an account to view details"))
	}

	a := p.account
	var st login.State
	if a.State != nil {
		st = *a.State
	}

	rows := []string{
		p.styles.Title.Render(a.SID),
		p.renderRow("Self ID", a.SelfID),
		p.renderRow("Mode", a.Protocol),
		p.renderRow("Process", p.processText(a)),
		p.renderRow("Status", p.status(st.Status)),
	}
	if st.Message != "" {
		rows = append(rows, p.renderRow("Message", st.Message))
	}
	if st.Phone != "" {
		rows = append(rows, p.renderRow("Phone", st.Phone))
	}
	if st.Link != "" {
		rows = append(rows, p.renderRow("Link", st.Link))
	}
	if st.Image != "" {
		rows = append(rows, p.renderRow("Image", fmt.Sprintf("%d bytes, open /status in a browser", len(st.Image))))
	}
	if st.Device != "" {
		rows = append(rows, p.renderRow("Bundle", truncate(st.Device, 32)))
	}

	if hint := nextStep(st.Status); hint != "" {
		rows = append(rows,
			p.styles.SectionHeader.Render("Next step"),
			p.styles.Hint.Render(hint))
	}

	return border.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (p *DetailPanel) processText(a *api.AccountResponse) string {
	switch {
	case !a.Enabled:
		return "disabled"
	case a.Running:
		return "running"
	default:
		return "stopped"
	}
}

func (p *DetailPanel) renderRow(label, value string) string {
	return p.styles.Label.Render(label) + " " + p.styles.Value.Render(value)
}

// nextStep tells the operator what the gateway waits for.
func nextStep(st login.Status) string {
	switch st {
	case login.StatusQRCode:
		return "Scan the QR code with the account's phone."
	case login.StatusCaptcha:
		return "Solve the image captcha and press i to send the answer."
	case login.StatusSlider:
		return "Open the link, finish the slider, or press t to paste a ticket."
	case login.StatusSMS, login.StatusSMSConfirm:
		return "Press i and enter the SMS code."
	case login.StatusSMSOrQRCode, login.StatusSliderOrQRCode:
		return "Press i and enter 1 or 2 to pick a verification method."
	case login.StatusError:
		return "Fix the cause and press s to restart the gateway."
	case login.StatusOffline:
		return "Press s to start the gateway."
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// listLine renders one row of the account list.
func listLine(a api.AccountResponse, status func(login.Status) string, spin string) string {
	var st login.Status
	if a.State != nil {
		st = a.State.Status
	}
	marker := "  "
	if a.Running {
		marker = "● "
	}
	line := marker + a.SID + "  " + status(st)
	if spin != "" && (st == login.StatusInit || st == login.StatusContinue) {
		line += " " + spin
	}
	return strings.TrimRight(line, " ")
}
