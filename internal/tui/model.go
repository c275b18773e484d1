// Package tui provides the account dashboard behind gwsup watch.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/api"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
)

const (
	reconnectDelay = 2 * time.Second
	requestTimeout = 10 * time.Second
	listWidth      = 40
)

// Source is the supervisor the dashboard watches. *client.Client satisfies
// it.
type Source interface {
	Accounts(ctx context.Context) ([]api.AccountResponse, error)
	Stream(ctx context.Context) (<-chan api.StreamMessage, error)
	Start(ctx context.Context, sid string) error
	Stop(ctx context.Context, sid string) error
	Write(ctx context.Context, sid, text string) error
	Ticket(ctx context.Context, ticketPath, sid, ticket string) error
}

// viewState represents the current view/mode of the TUI.
type viewState int

const (
	stateList viewState = iota
	stateInput
	stateHelp
)

// inputKind is what the input box sends on enter.
type inputKind int

const (
	inputWrite inputKind = iota
	inputTicket
)

// Model is the main Bubble Tea model for the dashboard.
type Model struct {
	ctx        context.Context
	source     Source
	ticketPath string

	accounts []api.AccountResponse
	selected int
	stream   <-chan api.StreamMessage
	live     bool

	width  int
	height int
	state  viewState
	err    error

	input     textinput.Model
	inputKind inputKind

	keys   keyMap
	styles Styles
	detail *DetailPanel
	busy   busy

	statusMsg string
}

// New creates a dashboard model for source.
func New(ctx context.Context, source Source, ticketPath string) Model {
	styles := DefaultStyles()
	in := textinput.New()
	in.CharLimit = 4096

	return Model{
		ctx:        ctx,
		source:     source,
		ticketPath: ticketPath,
		state:      stateList,
		input:      in,
		keys:       defaultKeyMap(),
		styles:     styles,
		detail:     NewDetailPanel(styles),
		busy:       newBusy(colorCyan, reducedMotion()),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadAccounts,
		m.openStream,
		m.busy.tick(),
	)
}

func (m Model) loadAccounts() tea.Msg {
	ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
	defer cancel()
	accounts, err := m.source.Accounts(ctx)
	return accountsLoadedMsg{accounts: accounts, err: err}
}

func (m Model) openStream() tea.Msg {
	ch, err := m.source.Stream(m.ctx)
	return streamReadyMsg{ch: ch, err: err}
}

func waitForStream(ch <-chan api.StreamMessage) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return streamMsg{msg: msg}
	}
}

func reconnectLater() tea.Cmd {
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })
}

// action runs fn against the selected account off the UI goroutine.
func (m Model) action(done string, fn func(ctx context.Context, sid string) error) tea.Cmd {
	sid := m.selectedSID()
	if sid == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
		defer cancel()
		if err := fn(ctx, sid); err != nil {
			return actionDoneMsg{err: fmt.Errorf("%s: %w", sid, err)}
		}
		return actionDoneMsg{text: fmt.Sprintf("%s: %s", sid, done)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateInput {
			return m.handleInputKey(msg)
		}
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case accountsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.setAccounts(msg.accounts)
		return m, nil

	case streamReadyMsg:
		if msg.err != nil {
			m.live = false
			m.err = msg.err
			return m, reconnectLater()
		}
		m.stream = msg.ch
		m.live = true
		m.err = nil
		return m, waitForStream(msg.ch)

	case streamMsg:
		next := waitForStream(m.stream)
		if m.applyStream(msg.msg) {
			return m, tea.Batch(next, m.loadAccounts)
		}
		return m, next

	case streamClosedMsg:
		m.stream = nil
		m.live = false
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, reconnectLater()

	case reconnectMsg:
		return m, tea.Batch(m.loadAccounts, m.openStream)

	case actionDoneMsg:
		if msg.err != nil {
			m.statusMsg = "error: " + msg.err.Error()
		} else {
			m.statusMsg = msg.text
		}
		return m, m.loadAccounts
	}

	var cmd tea.Cmd
	m.busy, cmd = m.busy.update(msg)
	return m, cmd
}

// applyStream folds a stream frame into the account list. It reports
// whether the list should be reloaded: the stream carries states only, so
// process liveness and unknown accounts come from /accounts.
func (m *Model) applyStream(msg api.StreamMessage) bool {
	switch msg.Kind {
	case api.KindSnapshot:
		for i := range m.accounts {
			if st, ok := msg.States[m.accounts[i].SID]; ok {
				m.accounts[i].State = &st
			} else {
				m.accounts[i].State = nil
			}
		}
		return len(msg.States) != len(m.accounts)
	case api.KindUpdate:
		u := msg.Update
		if u == nil {
			return false
		}
		for i := range m.accounts {
			if m.accounts[i].SID != u.SID {
				continue
			}
			if u.Deleted {
				m.accounts[i].State = nil
				return true
			}
			st := u.State
			m.accounts[i].State = &st
			return st.Status.Terminal() || st.Status == login.StatusInit
		}
		return !u.Deleted
	}
	return false
}

func (m *Model) setAccounts(accounts []api.AccountResponse) {
	prev := m.selectedSID()
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].SID < accounts[j].SID })
	m.accounts = accounts
	m.selected = 0
	for i, a := range accounts {
		if a.SID == prev {
			m.selected = i
		}
	}
}

func (m Model) selectedSID() string {
	if m.selected >= 0 && m.selected < len(m.accounts) {
		return m.accounts[m.selected].SID
	}
	return ""
}

func (m Model) selectedAccount() *api.AccountResponse {
	if m.selected >= 0 && m.selected < len(m.accounts) {
		a := m.accounts[m.selected]
		return &a
	}
	return nil
}

// handleKeyPress processes keyboard input.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.state == stateHelp {
		m.state = stateList
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.state = stateHelp
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.accounts)-1 {
			m.selected++
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadAccounts

	case key.Matches(msg, m.keys.Start):
		m.statusMsg = "starting " + m.selectedSID()
		return m, m.action("started", m.source.Start)

	case key.Matches(msg, m.keys.Stop):
		m.statusMsg = "stopping " + m.selectedSID()
		return m, m.action("stopped", m.source.Stop)

	case key.Matches(msg, m.keys.Input):
		return m.openInput(inputWrite, "input")

	case key.Matches(msg, m.keys.Ticket):
		return m.openInput(inputTicket, "ticket")
	}

	return m, nil
}

func (m Model) openInput(kind inputKind, prompt string) (tea.Model, tea.Cmd) {
	if m.selectedSID() == "" {
		return m, nil
	}
	m.state = stateInput
	m.inputKind = kind
	m.input.Reset()
	m.input.Prompt = prompt + "> "
	return m, m.input.Focus()
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.state = stateList
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.input.Value())
		m.state = stateList
		m.input.Blur()
		if m.inputKind == inputTicket {
			if text == "" {
				return m, nil
			}
			return m, m.action("ticket submitted", func(ctx context.Context, sid string) error {
				return m.source.Ticket(ctx, m.ticketPath, sid, text)
			})
		}
		return m, m.action("input sent", func(ctx context.Context, sid string) error {
			return m.source.Write(ctx, sid, text)
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.state == stateHelp {
		return m.helpView()
	}
	return m.mainView()
}

func (m Model) mainView() string {
	title := "gwsup - gateway accounts"
	if !m.live {
		title += "  (disconnected)"
	}
	header := m.styles.Header.Render(title)

	left := lipgloss.NewStyle().Width(listWidth).Render(m.renderAccountList())
	m.detail.SetWidth(max(m.width-listWidth-1, 30))
	m.detail.SetAccount(m.selectedAccount())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", m.detail.View())

	parts := []string{header, body}
	if m.state == stateInput {
		parts = append(parts, m.styles.Input.Render(m.input.View()))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, parts...)

	status := m.renderStatusBar()
	if gap := m.height - lipgloss.Height(content) - lipgloss.Height(status); gap > 0 {
		content += strings.Repeat("\n", gap)
	}
	return lipgloss.JoinVertical(lipgloss.Left, content, status)
}

func (m Model) renderAccountList() string {
	if len(m.accounts) == 0 {
		if m.err != nil {
			return m.styles.Error.Render(m.err.Error())
		}
		return m.styles.Empty.Render("No accounts configured")
	}

	spin := m.busy.frame()
	items := make([]string, 0, len(m.accounts))
	for i, a := range m.accounts {
		style := m.styles.Item
		if i == m.selected {
			style = m.styles.SelectedItem
		}
		items = append(items, style.Render(listLine(a, m.styles.Status, spin)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, items...)
}

func (m Model) renderStatusBar() string {
	var left string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		left += m.styles.StatusKey.Render(h.Key) + m.styles.StatusText.Render(" "+h.Desc+"  ")
	}
	if m.statusMsg != "" {
		left = m.styles.StatusText.Render(m.statusMsg)
	}
	return m.styles.StatusBar.Width(m.width).Render(left)
}

func (m Model) helpView() string {
	var b strings.Builder
	b.WriteString("Keyboard Shortcuts\n==================\n\n")
	for _, group := range m.keys.FullHelp() {
		for _, k := range group {
			h := k.Help()
			fmt.Fprintf(&b, "  %-8s %s\n", h.Key, h.Desc)
		}
		b.WriteString("\n")
	}
	b.WriteString("Press any key to return...")
	return m.styles.Help.Render(b.String())
}

// Run starts the dashboard and blocks until the user quits or ctx is done.
func Run(ctx context.Context, source Source, ticketPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(New(ctx, source, ticketPath), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
