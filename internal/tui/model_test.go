package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/api"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/status"
)

type fakeSource struct {
	accounts []api.AccountResponse
	calls    []string
	err      error
}

func (f *fakeSource) Accounts(context.Context) ([]api.AccountResponse, error) {
	return f.accounts, f.err
}

func (f *fakeSource) Stream(context.Context) (<-chan api.StreamMessage, error) {
	return nil, errors.New("no stream")
}

func (f *fakeSource) Start(_ context.Context, sid string) error {
	f.calls = append(f.calls, "start "+sid)
	return f.err
}

func (f *fakeSource) Stop(_ context.Context, sid string) error {
	f.calls = append(f.calls, "stop "+sid)
	return f.err
}

func (f *fakeSource) Write(_ context.Context, sid, text string) error {
	f.calls = append(f.calls, "write "+sid+" "+text)
	return f.err
}

func (f *fakeSource) Ticket(_ context.Context, path, sid, ticket string) error {
	f.calls = append(f.calls, "ticket "+path+" "+sid+" "+ticket)
	return f.err
}

func testModel(src *fakeSource) Model {
	m := New(context.Background(), src, "/ticket")
	model, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	model, _ = model.(Model).Update(accountsLoadedMsg{accounts: src.accounts})
	return model.(Model)
}

func accounts() []api.AccountResponse {
	qr := login.State{Status: login.StatusQRCode, Image: "data:image/png;base64,AA=="}
	return []api.AccountResponse{
		{SID: "onebot:2", SelfID: "2", Protocol: "ws", Enabled: true},
		{SID: "onebot:1", SelfID: "1", Protocol: "ws", Enabled: true, Running: true, State: &qr},
	}
}

func press(m Model, keys ...string) (Model, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		model, c := m.Update(msg)
		m, cmd = model.(Model), c
	}
	return m, cmd
}

func TestModelLoadsSortedAccounts(t *testing.T) {
	m := testModel(&fakeSource{accounts: accounts()})

	if len(m.accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(m.accounts))
	}
	if m.accounts[0].SID != "onebot:1" {
		t.Errorf("accounts not sorted: first is %s", m.accounts[0].SID)
	}
	view := m.View()
	if !strings.Contains(view, "onebot:1") || !strings.Contains(view, "qrcode") {
		t.Errorf("view missing account row:\n%s", view)
	}
	if !strings.Contains(view, "Scan the QR code") {
		t.Errorf("view missing next step hint:\n%s", view)
	}
}

func TestModelNavigation(t *testing.T) {
	m := testModel(&fakeSource{accounts: accounts()})

	m, _ = press(m, "down")
	if m.selectedSID() != "onebot:2" {
		t.Errorf("selected = %s, want onebot:2", m.selectedSID())
	}
	m, _ = press(m, "down")
	if m.selected != 1 {
		t.Errorf("selection moved past the end: %d", m.selected)
	}
	m, _ = press(m, "k")
	if m.selectedSID() != "onebot:1" {
		t.Errorf("selected = %s, want onebot:1", m.selectedSID())
	}

	// Reloads keep the selection on the same account.
	m, _ = press(m, "j")
	model, _ := m.Update(accountsLoadedMsg{accounts: accounts()})
	m = model.(Model)
	if m.selectedSID() != "onebot:2" {
		t.Errorf("selection lost on reload: %s", m.selectedSID())
	}
}

func TestModelActions(t *testing.T) {
	src := &fakeSource{accounts: accounts()}
	m := testModel(src)

	_, cmd := press(m, "s")
	if cmd == nil {
		t.Fatal("start returned no command")
	}
	msg := cmd()
	done, ok := msg.(actionDoneMsg)
	if !ok || done.err != nil {
		t.Fatalf("unexpected start result %#v", msg)
	}

	_, cmd = press(m, "x")
	cmd()

	m, _ = press(m, "i")
	if m.state != stateInput {
		t.Fatalf("state = %v, want input", m.state)
	}
	m, cmd = press(m, "1", "2", "3", "enter")
	if m.state != stateList {
		t.Errorf("input not closed after enter")
	}
	cmd()

	want := []string{"start onebot:1", "stop onebot:1", "write onebot:1 123"}
	for i, w := range want {
		if i >= len(src.calls) || src.calls[i] != w {
			t.Fatalf("calls = %v, want prefix %v", src.calls, want)
		}
	}
}

func TestModelTicketAndCancel(t *testing.T) {
	src := &fakeSource{accounts: accounts()}
	m := testModel(src)

	m, _ = press(m, "t", "x", "esc")
	if m.state != stateList || len(src.calls) != 0 {
		t.Fatalf("esc should cancel input, calls=%v", src.calls)
	}

	m, cmd := press(m, "t", "t", "k", "enter")
	if cmd == nil {
		t.Fatal("ticket returned no command")
	}
	cmd()
	if len(src.calls) != 1 || src.calls[0] != "ticket /ticket onebot:1 tk" {
		t.Errorf("calls = %v", src.calls)
	}

	// An empty ticket is not sent.
	_, cmd = press(m, "t", "enter")
	if cmd != nil {
		t.Error("empty ticket should not produce a command")
	}
}

func TestModelActionError(t *testing.T) {
	src := &fakeSource{accounts: accounts()}
	m := testModel(src)

	model, _ := m.Update(actionDoneMsg{err: errors.New("boom")})
	m = model.(Model)
	if !strings.Contains(m.statusMsg, "boom") {
		t.Errorf("statusMsg = %q", m.statusMsg)
	}
}

func TestModelApplyStream(t *testing.T) {
	m := testModel(&fakeSource{accounts: accounts()})

	reload := m.applyStream(api.StreamMessage{Kind: api.KindUpdate, Update: &status.Update{
		SID:   "onebot:2",
		State: login.State{Status: login.StatusSMS, Phone: "138"},
	}})
	if reload {
		t.Error("interactive update should not force a reload")
	}
	if st := m.accounts[1].State; st == nil || st.Status != login.StatusSMS || st.Phone != "138" {
		t.Errorf("state not applied: %+v", st)
	}

	reload = m.applyStream(api.StreamMessage{Kind: api.KindUpdate, Update: &status.Update{
		SID:   "onebot:2",
		State: login.State{Status: login.StatusOffline},
	}})
	if !reload {
		t.Error("terminal update should reload liveness")
	}

	if !m.applyStream(api.StreamMessage{Kind: api.KindUpdate, Update: &status.Update{SID: "onebot:9"}}) {
		t.Error("unknown account should reload")
	}

	m.applyStream(api.StreamMessage{Kind: api.KindSnapshot, States: map[string]login.State{
		"onebot:1": {Status: login.StatusSuccess},
	}})
	if m.accounts[0].State.Status != login.StatusSuccess || m.accounts[1].State != nil {
		t.Errorf("snapshot not applied: %+v %+v", m.accounts[0].State, m.accounts[1].State)
	}
}

func TestModelHelpAndQuit(t *testing.T) {
	m := testModel(&fakeSource{accounts: accounts()})

	m, _ = press(m, "?")
	if m.state != stateHelp || !strings.Contains(m.View(), "Keyboard Shortcuts") {
		t.Fatal("help view not shown")
	}
	m, _ = press(m, "z")
	if m.state != stateList {
		t.Error("any key should leave help")
	}

	_, cmd := press(m, "q")
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestModelEmptyAndError(t *testing.T) {
	m := testModel(&fakeSource{})
	if !strings.Contains(m.View(), "No accounts configured") {
		t.Errorf("empty view:\n%s", m.View())
	}

	model, _ := m.Update(accountsLoadedMsg{err: errors.New("supervisor not reachable")})
	m = model.(Model)
	if !strings.Contains(m.View(), "supervisor not reachable") {
		t.Errorf("error view:\n%s", m.View())
	}
}
