package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the dashboard bindings. Submit and Cancel apply only while
// the input line is open.
type keyMap struct {
	Up, Down, Refresh          key.Binding
	Start, Stop, Input, Ticket key.Binding
	Submit, Cancel             key.Binding
	Help, Quit                 key.Binding
}

func bind(help, desc string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(help, desc))
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:      bind("↑/k", "previous account", "up", "k"),
		Down:    bind("↓/j", "next account", "down", "j"),
		Refresh: bind("r", "reload account list", "r"),

		Start:  bind("s", "start gateway", "s"),
		Stop:   bind("x", "stop gateway", "x"),
		Input:  bind("i", "answer prompt (sms code, menu choice)", "i"),
		Ticket: bind("t", "paste slider ticket", "t"),

		Submit: bind("enter", "send", "enter"),
		Cancel: bind("esc", "cancel", "esc"),

		Help: bind("?", "toggle help", "?"),
		Quit: bind("q", "quit", "q", "ctrl+c"),
	}
}

// ShortHelp is the status bar line.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Input, k.Ticket, k.Help, k.Quit}
}

// FullHelp groups bindings by column for the help screen.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Refresh},
		{k.Start, k.Stop, k.Input, k.Ticket},
		{k.Submit, k.Cancel},
		{k.Help, k.Quit},
	}
}
