package tui

import "github.com/Dicklesworthstone/gateway_supervisor/internal/api"

type accountsLoadedMsg struct {
	accounts []api.AccountResponse
	err      error
}

type streamReadyMsg struct {
	ch  <-chan api.StreamMessage
	err error
}

type streamMsg struct {
	msg api.StreamMessage
}

type streamClosedMsg struct{}

type reconnectMsg struct{}

type actionDoneMsg struct {
	text string
	err  error
}
