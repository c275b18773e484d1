//go:build windows

package signals

import (
	"errors"
	"os"
	"os/signal"
)

// Handler delivers shutdown requests. Reload and dump have no Windows
// signal and never fire.
type Handler struct {
	reload   chan struct{}
	shutdown chan os.Signal
	dump     chan struct{}
	stop     func()
}

// New installs the handler.
func New() (*Handler, error) {
	h := &Handler{
		reload:   make(chan struct{}, 1),
		shutdown: make(chan os.Signal, 1),
		dump:     make(chan struct{}, 1),
	}
	signal.Notify(h.shutdown, os.Interrupt)
	h.stop = func() { signal.Stop(h.shutdown) }
	return h, nil
}

func (h *Handler) Reload() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.reload
}

func (h *Handler) Shutdown() <-chan os.Signal {
	if h == nil {
		return nil
	}
	return h.shutdown
}

func (h *Handler) DumpStats() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.dump
}

func (h *Handler) Close() error {
	if h == nil || h.stop == nil {
		return nil
	}
	h.stop()
	h.stop = nil
	return nil
}

// SendHUP is not supported on Windows.
func SendHUP(int) error {
	return errors.New("SIGHUP is not supported on windows")
}
