//go:build !windows

package signals

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Handler fans process signals out to typed channels:
// SIGHUP reloads config and template, SIGUSR1 dumps account status,
// SIGINT and SIGTERM shut down.
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

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					notify(h.reload)
				case syscall.SIGUSR1:
					notify(h.dump)
				default:
					select {
					case h.shutdown <- sig:
					default:
					}
				}
			}
		}
	}()

	h.stop = func() {
		signal.Stop(sigCh)
		close(done)
	}
	return h, nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
		// A pending notification already covers this one.
	}
}

// Reload fires on SIGHUP.
func (h *Handler) Reload() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.reload
}

// Shutdown fires on SIGINT or SIGTERM.
func (h *Handler) Shutdown() <-chan os.Signal {
	if h == nil {
		return nil
	}
	return h.shutdown
}

// DumpStats fires on SIGUSR1.
func (h *Handler) DumpStats() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.dump
}

// Close stops signal delivery.
func (h *Handler) Close() error {
	if h == nil || h.stop == nil {
		return nil
	}
	h.stop()
	h.stop = nil
	return nil
}

// SendHUP asks a running supervisor to reload.
func SendHUP(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("send SIGHUP to %d: %w", pid, err)
	}
	return nil
}
