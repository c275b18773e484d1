//go:build !windows

package signals

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func waitFor[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestHandler_Routing(t *testing.T) {
	tests := []struct {
		name string
		sig  syscall.Signal
		wait func(t *testing.T, h *Handler)
	}{
		{"SIGHUP reloads", syscall.SIGHUP, func(t *testing.T, h *Handler) { waitFor(t, h.Reload(), "reload") }},
		{"SIGUSR1 dumps", syscall.SIGUSR1, func(t *testing.T, h *Handler) { waitFor(t, h.DumpStats(), "dump") }},
		{"SIGTERM shuts down", syscall.SIGTERM, func(t *testing.T, h *Handler) { waitFor(t, h.Shutdown(), "shutdown") }},
		{"SIGINT shuts down", syscall.SIGINT, func(t *testing.T, h *Handler) { waitFor(t, h.Shutdown(), "shutdown") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New()
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer h.Close()

			if err := syscall.Kill(os.Getpid(), tt.sig); err != nil {
				t.Fatalf("kill: %v", err)
			}
			tt.wait(t, h)
		})
	}
}

func TestSendHUP_CoalescesReloads(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	for i := 0; i < 3; i++ {
		if err := SendHUP(os.Getpid()); err != nil {
			t.Fatalf("SendHUP: %v", err)
		}
	}
	waitFor(t, h.Reload(), "reload")

	// Later HUPs may still be in flight; give them time to land.
	time.Sleep(100 * time.Millisecond)
	select {
	case <-h.Reload():
	default:
	}
	select {
	case <-h.Reload():
		t.Fatal("pending reloads should collapse into one notification")
	default:
	}
}

func TestSendHUP_InvalidPID(t *testing.T) {
	if err := SendHUP(0); err == nil {
		t.Fatal("expected error for pid 0")
	}
}

func TestHandler_NilAndClose(t *testing.T) {
	var nilHandler *Handler
	if nilHandler.Reload() != nil || nilHandler.Shutdown() != nil || nilHandler.DumpStats() != nil {
		t.Error("nil handler should expose nil channels")
	}
	if err := nilHandler.Close(); err != nil {
		t.Errorf("Close on nil handler: %v", err)
	}

	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
