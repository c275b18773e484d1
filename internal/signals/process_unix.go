//go:build !windows

package signals

import (
	"errors"
	"syscall"
	"time"
)

// pollInterval is how often Terminate checks whether pid has exited.
const pollInterval = 50 * time.Millisecond

// IsProcessAlive reports whether pid names a running process. A process we
// may not signal (EPERM) still counts as alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Terminate asks pid to exit with SIGTERM and sends SIGKILL when it has not
// exited after grace. An already dead process is not an error.
func Terminate(pid int, grace time.Duration) error {
	if !IsProcessAlive(pid) {
		return nil
	}
	if err := deliver(pid, syscall.SIGTERM); err != nil {
		return err
	}
	if exited(pid, grace) {
		return nil
	}
	return deliver(pid, syscall.SIGKILL)
}

func deliver(pid int, sig syscall.Signal) error {
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// exited polls until pid is gone or grace runs out.
func exited(pid int, grace time.Duration) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(grace)
	defer timeout.Stop()

	for {
		if !IsProcessAlive(pid) {
			return true
		}
		select {
		case <-ticker.C:
		case <-timeout.C:
			return !IsProcessAlive(pid)
		}
	}
}
