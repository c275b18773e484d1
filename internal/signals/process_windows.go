//go:build windows

package signals

import (
	"os"
	"time"
)

// IsProcessAlive reports whether pid names a running process.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

// Terminate kills pid. Windows has no graceful equivalent of SIGTERM for
// console processes we did not start, so grace is ignored.
func Terminate(pid int, _ time.Duration) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
