// Package signals handles supervisor signals, pid files and liveness checks
// of gateway processes left behind by a previous run.
package signals

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// homeDir is where the supervisor keeps its own pid and log files.
func homeDir() string {
	if h := os.Getenv("GWSUP_HOME"); h != "" {
		return h
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gwsup")
	}
	return ".gwsup"
}

// DefaultPIDFilePath returns the supervisor's pid file path.
func DefaultPIDFilePath() string {
	return filepath.Join(homeDir(), "gwsup.pid")
}

// WritePIDFile writes pid to path, creating parent directories.
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile reads a pid written by WritePIDFile.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile removes path. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReapStale terminates the process recorded in path, if it is still alive,
// and removes the file. It reports the pid it terminated, or 0.
func ReapStale(path string, grace time.Duration) (int, error) {
	pid, err := ReadPIDFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		// Unreadable pid files are garbage; drop them.
		return 0, RemovePIDFile(path)
	}

	reaped := 0
	if pid != os.Getpid() && IsProcessAlive(pid) {
		if err := Terminate(pid, grace); err != nil {
			return 0, fmt.Errorf("terminate stale pid %d: %w", pid, err)
		}
		reaped = pid
	}
	return reaped, RemovePIDFile(path)
}
