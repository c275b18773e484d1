package signals

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultLogFilePath returns the supervisor lifecycle log path.
func DefaultLogFilePath() string {
	return filepath.Join(homeDir(), "gwsup.log")
}

// AppendLogLine appends a timestamped line to path (or the default log).
// Lifecycle events such as start, reload and shutdown go here so they survive
// a detached supervisor whose stderr is gone.
func AppendLogLine(path, msg string) error {
	if path == "" {
		path = DefaultLogFilePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s %s\n", time.Now().Format(time.RFC3339), msg)
	return err
}
