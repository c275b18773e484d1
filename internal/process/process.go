// Package process runs one gateway binary and exposes its output as tagged
// chunks.
//
// Two backends exist. The pipe backend connects stdin, stdout and stderr
// through os/exec pipes. The PTY backend runs the binary on a pseudo-terminal,
// which merges stdout and stderr into a single stream.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/signals"
)

// ErrClosed is returned by Write once the process has exited.
var ErrClosed = errors.New("process: closed")

// PIDFile is the pid file name written into the working directory.
const PIDFile = "gateway.pid"

const (
	outputBuffer = 64
	reapGrace    = 3 * time.Second
)

// Stream identifies where a chunk came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("Stream(%d)", int(s))
	}
}

// Chunk is a slice of raw output. Chunks carry no line structure.
type Chunk struct {
	Stream Stream
	Data   []byte
}

// Spec describes how to launch the gateway.
type Spec struct {
	Binary string
	Args   []string
	Dir    string

	// Env is appended to the parent environment.
	Env []string

	// PTY selects the pseudo-terminal backend.
	PTY bool

	// PIDFile records the child's pid. A live process left in it by an
	// earlier run is terminated before the new one starts.
	PIDFile string

	Logger *slog.Logger
}

// Process is a running gateway. It is never restarted; a restart creates a
// new Process.
type Process struct {
	pid     int
	pidFile string
	logger  *slog.Logger

	output chan Chunk
	done   chan struct{}

	writeMu sync.Mutex
	stdin   io.Writer

	kill     func() error
	killOnce sync.Once
	killErr  error

	exitCode int
	err      error
}

// Start launches spec.Binary. Cancelling ctx kills the process.
func Start(ctx context.Context, spec Spec) (*Process, error) {
	if spec.Binary == "" {
		return nil, errors.New("process: empty binary")
	}
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if spec.PIDFile != "" {
		pid, err := signals.ReapStale(spec.PIDFile, reapGrace)
		if err != nil {
			logger.Warn("failed to reap stale gateway", "pid_file", spec.PIDFile, "error", err)
		} else if pid != 0 {
			logger.Info("terminated stale gateway", "pid", pid, "action", "reap")
		}
	}

	p := &Process{
		pidFile: spec.PIDFile,
		logger:  logger,
		output:  make(chan Chunk, outputBuffer),
		done:    make(chan struct{}),
	}

	var err error
	if spec.PTY {
		err = p.startPTY(spec)
	} else {
		err = p.startPipe(spec)
	}
	if err != nil {
		return nil, err
	}

	if p.pidFile != "" {
		if err := signals.WritePIDFile(p.pidFile, p.pid); err != nil {
			logger.Warn("failed to write gateway pid file", "pid_file", p.pidFile, "error", err)
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Kill()
		case <-p.done:
		}
	}()

	logger.Debug("gateway started", "pid", p.pid, "binary", spec.Binary, "pty", spec.PTY)
	return p, nil
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.pid
}

// Output returns the merged output stream. It is closed after the last
// chunk, before Done.
func (p *Process) Output() <-chan Chunk {
	return p.output
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error, nil for a clean exit. Only valid after Done.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// ExitCode returns the exit code, -1 when killed by a signal. Only valid
// after Done.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Write sends text followed by a newline to the process's input.
func (p *Process) Write(text string) error {
	if p.Exited() {
		return ErrClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
		if p.Exited() {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// Kill terminates the process and everything it spawned. It is safe to call
// more than once and after exit.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	p.killOnce.Do(func() {
		p.killErr = p.kill()
		if p.killErr == nil {
			p.logger.Debug("gateway killed", "pid", p.pid, "action", "kill")
		}
	})
	return p.killErr
}

// finish records the exit status and releases waiters.
func (p *Process) finish(code int, err error) {
	p.exitCode, p.err = code, err
	if p.pidFile != "" {
		if rmErr := signals.RemovePIDFile(p.pidFile); rmErr != nil {
			p.logger.Warn("failed to remove gateway pid file", "pid_file", p.pidFile, "error", rmErr)
		}
	}
	close(p.done)
}

func environ(extra []string) []string {
	if len(extra) == 0 {
		return nil
	}
	return append(os.Environ(), extra...)
}
