//go:build unix

// Package pty runs a gateway on a pseudo-terminal and exposes its output as
// a stream of chunks.
//
// Some gateway builds only print their interactive login prompts when stdout
// is a terminal; running them under a PTY makes those prompts visible.
package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	creackpty "github.com/creack/pty"
	"golang.org/x/term"
)

var (
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("pty: controller closed")
	// ErrNotStarted is returned by operations that need a running command.
	ErrNotStarted = errors.New("pty: not started")
)

const (
	chunkSize    = 4096
	outputBuffer = 64
)

// Options sizes the terminal and sets up the child's environment.
type Options struct {
	Rows uint16
	Cols uint16
	Dir  string
	// Env is appended to the parent environment.
	Env []string
	// Raw disables echo and newline translation, so bytes written with
	// InjectRaw never show up in Output.
	Raw bool
}

func (o *Options) size() *creackpty.Winsize {
	ws := &creackpty.Winsize{Rows: 24, Cols: 80}
	if o.Rows > 0 {
		ws.Rows = o.Rows
	}
	if o.Cols > 0 {
		ws.Cols = o.Cols
	}
	return ws
}

// Controller owns one command running on a PTY.
type Controller struct {
	cmd  *exec.Cmd
	opts Options

	mu      sync.Mutex
	ptmx    *os.File
	started bool
	closed  bool

	output chan []byte
	quit   chan struct{}

	exited   chan struct{}
	exitCode int
	exitErr  error
}

// NewController prepares cmd. It is not started.
func NewController(cmd *exec.Cmd, opts *Options) (*Controller, error) {
	if cmd == nil {
		return nil, errors.New("pty: nil command")
	}
	c := &Controller{cmd: cmd}
	if opts != nil {
		c.opts = *opts
	}
	if c.opts.Dir != "" {
		cmd.Dir = c.opts.Dir
	}
	if len(c.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), c.opts.Env...)
	}
	return c, nil
}

// Start launches the command on a new PTY.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClosed
	case c.started:
		return errors.New("pty: already started")
	}

	ptmx, err := creackpty.StartWithSize(c.cmd, c.opts.size())
	if err != nil {
		return fmt.Errorf("pty: start %s: %w", c.cmd.Path, err)
	}
	if c.opts.Raw {
		if _, err := term.MakeRaw(int(ptmx.Fd())); err != nil {
			_ = c.cmd.Process.Kill()
			_ = ptmx.Close()
			_ = c.cmd.Wait()
			return fmt.Errorf("pty: raw mode: %w", err)
		}
	}

	c.ptmx = ptmx
	c.started = true
	c.output = make(chan []byte, outputBuffer)
	c.quit = make(chan struct{})
	c.exited = make(chan struct{})

	go c.copyOutput(ptmx)
	go c.reap()
	return nil
}

// copyOutput forwards terminal output until EOF. Linux reports EIO once the
// child side is gone; any read error ends the stream.
func (c *Controller) copyOutput(r io.Reader) {
	defer close(c.output)
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case c.output <- buf[:n]:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Controller) reap() {
	defer close(c.exited)
	err := c.cmd.Wait()
	if err == nil {
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		c.exitCode = exitErr.ExitCode()
		return
	}
	c.exitCode, c.exitErr = -1, err
}

// Pid returns the child's pid, or 0 before Start.
func (c *Controller) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *Controller) running() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.started {
		return ErrNotStarted
	}
	return nil
}

// InjectRaw writes b to the terminal as is.
func (c *Controller) InjectRaw(b []byte) error {
	if err := c.running(); err != nil {
		return err
	}
	if _, err := c.ptmx.Write(b); err != nil {
		return fmt.Errorf("pty: write: %w", err)
	}
	return nil
}

// Output returns terminal output chunks. The channel closes at EOF.
func (c *Controller) Output() (<-chan []byte, error) {
	if err := c.running(); err != nil {
		return nil, err
	}
	return c.output, nil
}

// Wait blocks until the command exits and returns its exit code. A command
// killed by a signal reports -1.
func (c *Controller) Wait() (int, error) {
	c.mu.Lock()
	started, exited := c.started, c.exited
	c.mu.Unlock()
	if !started {
		return -1, ErrNotStarted
	}
	<-exited
	return c.exitCode, c.exitErr
}

// Close kills the command if it is still running and releases the PTY.
// It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started, ptmx := c.started, c.ptmx
	c.mu.Unlock()

	if !started {
		return nil
	}
	close(c.quit)

	select {
	case <-c.exited:
	default:
		_ = c.cmd.Process.Kill()
		<-c.exited
	}
	if err := ptmx.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
