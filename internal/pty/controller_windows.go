//go:build windows

package pty

import (
	"errors"
	"os/exec"
)

var (
	ErrClosed       = errors.New("pty: controller closed")
	ErrNotStarted   = errors.New("pty: not started")
	ErrNotSupported = errors.New("pty: not supported on windows")
)

type Options struct {
	Rows uint16
	Cols uint16
	Dir  string
	Env  []string
	Raw  bool
}

// Controller is unavailable on Windows; the pipe backend is used instead.
type Controller struct{}

func NewController(*exec.Cmd, *Options) (*Controller, error) {
	return nil, ErrNotSupported
}

func (c *Controller) Start() error                   { return ErrNotSupported }
func (c *Controller) Pid() int                       { return 0 }
func (c *Controller) InjectRaw([]byte) error         { return ErrNotSupported }
func (c *Controller) Output() (<-chan []byte, error) { return nil, ErrNotSupported }
func (c *Controller) Wait() (int, error)             { return -1, ErrNotSupported }
func (c *Controller) Close() error                   { return nil }
