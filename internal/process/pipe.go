package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

func (p *Process) startPipe(spec Spec) error {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = environ(spec.Env)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", spec.Binary, err)
	}

	p.pid = cmd.Process.Pid
	p.stdin = stdin
	p.kill = func() error { return killGroup(cmd.Process) }

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readOutput(&readers, Stdout, stdout)
	go p.readOutput(&readers, Stderr, stderr)
	go p.monitorExit(cmd, &readers)
	return nil
}

// readOutput forwards chunks from one pipe until EOF.
func (p *Process) readOutput(wg *sync.WaitGroup, stream Stream, r io.Reader) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.output <- Chunk{Stream: stream, Data: data}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("gateway output read ended", "stream", stream.String(), "error", err)
			}
			return
		}
	}
}

// monitorExit is the only caller of cmd.Wait. Pipes must be fully read
// before Wait closes them.
func (p *Process) monitorExit(cmd *exec.Cmd, readers *sync.WaitGroup) {
	readers.Wait()
	close(p.output)

	err := cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
	default:
		code = -1
	}
	p.finish(code, err)
}
