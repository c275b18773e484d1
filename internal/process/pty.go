package process

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/pty"
)

type ptyWriter struct {
	ctrl *pty.Controller
}

func (w ptyWriter) Write(b []byte) (int, error) {
	if err := w.ctrl.InjectRaw(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// startPTY runs the binary on a raw pseudo-terminal so operator input is
// not echoed back into the classified output.
func (p *Process) startPTY(spec Spec) error {
	cmd := exec.Command(spec.Binary, spec.Args...)
	ctrl, err := pty.NewController(cmd, &pty.Options{
		Rows: 50,
		Cols: 200,
		Dir:  spec.Dir,
		Env:  spec.Env,
		Raw:  true,
	})
	if err != nil {
		return fmt.Errorf("start %s: %w", spec.Binary, err)
	}
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start %s: %w", spec.Binary, err)
	}
	out, err := ctrl.Output()
	if err != nil {
		_ = ctrl.Close()
		return fmt.Errorf("start %s: %w", spec.Binary, err)
	}

	p.pid = ctrl.Pid()
	p.stdin = ptyWriter{ctrl: ctrl}
	p.kill = func() error { return killGroup(cmd.Process) }

	go func() {
		for data := range out {
			p.output <- Chunk{Stream: Stdout, Data: data}
		}
		close(p.output)

		code, err := ctrl.Wait()
		if err == nil && code != 0 {
			err = exitStatusError(code)
		}
		_ = ctrl.Close()
		p.finish(code, err)
	}()
	return nil
}

func exitStatusError(code int) error {
	if code < 0 {
		return errors.New("gateway killed by signal")
	}
	return fmt.Errorf("exit status %d", code)
}
