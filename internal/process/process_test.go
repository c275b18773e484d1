//go:build unix

package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// drain collects output per stream until the channel closes.
func drain(t *testing.T, p *Process) map[Stream]string {
	t.Helper()
	got := map[Stream]*strings.Builder{Stdout: {}, Stderr: {}}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-p.Output():
			if !ok {
				return map[Stream]string{Stdout: got[Stdout].String(), Stderr: got[Stderr].String()}
			}
			got[c.Stream].Write(c.Data)
		case <-timeout:
			t.Fatal("timed out draining output")
		}
	}
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func shell(script string) Spec {
	return Spec{Binary: "sh", Args: []string{"-c", script}}
}

func TestStart_Errors(t *testing.T) {
	if _, err := Start(context.Background(), Spec{}); err == nil {
		t.Fatal("Start() with empty binary should fail")
	}
	if _, err := Start(context.Background(), Spec{Binary: "/nonexistent/gateway"}); err == nil {
		t.Fatal("Start() with missing binary should fail")
	}
}

func TestOutputTaggedByStream(t *testing.T) {
	p, err := Start(context.Background(), shell("echo out; echo err >&2"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	out := drain(t, p)
	waitDone(t, p)

	if out[Stdout] != "out\n" {
		t.Errorf("stdout = %q, want %q", out[Stdout], "out\n")
	}
	if out[Stderr] != "err\n" {
		t.Errorf("stderr = %q, want %q", out[Stderr], "err\n")
	}
	if p.ExitCode() != 0 || p.Err() != nil {
		t.Errorf("exit = %d, %v; want 0, nil", p.ExitCode(), p.Err())
	}
}

func TestWrite(t *testing.T) {
	p, err := Start(context.Background(), shell(`read line; echo "got:$line"`))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Write("hello"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := drain(t, p)
	if out[Stdout] != "got:hello\n" {
		t.Fatalf("stdout = %q", out[Stdout])
	}
}

func TestWriteAfterExit(t *testing.T) {
	p, err := Start(context.Background(), Spec{Binary: "true"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	drain(t, p)
	waitDone(t, p)

	if err := p.Write("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() after exit error = %v, want ErrClosed", err)
	}
}

func TestExitCode(t *testing.T) {
	p, err := Start(context.Background(), shell("exit 3"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	drain(t, p)
	waitDone(t, p)

	if p.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", p.ExitCode())
	}
	if p.Err() == nil {
		t.Error("Err() = nil, want exit error")
	}
}

func TestKill(t *testing.T) {
	p, err := Start(context.Background(), Spec{Binary: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := p.Kill(); err != nil {
			t.Fatalf("Kill() #%d error = %v", i, err)
		}
	}
	drain(t, p)
	waitDone(t, p)

	if p.ExitCode() != -1 {
		t.Errorf("ExitCode() = %d, want -1", p.ExitCode())
	}
	if err := p.Kill(); err != nil {
		t.Errorf("Kill() after exit error = %v", err)
	}
}

func TestKillReachesChildren(t *testing.T) {
	// The background sleep inherits the pipes; killing only sh would leave
	// the output open for 30 seconds.
	p, err := Start(context.Background(), shell("sleep 30 & wait"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	drain(t, p)
	waitDone(t, p)
}

func TestContextCancelKills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := Start(ctx, Spec{Binary: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()
	drain(t, p)
	waitDone(t, p)
}

func TestPIDFile(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, PIDFile)

	spec := shell(`read line`)
	spec.Dir = dir
	spec.PIDFile = pidFile
	p, err := Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("pid file not written: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" || p.Pid() <= 0 {
		t.Fatalf("pid file = %q, Pid() = %d", data, p.Pid())
	}

	if err := p.Write(""); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	drain(t, p)
	waitDone(t, p)

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed after exit, stat err = %v", err)
	}
}

func TestStartReapsStaleGateway(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, PIDFile)

	orphan := exec.Command("sleep", "30")
	if err := orphan.Start(); err != nil {
		t.Fatalf("start orphan: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = orphan.Wait()
		close(exited)
	}()
	defer func() { _ = orphan.Process.Kill() }()

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(orphan.Process.Pid)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	spec := Spec{Binary: "true", Dir: dir, PIDFile: pidFile}
	p, err := Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	drain(t, p)
	waitDone(t, p)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("stale gateway was not terminated")
	}
}

func TestPTYBackend(t *testing.T) {
	spec := shell(`read line; echo "got:$line"`)
	spec.PTY = true
	p, err := Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Write("abc"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := drain(t, p)
	waitDone(t, p)

	if out[Stderr] != "" {
		t.Errorf("PTY output should be merged into stdout, stderr = %q", out[Stderr])
	}
	if !strings.Contains(out[Stdout], "got:abc") {
		t.Errorf("stdout = %q, want got:abc", out[Stdout])
	}
	if strings.Count(out[Stdout], "abc") != 1 {
		t.Errorf("input should not be echoed, stdout = %q", out[Stdout])
	}
}

func TestStreamString(t *testing.T) {
	if Stdout.String() != "stdout" || Stderr.String() != "stderr" {
		t.Fatalf("String() = %q, %q", Stdout.String(), Stderr.String())
	}
	if Stream(7).String() != "Stream(7)" {
		t.Fatalf("Stream(7).String() = %q", Stream(7).String())
	}
}
