package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/device"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/logline"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/process"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/template"
)

// GatewayLogFile is the rotating raw output log in an account directory.
const GatewayLogFile = "gateway.log"

// gatewayRun is one lifetime of an account's gateway. A restart creates a
// new run.
type gatewayRun struct {
	sid     string
	proc    *process.Process
	machine *login.Machine
	logger  *slog.Logger
	rawLog  io.WriteCloser

	// result receives the outcome of the pending connect exactly once.
	result     chan error
	settleOnce sync.Once

	stopping atomic.Bool
	done     chan struct{}

	journalID int64
}

func (r *gatewayRun) settle(err error) {
	r.settleOnce.Do(func() { r.result <- err })
}

type accountHost struct {
	dir  string
	proc *process.Process
}

func (h accountHost) Write(text string) error {
	return h.proc.Write(text)
}

func (h accountHost) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(h.dir, name))
}

// spawn prepares the working directory and starts a gateway. The caller
// holds a.spawnMu.
func (s *Supervisor) spawn(a *account) (*gatewayRun, error) {
	cfg := a.config()
	store := s.store(a)
	logger := s.logger.With("sid", cfg.SID)

	fail := func(msg string, err error) error {
		store.Set(login.State{Status: login.StatusError, Message: msg})
		logger.Error("gateway start failed", "error", err, "action", "spawn_failed")
		return err
	}

	if err := os.MkdirAll(a.dir, 0700); err != nil {
		return nil, fail(login.MsgSpawnFailed, fmt.Errorf("create account dir: %w", err))
	}

	if changed, err := device.Apply(a.dir, cfg.Device); err != nil {
		logger.Warn("device override not applied", "error", err)
	} else if changed {
		logger.Info("device override applied", "protocol", cfg.Device.Protocol, "action", "device_override")
	}

	tctx, err := template.NewContext(s.opts.Defaults, template.Connection{
		SelfID:   cfg.SelfID,
		Protocol: cfg.Protocol,
		Endpoint: cfg.Endpoint,
		Path:     cfg.Path,
		Token:    cfg.Token,
		Secret:   cfg.Secret,
	}, template.Gateway{
		Password: cfg.Password,
		Extra:    cfg.Extra,
	}, s.opts.Listen)
	if err != nil {
		return nil, fail(err.Error(), fmt.Errorf("build config context: %w", err))
	}
	if _, err := s.loader.Materialize(a.dir, tctx); err != nil {
		return nil, fail(err.Error(), fmt.Errorf("materialize config: %w", err))
	}

	store.Set(login.State{Status: login.StatusInit})

	proc, err := process.Start(s.ctx, process.Spec{
		Binary:  s.opts.Binary,
		Args:    s.opts.Args,
		Dir:     a.dir,
		PTY:     s.opts.PTY,
		PIDFile: filepath.Join(a.dir, process.PIDFile),
		Logger:  logger,
	})
	if err != nil {
		return nil, fail(login.MsgSpawnFailed, fmt.Errorf("%w: %w", ErrSpawn, err))
	}

	run := &gatewayRun{
		sid:    cfg.SID,
		proc:   proc,
		logger: logger,
		result: make(chan error, 1),
		done:   make(chan struct{}),
	}
	run.machine = login.New(cfg.SID, accountHost{dir: a.dir, proc: proc}, store, login.Options{
		CaptchaPath: s.opts.CaptchaPath,
		Logger:      logger.With("component", "gateway"),
	})
	if s.opts.GatewayLog.Enabled {
		gl := s.opts.GatewayLog
		run.rawLog = &lumberjack.Logger{
			Filename:   filepath.Join(a.dir, GatewayLogFile),
			MaxSize:    gl.MaxSizeMB,
			MaxBackups: gl.MaxBackups,
			MaxAge:     gl.MaxAgeDays,
			Compress:   gl.Compress,
		}
	}
	if s.opts.Journal != nil {
		id, err := s.opts.Journal.StartRun(cfg.SID, s.runID, proc.Pid(), time.Now())
		if err != nil {
			logger.Warn("failed to journal gateway run", "error", err)
		}
		run.journalID = id
	}

	a.mu.Lock()
	a.run = run
	a.mu.Unlock()

	logger.Info("gateway started",
		"pid", proc.Pid(),
		"dir", a.dir,
		"protocol", cfg.Protocol,
		"action", "spawn")

	go s.read(a, run)
	return run, nil
}

// read handles run's output until the gateway exits. Lines are handled one
// at a time; a partial line is handled after FlushDelay without output.
func (s *Supervisor) read(a *account, run *gatewayRun) {
	defer close(run.done)

	var splitters [2]logline.Splitter
	flush := time.NewTimer(time.Hour)
	flush.Stop()
	defer flush.Stop()

	out := run.proc.Output()
	for out != nil {
		select {
		case chunk, ok := <-out:
			if !ok {
				out = nil
				break
			}
			stream := chunk.Stream
			s.handleLines(run, stream, splitters[stream].Feed(chunk.Data))
			if splitters[process.Stdout].Pending() || splitters[process.Stderr].Pending() {
				flush.Reset(s.opts.FlushDelay)
			}
		case <-flush.C:
			for i := range splitters {
				s.handleLines(run, process.Stream(i), splitters[i].Flush())
			}
		}
	}
	for i := range splitters {
		s.handleLines(run, process.Stream(i), splitters[i].Flush())
	}

	s.finish(a, run)
}

func (s *Supervisor) handleLines(run *gatewayRun, stream process.Stream, lines []logline.Line) {
	for _, line := range lines {
		if run.rawLog != nil {
			if _, err := io.WriteString(run.rawLog, line.Raw+"\n"); err != nil {
				run.logger.Debug("gateway log write failed", "error", err)
			}
		}
		if stream == process.Stderr && line.Level < slog.LevelWarn {
			line.Level = slog.LevelWarn
		}
		res := run.machine.Handle(s.ctx, line)
		if res.Resolved {
			run.settle(nil)
		}
	}
}

// finish publishes the outcome of an exited gateway.
func (s *Supervisor) finish(a *account, run *gatewayRun) {
	exitErr := run.proc.Err()
	code := run.proc.ExitCode()

	a.mu.Lock()
	if a.run == run {
		a.run = nil
	}
	a.mu.Unlock()

	if run.rawLog != nil {
		_ = run.rawLog.Close()
	}

	outcome := s.publishExit(a, run)
	if s.opts.Journal != nil && run.journalID != 0 {
		if err := s.opts.Journal.FinishRun(run.journalID, code, outcome, time.Now()); err != nil {
			run.logger.Warn("failed to journal gateway exit", "error", err)
		}
	}

	cur, _ := s.registry.Lookup(run.sid)
	run.settle(&ExitError{SID: run.sid, Err: exitErr, Message: cur.Message})

	level := slog.LevelWarn
	if run.stopping.Load() {
		level = slog.LevelInfo
	}
	run.logger.Log(s.ctx, level, "gateway exited",
		"exit_code", code,
		"error", exitErr,
		"outcome", outcome,
		"action", "exit")
}

// publishExit moves the account to offline or error after an exit that was
// not requested. It returns the run's outcome for the journal.
func (s *Supervisor) publishExit(a *account, run *gatewayRun) string {
	if run.stopping.Load() {
		return "stopped"
	}

	store := s.store(a)
	cur, _ := s.registry.Lookup(run.sid)
	switch {
	case cur.Status == login.StatusError:
		return string(login.StatusError)
	case cur.Message != "" && cur.Status != login.StatusSuccess:
		store.Set(login.State{Status: login.StatusError, Message: cur.Message, Link: cur.Link, Phone: cur.Phone})
		return string(login.StatusError)
	case cur.Status == login.StatusSuccess:
		store.Set(login.State{Status: login.StatusOffline, Message: login.MsgGatewayExited})
		return string(login.StatusOffline)
	default:
		store.Set(login.State{Status: login.StatusOffline, Message: login.MsgUnexpectedExit})
		return string(login.StatusOffline)
	}
}

// stopRun kills run and waits until its exit has been handled.
func (s *Supervisor) stopRun(run *gatewayRun) {
	if run == nil {
		return
	}
	run.stopping.Store(true)
	if err := run.proc.Kill(); err != nil {
		run.logger.Warn("failed to kill gateway", "error", err)
	}
	select {
	case <-run.done:
	case <-time.After(stopTimeout):
		run.logger.Warn("gateway did not exit after kill", "pid", run.proc.Pid())
	}
}
