// Package supervisor runs one gateway process per account and drives each
// through its login handshake.
//
// Every account owns a working directory under the configured root, at most
// one live gateway, and one entry in the status registry. Output of each
// gateway is read by its own goroutine; lines of one account are handled
// strictly in order, while accounts proceed independently.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/config"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/credential"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/db"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/device"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/status"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/template"
)

const (
	defaultFlushDelay = 150 * time.Millisecond
	stopTimeout       = 10 * time.Second
)

// Account is one supervised identity.
type Account struct {
	SID    string `json:"sid"`
	SelfID string `json:"self_id"`

	// Protocol is the connection mode: ws, ws-reverse or http.
	Protocol string `json:"protocol"`
	Endpoint string `json:"endpoint,omitempty"`
	Path     string `json:"path,omitempty"`
	Token    string `json:"-"`
	Secret   string `json:"-"`

	Enabled  bool            `json:"enabled"`
	Password string          `json:"-"`
	Device   device.Override `json:"-"`
	Extra    map[string]any  `json:"-"`
}

// FromConfig converts a configured account.
func FromConfig(a config.Account) Account {
	return Account{
		SID:      a.Key(),
		SelfID:   a.SelfID,
		Protocol: a.Protocol,
		Endpoint: a.Endpoint,
		Path:     a.Path,
		Token:    a.Token,
		Secret:   a.Secret,
		Enabled:  a.Gateway.IsEnabled(),
		Password: a.Gateway.Password,
		Device:   a.Gateway.Device,
		Extra:    a.Gateway.Extra,
	}
}

// Journal records status transitions and gateway runs. *db.DB satisfies it.
type Journal interface {
	RecordStatus(e db.StatusEvent) error
	StartRun(sid, runID string, pid int, at time.Time) (int64, error)
	FinishRun(id int64, exitCode int, outcome string, at time.Time) error
}

// Options configures a Supervisor.
type Options struct {
	// Root holds one working directory per account, named by self id.
	Root string

	Binary string
	Args   []string
	PTY    bool

	// Loader provides the config template. Nil selects the built-in one.
	Loader   *template.Loader
	Defaults template.Defaults
	Listen   template.Listen

	CaptchaPath string

	// GatewayLog enables a rotating gateway.log in every account directory.
	GatewayLog config.GatewayLog

	// Journal is optional.
	Journal Journal

	// Registry is created when nil.
	Registry *status.Registry

	Logger *slog.Logger

	// FlushDelay is how long a partial output line may sit before it is
	// handled anyway. Interactive prompts end without a newline.
	FlushDelay time.Duration
}

// Supervisor owns every account's gateway.
type Supervisor struct {
	opts     Options
	logger   *slog.Logger
	loader   *template.Loader
	registry *status.Registry
	runID    string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	accounts map[string]*account

	unsubscribe func()
}

type account struct {
	// spawnMu serializes starts and stops of this account.
	spawnMu sync.Mutex

	mu  sync.Mutex
	cfg Account
	dir string
	run *gatewayRun
}

func (a *account) current() *gatewayRun {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run
}

func (a *account) config() Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// New creates a supervisor. Nothing is started until Connect.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = status.NewRegistry()
	}
	if opts.Loader == nil {
		opts.Loader = template.NewLoader("", opts.Logger)
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = defaultFlushDelay
	}
	if opts.CaptchaPath == "" {
		opts.CaptchaPath = login.DefaultCaptchaPath
	}
	if opts.Args == nil {
		opts.Args = []string{"-faststart"}
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		opts:     opts,
		logger:   opts.Logger.With("run_id", runID),
		loader:   opts.Loader,
		registry: opts.Registry,
		runID:    runID,
		ctx:      ctx,
		cancel:   cancel,
		accounts: make(map[string]*account),
	}
	if opts.Journal != nil {
		s.unsubscribe = s.registry.Subscribe(s.journalUpdate)
	}
	return s
}

// RunID identifies this supervisor instance in logs and the journal.
func (s *Supervisor) RunID() string {
	return s.runID
}

// Registry returns the status registry the supervisor publishes to.
func (s *Supervisor) Registry() *status.Registry {
	return s.registry
}

// Get returns every account's published state.
func (s *Supervisor) Get() map[string]login.State {
	return s.registry.Get()
}

// Accounts returns the known accounts sorted by session id.
func (s *Supervisor) Accounts() []Account {
	s.mu.RLock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.config())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	return out
}

// Running reports whether sid has a live gateway.
func (s *Supervisor) Running(sid string) bool {
	a, ok := s.lookup(sid)
	return ok && a.current() != nil
}

// Dir returns the working directory of sid.
func (s *Supervisor) Dir(sid string) (string, error) {
	a, ok := s.lookup(sid)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAccount, sid)
	}
	return a.dir, nil
}

func (s *Supervisor) lookup(sid string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[sid]
	return a, ok
}

// register records acc, replacing the settings of a known account.
func (s *Supervisor) register(acc Account) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[acc.SID]; ok {
		a.mu.Lock()
		a.cfg = acc
		a.mu.Unlock()
		return a
	}
	a := &account{cfg: acc, dir: filepath.Join(s.opts.Root, acc.SelfID)}
	s.accounts[acc.SID] = a
	return a
}

// Register makes acc known without starting it.
func (s *Supervisor) Register(acc Account) error {
	if err := validate(acc); err != nil {
		return err
	}
	s.register(acc)
	return nil
}

func validate(acc Account) error {
	if acc.SID == "" {
		return errors.New("account sid is required")
	}
	if acc.SelfID == "" {
		return fmt.Errorf("account %s: self id is required", acc.SID)
	}
	if filepath.Base(acc.SelfID) != acc.SelfID || acc.SelfID == "." || acc.SelfID == ".." {
		return fmt.Errorf("account %s: self id %q is not a valid directory name", acc.SID, acc.SelfID)
	}
	return nil
}

// Connect starts acc's gateway and waits until it has logged in. In
// ws-reverse mode no handshake is expected and Connect returns once the
// gateway is spawned. A running gateway of the same account is stopped
// first. Cancelling ctx stops the wait, not the gateway.
func (s *Supervisor) Connect(ctx context.Context, acc Account) error {
	if err := validate(acc); err != nil {
		return err
	}
	return s.connect(ctx, s.register(acc), true)
}

// Start spawns a known account's gateway without waiting for login.
func (s *Supervisor) Start(ctx context.Context, sid string) error {
	a, ok := s.lookup(sid)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, sid)
	}
	return s.connect(ctx, a, false)
}

// Stop kills sid's gateway and publishes offline unless the account is in
// error. The working directory and credentials are kept.
func (s *Supervisor) Stop(sid string) error {
	return s.Disconnect(sid, false)
}

func (s *Supervisor) connect(ctx context.Context, a *account, wait bool) error {
	run, err := s.restart(a)
	if err != nil || !wait {
		return err
	}
	return s.await(ctx, a, run)
}

// restart stops a's current gateway, if any, and spawns a new one.
func (s *Supervisor) restart(a *account) (*gatewayRun, error) {
	a.spawnMu.Lock()
	defer a.spawnMu.Unlock()
	s.stopRun(a.current())
	return s.spawn(a)
}

// await blocks until run has logged in or exited. ws-reverse gateways have
// no handshake to wait for.
func (s *Supervisor) await(ctx context.Context, a *account, run *gatewayRun) error {
	if a.config().Protocol == config.ModeWSReverse {
		return nil
	}
	select {
	case err := <-run.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect kills sid's gateway. A hard disconnect forgets the account and
// deletes its published state; otherwise offline is published unless the
// account is already in error.
func (s *Supervisor) Disconnect(sid string, hard bool) error {
	a, ok := s.lookup(sid)
	if !ok {
		if hard && s.registry.Delete(sid) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownAccount, sid)
	}

	a.spawnMu.Lock()
	defer a.spawnMu.Unlock()
	s.stopRun(a.current())

	if hard {
		s.mu.Lock()
		delete(s.accounts, sid)
		s.mu.Unlock()
		s.registry.Delete(sid)
		s.logger.Info("account removed", "sid", sid, "action", "disconnect_hard")
		return nil
	}

	if cur, ok := s.registry.Lookup(sid); !ok || cur.Status != login.StatusError {
		s.store(a).Set(login.State{Status: login.StatusOffline})
	}
	s.logger.Info("gateway stopped", "sid", sid, "action", "disconnect")
	return nil
}

// Shutdown stops every gateway, publishing offline for each.
func (s *Supervisor) Shutdown() error {
	s.mu.RLock()
	sids := make([]string, 0, len(s.accounts))
	for sid, a := range s.accounts {
		if a.current() != nil {
			sids = append(sids, sid)
		}
	}
	s.mu.RUnlock()

	var g errgroup.Group
	for _, sid := range sids {
		g.Go(func() error { return s.Disconnect(sid, false) })
	}
	err := g.Wait()

	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return err
}

// Write sends text followed by a newline to sid's gateway.
func (s *Supervisor) Write(sid, text string) error {
	a, ok := s.lookup(sid)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, sid)
	}
	run := a.current()
	if run == nil {
		return fmt.Errorf("%w: %s", ErrNoProcess, sid)
	}
	if err := run.proc.Write(text); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoProcess, sid, err)
	}
	return nil
}

// SubmitTicket hands a slider captcha ticket to sid's gateway and publishes
// continue.
func (s *Supervisor) SubmitTicket(sid, ticket string) error {
	if _, ok := s.registry.Lookup(sid); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, sid)
	}
	a, ok := s.lookup(sid)
	if !ok || a.current() == nil {
		return fmt.Errorf("%w: %s", ErrNoProcess, sid)
	}

	s.registry.Set(sid, login.State{Status: login.StatusContinue})
	if err := s.Write(sid, ticket); err != nil {
		return err
	}
	s.logger.Info("ticket submitted", "sid", sid, "ticket_len", len(ticket), "action", "ticket")
	return nil
}

// ExportCredential returns sid's credential bundle.
func (s *Supervisor) ExportCredential(sid string) (string, error) {
	a, ok := s.lookup(sid)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAccount, sid)
	}
	bundle, err := credential.Export(a.dir)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", sid, err)
	}
	return bundle, nil
}

// ImportCredential writes a credential bundle into sid's working directory.
// It is refused while the gateway runs.
func (s *Supervisor) ImportCredential(sid, bundle string) error {
	a, ok := s.lookup(sid)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, sid)
	}

	a.spawnMu.Lock()
	defer a.spawnMu.Unlock()
	if a.current() != nil {
		return fmt.Errorf("import %s: %w", sid, ErrProcessRunning)
	}
	if err := os.MkdirAll(a.dir, 0700); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	if err := credential.Import(a.dir, bundle); err != nil {
		return fmt.Errorf("import %s: %w", sid, err)
	}
	s.logger.Info("credential imported", "sid", sid, "action", "credential_import")
	return nil
}

// store returns sid's registry handle, attaching the credential bundle on
// terminal transitions.
func (s *Supervisor) store(a *account) *accountStore {
	cfg := a.config()
	return &accountStore{Handle: s.registry.For(cfg.SID), dir: a.dir}
}

type accountStore struct {
	*status.Handle
	dir string
}

// Set publishes st. Terminal states carry the current credential bundle;
// export failures leave the field empty.
func (s *accountStore) Set(st login.State) {
	if st.Status.Terminal() && st.Device == "" {
		if bundle, err := credential.Export(s.dir); err == nil {
			st.Device = bundle
		}
	}
	s.Handle.Set(st)
}

func (s *Supervisor) journalUpdate(u status.Update) {
	if u.Deleted {
		return
	}
	if u.Previous == u.State.Status && u.State.Status != login.StatusInit {
		return
	}
	err := s.opts.Journal.RecordStatus(db.StatusEvent{
		Timestamp: u.Time,
		SID:       u.SID,
		From:      string(u.Previous),
		To:        string(u.State.Status),
		Message:   u.State.Message,
		Link:      u.State.Link,
		Phone:     u.State.Phone,
	})
	if err != nil {
		s.logger.Warn("failed to journal status", "sid", u.SID, "error", err)
	}
}
