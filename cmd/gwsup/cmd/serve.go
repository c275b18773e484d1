package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/api"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/config"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/db"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/migrate"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/signals"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/status"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/supervisor"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/template"
)

// LockFile keeps a second supervisor off the same base directory.
const LockFile = "gwsup.lock"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor",
	Long: `Start a gateway for every enabled account and serve the HTTP API.

The supervisor moves a legacy account directory into the configured root
before the first gateway starts. Signals:
  SIGHUP           reload config and template, start/stop changed accounts
  SIGUSR1          log the status of every account
  SIGINT, SIGTERM  stop every gateway and exit

Examples:
  gwsup serve
  gwsup serve --listen 0.0.0.0:5141
  gwsup serve --journal-retention 72h`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen    string
	serveRetention time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "API listen address (overrides server.listen)")
	serveCmd.Flags().DurationVar(&serveRetention, "journal-retention", 30*24*time.Hour,
		"drop journal status events older than this (0 keeps everything)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Base(), 0700); err != nil {
		return fmt.Errorf("create base dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.Base(), LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("another supervisor holds %s", lock.Path())
	}
	defer lock.Unlock()

	if err := migrate.New(cfg.LegacyDir(), cfg.RootDir(), logger).Run(); err != nil {
		return fmt.Errorf("migrate account directories: %w", err)
	}

	pidFile := signals.DefaultPIDFilePath()
	if err := signals.WritePIDFile(pidFile, os.Getpid()); err != nil {
		logger.Warn("pid file not written", "error", err)
	}
	defer signals.RemovePIDFile(pidFile)

	var (
		journal    *db.DB
		supJournal supervisor.Journal
		apiJournal api.Journal
	)
	if path := cfg.JournalPath(); path != "" {
		journal, err = db.OpenAt(path)
		if err != nil {
			return err
		}
		defer journal.Close()
		supJournal, apiJournal = journal, journal
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	loader := template.NewLoader(cfg.TemplatePath(), logger)
	go func() {
		if err := loader.Watch(ctx); err != nil {
			logger.Warn("template watch stopped", "error", err)
		}
	}()

	sup := supervisor.New(supervisor.Options{
		Root:        cfg.RootDir(),
		Binary:      cfg.Binary,
		Args:        cfg.Args,
		PTY:         cfg.PTY,
		Loader:      loader,
		Defaults:    cfg.Defaults(),
		Listen:      cfg.Listen(),
		CaptchaPath: cfg.Server.CaptchaPath,
		GatewayLog:  cfg.GatewayLog,
		Journal:     supJournal,
		Logger:      logger,
	})

	addr := cfg.Server.Listen
	if serveListen != "" {
		addr = serveListen
	}
	srv := api.NewServer(sup, api.Options{
		Addr:        addr,
		CaptchaPath: cfg.Server.CaptchaPath,
		Journal:     apiJournal,
		Logger:      logger,
	})

	handler, err := signals.New()
	if err != nil {
		return fmt.Errorf("install signal handler: %w", err)
	}
	defer handler.Close()

	accounts := accountsFrom(cfg)
	register(logger, sup, accounts)
	events := make(chan supervisor.Event, len(accounts)+16)
	for _, ev := range supervisor.Diff(nil, accounts) {
		events <- ev
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- sup.Run(ctx, events)
	}()

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- srv.Start()
	}()

	lifecycle(logger, "supervisor started run_id=%s accounts=%d", sup.RunID(), len(accounts))
	logger.Info("supervisor started",
		"run_id", sup.RunID(),
		"accounts", len(accounts),
		"root", cfg.RootDir(),
		"api", addr)

	prune := time.NewTicker(time.Hour)
	defer prune.Stop()
	pruneJournal(logger, journal, serveRetention)

	var loopErr error
loop:
	for {
		select {
		case <-handler.Reload():
			next, err := loadConfig()
			if err != nil {
				logger.Warn("config reload failed, keeping current accounts", "error", err)
				continue
			}
			loader.Invalidate()
			nextAccounts := accountsFrom(next)
			changes := supervisor.Diff(accounts, nextAccounts)
			register(logger, sup, untouched(nextAccounts, changes))
			for _, ev := range changes {
				events <- ev
			}
			accounts = nextAccounts
			lifecycle(logger, "config reloaded changes=%d", len(changes))
			logger.Info("config reloaded", "changes", len(changes), "action", "reload")
		case <-handler.DumpStats():
			dumpStatus(logger, sup.Registry())
		case sig := <-handler.Shutdown():
			logger.Info("shutting down", "signal", sig.String())
			break loop
		case err := <-apiErr:
			if err != nil {
				loopErr = fmt.Errorf("API server: %w", err)
			}
			break loop
		case <-prune.C:
			pruneJournal(logger, journal, serveRetention)
		case <-ctx.Done():
			break loop
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown error", "error", err)
	}

	cancel()
	if err := <-runDone; err != nil {
		logger.Warn("gateway shutdown error", "error", err)
	}
	lifecycle(logger, "supervisor stopped run_id=%s", sup.RunID())
	return loopErr
}

// accountsFrom converts the configured accounts.
func accountsFrom(cfg *config.Config) []supervisor.Account {
	out := make([]supervisor.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		out = append(out, supervisor.FromConfig(a))
	}
	return out
}

// register makes every account known, so disabled ones can be started by
// hand.
func register(logger *slog.Logger, sup *supervisor.Supervisor, accounts []supervisor.Account) {
	for _, a := range accounts {
		if err := sup.Register(a); err != nil {
			logger.Warn("account not registered", "sid", a.SID, "error", err)
		}
	}
}

// untouched returns the accounts no event refers to.
func untouched(accounts []supervisor.Account, events []supervisor.Event) []supervisor.Account {
	busy := make(map[string]bool, len(events))
	for _, ev := range events {
		busy[ev.Account.SID] = true
	}
	var out []supervisor.Account
	for _, a := range accounts {
		if !busy[a.SID] {
			out = append(out, a)
		}
	}
	return out
}

func dumpStatus(logger *slog.Logger, reg *status.Registry) {
	entries := reg.Entries()
	logger.Info("status dump", "accounts", len(entries))
	for _, e := range entries {
		logger.Info("account status",
			"sid", e.SID,
			"status", string(e.State.Status),
			"message", e.State.Message,
			"updated_at", e.UpdatedAt.Format(time.RFC3339))
	}
}

func pruneJournal(logger *slog.Logger, journal *db.DB, retention time.Duration) {
	if journal == nil || retention <= 0 {
		return
	}
	n, err := journal.PruneEvents(time.Now().Add(-retention))
	if err != nil {
		logger.Warn("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		logger.Debug("journal pruned", "events", n)
	}
}

func lifecycle(logger *slog.Logger, format string, args ...any) {
	if err := signals.AppendLogLine("", fmt.Sprintf(format, args...)); err != nil {
		logger.Debug("lifecycle log not written", "error", err)
	}
}
