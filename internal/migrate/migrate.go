// Package migrate moves account directories from the legacy single-level
// layout into the configured root.
package migrate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// LockFile is created next to the root while a migration runs.
const LockFile = ".gwsup-migrate.lock"

// Runner relocates the legacy directory at most once per process.
type Runner struct {
	legacy string
	root   string
	logger *slog.Logger

	once  sync.Once
	err   error
	moved bool
}

// New returns a runner moving legacy into root.
func New(legacy, root string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		legacy: filepath.Clean(legacy),
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Run performs the migration on first call. Later calls return the first
// call's result without touching the filesystem.
func (r *Runner) Run() error {
	r.once.Do(func() {
		r.moved, r.err = r.run()
	})
	return r.err
}

// Moved reports whether Run relocated anything.
func (r *Runner) Moved() bool {
	_ = r.Run()
	return r.moved
}

func (r *Runner) run() (bool, error) {
	if r.legacy == r.root {
		return false, nil
	}
	if within(r.root, r.legacy) {
		return false, fmt.Errorf("account root %s is inside legacy directory %s", r.root, r.legacy)
	}

	if ok, err := r.pending(); err != nil || !ok {
		return false, err
	}

	parent := filepath.Dir(r.root)
	if err := os.MkdirAll(parent, 0700); err != nil {
		return false, fmt.Errorf("create root parent: %w", err)
	}
	lock := flock.New(filepath.Join(parent, LockFile))
	if err := lock.Lock(); err != nil {
		return false, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	// Another supervisor may have finished while we waited.
	if ok, err := r.pending(); err != nil || !ok {
		return false, err
	}

	r.logger.Info("migrating legacy account directory",
		"from", r.legacy,
		"to", r.root,
		"action", "migrate")

	if err := copyTree(r.legacy, r.root); err != nil {
		return false, fmt.Errorf("copy %s to %s: %w", r.legacy, r.root, err)
	}
	if err := os.RemoveAll(r.legacy); err != nil {
		return false, fmt.Errorf("remove legacy directory: %w", err)
	}

	r.logger.Info("legacy account directory migrated", "to", r.root, "action", "migrate_done")
	return true, nil
}

// pending reports whether the legacy directory exists and the root is
// missing or empty.
func (r *Runner) pending() (bool, error) {
	info, err := os.Stat(r.legacy)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat legacy directory: %w", err)
	}
	if !info.IsDir() {
		return false, nil
	}

	entries, err := os.ReadDir(r.root)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read account root: %w", err)
	}
	if len(entries) > 0 {
		r.logger.Warn("account root is not empty, legacy directory left in place",
			"legacy", r.legacy,
			"root", r.root)
		return false, nil
	}
	return true, nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// copyTree copies src into dst, keeping file modes and symlinks.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
