// Package db is the supervisor's sqlite journal of login status transitions
// and gateway runs.
//
// The journal is a convenience for operators. A journal that cannot be read
// is moved aside and started fresh rather than blocking the supervisor.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// pragmas run on the single journal connection after it opens.
var pragmas = []string{
	"journal_mode=WAL",
	"busy_timeout=5000",
	"foreign_keys=ON",
}

// corruptMarkers are sqlite error fragments meaning the file is unusable.
var corruptMarkers = []string{
	"file is not a database",
	"malformed",
}

// DB is an open journal.
type DB struct {
	path string
	conn *sql.DB
}

// OpenAt opens or creates the journal at path and brings its schema up to
// date. A corrupt journal is renamed to <path>.corrupt.<time> together with
// its WAL files, and a new one is created.
func OpenAt(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	conn, err := open(path)
	if err != nil && corrupt(err) {
		if _, qerr := quarantine(path, time.Now()); qerr != nil {
			return nil, fmt.Errorf("journal %s is corrupt (%v): %w", path, err, qerr)
		}
		conn, err = open(path)
	}
	if err != nil {
		return nil, err
	}
	return &DB{path: path, conn: conn}, nil
}

func open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", "file:"+filepath.ToSlash(path)+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := prepare(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func prepare(conn *sql.DB) error {
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping journal: %w", err)
	}
	for _, p := range pragmas {
		if _, err := conn.Exec("PRAGMA " + p); err != nil {
			return fmt.Errorf("set %s: %w", p, err)
		}
	}
	return RunMigrations(conn)
}

func corrupt(err error) bool {
	if errors.Is(err, os.ErrInvalid) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range corruptMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// quarantine renames the journal and its -wal and -shm files out of the way
// and returns the new journal name.
func quarantine(path string, now time.Time) (string, error) {
	moved := path + ".corrupt." + now.UTC().Format("20060102T150405Z")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Rename(path+suffix, moved+suffix)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("move %s aside: %w", filepath.Base(path+suffix), err)
		}
	}
	return moved, nil
}

// Close folds the WAL back into the journal file and closes it.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	_, _ = d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.conn.Close()
}

// Conn exposes the connection for migrations and tests.
func (d *DB) Conn() *sql.DB {
	if d == nil {
		return nil
	}
	return d.conn
}

func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}
