// Package watcher follows a single file on disk and reports when it settles
// after a change.
//
// Editors rarely write a file in one operation: they truncate, write, chmod,
// or replace it through a rename. The watcher therefore subscribes to the
// parent directory, ignores every other name in it, and folds a burst of
// raw notifications into one Event once the file has been quiet for the
// settle window.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay untouched before a change is
// reported.
const DefaultSettle = 150 * time.Millisecond

// Change describes what happened to the watched file.
type Change int

const (
	Written Change = iota
	Created
	Removed
)

func (c Change) String() string {
	switch c {
	case Written:
		return "written"
	case Created:
		return "created"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("change(%d)", int(c))
}

// Event is one settled change to the watched file.
type Event struct {
	Path string
	Type Change
	// Raw is the number of filesystem notifications folded into the event.
	Raw int
}

// Watcher reports settled changes of one file.
type Watcher struct {
	path   string
	settle time.Duration

	fs     *fsnotify.Watcher
	events chan Event
	errs   chan error
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Option tunes a Watcher.
type Option func(*Watcher)

// WithSettle overrides DefaultSettle. Non-positive values are ignored.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// New starts watching path. The file itself need not exist yet, but its
// directory must.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if info, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:   abs,
		settle: DefaultSettle,
		fs:     fsw,
		events: make(chan Event, 4),
		errs:   make(chan error, 4),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Path is the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Events delivers settled changes. It is closed by Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors delivers fsnotify errors. It is closed by Close.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
		close(w.events)
		close(w.errs)
	})
	return err
}

// pending accumulates raw notifications until the file settles.
type pending struct {
	change Change
	raw    int
}

func (p *pending) add(op fsnotify.Op) {
	p.raw++
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		p.change = Removed
	case op.Has(fsnotify.Create):
		p.change = Created
	case p.raw == 1:
		p.change = Written
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var p *pending
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if p == nil {
				p = &pending{}
			}
			p.add(ev.Op)
			timer.Reset(w.settle)

		case <-timer.C:
			if p == nil {
				continue
			}
			ev := Event{Path: w.path, Type: p.change, Raw: p.raw}
			p = nil
			// A removed file that reappeared within the window is a rewrite.
			if ev.Type == Removed {
				if _, err := os.Stat(w.path); err == nil {
					ev.Type = Written
				}
			}
			select {
			case w.events <- ev:
			case <-w.done:
				return
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}
