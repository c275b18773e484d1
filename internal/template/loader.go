package template

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/watcher"
)

// ConfigFile is the name of the rendered config in an account directory.
const ConfigFile = "config.yml"

//go:embed template.yml
var defaultTemplate string

// Default returns the built-in template.
func Default() string {
	return defaultTemplate
}

// Loader reads the template once and serves it from memory until invalidated.
type Loader struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	text   string
	loaded bool
}

// NewLoader creates a loader for path. An empty path selects the built-in
// template.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger}
}

// Path returns the template file, empty for the built-in template.
func (l *Loader) Path() string {
	return l.path
}

// Load returns the template text.
func (l *Loader) Load() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return l.text, nil
	}
	if l.path == "" {
		l.text, l.loaded = defaultTemplate, true
		return l.text, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	l.text, l.loaded = string(data), true
	return l.text, nil
}

// Invalidate drops the cached text so the next Load rereads the file.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.loaded = false
	l.text = ""
	l.mu.Unlock()
}

// Watch invalidates the cache whenever the template file changes, until ctx
// is done. It returns immediately for the built-in template.
func (l *Loader) Watch(ctx context.Context) error {
	if l.path == "" {
		return nil
	}
	w, err := watcher.New(l.path)
	if err != nil {
		return fmt.Errorf("watch template: %w", err)
	}
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events():
			if !ok {
				return nil
			}
			l.Invalidate()
			l.logger.Info("template changed",
				"path", evt.Path,
				"event", evt.Type.String(),
				"notifications", evt.Raw,
				"action", "template_reload")
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			l.logger.Warn("template watcher error", "error", err)
		}
	}
}

// Materialize renders the loader's template with c and writes it to
// dir/config.yml.
func (l *Loader) Materialize(dir string, c Context) (string, error) {
	tmpl, err := l.Load()
	if err != nil {
		return "", err
	}
	return Write(dir, Render(tmpl, c.Values()))
}

// Write validates text as YAML and writes it to dir/config.yml.
func Write(dir, text string) (string, error) {
	if err := Validate(text); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ConfigFile)
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		return "", fmt.Errorf("write %s: %w", ConfigFile, err)
	}
	return path, nil
}

// Validate checks that text is well-formed YAML.
func Validate(text string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return fmt.Errorf("rendered config is not valid yaml: %w", err)
	}
	return nil
}
