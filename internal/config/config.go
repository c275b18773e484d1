// Package config manages gwsup configuration.
//
// The configuration is a single YAML file. Values missing from the file keep
// their defaults; a .env file in the working directory may set GWSUP_HOME and
// friends before the file is located.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/device"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/template"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// LegacyRoot is the single-level account directory used by older layouts.
const LegacyRoot = "accounts"

// Connection modes.
const (
	ModeWS        = "ws"
	ModeWSReverse = "ws-reverse"
	ModeHTTP      = "http"
)

// Config is the supervisor configuration.
type Config struct {
	Version int `yaml:"version"`

	// BaseDir anchors relative paths. Empty means the gwsup home directory.
	BaseDir string `yaml:"base_dir,omitempty"`
	// Root holds one working directory per account.
	Root string `yaml:"root"`

	LogLevel string `yaml:"log_level"`

	// Template is a config template file. Empty selects the built-in one.
	Template string `yaml:"template,omitempty"`

	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
	PTY    bool     `yaml:"pty"`

	GatewayLog GatewayLog `yaml:"gateway_log"`

	// BindHost replaces the host part of forward-mode endpoints.
	BindHost string `yaml:"bind_host"`
	Server   Server `yaml:"server"`

	// Journal is the sqlite status journal. Empty selects the default
	// location; "off" disables it.
	Journal string `yaml:"journal,omitempty"`

	Message    template.MessageSettings `yaml:"message"`
	SignServer template.SignServer      `yaml:"sign_server"`

	Accounts []Account `yaml:"accounts"`

	path string
}

// GatewayLog configures the rotating per-account gateway.log.
type GatewayLog struct {
	Enabled    bool `yaml:"enabled"`
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// Server is the host side the gateways talk to, and the supervisor's own
// HTTP listener.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Listen is the supervisor's HTTP address.
	Listen string `yaml:"listen"`
	// CaptchaPath is where the slider captcha page is served.
	CaptchaPath string `yaml:"captcha_path"`
}

// Account is one managed identity.
type Account struct {
	// SID is the stable session id. It defaults to onebot:<self_id>.
	SID      string `yaml:"sid,omitempty"`
	SelfID   string `yaml:"self_id"`
	Protocol string `yaml:"protocol"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Path     string `yaml:"path,omitempty"`
	Token    string `yaml:"token,omitempty"`
	Secret   string `yaml:"secret,omitempty"`

	Gateway Gateway `yaml:"gateway"`
}

// Gateway holds per-account gateway options.
type Gateway struct {
	// Enabled defaults to true.
	Enabled  *bool           `yaml:"enabled,omitempty"`
	Password string          `yaml:"password,omitempty"`
	Device   device.Override `yaml:"device,omitempty"`
	Extra    map[string]any  `yaml:"extra,omitempty"`
}

// IsEnabled reports whether the account's gateway should run.
func (g Gateway) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// Key returns the account's session id.
func (a Account) Key() string {
	if a.SID != "" {
		return a.SID
	}
	return "onebot:" + a.SelfID
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		Root:     filepath.Join("data", "gateway", "accounts"),
		LogLevel: "info",
		Binary:   "go-cqhttp",
		Args:     []string{"-faststart"},
		GatewayLog: GatewayLog{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		BindHost: "0.0.0.0",
		Server: Server{
			Host:        "localhost",
			Port:        5140,
			Listen:      "127.0.0.1:5141",
			CaptchaPath: "/captcha",
		},
	}
}

// HomeDir returns $GWSUP_HOME, falling back to ~/.gwsup.
func HomeDir() string {
	if h := os.Getenv("GWSUP_HOME"); h != "" {
		return h
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gwsup")
	}
	return ".gwsup"
}

// ConfigPath returns the config file location: $GWSUP_HOME/config.yaml when
// GWSUP_HOME is set, otherwise under the XDG config directory.
func ConfigPath() string {
	if h := os.Getenv("GWSUP_HOME"); h != "" {
		return filepath.Join(h, "config.yaml")
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "gwsup", "config.yaml")
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "gwsup", "config.yaml")
}

// LoadEnv loads .env from the working directory without overriding
// variables that are already set. A missing file is not an error.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads the config from ConfigPath. A missing file yields defaults.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config at path. A missing file yields defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Path returns the file the config was loaded from, or ConfigPath.
func (c *Config) Path() string {
	if c.path != "" {
		return c.path
	}
	return ConfigPath()
}

// SetPath sets where Save writes to.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Save writes the config back to Path with 0600 permissions.
func (c *Config) Save() error {
	path := c.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	c.Version = CurrentVersion
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Validate checks the config for values that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if c.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported version %d", c.Version))
	}
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if strings.TrimSpace(c.Binary) == "" {
		errs = append(errs, errors.New("binary is required"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if p := c.Server.CaptchaPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("server.captcha_path %q must start with /", p))
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if strings.TrimSpace(a.SelfID) == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: self_id is required", i))
			continue
		}
		key := a.Key()
		if seen[key] {
			errs = append(errs, fmt.Errorf("accounts[%d]: duplicate sid %q", i, key))
		}
		seen[key] = true

		switch a.Protocol {
		case ModeWS, ModeWSReverse, ModeHTTP:
		default:
			errs = append(errs, fmt.Errorf("accounts[%d]: unknown protocol %q", i, a.Protocol))
		}
		if a.Gateway.Device.Protocol != "" {
			if _, err := device.ParseProtocol(a.Gateway.Device.Protocol); err != nil {
				errs = append(errs, fmt.Errorf("accounts[%d]: %w", i, err))
			}
		}
	}

	return errors.Join(errs...)
}

// ParseLevel maps a log level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
}

// Base returns the directory relative paths resolve against.
func (c *Config) Base() string {
	if c.BaseDir != "" {
		return c.BaseDir
	}
	return HomeDir()
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Base(), p)
}

// RootDir returns the absolute account root.
func (c *Config) RootDir() string {
	return c.resolve(c.Root)
}

// LegacyDir returns the pre-migration account directory.
func (c *Config) LegacyDir() string {
	return filepath.Join(c.Base(), LegacyRoot)
}

// TemplatePath returns the template file, empty for the built-in one.
func (c *Config) TemplatePath() string {
	if c.Template == "" {
		return ""
	}
	return c.resolve(c.Template)
}

// JournalPath returns the sqlite journal path, empty when disabled.
func (c *Config) JournalPath() string {
	switch c.Journal {
	case "off":
		return ""
	case "":
		return filepath.Join(c.Base(), "data", "gwsup.db")
	default:
		return c.resolve(c.Journal)
	}
}

// Defaults returns the template values shared by every account.
func (c *Config) Defaults() template.Defaults {
	return template.Defaults{Message: c.Message, SignServer: c.SignServer}
}

// Listen returns where gateways bind and how they reach the host.
func (c *Config) Listen() template.Listen {
	return template.Listen{
		BindHost:   c.BindHost,
		ServerHost: c.Server.Host,
		ServerPort: c.Server.Port,
	}
}

// FindAccount returns the account with session id sid.
func (c *Config) FindAccount(sid string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Key() == sid {
			return a, true
		}
	}
	return Account{}, false
}
