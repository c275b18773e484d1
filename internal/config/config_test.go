package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Binary != "go-cqhttp" {
		t.Errorf("Binary = %q, want go-cqhttp", cfg.Binary)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "-faststart" {
		t.Errorf("Args = %v, want [-faststart]", cfg.Args)
	}
	if cfg.Root == LegacyRoot {
		t.Errorf("Root should differ from the legacy layout")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	t.Run("with GWSUP_HOME set", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("GWSUP_HOME", home)

		if got, want := ConfigPath(), filepath.Join(home, "config.yaml"); got != want {
			t.Errorf("ConfigPath() = %q, want %q", got, want)
		}
	})

	t.Run("with XDG_CONFIG_HOME set", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("GWSUP_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", tmpDir)

		if got, want := ConfigPath(), filepath.Join(tmpDir, "gwsup", "config.yaml"); got != want {
			t.Errorf("ConfigPath() = %q, want %q", got, want)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		t.Setenv("GWSUP_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", "")

		if got := ConfigPath(); !strings.HasSuffix(got, filepath.Join("gwsup", "config.yaml")) {
			t.Errorf("ConfigPath() = %q, want .../gwsup/config.yaml", got)
		}
	})
}

func TestLoadNonExistent(t *testing.T) {
	t.Setenv("GWSUP_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Binary != "go-cqhttp" || cfg.Server.Port != 5140 {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
version: 1
root: bots
binary: /opt/gocq/go-cqhttp
pty: true
log_level: debug
server:
  host: 10.0.0.2
  port: 8080
message:
  fix_url: true
  proxy_rewrite: http://proxy
sign_server:
  url: http://sign:8080
  key: "114514"
accounts:
  - self_id: "12345"
    protocol: ws
    endpoint: ws://example.com:6700
    token: tok
    gateway:
      password: hunter2
      device:
        protocol: Watch
  - sid: custom
    self_id: "67890"
    protocol: http
    path: /onebot
    gateway:
      enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Root != "bots" || cfg.Binary != "/opt/gocq/go-cqhttp" || !cfg.PTY {
		t.Errorf("top-level fields = %+v", cfg)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "-faststart" {
		t.Errorf("Args = %v, want default kept", cfg.Args)
	}
	if cfg.Server.Listen != "127.0.0.1:5141" {
		t.Errorf("Server.Listen = %q, want default kept", cfg.Server.Listen)
	}
	if !cfg.Message.FixURL || cfg.Message.ProxyRewrite != "http://proxy" {
		t.Errorf("Message = %+v", cfg.Message)
	}
	if cfg.SignServer.Key != "114514" {
		t.Errorf("SignServer = %+v", cfg.SignServer)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("Accounts len = %d, want 2", len(cfg.Accounts))
	}

	a := cfg.Accounts[0]
	if a.Key() != "onebot:12345" || !a.Gateway.IsEnabled() || a.Gateway.Device.Protocol != "Watch" {
		t.Errorf("account[0] = %+v", a)
	}
	b, ok := cfg.FindAccount("custom")
	if !ok || b.Gateway.IsEnabled() || b.Path != "/onebot" {
		t.Errorf("FindAccount(custom) = %+v, %v", b, ok)
	}
	if _, ok := cfg.FindAccount("onebot:67890"); ok {
		t.Error("explicit sid should replace the derived one")
	}

	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("accounts: [\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("LoadFrom() should fail on invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad version", func(c *Config) { c.Version = 9 }, "unsupported version"},
		{"empty root", func(c *Config) { c.Root = " " }, "root is required"},
		{"empty binary", func(c *Config) { c.Binary = "" }, "binary is required"},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }, "unknown log_level"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
		{"bad captcha path", func(c *Config) { c.Server.CaptchaPath = "captcha" }, "must start with /"},
		{"missing self id", func(c *Config) {
			c.Accounts = []Account{{Protocol: ModeWS}}
		}, "self_id is required"},
		{"unknown protocol", func(c *Config) {
			c.Accounts = []Account{{SelfID: "1", Protocol: "grpc"}}
		}, "unknown protocol"},
		{"duplicate sid", func(c *Config) {
			c.Accounts = []Account{{SelfID: "1", Protocol: ModeWS}, {SelfID: "1", Protocol: ModeHTTP}}
		}, "duplicate sid"},
		{"bad device protocol", func(c *Config) {
			a := Account{SelfID: "1", Protocol: ModeWSReverse}
			a.Gateway.Device.Protocol = "nokia"
			c.Accounts = []Account{a}
		}, "unknown device protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundtrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GWSUP_HOME", home)

	original := DefaultConfig()
	original.PTY = true
	original.Template = "template.yml"
	original.Accounts = []Account{{SelfID: "12345", Protocol: ModeWSReverse, Endpoint: "ws://host:8080/onebot"}}

	if err := original.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(ConfigPath())
	if err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config perm = %o, want 600", perm)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() after Save() error = %v", err)
	}
	if !loaded.PTY || loaded.Template != "template.yml" {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.Accounts) != 1 || loaded.Accounts[0].Endpoint != "ws://host:8080/onebot" {
		t.Errorf("loaded accounts = %+v", loaded.Accounts)
	}
	if got, want := loaded.TemplatePath(), filepath.Join(home, "template.yml"); got != want {
		t.Errorf("TemplatePath() = %q, want %q", got, want)
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDir = "/srv/bot"

	if got := cfg.RootDir(); got != filepath.Join("/srv/bot", "data", "gateway", "accounts") {
		t.Errorf("RootDir() = %q", got)
	}
	if got := cfg.LegacyDir(); got != filepath.Join("/srv/bot", "accounts") {
		t.Errorf("LegacyDir() = %q", got)
	}
	if got := cfg.JournalPath(); got != filepath.Join("/srv/bot", "data", "gwsup.db") {
		t.Errorf("JournalPath() = %q", got)
	}
	if cfg.TemplatePath() != "" {
		t.Errorf("TemplatePath() = %q, want empty", cfg.TemplatePath())
	}

	cfg.Root = "/abs/root"
	cfg.Journal = "off"
	if cfg.RootDir() != "/abs/root" {
		t.Errorf("RootDir() = %q, want absolute root kept", cfg.RootDir())
	}
	if cfg.JournalPath() != "" {
		t.Errorf("JournalPath() = %q, want empty when off", cfg.JournalPath())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	// No .env is fine.
	if err := LoadEnv(); err != nil {
		t.Fatalf("LoadEnv() without file error = %v", err)
	}

	t.Setenv("GWSUP_TEST_PRESET", "kept")
	t.Setenv("GWSUP_TEST_FROM_FILE", "")
	os.Unsetenv("GWSUP_TEST_FROM_FILE")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GWSUP_TEST_FROM_FILE=loaded\nGWSUP_TEST_PRESET=overridden\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnv(); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("GWSUP_TEST_FROM_FILE") })

	if got := os.Getenv("GWSUP_TEST_FROM_FILE"); got != "loaded" {
		t.Errorf("GWSUP_TEST_FROM_FILE = %q, want loaded", got)
	}
	if got := os.Getenv("GWSUP_TEST_PRESET"); got != "kept" {
		t.Errorf("GWSUP_TEST_PRESET = %q, want existing value kept", got)
	}
}
