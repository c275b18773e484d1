// Package cmd implements the gwsup command line.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/api"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/client"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/config"
)

var (
	configFile string
	apiAddr    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "gwsup",
	Short: "Supervise go-cqhttp gateways and their logins",
	Long: `gwsup runs one go-cqhttp gateway per configured account, watches its
output and walks it through the login handshake: QR codes, captchas,
slider tickets and SMS codes.

Run "gwsup serve" to start the supervisor. The other commands talk to a
running supervisor over its HTTP API.

Examples:
  gwsup serve                       # Start every enabled account
  gwsup status                      # Show login state of every account
  gwsup write onebot:12345 1        # Answer a gateway prompt
  gwsup watch                       # Interactive dashboard`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $GWSUP_HOME/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "", "supervisor API address (default server.listen from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFrom(configFile)
	}
	return config.Load()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// apiClient returns a client for the running supervisor and the path its
// ticket callback is served on.
func apiClient() (*client.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	addr := apiAddr
	if addr == "" {
		addr = cfg.Server.Listen
	}
	return client.New(addr), api.TicketPath(cfg.Server.CaptchaPath), nil
}

// explain turns an unreachable supervisor into a hint.
func explain(err error) error {
	if errors.Is(err, client.ErrUnavailable) {
		return fmt.Errorf("%w (is \"gwsup serve\" running?)", err)
	}
	return err
}
