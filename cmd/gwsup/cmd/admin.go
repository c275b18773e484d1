package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/config"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/migrate"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/signals"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/template"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive dashboard of every account",
	Long: `Open a terminal dashboard that follows the login state of every account
live. Start and stop gateways, answer prompts and paste slider tickets
without leaving it. Press ? for the key bindings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ticketPath, err := apiClient()
		if err != nil {
			return err
		}
		if _, err := c.Health(cmd.Context()); err != nil {
			return explain(err)
		}
		return tui.Run(cmd.Context(), c, ticketPath)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move the legacy account directory into the account root",
	Long: `Relocate <base>/accounts into the configured root. Nothing happens when
the legacy directory is missing or the root already holds accounts.
"gwsup serve" runs this on startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		r := migrate.New(cfg.LegacyDir(), cfg.RootDir(), newLogger(cfg))
		if err := r.Run(); err != nil {
			return err
		}
		if r.Moved() {
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s\n", cfg.LegacyDir(), cfg.RootDir())
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to migrate.")
		}
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the running supervisor to reload its config",
	Long:  `Send SIGHUP to the supervisor recorded in the pid file.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := runningSupervisor()
		if err != nil {
			return err
		}
		if err := signals.SendHUP(pid); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reload requested (pid %d)\n", pid)
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the running supervisor and its gateways",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		grace, _ := cmd.Flags().GetDuration("grace")
		pid, err := runningSupervisor()
		if err != nil {
			return err
		}
		if err := signals.Terminate(pid, grace); err != nil {
			return fmt.Errorf("stop supervisor %d: %w", pid, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Supervisor %d stopped\n", pid)
		return nil
	},
}

func runningSupervisor() (int, error) {
	path := signals.DefaultPIDFilePath()
	pid, err := signals.ReadPIDFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("no supervisor running (no pid file at %s)", path)
		}
		return 0, err
	}
	if !signals.IsProcessAlive(pid) {
		return 0, fmt.Errorf("supervisor %d from %s is not running", pid, path)
	}
	return pid, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := configFile
		if path == "" {
			path = config.ConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		cfg := config.DefaultConfig()
		cfg.SetPath(path)
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.Path())
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(redacted(cfg))
	},
}

// redacted returns a copy of cfg with account secrets masked.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	out.Accounts = make([]config.Account, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		a.Token = mask(a.Token)
		a.Secret = mask(a.Secret)
		a.Gateway.Password = mask(a.Gateway.Password)
		out.Accounts[i] = a
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

var configTemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print the gateway config template in use",
	Long: `Print the template every account's config.yml is rendered from: the
configured template file, or the built-in one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		text, err := template.NewLoader(cfg.TemplatePath(), newLogger(cfg)).Load()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configTemplateCmd)

	shutdownCmd.Flags().Duration("grace", 15*time.Second, "time to wait before killing the supervisor")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config")
}
