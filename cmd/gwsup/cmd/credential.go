package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/config"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/credential"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Export or import an account's device and session",
	Long: `Move a logged-in account between hosts without scanning again.

A bundle carries the account's device.json and session.token. With --local
the files are read or written directly in the account directory, which
works while the supervisor is down; stop the account first.

Examples:
  gwsup credential export onebot:12345 > bundle.txt
  gwsup credential import onebot:12345 < bundle.txt
  gwsup credential import onebot:12345 --local "$(cat bundle.txt)"`,
}

var credentialExportCmd = &cobra.Command{
	Use:   "export <sid>",
	Short: "Print an account's credential bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialExport,
}

var credentialImportCmd = &cobra.Command{
	Use:   "import <sid> [bundle]",
	Short: "Replace an account's credentials with a bundle",
	Long:  `Import a bundle given as argument, or read it from stdin.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCredentialImport,
}

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialExportCmd)
	credentialCmd.AddCommand(credentialImportCmd)

	credentialCmd.PersistentFlags().Bool("local", false, "use the account directory instead of the supervisor API")
}

func runCredentialExport(cmd *cobra.Command, args []string) error {
	sid := args[0]
	local, _ := cmd.Flags().GetBool("local")

	var bundle string
	if local {
		dir, err := accountDir(sid)
		if err != nil {
			return err
		}
		bundle, err = credential.Export(dir)
		if err != nil {
			return err
		}
	} else {
		c, _, err := apiClient()
		if err != nil {
			return err
		}
		bundle, err = c.ExportCredential(cmd.Context(), sid)
		if err != nil {
			return explain(err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), bundle)
	return nil
}

func runCredentialImport(cmd *cobra.Command, args []string) error {
	sid := args[0]
	local, _ := cmd.Flags().GetBool("local")

	bundle, err := readBundle(args[1:], cmd.InOrStdin())
	if err != nil {
		return err
	}

	if local {
		dir, err := accountDir(sid)
		if err != nil {
			return err
		}
		if err := credential.Import(dir, bundle); err != nil {
			return err
		}
	} else {
		c, _, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.ImportCredential(cmd.Context(), sid, bundle); err != nil {
			return explain(err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported credentials for %s\n", sid)
	return nil
}

// readBundle takes the bundle from args, or from r when args is empty.
func readBundle(args []string, r io.Reader) (string, error) {
	var raw string
	if len(args) > 0 && args[0] != "-" {
		raw = args[0]
	} else {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read bundle: %w", err)
		}
		raw = string(data)
	}
	bundle := strings.TrimSpace(raw)
	if !credential.IsBundle(bundle) {
		return "", credential.ErrInvalidFormat
	}
	return bundle, nil
}

// accountDir resolves sid to its working directory under the configured
// root.
func accountDir(sid string) (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return accountDirIn(cfg, sid)
}

func accountDirIn(cfg *config.Config, sid string) (string, error) {
	acc, ok := cfg.FindAccount(sid)
	if !ok {
		return "", fmt.Errorf("unknown account %s", sid)
	}
	if filepath.Base(acc.SelfID) != acc.SelfID {
		return "", fmt.Errorf("account %s: self id %q is not a valid directory name", sid, acc.SelfID)
	}
	return filepath.Join(cfg.RootDir(), acc.SelfID), nil
}
