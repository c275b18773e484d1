package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/api"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the login state of every account",
	Long: `Ask the running supervisor for every account and its login state.

Examples:
  gwsup status
  gwsup status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "output as JSON")
}

// StatusOutput is the JSON form of gwsup status.
type StatusOutput struct {
	Health   *api.HealthResponse   `json:"health"`
	Accounts []api.AccountResponse `json:"accounts"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	c, _, err := apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	health, err := c.Health(ctx)
	if err != nil {
		return explain(err)
	}
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return explain(err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(StatusOutput{Health: health, Accounts: accounts})
	}

	styles := tui.PlainStyles()
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) && !tui.NoColorFromEnv() {
		styles = tui.DefaultStyles()
	}
	renderStatus(out, health, accounts, styles.Status)
	return nil
}

func renderStatus(w io.Writer, health *api.HealthResponse, accounts []api.AccountResponse, status func(login.Status) string) {
	fmt.Fprintf(w, "Supervisor %s  up %s  %d/%d running\n\n",
		health.RunID, health.Uptime, health.Running, health.Accounts)

	if len(accounts) == 0 {
		fmt.Fprintln(w, "No accounts configured.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SID\tMODE\tPROCESS\tSTATUS\tDETAIL")
	for _, a := range accounts {
		var st login.State
		if a.State != nil {
			st = *a.State
		}
		process := "stopped"
		switch {
		case !a.Enabled:
			process = "disabled"
		case a.Running:
			process = "running"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.SID, a.Protocol, process, status(st.Status), detail(st))
	}
	tw.Flush()
}

// detail picks the most useful extra field of a state for one table cell.
func detail(st login.State) string {
	switch {
	case st.Message != "":
		return st.Message
	case st.Link != "":
		return st.Link
	case st.Phone != "":
		return "phone " + st.Phone
	case st.Image != "":
		return fmt.Sprintf("image (%d bytes)", len(st.Image))
	default:
		return ""
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
