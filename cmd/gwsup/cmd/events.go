package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/api"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/db"
)

var eventsCmd = &cobra.Command{
	Use:   "events <sid>",
	Short: "Show an account's status history and gateway runs",
	Long: `Print the journal of an account: its recent status transitions and the
gateway processes it ran. With --local the journal database is read
directly, which works while the supervisor is down.

Examples:
  gwsup events onebot:12345
  gwsup events onebot:12345 --limit 200 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Int("limit", 50, "number of events and runs to show")
	eventsCmd.Flags().Bool("json", false, "output as JSON")
	eventsCmd.Flags().Bool("local", false, "read the journal database instead of the supervisor API")
}

func runEvents(cmd *cobra.Command, args []string) error {
	sid := args[0]
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	local, _ := cmd.Flags().GetBool("local")

	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	var (
		resp *api.EventsResponse
		err  error
	)
	if local {
		resp, err = localEvents(sid, limit)
	} else {
		c, _, cerr := apiClient()
		if cerr != nil {
			return cerr
		}
		resp, err = c.Events(cmd.Context(), sid, limit)
		err = explain(err)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	renderEvents(out, resp)
	return nil
}

func localEvents(sid string, limit int) (*api.EventsResponse, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.JournalPath()
	if path == "" {
		return nil, errors.New("journal is disabled in the config")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	journal, err := db.OpenAt(path)
	if err != nil {
		return nil, err
	}
	defer journal.Close()

	events, err := journal.RecentEvents(sid, limit)
	if err != nil {
		return nil, err
	}
	runs, err := journal.RecentRuns(sid, limit)
	if err != nil {
		return nil, err
	}
	return &api.EventsResponse{SID: sid, Events: events, Runs: runs}, nil
}

func renderEvents(w io.Writer, resp *api.EventsResponse) {
	fmt.Fprintf(w, "Status history of %s\n", resp.SID)
	if len(resp.Events) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, e := range resp.Events {
			from := e.From
			if from == "" {
				from = "-"
			}
			fmt.Fprintf(tw, "  %s\t%s -> %s\t%s\n", formatTime(e.Timestamp), from, e.To, e.Message)
		}
		tw.Flush()
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Gateway runs")
	if len(resp.Runs) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  STARTED\tPID\tEXIT\tOUTCOME")
	for _, r := range resp.Runs {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprintf("%d", *r.ExitCode)
		}
		outcome := r.Outcome
		if r.EndedAt == nil {
			outcome = "running"
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\n", formatTime(r.StartedAt), r.PID, exit, outcome)
	}
	tw.Flush()
}
