package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <sid>",
	Short: "Start an account's gateway",
	Long: `Spawn the gateway of a known account. A running gateway is replaced.
The command returns once the gateway is spawned; follow the login with
"gwsup status" or "gwsup watch".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.Start(cmd.Context(), args[0]); err != nil {
			return explain(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started %s\n", args[0])
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <sid>",
	Short: "Stop an account's gateway",
	Long:  `Kill the gateway of an account. Its directory and credentials are kept.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.Stop(cmd.Context(), args[0]); err != nil {
			return explain(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <sid> <text>...",
	Short: "Answer a gateway prompt",
	Long: `Send one line of input to an account's gateway, for example an SMS
code, a captcha answer or a verification method choice.

Examples:
  gwsup write onebot:12345 1          # pick the first verification method
  gwsup write onebot:12345 483920     # SMS code`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.Write(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
			return explain(err)
		}
		return nil
	},
}

var ticketCmd = &cobra.Command{
	Use:   "ticket <sid> <ticket>",
	Short: "Submit a slider captcha ticket",
	Long: `Hand a slider ticket to a gateway that waits for one. Use this when the
captcha was solved outside the supervisor's captcha page.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ticketPath, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.Ticket(cmd.Context(), ticketPath, args[0], args[1]); err != nil {
			return explain(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ticket sent to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(ticketCmd)
}
