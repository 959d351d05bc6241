package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newAuthCmd creates the auth command group.
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage OAuth authentication",
		Long: `Manage OAuth authentication for configured resources.

Use the subcommands to log in ahead of time, inspect token status, or
clear stored credentials.`,
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthClearCmd())

	return cmd
}

// newAuthLoginCmd creates the auth login command: run the authorization
// code flow for a resource without issuing a request.
func newAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <url>",
		Short: "Run the authorization flow for a resource",
		Long: `Run the authorization code flow for the resource covering the given
URL and store the resulting tokens, so later requests need no
interaction.

Examples:
  oauthgate auth login https://api.example/`,
		Args: cobra.ExactArgs(1),
		RunE: runAuthLogin,
	}
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ts, err := e.transport.TokenSource(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	token, err := ts.Token()
	if err != nil {
		return err
	}

	if token.Expiry.IsZero() {
		fmt.Fprintln(cmd.OutOrStdout(), "Authenticated.")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Authenticated. Token expires %s.\n", token.Expiry.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}
