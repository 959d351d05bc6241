package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearSecret bool

// newAuthClearCmd creates the auth clear command.
func newAuthClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <url>",
		Short: "Clear stored credentials for a resource",
		Long: `Clear the stored token record for the resource covering the given
URL. With --secret the stored client secret is removed as well, forcing
a new prompt on the next authorization.

Examples:
  oauthgate auth clear https://api.example/
  oauthgate auth clear --secret https://api.example/`,
		Args: cobra.ExactArgs(1),
		RunE: runAuthClear,
	}

	cmd.Flags().BoolVar(&clearSecret, "secret", false, "also clear the stored client secret")

	return cmd
}

func runAuthClear(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	entry, err := e.registry.Lookup(args[0])
	if err != nil {
		return err
	}

	if err := e.creds.ClearToken(entry); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared token for %s.\n", entry.ResourceURLPrefix)

	if clearSecret {
		if err := e.creds.ClearClientSecret(entry); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared client secret for client %s.\n", entry.ClientID)
	}

	return nil
}
