package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"oauthgate/pkg/oauth"
)

// newAuthStatusCmd creates the auth status command.
func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status for configured resources",
		Long: `Show the stored token status for every configured resource: whether
a token exists, when it expires, and whether a refresh token is
available.`,
		RunE: runAuthStatus,
	}
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	entries := e.registry.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), text.FgYellow.Sprint("No resources configured."))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Resource", "Client ID", "Status", "Refresh"})

	for _, entry := range entries {
		token, err := e.creds.GetToken(entry)
		if err != nil {
			return err
		}

		status := text.FgYellow.Sprint("not authenticated")
		refresh := "-"
		if token != nil {
			status = tokenStatus(token)
			if token.RefreshToken != "" {
				refresh = text.FgGreen.Sprint("yes")
			} else {
				refresh = text.FgYellow.Sprint("no")
			}
		}

		t.AppendRow(table.Row{entry.ResourceURLPrefix, entry.ClientID, status, refresh})
	}

	t.Render()
	return nil
}

func tokenStatus(token *oauth.Token) string {
	if token.ExpiresAt.IsZero() {
		return text.FgGreen.Sprint("authenticated")
	}
	if token.IsExpired(0) {
		return text.FgRed.Sprintf("expired %s ago", formatDuration(time.Since(token.ExpiresAt)))
	}
	return text.FgGreen.Sprintf("valid for %s", formatDuration(time.Until(token.ExpiresAt)))
}

// formatDuration renders a duration in the largest useful unit.
func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
