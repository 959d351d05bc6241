package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"oauthgate/internal/credstore"
	"oauthgate/pkg/oauth"
)

// Exit codes for CLI commands. These follow common conventions so
// scripts can distinguish authentication problems from general failures.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

var (
	configPath string
	debugLog   bool
)

// rootCmd represents the base command for the oauthgate application.
var rootCmd = &cobra.Command{
	Use:   "oauthgate",
	Short: "Transparent OAuth 2.0 authentication for HTTP requests",
	Long: `oauthgate interposes OAuth 2.0 authentication on outgoing HTTP
requests. Resources registered in its configuration are fetched with a
valid bearer token, running the authorization code flow interactively on
first use and refreshing tokens automatically afterwards. Tokens and
client secrets are kept in an encrypted local store.`,
	// SilenceUsage prevents Cobra from printing the usage message on
	// errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debugLog {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// SetVersion sets the version for the root command. Called from the
// main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "oauthgate version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the exit code based on the error type, giving
// scripts semantic exit codes for authentication failures.
func getExitCode(err error) int {
	if errors.Is(err, credstore.ErrSecretMissing) {
		return ExitCodeAuthRequired
	}

	switch {
	case errors.Is(err, oauth.ErrAuthenticationFailed),
		errors.Is(err, oauth.ErrAuthorizationDenied),
		errors.Is(err, oauth.ErrAuthorizationAbandoned),
		errors.Is(err, oauth.ErrStateMismatch),
		errors.Is(err, oauth.ErrTokenExchangeFailed):
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "configuration directory (default is $HOME/.config/oauthgate)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newAuthCmd())
}
