// Package prompt implements the interactive user interaction channel on
// a terminal: presenting authorization URLs, collecting pasted redirect
// URLs, and reading client secrets without echo.
package prompt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"oauthgate/internal/registry"
)

// ConsolePrompter asks the user on stdin/stdout. It implements both the
// flow.URLPrompter and credstore.SecretPrompter interfaces.
type ConsolePrompter struct {
	out io.Writer
}

// NewConsolePrompter creates a console prompter writing instructions to
// out.
func NewConsolePrompter(out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{out: out}
}

// PresentAuthorizationURL prints the authorization URL, then blocks
// until the user pastes the redirect URL their browser landed on.
// Ctrl+C and Ctrl+D abandon the flow.
func (p *ConsolePrompter) PresentAuthorizationURL(ctx context.Context, entry registry.Entry, authURL string) (string, error) {
	fmt.Fprintf(p.out, "\nAuthorization required for %s (client %s).\n", entry.ResourceURLPrefix, entry.ClientID)
	fmt.Fprintf(p.out, "Open this URL in your browser and approve the request:\n\n  %s\n\n", authURL)
	fmt.Fprintf(p.out, "After approving you will be redirected. Paste the full redirect URL below.\n")

	line, err := p.readLine(ctx, "redirect URL> ")
	if err != nil {
		return "", err
	}

	redirect := strings.TrimSpace(line)
	if redirect == "" {
		return "", fmt.Errorf("no redirect URL entered")
	}
	return redirect, nil
}

// PromptClientSecret reads the client secret for the entry without
// echoing it to the terminal.
func (p *ConsolePrompter) PromptClientSecret(ctx context.Context, entry registry.Entry) (string, error) {
	fmt.Fprintf(p.out, "\nClient secret required for client %s (%s).\n", entry.ClientID, entry.TokenEndpoint)

	secret, err := p.readPassword(ctx, "client secret> ")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(secret), nil
}

// readLine reads one line with readline, honoring ctx cancellation.
// Readline itself has no context support, so the read runs in a
// goroutine and the instance is closed on cancellation to unblock it.
func (p *ConsolePrompter) readLine(ctx context.Context, promptText string) (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptText,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := rl.Readline()
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		rl.Close()
		return "", ctx.Err()
	case res := <-ch:
		if res.err == readline.ErrInterrupt || res.err == io.EOF {
			return "", fmt.Errorf("prompt cancelled by user")
		}
		return res.line, res.err
	}
}

// readPassword reads one line without echo, honoring ctx cancellation.
func (p *ConsolePrompter) readPassword(ctx context.Context, promptText string) (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptText,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := rl.ReadPassword(promptText)
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		rl.Close()
		return "", ctx.Err()
	case res := <-ch:
		if res.err == readline.ErrInterrupt || res.err == io.EOF {
			return "", fmt.Errorf("prompt cancelled by user")
		}
		return string(res.line), res.err
	}
}
