// Package flow runs the interactive parts of the Authorization Code
// Grant: driving a user through steps A-D of RFC 6749 §4.1 and refreshing
// tokens via §6.
//
// Both the authorization flow and the refresh are serialized per entry
// with singleflight: N concurrent requests against the same
// unauthenticated entry produce exactly one authorization prompt, and
// every waiter receives the result of that one flow.
package flow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"oauthgate/internal/credstore"
	"oauthgate/internal/registry"
	"oauthgate/pkg/oauth"
)

// URLPrompter is the slice of the user interaction channel the driver
// needs: present an authorization URL, block until the user pastes back
// the redirect URL the authorization server sent them to.
//
// Implementations must honor ctx cancellation and return an error when
// the user abandons the prompt; the driver maps any error here to an
// abandoned flow.
type URLPrompter interface {
	PresentAuthorizationURL(ctx context.Context, entry registry.Entry, authURL string) (redirectURL string, err error)
}

// flowState tracks where a single authorization flow is in its lifecycle.
// It exists for logging and tests; the transitions themselves are the
// sequential steps of run.
type flowState int

const (
	stateIdle flowState = iota
	stateRequestIssued
	stateCodeReceived
	stateTokenExchanged
	stateAbandoned
)

// String implements fmt.Stringer.
func (s flowState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRequestIssued:
		return "request_issued"
	case stateCodeReceived:
		return "code_received"
	case stateTokenExchanged:
		return "token_exchanged"
	case stateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// requestState is the per-flow authorization request state. It exists
// only for the duration of one in-flight flow and is discarded once the
// code exchange succeeds or the flow is abandoned, preventing
// cross-request code/state confusion.
type requestState struct {
	flowID      string
	nonce       string
	redirectURI string
	entry       registry.Entry
	state       flowState
}

// Driver runs authorization code flows, one at a time per entry.
type Driver struct {
	client   *oauth.Client
	creds    *credstore.Store
	prompter URLPrompter
	logger   *slog.Logger

	// group deduplicates concurrent flows per entry prefix.
	group singleflight.Group
}

// DriverOption configures the driver.
type DriverOption func(*Driver)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// NewDriver creates an authorization flow driver.
func NewDriver(client *oauth.Client, creds *credstore.Store, prompter URLPrompter, opts ...DriverOption) *Driver {
	d := &Driver{
		client:   client,
		creds:    creds,
		prompter: prompter,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Authorize obtains a fresh token record for the entry by running the
// full authorization code flow, persisting the result. Concurrent calls
// for the same entry share a single flow: only the first caller's flow
// presents a prompt, and all callers receive its outcome.
func (d *Driver) Authorize(ctx context.Context, entry registry.Entry) (*oauth.Token, error) {
	// Waiters joining an in-flight flow inherit its outcome, including
	// its lifetime: the first caller's context governs the prompt.
	v, err, shared := d.group.Do(entry.ResourceURLPrefix, func() (interface{}, error) {
		return d.run(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		d.logger.Debug("joined in-flight authorization flow",
			"resource", entry.ResourceURLPrefix)
	}

	return v.(*oauth.Token), nil
}

// run executes one authorization flow: Idle -> RequestIssued ->
// CodeReceived -> TokenExchanged, or -> Abandoned on any failure.
func (d *Driver) run(ctx context.Context, entry registry.Entry) (*oauth.Token, error) {
	st := &requestState{
		flowID:      uuid.NewString(),
		redirectURI: entry.RedirectURI,
		entry:       entry,
		state:       stateIdle,
	}

	// The secret is fetched before the user is sent to the authorization
	// server, so a missing or unobtainable secret fails the flow before
	// any browser interaction.
	secret, err := d.creds.GetClientSecret(ctx, entry)
	if err != nil {
		return nil, err
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("generating state nonce: %w", err)
	}
	st.nonce = nonce

	authURL, err := oauth.BuildAuthorizationURL(
		entry.AuthorizationEndpoint, entry.ClientID, entry.RedirectURI, nonce, entry.Scope)
	if err != nil {
		return nil, err
	}

	st.state = stateRequestIssued
	d.logger.Info("authorization flow started",
		"flow_id", st.flowID,
		"resource", entry.ResourceURLPrefix,
		"client_id", entry.ClientID)

	redirectURL, err := d.prompter.PresentAuthorizationURL(ctx, entry, authURL)
	if err != nil {
		st.state = stateAbandoned
		d.logger.Warn("authorization flow abandoned",
			"flow_id", st.flowID,
			"state", st.state.String(),
			"error", err.Error())
		return nil, fmt.Errorf("%w: %v", oauth.ErrAuthorizationAbandoned, err)
	}

	code, err := parseRedirect(redirectURL, st.nonce)
	if err != nil {
		st.state = stateAbandoned
		return nil, err
	}
	st.state = stateCodeReceived

	token, err := d.client.Exchange(ctx, entry.TokenEndpoint, code, entry.RedirectURI, entry.ClientID, secret)
	if err != nil {
		st.state = stateAbandoned
		d.logger.Warn("token exchange failed",
			"flow_id", st.flowID,
			"resource", entry.ResourceURLPrefix,
			"error", err.Error())
		return nil, fmt.Errorf("%w: %w", oauth.ErrTokenExchangeFailed, err)
	}

	if err := d.creds.PutToken(entry, token); err != nil {
		st.state = stateAbandoned
		return nil, err
	}

	st.state = stateTokenExchanged
	d.logger.Info("authorization flow completed",
		"flow_id", st.flowID,
		"resource", entry.ResourceURLPrefix,
		"expires_at", token.ExpiresAt)

	return token, nil
}

// parseRedirect extracts the authorization code from a pasted redirect
// URL, enforcing the state check.
func parseRedirect(redirectURL, nonce string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	q := u.Query()

	if errCode := q.Get("error"); errCode != "" {
		if desc := q.Get("error_description"); desc != "" {
			return "", fmt.Errorf("%w: %s: %s", oauth.ErrAuthorizationDenied, errCode, desc)
		}
		return "", fmt.Errorf("%w: %s", oauth.ErrAuthorizationDenied, errCode)
	}

	// Exact equality with the issued nonce. Anything else is a forged,
	// stale or duplicated redirect.
	if q.Get("state") != nonce {
		return "", oauth.ErrStateMismatch
	}

	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect URL carries no authorization code")
	}

	return code, nil
}

// newNonce returns a cryptographically random state nonce.
func newNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
