package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"oauthgate/internal/credstore"
	"oauthgate/internal/registry"
	"oauthgate/pkg/oauth"
)

// RefreshManager runs the refresh-token grant for entries whose stored
// access token has expired or been rejected, serialized per entry.
type RefreshManager struct {
	client *oauth.Client
	creds  *credstore.Store
	logger *slog.Logger

	group singleflight.Group
}

// RefreshOption configures the refresh manager.
type RefreshOption func(*RefreshManager)

// WithRefreshLogger sets a custom logger.
func WithRefreshLogger(logger *slog.Logger) RefreshOption {
	return func(m *RefreshManager) {
		m.logger = logger
	}
}

// NewRefreshManager creates a refresh manager.
func NewRefreshManager(client *oauth.Client, creds *credstore.Store, opts ...RefreshOption) *RefreshManager {
	m := &RefreshManager{
		client: client,
		creds:  creds,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Refresh replaces the entry's token record using its refresh token.
//
// Error contract:
//   - oauth.ErrRefreshUnavailable: no refresh token is stored; the caller
//     must fall back to a full authorization flow.
//   - oauth.ErrRefreshRejected: the server rejected the grant. On
//     invalid_grant the stored record has been cleared. Fall back to a
//     full authorization flow; do not retry the refresh.
//   - *oauth.TransientError: network-level or 5xx failure; safe to retry
//     with backoff at the caller's discretion.
//
// Concurrent calls for the same entry share a single refresh.
func (m *RefreshManager) Refresh(ctx context.Context, entry registry.Entry) (*oauth.Token, error) {
	v, err, _ := m.group.Do(entry.ResourceURLPrefix, func() (interface{}, error) {
		return m.run(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth.Token), nil
}

func (m *RefreshManager) run(ctx context.Context, entry registry.Entry) (*oauth.Token, error) {
	current, err := m.creds.GetToken(entry)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, oauth.ErrRefreshUnavailable
	}

	secret, err := m.creds.GetClientSecret(ctx, entry)
	if err != nil {
		return nil, err
	}

	token, err := m.client.Refresh(ctx, entry.TokenEndpoint, current.RefreshToken, entry.ClientID, secret)
	if err != nil {
		return nil, m.classifyRefreshError(entry, err)
	}

	// Servers may omit the refresh token in the refresh response; the
	// previous one stays valid then (RFC 6749 §6).
	if token.RefreshToken == "" {
		token.RefreshToken = current.RefreshToken
	}

	if err := m.creds.PutToken(entry, token); err != nil {
		return nil, err
	}

	m.logger.Info("token refreshed",
		"resource", entry.ResourceURLPrefix,
		"expires_at", token.ExpiresAt)

	return token, nil
}

// classifyRefreshError maps token endpoint failures onto the refresh
// error contract.
func (m *RefreshManager) classifyRefreshError(entry registry.Entry, err error) error {
	var reqErr *oauth.TokenRequestError
	if !errors.As(err, &reqErr) {
		// Network-level failure; the client already wrapped it as a
		// TransientError.
		return fmt.Errorf("refreshing token: %w", err)
	}

	if reqErr.Retryable() {
		return &oauth.TransientError{Err: reqErr}
	}

	if reqErr.InvalidGrant() {
		// The refresh token is dead. Clear the record so the next
		// request starts a fresh authorization flow instead of replaying
		// a grant the server already refused.
		if clearErr := m.creds.ClearToken(entry); clearErr != nil {
			m.logger.Warn("failed to clear rejected token record",
				"resource", entry.ResourceURLPrefix,
				"error", clearErr.Error())
		}
		m.logger.Info("refresh token rejected, record cleared",
			"resource", entry.ResourceURLPrefix)
	}

	return fmt.Errorf("%w: %w", oauth.ErrRefreshRejected, reqErr)
}
