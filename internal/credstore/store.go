package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"oauthgate/internal/registry"
	"oauthgate/pkg/oauth"
)

// ErrSecretMissing is returned when an entry's secret policy is "stored"
// but no secret exists in the backend.
var ErrSecretMissing = errors.New("credstore: client secret not found in store")

// SecretPrompter is the slice of the user interaction channel the store
// needs: a blocking request for the client secret of an entry.
// Implementations must honor ctx cancellation.
type SecretPrompter interface {
	PromptClientSecret(ctx context.Context, entry registry.Entry) (string, error)
}

// Store manages client secrets and token records, keyed by the
// authorization/token endpoint pair of each entry.
type Store struct {
	backend  Backend
	prompter SecretPrompter
	logger   *slog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a credential store over the given backend. prompter may be
// nil when every entry uses the stored secret policy.
func New(backend Backend, prompter SecretPrompter, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		prompter: prompter,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetClientSecret returns the client secret for the entry. A previously
// stored secret is returned as-is; otherwise, under the prompt policy,
// the user interaction channel is asked for it, the value is validated
// non-empty, persisted, and returned.
func (s *Store) GetClientSecret(ctx context.Context, entry registry.Entry) (oauth.RedactedSecret, error) {
	key := secretKey(entry)

	data, ok, err := s.backend.Get(key)
	if err != nil {
		return oauth.RedactedSecret{}, &StoreError{Op: "reading client secret", Err: err}
	}
	if ok {
		return oauth.NewRedactedSecret(string(data)), nil
	}

	if entry.SecretPolicy == registry.SecretPolicyStored {
		return oauth.RedactedSecret{}, fmt.Errorf("%w for client %s", ErrSecretMissing, entry.ClientID)
	}
	if s.prompter == nil {
		return oauth.RedactedSecret{}, errors.New("credstore: no secret prompter configured")
	}

	secret, err := s.prompter.PromptClientSecret(ctx, entry)
	if err != nil {
		return oauth.RedactedSecret{}, fmt.Errorf("requesting client secret: %w", err)
	}
	if secret == "" {
		return oauth.RedactedSecret{}, errors.New("credstore: client secret must not be empty")
	}

	if err := s.backend.Put(key, []byte(secret)); err != nil {
		return oauth.RedactedSecret{}, &StoreError{Op: "persisting client secret", Err: err}
	}

	s.logger.Debug("stored client secret",
		"client_id", entry.ClientID,
		"token_endpoint", entry.TokenEndpoint)

	return oauth.NewRedactedSecret(secret), nil
}

// GetToken returns the stored token record for the entry, or nil when
// none exists.
func (s *Store) GetToken(entry registry.Entry) (*oauth.Token, error) {
	data, ok, err := s.backend.Get(tokenKey(entry))
	if err != nil {
		return nil, &StoreError{Op: "reading token", Err: err}
	}
	if !ok {
		return nil, nil
	}

	var token oauth.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, &StoreError{Op: "decoding token", Err: err}
	}
	return &token, nil
}

// PutToken persists the token record for the entry, replacing any
// previous record.
func (s *Store) PutToken(entry registry.Entry, token *oauth.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return &StoreError{Op: "encoding token", Err: err}
	}

	if err := s.backend.Put(tokenKey(entry), data); err != nil {
		return &StoreError{Op: "persisting token", Err: err}
	}

	s.logger.Debug("stored token",
		"client_id", entry.ClientID,
		"token_endpoint", entry.TokenEndpoint,
		"expires_at", token.ExpiresAt,
		"has_refresh_token", token.RefreshToken != "")

	return nil
}

// ClearToken removes the stored token record for the entry.
func (s *Store) ClearToken(entry registry.Entry) error {
	if err := s.backend.Delete(tokenKey(entry)); err != nil {
		return &StoreError{Op: "clearing token", Err: err}
	}

	s.logger.Debug("cleared token",
		"client_id", entry.ClientID,
		"token_endpoint", entry.TokenEndpoint)

	return nil
}

// ClearClientSecret removes the stored client secret for the entry.
func (s *Store) ClearClientSecret(entry registry.Entry) error {
	if err := s.backend.Delete(secretKey(entry)); err != nil {
		return &StoreError{Op: "clearing client secret", Err: err}
	}
	return nil
}
