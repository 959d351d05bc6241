// Package transport implements the request interceptor: an
// http.RoundTripper that matches outgoing requests against the
// interposition registry and transparently attaches a valid bearer
// token, running the authorization flow or a refresh when needed.
//
// Callers use it exactly like an unauthenticated client:
//
//	client := transport.New(reg, creds, driver, refresher).Client()
//	resp, err := client.Post("https://api.example/query", ...)
//
// Requests to unregistered URLs pass through unmodified.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"oauthgate/internal/credstore"
	"oauthgate/internal/flow"
	"oauthgate/internal/registry"
	"oauthgate/pkg/oauth"
)

// Transport is the interposing http.RoundTripper.
type Transport struct {
	base         http.RoundTripper
	registry     *registry.Registry
	creds        *credstore.Store
	driver       *flow.Driver
	refresher    *flow.RefreshManager
	logger       *slog.Logger
	expiryMargin time.Duration
}

// Option configures the transport.
type Option func(*Transport)

// WithBase sets the underlying RoundTripper requests are forwarded to.
// Defaults to http.DefaultTransport.
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = base
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithExpiryMargin sets the margin applied when deciding whether a stored
// token is still usable.
func WithExpiryMargin(margin time.Duration) Option {
	return func(t *Transport) {
		t.expiryMargin = margin
	}
}

// New creates an interposing transport over the given engine components.
func New(reg *registry.Registry, creds *credstore.Store, driver *flow.Driver, refresher *flow.RefreshManager, opts ...Option) *Transport {
	t := &Transport{
		base:         http.DefaultTransport,
		registry:     reg,
		creds:        creds,
		driver:       driver,
		refresher:    refresher,
		logger:       slog.Default(),
		expiryMargin: oauth.DefaultExpiryMargin,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Client returns an http.Client using this transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper.
//
// Registered requests are sent with a valid bearer token, obtained via
// the authorization flow on first use or a refresh when the stored token
// has expired. A 401 answer triggers exactly one refresh-and-retry
// cycle; a second 401 surfaces as oauth.ErrAuthenticationFailed.
// Authorization and token errors propagate to the caller; a registered
// request is never sent unauthenticated.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	entry, err := t.registry.Lookup(req.URL.String())
	if err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			return t.base.RoundTrip(req)
		}
		return nil, err
	}

	ctx := req.Context()

	token, err := t.token(ctx, entry)
	if err != nil {
		return nil, err
	}

	resp, err := t.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	retry, retryErr := replayableClone(req)
	if retryErr != nil {
		// The body was consumed by the first attempt and cannot be
		// rebuilt, so the mandated refresh-and-retry cycle is
		// impossible. Hand the 401 to the caller.
		t.logger.Warn("cannot retry after 401: request body is not replayable",
			"url", req.URL.Redacted())
		return resp, nil
	}

	drainAndClose(resp)
	t.logger.Debug("401 received, refreshing and retrying once",
		"url", req.URL.Redacted())

	token, err = t.renew(ctx, entry)
	if err != nil {
		return nil, err
	}

	resp, err = t.send(retry, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drainAndClose(resp)
		return nil, fmt.Errorf("%w: %s", oauth.ErrAuthenticationFailed, req.URL.Redacted())
	}

	return resp, nil
}

// token returns a usable token record for the entry: the stored one when
// still valid, a refreshed one when expired, or the result of a full
// authorization flow when nothing is stored. Refreshes fall back to a
// full flow when the server rejected the refresh or none is possible.
func (t *Transport) token(ctx context.Context, entry registry.Entry) (*oauth.Token, error) {
	stored, err := t.creds.GetToken(entry)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return t.driver.Authorize(ctx, entry)
	}
	if !stored.IsExpired(t.expiryMargin) {
		return stored, nil
	}
	return t.renew(ctx, entry)
}

// renew refreshes the entry's token, falling back to a full
// authorization flow when no refresh is possible or the server rejected
// it. Transient errors and store errors propagate unchanged.
func (t *Transport) renew(ctx context.Context, entry registry.Entry) (*oauth.Token, error) {
	token, err := t.refresher.Refresh(ctx, entry)
	if err == nil {
		return token, nil
	}
	if errors.Is(err, oauth.ErrRefreshUnavailable) || errors.Is(err, oauth.ErrRefreshRejected) {
		t.logger.Debug("refresh not possible, falling back to authorization flow",
			"resource", entry.ResourceURLPrefix,
			"reason", err.Error())
		return t.driver.Authorize(ctx, entry)
	}
	return nil, err
}

// send forwards a clone of req carrying the bearer token. The original
// request is never mutated, per the RoundTripper contract.
func (t *Transport) send(req *http.Request, token *oauth.Token) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", token.AuthorizationHeader())
	return t.base.RoundTrip(r)
}

// replayableClone returns a clone of req with a fresh body for a retry.
func replayableClone(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r.Body = body
	return r, nil
}

// drainAndClose releases a response we will not hand to the caller so
// the underlying connection can be reused.
func drainAndClose(resp *http.Response) {
	if resp.Body != nil {
		resp.Body.Close()
	}
}

// TokenSource returns an oauth2.TokenSource yielding engine-managed
// tokens for the entry covering rawURL, for interoperability with code
// written against golang.org/x/oauth2.
func (t *Transport) TokenSource(ctx context.Context, rawURL string) (oauth2.TokenSource, error) {
	entry, err := t.registry.Lookup(rawURL)
	if err != nil {
		return nil, err
	}
	return &tokenSource{transport: t, ctx: ctx, entry: entry}, nil
}

type tokenSource struct {
	transport *Transport
	ctx       context.Context
	entry     registry.Entry
}

// Token implements oauth2.TokenSource.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	token, err := s.transport.token(s.ctx, s.entry)
	if err != nil {
		return nil, err
	}
	return token.ToOAuth2Token(), nil
}
