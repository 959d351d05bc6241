package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout is the default timeout for token endpoint requests.
const DefaultHTTPTimeout = 30 * time.Second

// Client talks to OAuth 2.0 token endpoints on behalf of a confidential
// client. It authenticates with client_secret_post: client_id and
// client_secret travel in the form-encoded request body.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures the token endpoint client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new token endpoint client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Exchange exchanges an authorization code for tokens
// (grant_type=authorization_code). redirectURI may be empty when the
// client's redirect URI is pre-registered with the server; it is omitted
// from the request in that case.
func (c *Client) Exchange(ctx context.Context, tokenEndpoint, code, redirectURI, clientID string, clientSecret RedactedSecret) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {clientID},
		"client_secret": {clientSecret.Value()},
	}
	if redirectURI != "" {
		data.Set("redirect_uri", redirectURI)
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// Refresh obtains a new access token using a refresh token
// (grant_type=refresh_token).
func (c *Client) Refresh(ctx context.Context, tokenEndpoint, refreshToken, clientID string, clientSecret RedactedSecret) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
		"client_secret": {clientSecret.Value()},
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// doTokenRequest performs a token endpoint request and classifies
// failures: network-level errors become *TransientError, non-2xx
// responses become *TokenRequestError with the §5.2 body parsed when the
// server sent one.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		reqErr := &TokenRequestError{StatusCode: resp.StatusCode}
		// Best effort: the error body is JSON per §5.2, but servers have
		// been seen returning HTML error pages. Status code alone is
		// enough to classify in that case.
		if err := json.Unmarshal(body, reqErr); err != nil {
			c.logger.Debug("token endpoint error body is not valid JSON",
				"status", resp.StatusCode)
		}
		c.logger.Debug("token request failed",
			"endpoint", tokenEndpoint,
			"status", resp.StatusCode,
			"error", reqErr.Code)
		return nil, reqErr
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	token.SetExpiresAtFromExpiresIn()

	c.logger.Debug("token request succeeded",
		"endpoint", tokenEndpoint,
		"expires_in", token.ExpiresIn,
		"has_refresh_token", token.RefreshToken != "")

	return &token, nil
}

// BuildAuthorizationURL constructs the authorization request URL for the
// Authorization Code Grant: response_type=code plus client_id, state and
// the optional redirect_uri and scope.
func BuildAuthorizationURL(authEndpoint, clientID, redirectURI, state, scope string) (string, error) {
	authURL, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("state", state)

	if redirectURI != "" {
		query.Set("redirect_uri", redirectURI)
	}
	if scope != "" {
		query.Set("scope", scope)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}
