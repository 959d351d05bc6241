package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the margin applied when checking token expiry.
// It accounts for clock skew between client and authorization server and
// for the time a request spends in flight.
const DefaultExpiryMargin = 30 * time.Second

// Token is one token record obtained from a token endpoint.
//
// The JSON tags match the RFC 6749 §5.1 response fields so a successful
// token response unmarshals directly into this type. ExpiresAt is computed
// client-side from expires_in and is what expiry checks use; a token
// without an expiry is treated as non-expiring but remains subject to
// server-side rejection.
type Token struct {
	// AccessToken is the bearer credential presented to the resource server.
	AccessToken string `json:"access_token"`

	// TokenType is the token type, typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens without
	// re-involving the user (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds as reported by the server.
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the absolute expiry computed from ExpiresIn at the time
	// the token response was received.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s).
	Scope string `json:"scope,omitempty"`
}

// SetExpiresAtFromExpiresIn computes the absolute expiry from ExpiresIn.
// It is a no-op when ExpiresIn is zero or ExpiresAt is already set.
func (t *Token) SetExpiresAtFromExpiresIn() {
	if t.ExpiresIn > 0 && t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// IsExpired reports whether the token has expired or will expire within
// the given margin. Tokens without an expiry never expire client-side.
func (t *Token) IsExpired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// Type returns the token type, defaulting to "Bearer" when the server
// omitted it. The comparison downstream is case-insensitive per RFC 6750,
// but the canonical spelling is used when building headers.
func (t *Token) Type() string {
	if t.TokenType == "" {
		return "Bearer"
	}
	return t.TokenType
}

// AuthorizationHeader returns the value for the Authorization request
// header, e.g. "Bearer mF_9.B5f-4.1JqM".
func (t *Token) AuthorizationHeader() string {
	return t.Type() + " " + t.AccessToken
}

// ToOAuth2Token converts the token to a golang.org/x/oauth2 token for
// interoperability with code written against that package.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}
