package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStateMismatch is returned when the state parameter in a redirect
	// URL does not exactly match the nonce issued for the current flow.
	// It guards against CSRF and stale or duplicated redirects.
	ErrStateMismatch = errors.New("oauth: authorization state mismatch")

	// ErrAuthorizationDenied is returned when the authorization server
	// redirected back with an error parameter instead of a code.
	ErrAuthorizationDenied = errors.New("oauth: authorization denied")

	// ErrAuthorizationAbandoned is returned to all waiters when the user
	// abandons the interactive authorization step.
	ErrAuthorizationAbandoned = errors.New("oauth: authorization abandoned")

	// ErrTokenExchangeFailed is returned when exchanging an authorization
	// code for tokens fails. The server's §5.2 error body, when present,
	// is carried by a wrapped *TokenRequestError.
	ErrTokenExchangeFailed = errors.New("oauth: token exchange failed")

	// ErrRefreshUnavailable is returned when a refresh is requested but no
	// refresh token is stored. Callers fall back to a full authorization
	// flow.
	ErrRefreshUnavailable = errors.New("oauth: no refresh token available")

	// ErrRefreshRejected is returned when the token endpoint rejected the
	// refresh grant. The stored token record has been cleared; callers
	// fall back to a full authorization flow.
	ErrRefreshRejected = errors.New("oauth: refresh rejected")

	// ErrAuthenticationFailed is returned when a request still receives
	// 401 after one refresh-and-retry cycle. It is not retried further.
	ErrAuthenticationFailed = errors.New("oauth: authentication failed after retry")
)

// errorInvalidGrant is the RFC 6749 §5.2 error code indicating that the
// presented grant (here: the refresh token) is invalid, expired or revoked.
const errorInvalidGrant = "invalid_grant"

// TokenRequestError is a non-2xx answer from the token endpoint. Code,
// Description and URI hold the parsed RFC 6749 §5.2 error body when the
// server sent one.
type TokenRequestError struct {
	StatusCode  int
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

// Error implements the error interface.
func (e *TokenRequestError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("oauth: token request failed with status %d", e.StatusCode)
	}
	if e.Description == "" {
		return fmt.Sprintf("oauth: token request failed with status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("oauth: token request failed with status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// InvalidGrant reports whether the server rejected the grant itself
// (error code "invalid_grant"). A refresh failing this way must not be
// retried; the stored refresh token is dead.
func (e *TokenRequestError) InvalidGrant() bool {
	return e.Code == errorInvalidGrant
}

// Retryable reports whether the failure looks transient on the server
// side (5xx). Client errors (4xx) mean the request or the credentials are
// wrong and will not improve on retry.
func (e *TokenRequestError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// TransientError is a network-level failure talking to the token
// endpoint: the request never produced an HTTP response. It is safe to
// retry with backoff at the caller's discretion.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return "oauth: transient error: " + e.Err.Error()
}

// Unwrap returns the underlying network error.
func (e *TransientError) Unwrap() error {
	return e.Err
}
