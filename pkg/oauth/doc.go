// Package oauth implements the OAuth 2.0 protocol layer for the
// Authorization Code Grant with a confidential client (RFC 6749 §4.1)
// and the refresh-token grant (RFC 6749 §6).
//
// This package is intentionally transport-agnostic: it knows how to talk
// to a token endpoint and how to represent tokens and protocol errors,
// but nothing about request interception, credential persistence, or the
// user interaction needed to obtain an authorization code. Those concerns
// live in internal/transport, internal/credstore, and internal/flow.
//
// # Error taxonomy
//
// Token endpoint failures are reported as typed errors so callers can
// distinguish a server that rejected the grant from a network blip:
//
//   - *TokenRequestError: the endpoint answered with a non-2xx status.
//     The RFC 6749 §5.2 error body (error, error_description, error_uri)
//     is parsed when present.
//   - *TransientError: the request never produced an HTTP response
//     (connection failure, timeout). Safe to retry with backoff.
//
// Flow-level sentinels (ErrStateMismatch, ErrAuthorizationDenied, ...)
// are defined here as well so every layer of the engine shares one
// vocabulary.
package oauth
