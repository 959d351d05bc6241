// Package credstore persists client secrets and token records for
// registered resources.
//
// Persistence goes through a pluggable Backend with a plain key/value
// contract; the engine stays agnostic of where credentials live. The
// shipped backends are an encrypted bbolt database for production use
// and an in-memory map for tests. Keys are derived from the authorization
// and token endpoint pair, so the same authorization server shares
// credentials across resource prefixes that point at it.
package credstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"oauthgate/internal/registry"
)

// Backend is the key/value contract a credential storage backend
// presents. Implementations must be safe for concurrent use and must
// make Put atomic with respect to concurrent Gets: a reader never
// observes a partially written value.
type Backend interface {
	// Get returns the value for key, with ok=false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)

	// Put stores the value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases backend resources.
	Close() error
}

// StoreError is a persistence failure. It is fatal for the operation in
// progress: the engine never proceeds as if authenticated when a
// credential read or write failed.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("credstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// credentialKey returns the stable identifier for an entry's credentials,
// derived from the authorization and token endpoint pair. The SHA-256
// digest keeps keys filesystem- and bucket-safe regardless of URL
// contents.
func credentialKey(e registry.Entry) string {
	h := sha256.Sum256([]byte(e.AuthorizationEndpoint + "\x00" + e.TokenEndpoint))
	return hex.EncodeToString(h[:16])
}

func secretKey(e registry.Entry) string {
	return "secret/" + credentialKey(e)
}

func tokenKey(e registry.Entry) string {
	return "token/" + credentialKey(e)
}
