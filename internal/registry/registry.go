// Package registry holds the process-wide interposition table: the
// mapping from resource URL prefixes to the OAuth configuration used to
// authenticate requests under that prefix.
//
// The registry is an explicit, constructed object rather than package
// state; callers register entries at startup and inject the registry
// into the HTTP transport layer.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// ErrNotRegistered is returned by Lookup when no registered prefix
// matches the given URL.
var ErrNotRegistered = errors.New("registry: resource URL not registered")

// ConfigurationError reports an invalid entry at registration time.
// Registration errors are fatal: a misconfigured entry is rejected
// rather than silently ignored.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("registry: invalid %s: %s", e.Field, e.Reason)
}

// SecretPolicy controls how the client secret for an entry is obtained.
type SecretPolicy string

const (
	// SecretPolicyPrompt requests the secret over the user interaction
	// channel on first use and persists it.
	SecretPolicyPrompt SecretPolicy = "prompt"

	// SecretPolicyStored requires the secret to already exist in the
	// credential store; a missing secret is an error.
	SecretPolicyStored SecretPolicy = "stored"
)

// Entry is one interposition entry. Entries are immutable after
// registration and unique by ResourceURLPrefix.
type Entry struct {
	// ResourceURLPrefix selects the requests this entry applies to.
	// Lookup uses longest-prefix matching.
	ResourceURLPrefix string

	// ClientID is the OAuth client identifier.
	ClientID string

	// AuthorizationEndpoint is the absolute URL of the authorization
	// endpoint (RFC 6749 §3.1).
	AuthorizationEndpoint string

	// TokenEndpoint is the absolute URL of the token endpoint (§3.2).
	TokenEndpoint string

	// RedirectURI is the redirect URI included in authorization and token
	// requests. May be empty when pre-registered with the server.
	RedirectURI string

	// Scope is the requested scope.
	Scope string

	// RequireScope rejects registration when Scope is empty, for servers
	// that refuse scope-less authorization requests.
	RequireScope bool

	// SecretPolicy controls client secret acquisition.
	SecretPolicy SecretPolicy
}

// Validate checks the entry for registration.
func (e *Entry) Validate() error {
	if e.ResourceURLPrefix == "" {
		return &ConfigurationError{Field: "resource URL prefix", Reason: "must not be empty"}
	}
	if e.ClientID == "" {
		return &ConfigurationError{Field: "client ID", Reason: "must not be empty"}
	}
	if err := validateAbsoluteURL(e.AuthorizationEndpoint); err != nil {
		return &ConfigurationError{Field: "authorization endpoint", Reason: err.Error()}
	}
	if err := validateAbsoluteURL(e.TokenEndpoint); err != nil {
		return &ConfigurationError{Field: "token endpoint", Reason: err.Error()}
	}
	if e.RedirectURI != "" {
		if err := validateAbsoluteURL(e.RedirectURI); err != nil {
			return &ConfigurationError{Field: "redirect URI", Reason: err.Error()}
		}
	}
	if e.RequireScope && e.Scope == "" {
		return &ConfigurationError{Field: "scope", Reason: "must not be empty for this server"}
	}
	switch e.SecretPolicy {
	case SecretPolicyPrompt, SecretPolicyStored:
	case "":
		return &ConfigurationError{Field: "secret policy", Reason: "must be set"}
	default:
		return &ConfigurationError{Field: "secret policy", Reason: fmt.Sprintf("unknown policy %q", e.SecretPolicy)}
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

// Registry is a thread-safe interposition table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register inserts or replaces the entry for its resource URL prefix.
// Re-registration overwrites silently (last write wins); configuration
// is commonly re-evaluated at startup and on reload.
func (r *Registry) Register(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ResourceURLPrefix] = e
	return nil
}

// ReplaceAll atomically replaces the whole table with the given entries.
// All entries are validated before any change takes effect, so a bad
// reload leaves the previous table intact.
func (r *Registry) ReplaceAll(entries []Entry) error {
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
		next[e.ResourceURLPrefix] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = next
	return nil
}

// Lookup returns the entry whose resource URL prefix is the longest
// prefix of the given URL, or ErrNotRegistered if none matches.
func (r *Registry) Lookup(rawURL string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best  Entry
		found bool
	)
	for prefix, e := range r.entries {
		if strings.HasPrefix(rawURL, prefix) {
			if !found || len(prefix) > len(best.ResourceURLPrefix) {
				best = e
				found = true
			}
		}
	}

	if !found {
		return Entry{}, ErrNotRegistered
	}
	return best, nil
}

// Entries returns a snapshot of all registered entries, sorted by
// resource URL prefix for stable output.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResourceURLPrefix < out[j].ResourceURLPrefix
	})
	return out
}
