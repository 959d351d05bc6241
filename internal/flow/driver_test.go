package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oauthgate/internal/credstore"
	"oauthgate/internal/registry"
	"oauthgate/pkg/oauth"
)

// prompterFunc adapts a function to the URLPrompter interface.
type prompterFunc func(ctx context.Context, entry registry.Entry, authURL string) (string, error)

func (f prompterFunc) PresentAuthorizationURL(ctx context.Context, entry registry.Entry, authURL string) (string, error) {
	return f(ctx, entry, authURL)
}

// echoStatePrompter simulates a user who authorizes successfully: it
// parses the state out of the presented URL and pastes back a redirect
// URL carrying the given code and that state.
func echoStatePrompter(code string, presented *atomic.Int32) prompterFunc {
	return func(_ context.Context, _ registry.Entry, authURL string) (string, error) {
		if presented != nil {
			presented.Add(1)
		}
		u, err := url.Parse(authURL)
		if err != nil {
			return "", err
		}
		state := u.Query().Get("state")
		return fmt.Sprintf("https://cb.example/?code=%s&state=%s", code, state), nil
	}
}

// tokenEndpoint serves a token endpoint that records the last form it
// received and answers with the given handler.
func tokenEndpoint(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *url.Values) {
	t.Helper()
	var mu sync.Mutex
	lastForm := &url.Values{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		*lastForm = r.PostForm
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, lastForm
}

func tokenOK(token oauth.Token) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(token)
	}
}

func flowEntry(tokenURL string) registry.Entry {
	return registry.Entry{
		ResourceURLPrefix:     "https://api.example/",
		ClientID:              "demo-client",
		AuthorizationEndpoint: "https://auth.example/authorize",
		TokenEndpoint:         tokenURL,
		RedirectURI:           "https://cb.example/",
		Scope:                 "profile:ro",
		SecretPolicy:          registry.SecretPolicyPrompt,
	}
}

func newTestStore(secret string) *credstore.Store {
	return credstore.New(credstore.NewMemoryBackend(), staticSecret(secret))
}

// staticSecret implements credstore.SecretPrompter.
type staticSecret string

func (s staticSecret) PromptClientSecret(context.Context, registry.Entry) (string, error) {
	return string(s), nil
}

func TestAuthorize_HappyPath(t *testing.T) {
	srv, lastForm := tokenEndpoint(t, tokenOK(oauth.Token{
		AccessToken:  "T1",
		TokenType:    "Bearer",
		RefreshToken: "R1",
		ExpiresIn:    3600,
	}))
	entry := flowEntry(srv.URL + "/token")
	creds := newTestStore("hunter2")

	var presented atomic.Int32
	d := NewDriver(oauth.NewClient(), creds, echoStatePrompter("ABC123", &presented))

	token, err := d.Authorize(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, "T1", token.AccessToken)
	assert.Equal(t, "R1", token.RefreshToken)
	assert.False(t, token.ExpiresAt.IsZero())
	assert.Equal(t, int32(1), presented.Load())

	// Code exchange carried the right grant.
	assert.Equal(t, "authorization_code", lastForm.Get("grant_type"))
	assert.Equal(t, "ABC123", lastForm.Get("code"))
	assert.Equal(t, "demo-client", lastForm.Get("client_id"))
	assert.Equal(t, "hunter2", lastForm.Get("client_secret"))
	assert.Equal(t, "https://cb.example/", lastForm.Get("redirect_uri"))

	// The token record was persisted.
	stored, err := creds.GetToken(entry)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "T1", stored.AccessToken)
}

func TestAuthorize_AuthorizationURLParameters(t *testing.T) {
	srv, _ := tokenEndpoint(t, tokenOK(oauth.Token{AccessToken: "T1"}))
	entry := flowEntry(srv.URL + "/token")

	var captured string
	d := NewDriver(oauth.NewClient(), newTestStore("s"), prompterFunc(
		func(_ context.Context, _ registry.Entry, authURL string) (string, error) {
			captured = authURL
			u, _ := url.Parse(authURL)
			return "https://cb.example/?code=C&state=" + u.Query().Get("state"), nil
		}))

	_, err := d.Authorize(context.Background(), entry)
	require.NoError(t, err)

	u, err := url.Parse(captured)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "demo-client", q.Get("client_id"))
	assert.Equal(t, "profile:ro", q.Get("scope"))
	assert.Contains(t, captured, "scope=profile%3Aro")
	assert.NotEmpty(t, q.Get("state"))
	assert.Equal(t, "https://cb.example/", q.Get("redirect_uri"))
}

func TestAuthorize_StateMismatch(t *testing.T) {
	srv, _ := tokenEndpoint(t, tokenOK(oauth.Token{AccessToken: "T1"}))
	entry := flowEntry(srv.URL + "/token")
	creds := newTestStore("s")

	d := NewDriver(oauth.NewClient(), creds, prompterFunc(
		func(context.Context, registry.Entry, string) (string, error) {
			return "https://cb.example/?code=ABC123&state=forged", nil
		}))

	_, err := d.Authorize(context.Background(), entry)
	assert.ErrorIs(t, err, oauth.ErrStateMismatch)

	// No token record was written.
	stored, err := creds.GetToken(entry)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestAuthorize_Denied(t *testing.T) {
	srv, _ := tokenEndpoint(t, tokenOK(oauth.Token{AccessToken: "T1"}))
	entry := flowEntry(srv.URL + "/token")

	d := NewDriver(oauth.NewClient(), newTestStore("s"), prompterFunc(
		func(context.Context, registry.Entry, string) (string, error) {
			return "https://cb.example/?error=access_denied&error_description=user+said+no", nil
		}))

	_, err := d.Authorize(context.Background(), entry)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationDenied)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestAuthorize_Abandoned(t *testing.T) {
	srv, _ := tokenEndpoint(t, tokenOK(oauth.Token{AccessToken: "T1"}))
	entry := flowEntry(srv.URL + "/token")

	d := NewDriver(oauth.NewClient(), newTestStore("s"), prompterFunc(
		func(context.Context, registry.Entry, string) (string, error) {
			return "", errors.New("prompt closed")
		}))

	_, err := d.Authorize(context.Background(), entry)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationAbandoned)
}

func TestAuthorize_ExchangeFailure(t *testing.T) {
	srv, _ := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_request","error_description":"bad code"}`)
	})
	entry := flowEntry(srv.URL + "/token")
	creds := newTestStore("s")

	d := NewDriver(oauth.NewClient(), creds, echoStatePrompter("ABC123", nil))

	_, err := d.Authorize(context.Background(), entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, oauth.ErrTokenExchangeFailed)

	var reqErr *oauth.TokenRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "invalid_request", reqErr.Code)
	assert.Equal(t, "bad code", reqErr.Description)

	stored, err := creds.GetToken(entry)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestAuthorize_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	var presented atomic.Int32

	srv, _ := tokenEndpoint(t, tokenOK(oauth.Token{AccessToken: "T1", ExpiresIn: 3600}))
	entry := flowEntry(srv.URL + "/token")

	d := NewDriver(oauth.NewClient(), newTestStore("s"), prompterFunc(
		func(_ context.Context, _ registry.Entry, authURL string) (string, error) {
			presented.Add(1)
			<-release // hold the flow open so all callers pile up on it
			u, _ := url.Parse(authURL)
			return "https://cb.example/?code=C&state=" + u.Query().Get("state"), nil
		}))

	const n = 8
	var wg sync.WaitGroup
	results := make([]*oauth.Token, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.Authorize(context.Background(), entry)
		}(i)
	}

	// Give all goroutines time to join the in-flight flow, then let the
	// single prompt complete.
	for presented.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), presented.Load(), "exactly one authorization prompt for N concurrent callers")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "T1", results[i].AccessToken)
	}
}
