package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchange(t *testing.T) {
	var gotForm url.Values
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"T1","token_type":"Bearer","refresh_token":"R1","expires_in":3600,"scope":"profile:ro"}`)
	}))
	defer srv.Close()

	c := NewClient()
	token, err := c.Exchange(context.Background(), srv.URL, "ABC123", "https://cb.example/", "demo-client", NewRedactedSecret("hunter2"))
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "ABC123", gotForm.Get("code"))
	assert.Equal(t, "https://cb.example/", gotForm.Get("redirect_uri"))
	assert.Equal(t, "demo-client", gotForm.Get("client_id"))
	assert.Equal(t, "hunter2", gotForm.Get("client_secret"))

	assert.Equal(t, "T1", token.AccessToken)
	assert.Equal(t, "R1", token.RefreshToken)
	assert.Equal(t, "profile:ro", token.Scope)
	assert.False(t, token.ExpiresAt.IsZero(), "absolute expiry computed from expires_in")
}

func TestExchange_OmitsEmptyRedirectURI(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		fmt.Fprint(w, `{"access_token":"T1"}`)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Exchange(context.Background(), srv.URL, "ABC123", "", "demo-client", NewRedactedSecret("s"))
	require.NoError(t, err)

	_, present := gotForm["redirect_uri"]
	assert.False(t, present)
}

func TestRefresh(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		fmt.Fprint(w, `{"access_token":"T2","expires_in":60}`)
	}))
	defer srv.Close()

	c := NewClient()
	token, err := c.Refresh(context.Background(), srv.URL, "R1", "demo-client", NewRedactedSecret("s"))
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotForm.Get("grant_type"))
	assert.Equal(t, "R1", gotForm.Get("refresh_token"))
	assert.Equal(t, "T2", token.AccessToken)
	assert.Empty(t, token.RefreshToken)
}

func TestDoTokenRequest_ErrorBodyParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"code expired","error_uri":"https://as.example/errors/invalid_grant"}`)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Exchange(context.Background(), srv.URL, "stale", "", "demo-client", NewRedactedSecret("s"))
	require.Error(t, err)

	var reqErr *TokenRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Equal(t, "invalid_grant", reqErr.Code)
	assert.Equal(t, "code expired", reqErr.Description)
	assert.Equal(t, "https://as.example/errors/invalid_grant", reqErr.URI)
	assert.True(t, reqErr.InvalidGrant())
	assert.False(t, reqErr.Retryable())
}

func TestDoTokenRequest_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>upstream dead</html>")
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Refresh(context.Background(), srv.URL, "R1", "demo-client", NewRedactedSecret("s"))
	require.Error(t, err)

	var reqErr *TokenRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadGateway, reqErr.StatusCode)
	assert.Empty(t, reqErr.Code)
	assert.True(t, reqErr.Retryable())
}

func TestDoTokenRequest_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	c := NewClient()
	_, err := c.Exchange(context.Background(), endpoint, "code", "", "demo-client", NewRedactedSecret("s"))
	require.Error(t, err)

	var transient *TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestDoTokenRequest_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Exchange(context.Background(), srv.URL, "code", "", "demo-client", NewRedactedSecret("s"))
	assert.ErrorContains(t, err, "access_token")
}

func TestBuildAuthorizationURL(t *testing.T) {
	raw, err := BuildAuthorizationURL("https://as.example/authorize?audience=api", "demo-client", "https://cb.example/", "nonce123", "profile:ro")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "demo-client", q.Get("client_id"))
	assert.Equal(t, "https://cb.example/", q.Get("redirect_uri"))
	assert.Equal(t, "nonce123", q.Get("state"))
	assert.Equal(t, "profile:ro", q.Get("scope"))
	assert.Equal(t, "api", q.Get("audience"), "existing query parameters preserved")
}

func TestBuildAuthorizationURL_OptionalParamsOmitted(t *testing.T) {
	raw, err := BuildAuthorizationURL("https://as.example/authorize", "demo-client", "", "nonce123", "")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	_, hasRedirect := q["redirect_uri"]
	_, hasScope := q["scope"]
	assert.False(t, hasRedirect)
	assert.False(t, hasScope)
}
