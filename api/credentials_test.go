package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenPath = "/api/v1/access_token"

func newTestResolver(srv *fakeServer, sink EventSink, cache TokenCache) *CredentialResolver {
	return &CredentialResolver{
		platform:   "reddit",
		tokenURL:   srv.URL + tokenPath,
		httpClient: newHTTPClient(srv.Client(), testUserAgent),
		cache:      cache,
		sink:       sink,
	}
}

func TestResolveWithoutCredentialsMakesNoCalls(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: respond(http.StatusOK, tokenJSON("never")),
	})
	recorder := &EventRecorder{}

	result := newTestResolver(srv, recorder, nil).Resolve(context.Background(), Credentials{ClientID: "  ", ClientSecret: ""})

	assert.False(t, result.Available())
	assert.NotEmpty(t, result.Reason)
	assert.Empty(t, srv.all())
	assert.Empty(t, recorder.Events())
}

func TestResolveConfidentialClient(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: respond(http.StatusOK, tokenJSON("tok123")),
	})

	result := newTestResolver(srv, nil, nil).Resolve(context.Background(), Credentials{ClientID: "app", ClientSecret: "shh"})

	require.True(t, result.Available())
	assert.Equal(t, "tok123", result.AccessToken)
	assert.Equal(t, "confidential_client", result.Strategy)

	calls := srv.requestsTo(tokenPath)
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "client_credentials", calls[0].Form.Get("grant_type"))
	assert.Equal(t, "read", calls[0].Form.Get("scope"))
	assert.Equal(t, testUserAgent, calls[0].Header.Get("User-Agent"))

	req := &http.Request{Header: calls[0].Header}
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "app", user)
	assert.Equal(t, "shh", pass)
}

func TestResolveFallsBackToInstalledClient(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: func(w http.ResponseWriter, r *http.Request) {
			if r.PostForm.Get("grant_type") == "client_credentials" {
				writeJSON(w, http.StatusUnauthorized, `{"message":"Unauthorized","error":401}`)
				return
			}
			writeJSON(w, http.StatusOK, tokenJSON("installed-token"))
		},
	})
	recorder := &EventRecorder{}

	result := newTestResolver(srv, recorder, nil).Resolve(context.Background(), Credentials{ClientID: "app", ClientSecret: "shh"})

	require.True(t, result.Available())
	assert.Equal(t, "installed-token", result.AccessToken)
	assert.Equal(t, "installed_client", result.Strategy)

	calls := srv.requestsTo(tokenPath)
	require.Len(t, calls, 2)
	assert.Equal(t, installedClientGrant, calls[1].Form.Get("grant_type"))
	assert.Equal(t, installedDeviceID, calls[1].Form.Get("device_id"))

	req := &http.Request{Header: calls[1].Header}
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "app", user)
	assert.Empty(t, pass)

	events := recorder.Events()
	require.Len(t, events, 2)
	assert.Equal(t, OutcomeFailure, events[0].Outcome)
	assert.Equal(t, http.StatusUnauthorized, events[0].StatusCode)
	assert.ErrorIs(t, events[0].Err, ErrUnauthorized)
	assert.Equal(t, OutcomeSuccess, events[1].Outcome)
}

func TestResolveIDOnlySkipsConfidentialClient(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: respond(http.StatusOK, tokenJSON("installed-only")),
	})
	recorder := &EventRecorder{}

	result := newTestResolver(srv, recorder, nil).Resolve(context.Background(), Credentials{ClientID: "app"})

	require.True(t, result.Available())
	assert.Equal(t, "installed_client", result.Strategy)
	require.Len(t, srv.requestsTo(tokenPath), 1)

	events := recorder.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "confidential_client", events[0].Strategy)
	assert.Equal(t, OutcomeSkipped, events[0].Outcome)
	assert.ErrorIs(t, events[0].Err, ErrNoCredentials)
}

func TestResolveAllStrategiesFail(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: respond(http.StatusForbidden, `{"error":"forbidden"}`),
	})
	recorder := &EventRecorder{}
	creds := Credentials{ClientID: "app", ClientSecret: "shh", Username: "gopher", Password: "hunter2"}

	result := newTestResolver(srv, recorder, nil).Resolve(context.Background(), creds)

	assert.False(t, result.Available())
	assert.Equal(t, "all token strategies failed", result.Reason)

	calls := srv.requestsTo(tokenPath)
	require.Len(t, calls, 3)
	assert.Equal(t, "client_credentials", calls[0].Form.Get("grant_type"))
	assert.Equal(t, installedClientGrant, calls[1].Form.Get("grant_type"))
	assert.Equal(t, "password", calls[2].Form.Get("grant_type"))
	assert.Equal(t, "gopher", calls[2].Form.Get("username"))
	assert.Equal(t, "hunter2", calls[2].Form.Get("password"))

	assert.Equal(t, []string{"confidential_client", "installed_client", "password"}, recorder.Strategies(StageToken))
	for _, e := range recorder.Events() {
		assert.Equal(t, OutcomeFailure, e.Outcome)
		assert.Equal(t, http.StatusForbidden, e.StatusCode)
	}
}

func TestResolveSendsPasswordUnmodified(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: func(w http.ResponseWriter, r *http.Request) {
			if r.PostForm.Get("grant_type") != "password" {
				writeJSON(w, http.StatusForbidden, `{"error":"forbidden"}`)
				return
			}
			writeJSON(w, http.StatusOK, tokenJSON("user-token"))
		},
	})
	creds := Credentials{ClientID: " app ", ClientSecret: "shh", Username: " gopher ", Password: "  hunter2 "}

	result := newTestResolver(srv, nil, nil).Resolve(context.Background(), creds)

	require.True(t, result.Available())
	assert.Equal(t, "password", result.Strategy)

	calls := srv.requestsTo(tokenPath)
	require.Len(t, calls, 3)
	assert.Equal(t, "gopher", calls[2].Form.Get("username"))
	assert.Equal(t, "  hunter2 ", calls[2].Form.Get("password"))
}

func TestResolveBlankPasswordSkipsPasswordGrant(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: respond(http.StatusForbidden, `{"error":"forbidden"}`),
	})
	recorder := &EventRecorder{}
	creds := Credentials{ClientID: "app", ClientSecret: "shh", Username: "gopher", Password: "   "}

	result := newTestResolver(srv, recorder, nil).Resolve(context.Background(), creds)

	assert.False(t, result.Available())
	assert.Len(t, srv.requestsTo(tokenPath), 2)

	events := recorder.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "password", events[2].Strategy)
	assert.Equal(t, OutcomeSkipped, events[2].Outcome)
}

func TestResolveMissingAccessTokenIsFailure(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: func(w http.ResponseWriter, r *http.Request) {
			if r.PostForm.Get("grant_type") == "client_credentials" {
				writeJSON(w, http.StatusOK, `{"token_type":"bearer"}`)
				return
			}
			writeJSON(w, http.StatusOK, tokenJSON("second"))
		},
	})

	result := newTestResolver(srv, nil, nil).Resolve(context.Background(), Credentials{ClientID: "app", ClientSecret: "shh"})

	require.True(t, result.Available())
	assert.Equal(t, "second", result.AccessToken)
	assert.Len(t, srv.requestsTo(tokenPath), 2)
}

func TestResolveReusesCachedToken(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: respond(http.StatusOK, tokenJSON("cached")),
	})
	resolver := newTestResolver(srv, nil, NewMemoryTokenCache())
	creds := Credentials{ClientID: "app", ClientSecret: "shh"}

	first := resolver.Resolve(context.Background(), creds)
	second := resolver.Resolve(context.Background(), creds)

	assert.Equal(t, "cached", first.AccessToken)
	assert.Equal(t, "cached", second.AccessToken)
	assert.Len(t, srv.requestsTo(tokenPath), 1)
}

func TestResolveWithoutCacheAlwaysReauthenticates(t *testing.T) {
	srv := newFakeServer(t, map[string]http.HandlerFunc{
		tokenPath: respond(http.StatusOK, tokenJSON("fresh")),
	})
	resolver := newTestResolver(srv, nil, nil)
	creds := Credentials{ClientID: "app", ClientSecret: "shh"}

	resolver.Resolve(context.Background(), creds)
	resolver.Resolve(context.Background(), creds)

	assert.Len(t, srv.requestsTo(tokenPath), 2)
}

func TestCredentialsEmpty(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		expected bool
	}{
		{name: "zero value", creds: Credentials{}, expected: true},
		{name: "whitespace only", creds: Credentials{ClientID: " ", Password: "\t"}, expected: true},
		{name: "client id", creds: Credentials{ClientID: "app"}, expected: false},
		{name: "username only", creds: Credentials{Username: "gopher"}, expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.creds.Empty())
		})
	}
}
