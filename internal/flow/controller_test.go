package flow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/dgellow/oauth-relay/internal/config"
	"github.com/dgellow/oauth-relay/internal/redirect"
	"github.com/dgellow/oauth-relay/internal/state"
	"github.com/dgellow/oauth-relay/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const relayBase = "http://relay.example.com"

func testConfig(tokenURL string) config.Config {
	return config.Config{
		ClientID:         "relay-client",
		ClientSecret:     config.Secret("relay-secret"),
		AuthorizationURL: "https://provider.example.com/oauth/authorize",
		TokenURL:         tokenURL,
		InitPath:         "/steel/oauth",
		CallbackPath:     "/steel/oauth/callback",
	}
}

// tokenServer fakes a provider token endpoint and records the last form.
type tokenServer struct {
	*httptest.Server
	mu       sync.Mutex
	lastForm url.Values
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		ts.mu.Lock()
		ts.lastForm = r.PostForm
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) form() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm
}

func newController(ts *tokenServer) *Controller {
	var client *http.Client
	if ts != nil {
		client = ts.Client()
	}
	return NewController(redirect.NewBuilder(false), token.NewClient(client, nil), nil)
}

func encodedState(t *testing.T, port uint16) string {
	t.Helper()
	s, err := state.New(port)
	require.NoError(t, err)
	encoded, err := state.Encode(s)
	require.NoError(t, err)
	return encoded
}

func TestStart_MissingLocalPort(t *testing.T) {
	for _, target := range []string{
		"/steel/oauth",
		"/steel/oauth?scopes=read",
		"/steel/oauth?local_port=",
		"/steel/oauth?local_port=abc",
		"/steel/oauth?local_port=70000",
		"/steel/oauth?local_port=-1",
	} {
		t.Run(target, func(t *testing.T) {
			c := newController(nil)
			req := httptest.NewRequest(http.MethodGet, relayBase+target, nil)
			w := httptest.NewRecorder()

			c.Start(w, req, testConfig("https://provider.example.com/oauth/token"))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, w.Header().Get("Location"))
			assert.Equal(t, "Missing local_port parameter", w.Body.String())
		})
	}
}

func TestStart_RedirectsToProvider(t *testing.T) {
	c := newController(nil)
	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth?local_port=51821&scopes=read+write", nil)
	w := httptest.NewRecorder()

	c.Start(w, req, testConfig("https://provider.example.com/oauth/token"))

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.Contains(t, location, "client_id=relay-client")
	assert.Contains(t, location, "redirect_uri=http%3A%2F%2Frelay.example.com%2Fsteel%2Foauth%2Fcallback")
	assert.Contains(t, location, "response_type=code")
	assert.Contains(t, location, "scope=read+write")

	u, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, "provider.example.com", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)

	stateParam := u.Query().Get("state")
	require.NotEmpty(t, stateParam)
	decoded, err := state.Decode(stateParam)
	require.NoError(t, err)
	assert.Equal(t, uint16(51821), decoded.LocalPort)
	assert.Len(t, decoded.Nonce, 32)
}

func TestStart_EmptyScopesStillSent(t *testing.T) {
	c := newController(nil)
	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth?local_port=8000", nil)
	w := httptest.NewRecorder()

	c.Start(w, req, testConfig("https://provider.example.com/oauth/token"))

	require.Equal(t, http.StatusFound, w.Code)
	u, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, u.Query().Has("scope"))
	assert.Equal(t, "", u.Query().Get("scope"))
}

func TestStart_FixedRedirectURI(t *testing.T) {
	cfg := testConfig("https://provider.example.com/oauth/token")
	cfg.RedirectURI = "https://public.example.com/cb"
	cfg.CallbackPath = "/cb"

	c := newController(nil)
	req := httptest.NewRequest(http.MethodGet, "http://10.0.0.5:8080/steel/oauth?local_port=8000", nil)
	w := httptest.NewRecorder()

	c.Start(w, req, cfg)

	require.Equal(t, http.StatusFound, w.Code)
	u, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "https://public.example.com/cb", u.Query().Get("redirect_uri"))
}

func TestStart_UnknownHost(t *testing.T) {
	c := newController(nil)
	req := httptest.NewRequest(http.MethodGet, "/steel/oauth?local_port=8000", nil)
	req.Host = ""
	w := httptest.NewRecorder()

	c.Start(w, req, testConfig("https://provider.example.com/oauth/token"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
}

func TestStart_ConcurrentFlowsDoNotInterfere(t *testing.T) {
	c := newController(nil)
	cfg := testConfig("https://provider.example.com/oauth/token")

	ports := []uint16{51821, 51822, 40000, 65535, 1024}
	var wg sync.WaitGroup
	results := make([]uint16, len(ports))
	for i, port := range ports {
		i, port := i, port
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth?local_port="+strconv.Itoa(int(port)), nil)
			w := httptest.NewRecorder()
			c.Start(w, req, cfg)

			u, err := url.Parse(w.Header().Get("Location"))
			if !assert.NoError(t, err) {
				return
			}
			decoded, err := state.Decode(u.Query().Get("state"))
			if assert.NoError(t, err) {
				results[i] = decoded.LocalPort
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, ports, results)
}

func TestCallback_MissingState(t *testing.T) {
	c := newController(nil)
	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?code=abc", nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig("https://provider.example.com/oauth/token"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	assert.Equal(t, "Missing state parameter", w.Body.String())
}

func TestCallback_MalformedState(t *testing.T) {
	valid := encodedState(t, 51821)
	for _, bad := range []string{"", "not-a-state", "%%%", valid[:5], "bnVsbA"} {
		t.Run(bad, func(t *testing.T) {
			c := newController(nil)
			req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?code=abc&state="+url.QueryEscape(bad), nil)
			w := httptest.NewRecorder()

			c.Callback(w, req, testConfig("https://provider.example.com/oauth/token"))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, w.Header().Get("Location"))
			assert.Equal(t, "Invalid state parameter", w.Body.String())
		})
	}
}

func TestCallback_ProviderDenied(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"should-not-be-used"}`)
	c := newController(ts)

	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?error=access_denied&error_description=User+cancelled&state="+encodedState(t, 51821), nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig(ts.URL))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://localhost:51821/?status=error&error=access_denied%3A%20User%20cancelled", w.Header().Get("Location"))
	assert.Nil(t, ts.form(), "token exchange must be skipped")
}

func TestCallback_ProviderDeniedWithoutDescription(t *testing.T) {
	c := newController(nil)
	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?error=server_error&code=abc&state="+encodedState(t, 4000), nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig("https://provider.example.com/oauth/token"))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://localhost:4000/?status=error&error=server_error%3A%20Unknown%20error", w.Header().Get("Location"))
}

func TestCallback_EmptyErrorSkipsExchange(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"x"}`)
	c := newController(ts)

	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?error=&code=c&state="+encodedState(t, 4000), nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig(ts.URL))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://localhost:4000/?status=error&error=%3A%20Unknown%20error", w.Header().Get("Location"))
	assert.Nil(t, ts.form(), "token exchange must be skipped")
}

func TestCallback_EmptyErrorDescriptionKept(t *testing.T) {
	c := newController(nil)
	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?error=access_denied&error_description=&state="+encodedState(t, 4000), nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig("https://provider.example.com/oauth/token"))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://localhost:4000/?status=error&error=access_denied%3A%20", w.Header().Get("Location"))
}

func TestCallback_MissingCode(t *testing.T) {
	c := newController(nil)
	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?state="+encodedState(t, 51821), nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig("https://provider.example.com/oauth/token"))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://localhost:51821/?status=error&error=Missing%20authorization%20code", w.Header().Get("Location"))
}

func TestCallback_Success(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"abc123"}`)
	c := newController(ts)

	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?code=the-code&state="+encodedState(t, 51821), nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig(ts.URL))

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.Equal(t, "http://localhost:51821/?status=ok&access_token=abc123", location)
	assert.NotContains(t, location, "refresh_token")

	form := ts.form()
	require.NotNil(t, form)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "http://relay.example.com/steel/oauth/callback", form.Get("redirect_uri"))
	assert.Equal(t, "relay-client", form.Get("client_id"))
	assert.Equal(t, "relay-secret", form.Get("client_secret"))
}

func TestCallback_SuccessWithRefreshToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"abc","refresh_token":"def","token_type":"Bearer","expires_in":3600}`)
	c := newController(ts)

	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?code=x&state="+encodedState(t, 9000), nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig(ts.URL))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://localhost:9000/?status=ok&access_token=abc&refresh_token=def", w.Header().Get("Location"))
}

func TestCallback_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		location string
	}{
		{
			name:     "structured provider error",
			status:   http.StatusBadRequest,
			body:     `{"error":"invalid_grant"}`,
			location: "http://localhost:51821/?status=error&error=invalid_grant%3A%20No%20description",
		},
		{
			name:     "structured provider error with description",
			status:   http.StatusBadRequest,
			body:     `{"error":"invalid_grant","error_description":"Code expired"}`,
			location: "http://localhost:51821/?status=error&error=invalid_grant%3A%20Code%20expired",
		},
		{
			name:     "unstructured provider error",
			status:   http.StatusInternalServerError,
			body:     `oops`,
			location: "http://localhost:51821/?status=error&error=Token%20request%20failed%20with%20status%20500%3A%20oops",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, tt.status, tt.body)
			c := newController(ts)

			req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?code=x&state="+encodedState(t, 51821), nil)
			w := httptest.NewRecorder()

			c.Callback(w, req, testConfig(ts.URL))

			require.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tt.location, w.Header().Get("Location"))
		})
	}

	t.Run("parse error", func(t *testing.T) {
		ts := newTokenServer(t, http.StatusOK, `not json`)
		c := newController(ts)

		req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?code=x&state="+encodedState(t, 51821), nil)
		w := httptest.NewRecorder()

		c.Callback(w, req, testConfig(ts.URL))

		require.Equal(t, http.StatusFound, w.Code)
		u, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "error", u.Query().Get("status"))
		assert.Contains(t, u.Query().Get("error"), "Failed to parse token response: ")
	})

	t.Run("transport error", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		deadURL := dead.URL
		dead.Close()

		c := newController(nil)
		req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?code=x&state="+encodedState(t, 51821), nil)
		w := httptest.NewRecorder()

		c.Callback(w, req, testConfig(deadURL))

		require.Equal(t, http.StatusFound, w.Code)
		u, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "localhost:51821", u.Host)
		assert.Equal(t, "error", u.Query().Get("status"))
		assert.Contains(t, u.Query().Get("error"), "Token request failed: ")
	})
}

type stubExchanger struct {
	err         error
	redirectURI string
}

func (s *stubExchanger) Exchange(_ context.Context, _ config.Config, _ string, redirectURI string) (*token.Response, error) {
	s.redirectURI = redirectURI
	if s.err != nil {
		return nil, s.err
	}
	return &token.Response{AccessToken: "stub"}, nil
}

func TestCallback_UnknownHostAfterStateIsRedirected(t *testing.T) {
	stub := &stubExchanger{}
	c := NewController(redirect.NewBuilder(false), stub, nil)

	req := httptest.NewRequest(http.MethodGet, "/steel/oauth/callback?code=x&state="+encodedState(t, 7000), nil)
	req.Host = ""
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig("https://provider.example.com/oauth/token"))

	require.Equal(t, http.StatusFound, w.Code)
	u, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:7000", u.Host)
	assert.Equal(t, "error", u.Query().Get("status"))
	assert.Empty(t, stub.redirectURI, "exchange must not run")
}

func TestCallback_UnexpectedExchangeError(t *testing.T) {
	c := NewController(redirect.NewBuilder(false), &stubExchanger{err: errors.New("boom")}, nil)

	req := httptest.NewRequest(http.MethodGet, relayBase+"/steel/oauth/callback?code=x&state="+encodedState(t, 7000), nil)
	w := httptest.NewRecorder()

	c.Callback(w, req, testConfig("https://provider.example.com/oauth/token"))

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://localhost:7000/?status=error&error=Token%20request%20failed%3A%20boom", w.Header().Get("Location"))
}

func TestFullFlow_RedirectURIMatches(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"tok","refresh_token":"ref"}`)
	c := newController(ts)
	cfg := testConfig(ts.URL)

	startReq := httptest.NewRequest(http.MethodGet, "http://relay.example.com:8443/steel/oauth?local_port=51821&scopes=identify", nil)
	startW := httptest.NewRecorder()
	c.Start(startW, startReq, cfg)
	require.Equal(t, http.StatusFound, startW.Code)

	authURL, err := url.Parse(startW.Header().Get("Location"))
	require.NoError(t, err)
	sentRedirect := authURL.Query().Get("redirect_uri")
	assert.Equal(t, "http://relay.example.com:8443/steel/oauth/callback", sentRedirect)

	// The provider sends the browser back with the same state
	callbackReq := httptest.NewRequest(http.MethodGet, sentRedirect+"?code=c0de&state="+authURL.Query().Get("state"), nil)
	callbackW := httptest.NewRecorder()
	c.Callback(callbackW, callbackReq, cfg)

	require.Equal(t, http.StatusFound, callbackW.Code)
	assert.Equal(t, "http://localhost:51821/?status=ok&access_token=tok&refresh_token=ref", callbackW.Header().Get("Location"))
	assert.Equal(t, sentRedirect, ts.form().Get("redirect_uri"))
}

func TestExchangeOutcome(t *testing.T) {
	assert.Equal(t, OutcomeProviderTokenError, exchangeOutcome(&token.ProviderError{Status: 400, Code: "invalid_grant"}))
	assert.Equal(t, OutcomeParseError, exchangeOutcome(&token.ParseError{Status: 200, Err: errors.New("x")}))
	assert.Equal(t, OutcomeTransportError, exchangeOutcome(&token.TransportError{Err: errors.New("x")}))
	assert.Equal(t, OutcomeInternalError, exchangeOutcome(errors.New("x")))
}
