package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	fakeAuthCode     = "test-auth-code"
	fakeAccessToken  = "test-access-token"
	fakeRefreshToken = "test-refresh-token"
)

// FakeProviderServer is an OAuth provider that approves every authorization
// request without user interaction. The requested scope steers it:
// "deny" redirects back with access_denied and "stale" issues a code the
// token endpoint rejects.
type FakeProviderServer struct {
	server *http.Server

	mu         sync.Mutex
	tokenForms []url.Values
}

// NewFakeProviderServer creates a new fake provider
func NewFakeProviderServer(port string) *FakeProviderServer {
	s := &FakeProviderServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		back, err := url.Parse(q.Get("redirect_uri"))
		if err != nil || q.Get("response_type") != "code" {
			http.Error(w, "bad authorization request", http.StatusBadRequest)
			return
		}

		params := url.Values{"state": {q.Get("state")}}
		switch {
		case strings.Contains(q.Get("scope"), "deny"):
			params.Set("error", "access_denied")
			params.Set("error_description", "User cancelled")
		case strings.Contains(q.Get("scope"), "stale"):
			params.Set("code", "stale-code")
		default:
			params.Set("code", fakeAuthCode)
		}
		back.RawQuery = params.Encode()
		http.Redirect(w, r, back.String(), http.StatusFound)
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.tokenForms = append(s.tokenForms, r.PostForm)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.PostFormValue("code") != fakeAuthCode || r.PostFormValue("client_secret") != testClientSecret {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid authorization code",
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fakeAccessToken,
			"refresh_token": fakeRefreshToken,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	s.server = &http.Server{
		Addr:    "127.0.0.1:" + port,
		Handler: mux,
	}
	return s
}

// LastTokenForm returns the most recent token request body.
func (s *FakeProviderServer) LastTokenForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokenForms) == 0 {
		return nil
	}
	return s.tokenForms[len(s.tokenForms)-1]
}

// Start starts the fake provider
func (s *FakeProviderServer) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop stops the fake provider
func (s *FakeProviderServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
