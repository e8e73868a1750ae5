package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	relayBinary      = "../cmd/oauth-relay/oauth-relay"
	relayAddr        = "127.0.0.1:18080"
	relayURL         = "http://" + relayAddr
	fakeProviderPort = "9090"
	fakeProviderURL  = "http://127.0.0.1:" + fakeProviderPort

	testClientID     = "relay-test-client"
	testClientSecret = "relay-test-secret"
)

var fakeProvider *FakeProviderServer

// derivedEnv configures the relay through OAUTH_* variables with the
// callback URL derived from each request.
func derivedEnv() []string {
	return []string{
		"OAUTH_CLIENT_ID=" + testClientID,
		"OAUTH_CLIENT_SECRET=" + testClientSecret,
		"OAUTH_AUTHORIZATION_URL=" + fakeProviderURL + "/authorize",
		"OAUTH_TOKEN_URL=" + fakeProviderURL + "/token",
		"OAUTH_INIT_URI_SUFFIX=/oauth",
		"OAUTH_REDIRECT_URI_SUFFIX=/oauth/callback",
	}
}

// writeTestConfig writes cfg as a JSON config file
func writeTestConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// fixedConfig is a config file for a relay with a fixed redirect URI. The
// secret is read from RELAY_TEST_SECRET.
func fixedConfig() map[string]any {
	return map[string]any{
		"clientId":         testClientID,
		"clientSecret":     map[string]string{"$env": "RELAY_TEST_SECRET"},
		"authorizationUrl": fakeProviderURL + "/authorize",
		"tokenUrl":         fakeProviderURL + "/token",
		"redirectUri":      relayURL + "/callback",
	}
}

// trace logs a message if TRACE environment variable is set
func trace(t *testing.T, format string, args ...any) {
	if os.Getenv("TRACE") == "1" {
		t.Logf("TRACE: "+format, args...)
	}
}

// startRelay starts the relay binary with args and extra environment
func startRelay(t *testing.T, args []string, extraEnv ...string) {
	cmd := exec.Command(relayBinary, args...)

	cmd.Env = append(os.Environ(), "RELAY_ADDR="+relayAddr)
	cmd.Env = append(cmd.Env, extraEnv...)

	if logFile := os.Getenv("RELAY_LOG_FILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			cmd.Stderr = f
			cmd.Stdout = f
			t.Cleanup(func() { f.Close() })
		}
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start oauth-relay: %v", err)
	}
	t.Cleanup(func() {
		stopRelay(cmd)
	})

	waitForRelay(t)
}

// stopRelay stops the relay gracefully
func stopRelay(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
		return
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

// waitForRelay waits for the health endpoint to answer
func waitForRelay(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		resp, err := http.Get(relayURL + "/")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("oauth-relay failed to become ready after 10 seconds")
}

// localApp stands in for the CLI application listening on a loopback port.
type localApp struct {
	server *httptest.Server

	mu       sync.Mutex
	received url.Values
}

func newLocalApp(t *testing.T) *localApp {
	t.Helper()
	app := &localApp{}
	app.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.mu.Lock()
		app.received = r.URL.Query()
		app.mu.Unlock()
		_, _ = w.Write([]byte("You can close this window."))
	}))
	t.Cleanup(app.server.Close)
	return app
}

func (a *localApp) port() string {
	u, _ := url.Parse(a.server.URL)
	return u.Port()
}

func (a *localApp) query() url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received
}

// browse follows redirects from the init URL until the local application
// answers, the way a browser would.
func browse(t *testing.T, initURL string) *http.Response {
	t.Helper()
	trace(t, "browsing %s", initURL)

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			trace(t, "redirect %d -> %s", len(via), req.URL)
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}
	resp, err := client.Get(initURL)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
