// Package redirect builds every URL the relay sends a browser to: the
// provider's authorization endpoint, its own callback, and the local
// application's loopback listener.
package redirect

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dgellow/oauth-relay/internal/config"
	"github.com/dgellow/oauth-relay/internal/token"
	"github.com/dgellow/oauth-relay/internal/urlutil"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingURIComponent means the scheme or host of the incoming
	// request could not be determined.
	ErrMissingURIComponent = errors.New("missing URI component")

	// ErrInvalidConfiguredURL means a URL taken from configuration does not
	// parse as an absolute URL.
	ErrInvalidConfiguredURL = errors.New("invalid configured URL")
)

// Builder constructs redirect URLs.
type Builder struct {
	// TrustProxyHeaders makes CallbackURL honour X-Forwarded-Proto and
	// X-Forwarded-Host.
	TrustProxyHeaders bool
}

// NewBuilder creates a Builder.
func NewBuilder(trustProxyHeaders bool) *Builder {
	return &Builder{TrustProxyHeaders: trustProxyHeaders}
}

// CallbackURL returns the externally visible URL of the relay's callback
// endpoint. In fixed mode that is the configured redirect URI; otherwise it is
// derived from the scheme and host r arrived on plus the callback path.
func (b *Builder) CallbackURL(r *http.Request, cfg config.Config) (string, error) {
	if cfg.Mode() == config.ModeFixed {
		if _, err := parseAbsolute(cfg.RedirectURI); err != nil {
			return "", fmt.Errorf("redirect uri: %w", err)
		}
		return cfg.RedirectURI, nil
	}

	scheme := b.requestScheme(r)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: cannot determine scheme (got %q)", ErrMissingURIComponent, scheme)
	}
	host := b.requestHost(r)
	if host == "" {
		return "", fmt.Errorf("%w: cannot determine host", ErrMissingURIComponent)
	}

	u := url.URL{
		Scheme: scheme,
		Host:   urlutil.StripDefaultPort(scheme, host),
		Path:   cfg.CallbackPath,
	}
	return u.String(), nil
}

func (b *Builder) requestScheme(r *http.Request) string {
	if r.URL != nil && r.URL.Scheme != "" {
		return strings.ToLower(r.URL.Scheme)
	}
	if b.TrustProxyHeaders {
		if proto := firstHeaderValue(r, "X-Forwarded-Proto"); proto != "" {
			return strings.ToLower(proto)
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func (b *Builder) requestHost(r *http.Request) string {
	if r.URL != nil && r.URL.Host != "" {
		return r.URL.Host
	}
	if b.TrustProxyHeaders {
		if host := firstHeaderValue(r, "X-Forwarded-Host"); host != "" {
			return host
		}
	}
	return r.Host
}

// firstHeaderValue returns the first element of a possibly comma-separated
// header appended to by a chain of proxies.
func firstHeaderValue(r *http.Request, name string) string {
	v, _, _ := strings.Cut(r.Header.Get(name), ",")
	return strings.TrimSpace(v)
}

// ProviderAuthorizationURL returns the provider's authorization endpoint
// with client_id, redirect_uri, response_type=code, state and scope set.
// The scope parameter is always present, even when empty.
func (b *Builder) ProviderAuthorizationURL(cfg config.Config, callbackURL, state, scopes string) (string, error) {
	if _, err := parseAbsolute(cfg.AuthorizationURL); err != nil {
		return "", fmt.Errorf("authorization url: %w", err)
	}

	oauth2Config := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: callbackURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthorizationURL,
			TokenURL: cfg.TokenURL,
		},
	}
	return oauth2Config.AuthCodeURL(state, oauth2.SetAuthURLParam("scope", scopes)), nil
}

// LocalSuccessURL points the browser at the local application with the
// issued tokens. refresh_token is included only when the provider sent one.
func (b *Builder) LocalSuccessURL(localPort uint16, tokens *token.Response) string {
	q := urlutil.Query{}.
		Add("status", "ok").
		Add("access_token", tokens.AccessToken)
	if tokens.RefreshToken != "" {
		q = q.Add("refresh_token", tokens.RefreshToken)
	}
	return localURL(localPort, q)
}

// LocalErrorURL points the browser at the local application with a failure
// message.
func (b *Builder) LocalErrorURL(localPort uint16, message string) string {
	q := urlutil.Query{}.
		Add("status", "error").
		Add("error", message)
	return localURL(localPort, q)
}

func localURL(localPort uint16, q urlutil.Query) string {
	return "http://localhost:" + strconv.FormatUint(uint64(localPort), 10) + "/?" + q.Encode()
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguredURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidConfiguredURL, raw)
	}
	return u, nil
}
