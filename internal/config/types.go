package config

import (
	"context"
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Mode selects how the relay learns its own callback URL.
type Mode string

const (
	// ModeDerived builds the callback URL from the incoming request's
	// scheme and host plus CallbackPath.
	ModeDerived Mode = "derived"

	// ModeFixed uses RedirectURI verbatim.
	ModeFixed Mode = "fixed"
)

// DefaultInitPath is the init path used in fixed mode when none is configured.
const DefaultInitPath = "/oauth/start"

// Config is the per-request relay configuration. It is loaded fresh for every
// request and never mutated afterwards.
type Config struct {
	ClientID         string `json:"clientId"`
	ClientSecret     Secret `json:"clientSecret"`
	AuthorizationURL string `json:"authorizationUrl"`
	TokenURL         string `json:"tokenUrl"`

	// InitPath is where the local application sends the browser to begin.
	InitPath string `json:"initPath"`

	// CallbackPath is where the provider redirects back to. In fixed mode it
	// is the path component of RedirectURI.
	CallbackPath string `json:"callbackPath"`

	// RedirectURI is set only in fixed mode.
	RedirectURI string `json:"redirectUri,omitempty"`
}

// Mode reports which configuration shape c uses.
func (c Config) Mode() Mode {
	if c.RedirectURI != "" {
		return ModeFixed
	}
	return ModeDerived
}

// Provider supplies configuration. Implementations must be safe for
// concurrent use; Load is called once per request.
type Provider interface {
	Load(ctx context.Context) (Config, error)
}

// ServerSettings are process-level settings read once at startup.
type ServerSettings struct {
	Addr string `env:"RELAY_ADDR" envDefault:":8080"`

	// TrustProxyHeaders lets X-Forwarded-Proto and X-Forwarded-Host decide the
	// derived callback URL. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool `env:"RELAY_TRUST_PROXY_HEADERS"`

	// RateLimit is the global request budget per second. Zero disables it.
	RateLimit float64 `env:"RELAY_RATE_LIMIT"`
	RateBurst int     `env:"RELAY_RATE_BURST" envDefault:"10"`

	TokenTimeout    time.Duration `env:"RELAY_TOKEN_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"RELAY_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}
