package config

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envConfig maps the OAUTH_* environment variables.
type envConfig struct {
	ClientID         string `env:"OAUTH_CLIENT_ID,required,notEmpty"`
	ClientSecret     Secret `env:"OAUTH_CLIENT_SECRET,required,notEmpty"`
	AuthorizationURL string `env:"OAUTH_AUTHORIZATION_URL,required,notEmpty"`
	TokenURL         string `env:"OAUTH_TOKEN_URL,required,notEmpty"`
	InitPath         string `env:"OAUTH_INIT_URI_SUFFIX"`
	CallbackPath     string `env:"OAUTH_REDIRECT_URI_SUFFIX"`
	RedirectURI      string `env:"OAUTH_REDIRECT_URI"`
}

// EnvProvider loads Config from environment variables on every call, so a
// rotated secret is picked up without a restart.
type EnvProvider struct {
	// Environment overrides the process environment when non-nil.
	Environment map[string]string
}

// NewEnvProvider returns a provider reading the process environment.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Load implements Provider.
func (p *EnvProvider) Load(ctx context.Context) (Config, error) {
	var raw envConfig
	if err := p.parse(&raw); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return Normalize(Config{
		ClientID:         raw.ClientID,
		ClientSecret:     raw.ClientSecret,
		AuthorizationURL: raw.AuthorizationURL,
		TokenURL:         raw.TokenURL,
		InitPath:         raw.InitPath,
		CallbackPath:     raw.CallbackPath,
		RedirectURI:      raw.RedirectURI,
	})
}

func (p *EnvProvider) parse(target any) error {
	if p.Environment == nil {
		return env.Parse(target)
	}
	return env.ParseWithOptions(target, env.Options{Environment: p.Environment})
}

// LoadServerSettings reads the RELAY_* process settings.
func LoadServerSettings() (ServerSettings, error) {
	return loadServerSettings(nil)
}

func loadServerSettings(environment map[string]string) (ServerSettings, error) {
	var s ServerSettings
	var err error
	if environment == nil {
		err = env.Parse(&s)
	} else {
		err = env.ParseWithOptions(&s, env.Options{Environment: environment})
	}
	if err != nil {
		return ServerSettings{}, fmt.Errorf("parse env: %w", err)
	}

	if s.Addr == "" {
		return ServerSettings{}, fmt.Errorf("RELAY_ADDR cannot be empty")
	}
	if s.RateLimit < 0 {
		return ServerSettings{}, fmt.Errorf("RELAY_RATE_LIMIT cannot be negative")
	}
	if s.RateLimit > 0 && s.RateBurst < 1 {
		return ServerSettings{}, fmt.Errorf("RELAY_RATE_BURST must be at least 1 when rate limiting is enabled")
	}
	if s.TokenTimeout < 0 {
		return ServerSettings{}, fmt.Errorf("RELAY_TOKEN_TIMEOUT cannot be negative")
	}
	if s.ShutdownTimeout <= 0 {
		return ServerSettings{}, fmt.Errorf("RELAY_SHUTDOWN_TIMEOUT must be positive")
	}
	return s, nil
}
