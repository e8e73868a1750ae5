package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalid marks every configuration failure.
var ErrInvalid = errors.New("invalid configuration")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks that c is a complete configuration of exactly one shape.
func Validate(c Config) error {
	if c.ClientID == "" {
		return invalidf("OAUTH_CLIENT_ID is required")
	}
	if c.ClientSecret == "" {
		return invalidf("OAUTH_CLIENT_SECRET is required")
	}
	if err := validateAbsoluteURL("OAUTH_AUTHORIZATION_URL", c.AuthorizationURL); err != nil {
		return err
	}
	if err := validateAbsoluteURL("OAUTH_TOKEN_URL", c.TokenURL); err != nil {
		return err
	}

	if c.RedirectURI != "" {
		return validateFixed(c)
	}
	return validateDerived(c)
}

func validateDerived(c Config) error {
	if c.InitPath == "" {
		return invalidf("OAUTH_INIT_URI_SUFFIX is required when OAUTH_REDIRECT_URI is not set")
	}
	if c.CallbackPath == "" {
		return invalidf("OAUTH_REDIRECT_URI_SUFFIX is required when OAUTH_REDIRECT_URI is not set")
	}
	if err := validatePath("OAUTH_INIT_URI_SUFFIX", c.InitPath); err != nil {
		return err
	}
	if err := validatePath("OAUTH_REDIRECT_URI_SUFFIX", c.CallbackPath); err != nil {
		return err
	}
	if c.InitPath == c.CallbackPath {
		return invalidf("OAUTH_INIT_URI_SUFFIX and OAUTH_REDIRECT_URI_SUFFIX must differ")
	}
	return nil
}

func validateFixed(c Config) error {
	if err := validateAbsoluteURL("OAUTH_REDIRECT_URI", c.RedirectURI); err != nil {
		return err
	}
	callbackPath := redirectPath(c.RedirectURI)
	if callbackPath == "/" {
		return invalidf("OAUTH_REDIRECT_URI must have a path, the root path is reserved for health checks")
	}

	// A suffix alongside a fixed URI is only tolerated when it agrees.
	if c.CallbackPath != "" && c.CallbackPath != callbackPath {
		return invalidf("OAUTH_REDIRECT_URI_SUFFIX conflicts with OAUTH_REDIRECT_URI; configure only one")
	}
	if c.InitPath != "" {
		if err := validatePath("OAUTH_INIT_URI_SUFFIX", c.InitPath); err != nil {
			return err
		}
	}
	initPath := c.InitPath
	if initPath == "" {
		initPath = DefaultInitPath
	}
	if initPath == callbackPath {
		return invalidf("init path %s collides with the OAUTH_REDIRECT_URI path", initPath)
	}
	return nil
}

// Normalize validates c and fills the fields implied by its shape.
func Normalize(c Config) (Config, error) {
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	if c.Mode() == ModeFixed {
		c.CallbackPath = redirectPath(c.RedirectURI)
		if c.InitPath == "" {
			c.InitPath = DefaultInitPath
		}
	}
	return c, nil
}

func validateAbsoluteURL(name, raw string) error {
	if raw == "" {
		return invalidf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalidf("%s is not a valid URL: %v", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidf("%s must be an absolute http(s) URL", name)
	}
	if u.Host == "" {
		return invalidf("%s must include a host", name)
	}
	return nil
}

func validatePath(name, p string) error {
	if !strings.HasPrefix(p, "/") {
		return invalidf("%s must start with /", name)
	}
	if p == "/" {
		return invalidf("%s cannot be the root path, it is reserved for health checks", name)
	}
	if strings.ContainsAny(p, "?#") {
		return invalidf("%s must be a bare path without query or fragment", name)
	}
	return nil
}

// redirectPath returns the path of an already validated redirect URI.
func redirectPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
