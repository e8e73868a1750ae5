package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ParseConfigValue resolves a config file value that is either a plain string
// or an {"$env": "VAR"} reference.
func ParseConfigValue(raw json.RawMessage) (value string, fromEnv bool, err error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, false, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", false, fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", false, fmt.Errorf("unknown reference type in config value")
	}
	value = os.Getenv(envVar)
	if value == "" {
		return "", true, fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, true, nil
}

// UnmarshalJSON resolves env references while decoding a config file.
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		ClientID         json.RawMessage `json:"clientId"`
		ClientSecret     json.RawMessage `json:"clientSecret"`
		AuthorizationURL json.RawMessage `json:"authorizationUrl"`
		TokenURL         json.RawMessage `json:"tokenUrl"`
		InitPath         json.RawMessage `json:"initPath"`
		CallbackPath     json.RawMessage `json:"callbackPath"`
		RedirectURI      json.RawMessage `json:"redirectUri"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"clientId", raw.ClientID, &c.ClientID},
		{"authorizationUrl", raw.AuthorizationURL, &c.AuthorizationURL},
		{"tokenUrl", raw.TokenURL, &c.TokenURL},
		{"initPath", raw.InitPath, &c.InitPath},
		{"callbackPath", raw.CallbackPath, &c.CallbackPath},
		{"redirectUri", raw.RedirectURI, &c.RedirectURI},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		value, _, err := ParseConfigValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.name, err)
		}
		*f.dst = value
	}

	if raw.ClientSecret != nil {
		value, fromEnv, err := ParseConfigValue(raw.ClientSecret)
		if err != nil {
			return fmt.Errorf("parsing clientSecret: %w", err)
		}
		if !fromEnv {
			return fmt.Errorf("clientSecret must use {\"$env\": \"VAR_NAME\"} format")
		}
		c.ClientSecret = Secret(value)
	}

	return nil
}
