// Package state encodes the flow context that rides through the provider's
// redirect in the OAuth state parameter.
//
// The token is JSON encoded with unpadded base64url. It is not signed: it
// only carries the local port to deliver the result to and a nonce that makes
// every token unique.
package state

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgellow/oauth-relay/internal/crypto"
)

// ErrMalformedState is returned when a state token cannot be decoded.
var ErrMalformedState = errors.New("malformed state")

// Data is the context carried across the provider round trip.
type Data struct {
	LocalPort uint16 `json:"local_port"`
	Nonce     string `json:"nonce"`
}

// wireData mirrors Data with pointer fields so missing keys can be told
// apart from zero values.
type wireData struct {
	LocalPort *uint16 `json:"local_port"`
	Nonce     *string `json:"nonce"`
}

// New builds state data for a flow delivering to localPort, with a fresh nonce.
func New(localPort uint16) (Data, error) {
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return Data{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return Data{LocalPort: localPort, Nonce: nonce}, nil
}

// Encode serializes d into a token safe to embed as a single query value.
func Encode(d Data) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode. Any failure wraps ErrMalformedState and returns
// the zero Data.
func Decode(token string) (Data, error) {
	if token == "" {
		return Data{}, fmt.Errorf("%w: empty token", ErrMalformedState)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Data{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	var w wireData
	if err := json.Unmarshal(raw, &w); err != nil {
		return Data{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	if w.LocalPort == nil {
		return Data{}, fmt.Errorf("%w: missing local_port", ErrMalformedState)
	}
	if w.Nonce == nil {
		return Data{}, fmt.Errorf("%w: missing nonce", ErrMalformedState)
	}

	return Data{LocalPort: *w.LocalPort, Nonce: *w.Nonce}, nil
}
