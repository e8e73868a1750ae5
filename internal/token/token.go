package token

import (
	"errors"
	"fmt"
)

// Response is the provider's successful token payload.
type Response struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    uint64 `json:"expires_in,omitempty"`
}

// ErrorResponse is the provider's failure payload (RFC 6749 section 5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// TransportError means the token endpoint could not be reached or its
// response could not be read.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Token request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means a 2xx response body was not a usable token response.
type ParseError struct {
	Status int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Failed to parse token response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderError is a non-2xx answer from the token endpoint. Code is empty
// when the body was not a structured OAuth error, in which case Body holds
// the raw response text.
type ProviderError struct {
	Status      int
	Code        string
	Description string
	Body        string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("Token request failed with status %d: %s", e.Status, e.Body)
	}
	description := e.Description
	if description == "" {
		description = "No description"
	}
	return fmt.Sprintf("%s: %s", e.Code, description)
}

// Structured reports whether the provider sent an RFC 6749 error body.
func (e *ProviderError) Structured() bool {
	return e.Code != ""
}

// Describe renders an exchange failure as the message delivered to the
// local application.
func Describe(err error) string {
	var transportErr *TransportError
	var parseErr *ParseError
	var providerErr *ProviderError
	switch {
	case errors.As(err, &providerErr):
		return providerErr.Error()
	case errors.As(err, &parseErr):
		return parseErr.Error()
	case errors.As(err, &transportErr):
		return transportErr.Error()
	default:
		return fmt.Sprintf("Token request failed: %v", err)
	}
}
