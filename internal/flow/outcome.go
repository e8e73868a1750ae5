package flow

import (
	"errors"

	"github.com/dgellow/oauth-relay/internal/token"
)

// Outcome classifies how a request through the flow ended.
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeMissingParameter   Outcome = "missing_parameter"
	OutcomeMalformedState     Outcome = "malformed_state"
	OutcomeProviderDenied     Outcome = "provider_denied"
	OutcomeMissingCode        Outcome = "missing_code"
	OutcomeTransportError     Outcome = "transport_error"
	OutcomeParseError         Outcome = "parse_error"
	OutcomeProviderTokenError Outcome = "provider_token_error"
	OutcomeConfigurationError Outcome = "configuration_error"
	OutcomeInternalError      Outcome = "internal_error"
)

// exchangeOutcome maps a token exchange failure to its outcome.
func exchangeOutcome(err error) Outcome {
	var transportErr *token.TransportError
	var parseErr *token.ParseError
	var providerErr *token.ProviderError
	switch {
	case errors.As(err, &providerErr):
		return OutcomeProviderTokenError
	case errors.As(err, &parseErr):
		return OutcomeParseError
	case errors.As(err, &transportErr):
		return OutcomeTransportError
	default:
		return OutcomeInternalError
	}
}
