// Package flow implements the two entry points of the relay's authorization
// code flow: start, which sends the browser to the provider, and callback,
// which finishes the exchange and delivers the result to the local
// application's loopback port.
//
// Both are stateless. All flow context travels in the encoded state
// parameter, so any number of flows may run concurrently.
//
// Failures before the state is decoded are answered with a plain-text 400
// since the local port is still unknown. Every failure after that is
// delivered to the local application as a status=error redirect.
package flow

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dgellow/oauth-relay/internal/config"
	"github.com/dgellow/oauth-relay/internal/instrumentation"
	"github.com/dgellow/oauth-relay/internal/log"
	"github.com/dgellow/oauth-relay/internal/redirect"
	"github.com/dgellow/oauth-relay/internal/respond"
	"github.com/dgellow/oauth-relay/internal/state"
	"github.com/dgellow/oauth-relay/internal/token"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Messages delivered to the browser or the local application.
const (
	msgMissingLocalPort = "Missing local_port parameter"
	msgMissingState     = "Missing state parameter"
	msgInvalidState     = "Invalid state parameter"
	msgMissingCode      = "Missing authorization code"
	msgUnknownError     = "Unknown error"
	msgNoCallbackURL    = "Unable to determine callback URL"
	msgServerError      = "Internal server error"
)

// Exchanger trades an authorization code for tokens.
type Exchanger interface {
	Exchange(ctx context.Context, cfg config.Config, code, redirectURI string) (*token.Response, error)
}

// Controller orchestrates the flow.
type Controller struct {
	redirects *redirect.Builder
	exchanger Exchanger
	metrics   *instrumentation.Metrics
	tracer    trace.Tracer
}

// NewController creates a Controller. metrics may be nil.
func NewController(redirects *redirect.Builder, exchanger Exchanger, metrics *instrumentation.Metrics) *Controller {
	return &Controller{
		redirects: redirects,
		exchanger: exchanger,
		metrics:   metrics,
		tracer:    instrumentation.Tracer("flow"),
	}
}

// Start handles the init path. It requires local_port, accepts scopes, and
// redirects the browser to the provider's authorization endpoint.
func (c *Controller) Start(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	ctx, span := c.tracer.Start(r.Context(), "flow.start")
	defer span.End()
	span.SetAttributes(attribute.String(instrumentation.AttrMode, string(cfg.Mode())))

	query := r.URL.Query()
	localPort, ok := parseLocalPort(query.Get("local_port"))
	if !ok {
		log.LogDebugWithFields("flow", "Start rejected: missing or invalid local_port", map[string]any{
			"local_port": query.Get("local_port"),
		})
		span.SetAttributes(attribute.String(instrumentation.AttrOutcome, string(OutcomeMissingParameter)))
		respond.WriteBadRequest(w, msgMissingLocalPort)
		return
	}
	scopes := query.Get("scopes")
	span.SetAttributes(attribute.Int(instrumentation.AttrLocalPort, int(localPort)))

	data, err := state.New(localPort)
	if err != nil {
		c.internalError(w, span, "Failed to create state", err)
		return
	}
	encoded, err := state.Encode(data)
	if err != nil {
		c.internalError(w, span, "Failed to encode state", err)
		return
	}

	callbackURL, err := c.redirects.CallbackURL(r, cfg)
	if err != nil {
		log.LogWarnWithFields("flow", "Cannot derive callback URL", map[string]any{
			"error": err.Error(),
		})
		instrumentation.RecordError(span, err)
		respond.WriteBadRequest(w, msgNoCallbackURL)
		return
	}

	log.LogTraceWithFields("flow", "Callback URL resolved", map[string]any{
		"mode":     string(cfg.Mode()),
		"callback": callbackURL,
	})

	authURL, err := c.redirects.ProviderAuthorizationURL(cfg, callbackURL, encoded, scopes)
	if err != nil {
		c.internalError(w, span, "Failed to build authorization URL", err)
		return
	}

	c.metrics.RecordFlowStarted(ctx)
	span.SetAttributes(attribute.String(instrumentation.AttrOutcome, string(OutcomeOK)))
	log.LogInfoWithFields("flow", "Starting authorization", map[string]any{
		"local_port": localPort,
		"scopes":     scopes,
		"redirect":   callbackURL,
	})

	respond.Redirect(w, authURL)
}

// Callback handles the provider's redirect back to the relay.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	ctx, span := c.tracer.Start(r.Context(), "flow.callback")
	defer span.End()

	query := r.URL.Query()
	if !query.Has("state") {
		c.reject(ctx, w, span, OutcomeMissingParameter, msgMissingState, nil)
		return
	}

	data, err := state.Decode(query.Get("state"))
	if err != nil {
		c.reject(ctx, w, span, OutcomeMalformedState, msgInvalidState, err)
		return
	}
	localPort := data.LocalPort
	span.SetAttributes(attribute.Int(instrumentation.AttrLocalPort, int(localPort)))
	log.LogTraceWithFields("flow", "State decoded", map[string]any{
		"local_port": localPort,
		"has_code":   query.Get("code") != "",
		"has_error":  query.Has("error"),
	})

	// Presence decides, an empty error= still means the provider refused.
	if query.Has("error") {
		providerErr := query.Get("error")
		description := msgUnknownError
		if query.Has("error_description") {
			description = query.Get("error_description")
		}
		span.SetAttributes(attribute.String(instrumentation.AttrProviderError, providerErr))
		c.deliverError(ctx, w, span, localPort, OutcomeProviderDenied, fmt.Sprintf("%s: %s", providerErr, description))
		return
	}

	code := query.Get("code")
	if code == "" {
		c.deliverError(ctx, w, span, localPort, OutcomeMissingCode, msgMissingCode)
		return
	}

	// Must match the redirect_uri sent by Start, providers compare them.
	callbackURL, err := c.redirects.CallbackURL(r, cfg)
	if err != nil {
		instrumentation.RecordError(span, err)
		c.deliverError(ctx, w, span, localPort, OutcomeConfigurationError, fmt.Sprintf("%s: %v", msgNoCallbackURL, err))
		return
	}

	log.LogTraceWithFields("flow", "Exchanging authorization code", map[string]any{
		"local_port":   localPort,
		"redirect_uri": callbackURL,
	})
	tokens, err := c.exchanger.Exchange(ctx, cfg, code, callbackURL)
	if err != nil {
		instrumentation.RecordError(span, err)
		c.deliverError(ctx, w, span, localPort, exchangeOutcome(err), token.Describe(err))
		return
	}

	c.finish(ctx, span, OutcomeOK, map[string]any{
		"local_port":    localPort,
		"refresh_token": tokens.RefreshToken != "",
		"token_type":    tokens.TokenType,
		"expires_in":    tokens.ExpiresIn,
	})
	respond.Redirect(w, c.redirects.LocalSuccessURL(localPort, tokens))
}

// reject answers directly; used before the local port is known.
func (c *Controller) reject(ctx context.Context, w http.ResponseWriter, span trace.Span, outcome Outcome, message string, err error) {
	fields := map[string]any{}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.finish(ctx, span, outcome, fields)
	respond.WriteBadRequest(w, message)
}

// deliverError redirects the browser to the local application with message.
func (c *Controller) deliverError(ctx context.Context, w http.ResponseWriter, span trace.Span, localPort uint16, outcome Outcome, message string) {
	c.finish(ctx, span, outcome, map[string]any{
		"local_port": localPort,
		"message":    message,
	})
	respond.Redirect(w, c.redirects.LocalErrorURL(localPort, message))
}

func (c *Controller) finish(ctx context.Context, span trace.Span, outcome Outcome, fields map[string]any) {
	span.SetAttributes(attribute.String(instrumentation.AttrOutcome, string(outcome)))
	c.metrics.RecordCallback(ctx, string(outcome))

	fields["outcome"] = string(outcome)
	if outcome == OutcomeOK {
		log.LogInfoWithFields("flow", "Authorization completed", fields)
		return
	}
	log.LogWarnWithFields("flow", "Authorization failed", fields)
}

func (c *Controller) internalError(w http.ResponseWriter, span trace.Span, message string, err error) {
	log.LogErrorWithFields("flow", message, map[string]any{
		"error": err.Error(),
	})
	instrumentation.RecordError(span, err)
	span.SetAttributes(attribute.String(instrumentation.AttrOutcome, string(OutcomeInternalError)))
	respond.WriteInternalServerError(w, msgServerError)
}

// parseLocalPort accepts a decimal port in the uint16 range.
func parseLocalPort(raw string) (uint16, bool) {
	if raw == "" {
		return 0, false
	}
	port, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(port), true
}
