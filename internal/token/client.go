// Package token performs the server-to-server authorization code exchange.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/oauth-relay/internal/config"
	"github.com/dgellow/oauth-relay/internal/instrumentation"
	"github.com/dgellow/oauth-relay/internal/ioutil"
	"github.com/dgellow/oauth-relay/internal/log"
	"github.com/dgellow/oauth-relay/internal/urlutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseBytes caps how much of a token endpoint response is read.
const maxResponseBytes = 1 << 20

// DefaultTimeout bounds a token request when the caller supplies no client.
const DefaultTimeout = 30 * time.Second

// Client exchanges authorization codes at a provider's token endpoint.
// It makes exactly one attempt per call.
type Client struct {
	httpClient *http.Client
	tracer     trace.Tracer
	metrics    *instrumentation.Metrics
}

// NewClient creates a Client. A nil httpClient gets DefaultTimeout.
func NewClient(httpClient *http.Client, metrics *instrumentation.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		tracer:     instrumentation.Tracer("token"),
		metrics:    metrics,
	}
}

// Exchange trades code for tokens. redirectURI must equal the redirect_uri
// sent in the authorization request. Failures are *TransportError,
// *ParseError or *ProviderError.
func (c *Client) Exchange(ctx context.Context, cfg config.Config, code, redirectURI string) (resp *Response, err error) {
	ctx, span := c.tracer.Start(ctx, "token.exchange", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String(instrumentation.AttrClientID, cfg.ClientID),
		attribute.String(instrumentation.AttrGrantType, "authorization_code"),
	)
	start := time.Now()
	defer func() {
		c.metrics.RecordExchange(ctx, exchangeResult(err), time.Since(start))
		instrumentation.RecordError(span, err)
		span.End()
	}()

	form := urlutil.Query{}.
		Add("grant_type", "authorization_code").
		Add("code", code).
		Add("redirect_uri", redirectURI).
		Add("client_id", cfg.ClientID).
		Add("client_secret", string(cfg.ClientSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		log.LogWarnWithFields("token", "Token request failed", map[string]any{
			"error": err.Error(),
		})
		return nil, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	body, truncated, err := ioutil.ReadLimited(httpResp.Body, maxResponseBytes)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	span.SetAttributes(attribute.Int(instrumentation.AttrProviderStatus, httpResp.StatusCode))

	log.LogDebugWithFields("token", "Token endpoint responded", map[string]any{
		"status":    httpResp.StatusCode,
		"bytes":     len(body),
		"truncated": truncated,
	})

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return parseSuccess(httpResp.StatusCode, body)
	}
	return nil, parseFailure(httpResp.StatusCode, body)
}

func parseSuccess(status int, body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Status: status, Err: err}
	}
	if resp.AccessToken == "" {
		var fields map[string]json.RawMessage
		_ = json.Unmarshal(body, &fields)
		if _, ok := fields["access_token"]; ok {
			return nil, &ParseError{Status: status, Err: errors.New("empty access_token")}
		}
		return nil, &ParseError{Status: status, Err: errors.New("missing field access_token")}
	}
	return &resp, nil
}

func parseFailure(status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &ProviderError{
			Status:      status,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}
	return &ProviderError{
		Status: status,
		Body:   string(body),
	}
}

func exchangeResult(err error) string {
	var transportErr *TransportError
	var parseErr *ParseError
	var providerErr *ProviderError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &providerErr):
		return "provider_error"
	case errors.As(err, &parseErr):
		return "parse_error"
	case errors.As(err, &transportErr):
		return "transport_error"
	default:
		return "error"
	}
}
