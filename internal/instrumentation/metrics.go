package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the relay's metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	FlowsStarted       metric.Int64Counter
	CallbacksProcessed metric.Int64Counter
	TokenExchanges     metric.Int64Counter
	ExchangeDuration   metric.Float64Histogram
	RateLimited        metric.Int64Counter
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.FlowsStarted, err = meter.Int64Counter(
		"relay.flow.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.started counter: %w", err)
	}

	m.CallbacksProcessed, err = meter.Int64Counter(
		"relay.callback.processed",
		metric.WithDescription("Number of provider callbacks processed, by outcome"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.TokenExchanges, err = meter.Int64Counter(
		"relay.token.exchanged",
		metric.WithDescription("Number of authorization code exchanges, by result"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.exchanged counter: %w", err)
	}

	m.ExchangeDuration, err = meter.Float64Histogram(
		"relay.token.exchange.duration",
		metric.WithDescription("Token endpoint round trip duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.exchange.duration histogram: %w", err)
	}

	m.RateLimited, err = meter.Int64Counter(
		"relay.http.rate_limited",
		metric.WithDescription("Number of requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.rate_limited counter: %w", err)
	}

	return m, nil
}

// RecordFlowStarted counts a start request that redirected to the provider.
func (m *Metrics) RecordFlowStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.FlowsStarted.Add(ctx, 1)
}

// RecordCallback counts a processed callback.
func (m *Metrics) RecordCallback(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.CallbacksProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
}

// RecordExchange counts a token exchange and its duration.
func (m *Metrics) RecordExchange(ctx context.Context, result string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.TokenExchanges.Add(ctx, 1, attrs)
	m.ExchangeDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimited.Add(ctx, 1)
}
