// Package instrumentation exposes the relay's OpenTelemetry tracers and
// metric instruments.
//
// Nothing here installs exporters. Tracers and meters come from the global
// otel providers, which are no-ops until the embedding process registers
// real ones.
package instrumentation

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/dgellow/oauth-relay/"

// Span attribute keys. Never attach token or code values, only metadata.
const (
	AttrClientID       = "oauth.client_id"
	AttrGrantType      = "oauth.grant_type"
	AttrLocalPort      = "relay.local_port"
	AttrOutcome        = "relay.outcome"
	AttrMode           = "relay.mode"
	AttrProviderStatus = "provider.status"
	AttrProviderError  = "provider.error"
)

// Tracer returns a named tracer for the given scope
// The full name will be "github.com/dgellow/oauth-relay/{scope}"
func Tracer(scope string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName + scope)
}

// Meter returns a named meter for the given scope
func Meter(scope string) metric.Meter {
	return otel.GetMeterProvider().Meter(instrumentationName + scope)
}

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
