package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for relay spans.
const defaultTracerName = "parley/relay"

// Attribute keys used on relay spans.
var (
	AttrClientID  = attribute.Key("parley.client_id")
	AttrKind      = attribute.Key("parley.message_kind")
	AttrFanout    = attribute.Key("parley.fanout")
	AttrDelivered = attribute.Key("parley.delivered")
	AttrFailed    = attribute.Key("parley.failed")
	AttrStatus    = attribute.Key("parley.handshake_status")
)

// Tracer resolves the relay tracer from the global OpenTelemetry
// provider. Configure the provider in main() before starting the
// server; without one the returned tracer is a no-op and costs
// nothing on the hot path.
//
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	)
//	otel.SetTracerProvider(tp)
func Tracer() trace.Tracer {
	return otel.Tracer(defaultTracerName)
}

// StartSpan starts a server-kind span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records the outcome on the span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
