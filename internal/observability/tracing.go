package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/chorusrt/chorus/internal/router"

// TracerProvider holds the OpenTelemetry tracer provider for a chorus
// process (router or runner).
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewTracerProvider creates a stdout-exporting tracer provider. Chorus
// runs as local infrastructure (spec non-goal: no distributed
// deployment), so a stdout exporter is sufficient; swapping in an OTLP
// exporter later only touches this constructor.
func NewTracerProvider(serviceName string) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes and shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the router's tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span under the router's tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordError records err on the span in ctx, if any.
func RecordError(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
}

// Common attribute keys used across router spans.
var (
	AttrAgentID     = attribute.Key("chorus.agent.id")
	AttrTeamID      = attribute.Key("chorus.team.id")
	AttrChannel     = attribute.Key("chorus.channel")
	AttrMessageID   = attribute.Key("chorus.message.id")
	AttrEventType   = attribute.Key("chorus.event_type")
	AttrRecipients  = attribute.Key("chorus.recipients")
)
