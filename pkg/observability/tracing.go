// Package observability wires OpenTelemetry tracing for debug runs. Setup
// installs a stdout-exporting provider; without it the span helpers below
// fall through to the global no-op tracer, so instrumented code paths cost
// nothing in normal runs.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/artasov/winky-cli"

// TracerProvider owns the installed tracing pipeline.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// Setup builds a pretty-printing stdout trace exporter and installs it as
// the global provider. Spans are batched; call Shutdown before exit to
// flush them.
func Setup(serviceName, version string, w io.Writer) (*TracerProvider, error) {
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the module tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span under whatever provider is installed.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordError records err on the span in ctx. Nil errors are ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
}

// AddEvent adds a point-in-time event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// Span attribute keys.
var (
	AttrChatID        = attribute.Key("winky.chat.id")
	AttrMessageID     = attribute.Key("winky.message.id")
	AttrModel         = attribute.Key("winky.model")
	AttrMode          = attribute.Key("winky.mode")
	AttrActionID      = attribute.Key("winky.action.id")
	AttrStreamOutcome = attribute.Key("winky.stream.outcome")
	AttrAudioBytes    = attribute.Key("winky.audio.bytes")
	AttrErrorCode     = attribute.Key("winky.error.code")
)
