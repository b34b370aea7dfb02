// Package tracing wires OpenTelemetry spans around supervisor runs and
// the actions inside them. Export is opt-in: without an OTLP endpoint
// the global no-op provider stays in place and span calls cost nothing.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/crewmesh/overseer"

// Init installs an OTLP HTTP trace exporter when
// OTEL_EXPORTER_OTLP_ENDPOINT is set. The returned shutdown flushes the
// batcher; it is a no-op when export is disabled.
func Init(ctx context.Context, serviceName, version string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// StartRun opens the span covering one full plan-and-execute cycle.
func StartRun(ctx context.Context, chatID, runID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "supervisor.run",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("run.id", runID),
		))
}

// StartAction opens a child span for one plan action.
func StartAction(ctx context.Context, label string, risk int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "supervisor.action",
		trace.WithAttributes(
			attribute.String("action.label", label),
			attribute.Int("action.risk", risk),
		))
}

// End closes a span, recording err when non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
