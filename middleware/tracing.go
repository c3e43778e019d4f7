package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/gantry/job"
)

// tracerName is the instrumentation scope name for gantry tracing.
const tracerName = "github.com/xraph/gantry"

// Tracing returns middleware that wraps job execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: gantry.job.id, gantry.job.type, gantry.queue,
// gantry.attempt. On error, the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, d *job.Description, next Handler) (job.Result, error) {
		ctx, span := tracer.Start(ctx, "gantry.job.execute",
			trace.WithAttributes(
				attribute.String("gantry.job.id", d.ID.String()),
				attribute.String("gantry.job.type", d.Type),
				attribute.String("gantry.queue", d.Queue),
				attribute.Int("gantry.attempt", d.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
