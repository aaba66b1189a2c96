package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaoschain/gateway/workflow"
)

const tracerName = "github.com/chaoschain/gateway"

// Tracing wraps each step in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each step in a "gateway.workflow.step" span.
// Failed steps carry gateway.error.kind and, when known, gateway.error.code.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, rec *workflow.Record, next Handler) error {
		ctx, span := tracer.Start(ctx, "gateway.workflow.step",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("gateway.workflow.id", rec.ID.String()),
				attribute.String("gateway.workflow.type", string(rec.Type)),
				attribute.String("gateway.step", rec.Step),
				attribute.Int("gateway.step.attempts", rec.StepAttempts),
				attribute.String("gateway.signer", rec.Signer),
			),
		)
		defer span.End()

		err := next(ctx)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		span.SetAttributes(attribute.String("gateway.error.kind", Outcome(err)))
		if code := errorCode(err); code != "" {
			span.SetAttributes(attribute.String("gateway.error.code", code))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}
