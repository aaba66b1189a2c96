package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chaoschain/gateway/workflow"
)

const meterName = "github.com/chaoschain/gateway"

// Metrics records step metrics on the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter records, per workflow_type, step and outcome (see
// Outcome):
//
//	gateway.step.duration    histogram, seconds
//	gateway.step.executions  counter
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors leave noop instruments in place.
	duration, _ := meter.Float64Histogram("gateway.step.duration",
		metric.WithDescription("Workflow step execution time"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("gateway.step.executions",
		metric.WithDescription("Workflow step executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, rec *workflow.Record, next Handler) error {
		start := time.Now()
		err := next(ctx)

		attrs := metric.WithAttributes(
			attribute.String("workflow_type", string(rec.Type)),
			attribute.String("step", rec.Step),
			attribute.String("outcome", Outcome(err)),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
