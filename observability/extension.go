package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/ext"
	"github.com/chaoschain/gateway/workflow"
)

const meterName = "github.com/chaoschain/gateway/observability"

// Outcome attribute values for gateway.workflow.outcomes.
const (
	OutcomeStarted   = "started"
	OutcomeWaiting   = "waiting"
	OutcomeStalled   = "stalled"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted   = (*MetricsExtension)(nil)
	_ ext.WorkflowWaiting   = (*MetricsExtension)(nil)
	_ ext.WorkflowStalled   = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed    = (*MetricsExtension)(nil)
	_ ext.StepReconciled    = (*MetricsExtension)(nil)
	_ ext.StepRetrying      = (*MetricsExtension)(nil)
)

// MetricsExtension records workflow lifecycle metrics.
//
// Instruments:
//   - gateway.workflow.outcomes (Int64Counter): attributes workflow_type,
//     outcome and, for stalled/failed, code
//   - gateway.workflow.duration (Float64Histogram): created-to-completed
//     time in seconds
//   - gateway.step.retries (Int64Counter): attributes workflow_type, step
//   - gateway.step.reconciled (Int64Counter): irreversible steps found
//     already applied, attributes workflow_type, step
type MetricsExtension struct {
	outcomes   metric.Int64Counter
	duration   metric.Float64Histogram
	retries    metric.Int64Counter
	reconciled metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.outcomes, _ = meter.Int64Counter("gateway.workflow.outcomes",
		metric.WithDescription("Workflow lifecycle transitions by outcome"),
		metric.WithUnit("{workflow}"),
	)
	m.duration, _ = meter.Float64Histogram("gateway.workflow.duration",
		metric.WithDescription("Time from creation to completion in seconds"),
		metric.WithUnit("s"),
	)
	m.retries, _ = meter.Int64Counter("gateway.step.retries",
		metric.WithDescription("Step retries after operational failures"),
		metric.WithUnit("{retry}"),
	)
	m.reconciled, _ = meter.Int64Counter("gateway.step.reconciled",
		metric.WithDescription("Irreversible steps found already applied on the ledger"),
		metric.WithUnit("{step}"),
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, rec *workflow.Record) error {
	m.outcome(ctx, rec, OutcomeStarted, "")
	return nil
}

// OnWorkflowWaiting implements ext.WorkflowWaiting.
func (m *MetricsExtension) OnWorkflowWaiting(ctx context.Context, rec *workflow.Record, _, _ string) error {
	m.outcome(ctx, rec, OutcomeWaiting, "")
	return nil
}

// OnWorkflowStalled implements ext.WorkflowStalled.
func (m *MetricsExtension) OnWorkflowStalled(ctx context.Context, rec *workflow.Record, err error) error {
	m.outcome(ctx, rec, OutcomeStalled, failureCode(rec, err))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, rec *workflow.Record, elapsed time.Duration) error {
	m.outcome(ctx, rec, OutcomeCompleted, "")
	m.duration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("workflow_type", string(rec.Type))))
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, rec *workflow.Record, err error) error {
	m.outcome(ctx, rec, OutcomeFailed, failureCode(rec, err))
	return nil
}

// OnStepReconciled implements ext.StepReconciled.
func (m *MetricsExtension) OnStepReconciled(ctx context.Context, rec *workflow.Record, step string) error {
	m.reconciled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_type", string(rec.Type)),
		attribute.String("step", step),
	))
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, rec *workflow.Record, step string, _ int, _ time.Duration, _ error) error {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_type", string(rec.Type)),
		attribute.String("step", step),
	))
	return nil
}

func (m *MetricsExtension) outcome(ctx context.Context, rec *workflow.Record, outcome, code string) {
	attrs := []attribute.KeyValue{
		attribute.String("workflow_type", string(rec.Type)),
		attribute.String("outcome", outcome),
	}
	if code != "" {
		attrs = append(attrs, attribute.String("code", code))
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// failureCode prefers the code persisted on the record.
func failureCode(rec *workflow.Record, err error) string {
	if rec.Error != nil && rec.Error.Code != "" {
		return rec.Error.Code
	}
	if ge, ok := gateway.AsError(err); ok {
		return string(ge.Code)
	}
	return string(gateway.CodeOperational)
}
