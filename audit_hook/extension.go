package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/ext"
	"github.com/chaoschain/gateway/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.WorkflowStarted   = (*Extension)(nil)
	_ ext.WorkflowWaiting   = (*Extension)(nil)
	_ ext.WorkflowStalled   = (*Extension)(nil)
	_ ext.WorkflowCompleted = (*Extension)(nil)
	_ ext.WorkflowFailed    = (*Extension)(nil)
	_ ext.StepCompleted     = (*Extension)(nil)
	_ ext.StepReconciled    = (*Extension)(nil)
	_ ext.StepRetrying      = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)

// SlogRecorder writes each event as one log line at a level matching its
// severity.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("category", evt.Category),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if len(evt.Metadata) > 0 {
			meta := make([]any, 0, len(evt.Metadata))
			for k, v := range evt.Metadata {
				meta = append(meta, slog.Any(k, v))
			}
			attrs = append(attrs, slog.Group("metadata", meta...))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Extension records lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnWorkflowStarted implements ext.WorkflowStarted.
func (e *Extension) OnWorkflowStarted(ctx context.Context, rec *workflow.Record) error {
	return e.record(ctx, ActionWorkflowStarted, CategoryWorkflow, SeverityInfo, OutcomeSuccess, rec, nil)
}

// OnWorkflowWaiting implements ext.WorkflowWaiting.
func (e *Extension) OnWorkflowWaiting(ctx context.Context, rec *workflow.Record, step, reason string) error {
	return e.record(ctx, ActionWorkflowWaiting, CategoryWorkflow, SeverityWarning, OutcomePending, rec, nil,
		"step", step,
		"wait_reason", reason,
	)
}

// OnWorkflowStalled implements ext.WorkflowStalled.
func (e *Extension) OnWorkflowStalled(ctx context.Context, rec *workflow.Record, err error) error {
	return e.record(ctx, ActionWorkflowStalled, CategoryWorkflow, SeverityWarning, OutcomeFailure, rec, err,
		"step", rec.Step,
		"attempts", rec.StepAttempts,
	)
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (e *Extension) OnWorkflowCompleted(ctx context.Context, rec *workflow.Record, elapsed time.Duration) error {
	return e.record(ctx, ActionWorkflowCompleted, CategoryWorkflow, SeverityInfo, OutcomeSuccess, rec, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (e *Extension) OnWorkflowFailed(ctx context.Context, rec *workflow.Record, err error) error {
	return e.record(ctx, ActionWorkflowFailed, CategoryWorkflow, SeverityCritical, OutcomeFailure, rec, err,
		"step", rec.Step,
	)
}

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, rec *workflow.Record, step string, elapsed time.Duration) error {
	return e.record(ctx, ActionStepCompleted, CategoryStep, SeverityInfo, OutcomeSuccess, rec, nil,
		"step", step,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStepReconciled implements ext.StepReconciled.
func (e *Extension) OnStepReconciled(ctx context.Context, rec *workflow.Record, step string) error {
	return e.record(ctx, ActionStepReconciled, CategoryStep, SeverityInfo, OutcomeSuccess, rec, nil,
		"step", step,
	)
}

// OnStepRetrying implements ext.StepRetrying.
func (e *Extension) OnStepRetrying(ctx context.Context, rec *workflow.Record, step string, attempt int, delay time.Duration, err error) error {
	return e.record(ctx, ActionStepRetrying, CategoryStep, SeverityWarning, OutcomeFailure, rec, err,
		"step", step,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// record builds and sends an event if action is enabled. Recorder
// failures are logged, never returned, so auditing cannot stall a
// workflow.
func (e *Extension) record(
	ctx context.Context,
	action, category, severity, outcome string,
	rec *workflow.Record,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+4)
	meta["workflow_type"] = string(rec.Type)
	meta["state"] = string(rec.State)
	if rec.Signer != "" {
		meta["signer"] = rec.Signer
	}
	for i := 0; i+1 < len(kvPairs); i += 2 {
		if key, ok := kvPairs[i].(string); ok {
			meta[key] = kvPairs[i+1]
		}
	}

	var reason string
	if err != nil {
		reason = err.Error()
		if ge, ok := gateway.AsError(err); ok {
			meta["error_kind"] = ge.Kind.String()
			if ge.Code != "" {
				meta["error_code"] = string(ge.Code)
			}
		}
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceWorkflow,
		Category:   category,
		ResourceID: rec.ID.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}
	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
