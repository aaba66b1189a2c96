package ext

import (
	"context"
	"time"

	"github.com/chaoschain/gateway/workflow"
)

// Extension is anything registered with a Registry. It opts into events by
// also implementing one or more of the hook interfaces below.
type Extension interface {
	Name() string
}

// WorkflowStarted fires when a record leaves CREATED for RUNNING.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, rec *workflow.Record) error
}

// WorkflowWaiting fires when a step cannot progress yet (a window not
// open, a receipt still pending) and the record stays RUNNING for the
// sweeper.
type WorkflowWaiting interface {
	OnWorkflowWaiting(ctx context.Context, rec *workflow.Record, step, reason string) error
}

// WorkflowStalled fires when operational retries run out.
type WorkflowStalled interface {
	OnWorkflowStalled(ctx context.Context, rec *workflow.Record, err error) error
}

// WorkflowCompleted fires after the last step; elapsed is measured from
// creation.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, rec *workflow.Record, elapsed time.Duration) error
}

// WorkflowFailed fires when a record reaches FAILED.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, rec *workflow.Record, err error) error
}

// StepCompleted fires after a step runs and the record advances.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, rec *workflow.Record, step string, elapsed time.Duration) error
}

// StepReconciled fires when an irreversible step turns out to be on chain
// already and is skipped.
type StepReconciled interface {
	OnStepReconciled(ctx context.Context, rec *workflow.Record, step string) error
}

// StepRetrying fires before an operational failure is retried.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, rec *workflow.Record, step string, attempt int, delay time.Duration, err error) error
}

// Shutdown fires once during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
