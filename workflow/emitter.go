package workflow

import (
	"context"
	"time"
)

// Emitter receives workflow lifecycle events. ext.Registry implements it;
// the interface lives here so the engine does not import its listeners.
type Emitter interface {
	EmitWorkflowStarted(ctx context.Context, rec *Record)
	EmitStepCompleted(ctx context.Context, rec *Record, step string, elapsed time.Duration)
	EmitStepReconciled(ctx context.Context, rec *Record, step string)
	EmitStepRetrying(ctx context.Context, rec *Record, step string, attempt int, delay time.Duration, err error)
	EmitWorkflowWaiting(ctx context.Context, rec *Record, step, reason string)
	EmitWorkflowStalled(ctx context.Context, rec *Record, err error)
	EmitWorkflowCompleted(ctx context.Context, rec *Record, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, rec *Record, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitWorkflowStarted(context.Context, *Record)                      {}
func (nopEmitter) EmitStepCompleted(context.Context, *Record, string, time.Duration) {}
func (nopEmitter) EmitStepReconciled(context.Context, *Record, string)               {}
func (nopEmitter) EmitWorkflowWaiting(context.Context, *Record, string, string)      {}
func (nopEmitter) EmitWorkflowStalled(context.Context, *Record, error)               {}
func (nopEmitter) EmitWorkflowCompleted(context.Context, *Record, time.Duration)     {}
func (nopEmitter) EmitWorkflowFailed(context.Context, *Record, error)                {}

func (nopEmitter) EmitStepRetrying(context.Context, *Record, string, int, time.Duration, error) {}

// StepHandler runs the current step of a record.
type StepHandler func(ctx context.Context) error

// StepMiddleware wraps every step execution. rec.Step names the step
// being run. Middleware must call next unless it short-circuits with an
// error.
type StepMiddleware func(ctx context.Context, rec *Record, next StepHandler) error

func chainMiddleware(mws []StepMiddleware, rec *Record, h StepHandler) StepHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := h
		h = func(ctx context.Context) error {
			return mw(ctx, rec, next)
		}
	}
	return h
}
