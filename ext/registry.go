package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaoschain/gateway/workflow"
)

// entry pairs a hook with the name of the extension that provides it.
type entry[H any] struct {
	name string
	hook H
}

func bind[H any](list []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: e.Name(), hook: h})
	}
	return list
}

// Registry fans engine events out to extensions, in registration order.
// Hook errors and panics are logged and never reach the engine.
//
// Register every extension before the engine starts; Register does not
// synchronize with the Emit methods.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	started    []entry[WorkflowStarted]
	waiting    []entry[WorkflowWaiting]
	stalled    []entry[WorkflowStalled]
	completed  []entry[WorkflowCompleted]
	failed     []entry[WorkflowFailed]
	stepDone   []entry[StepCompleted]
	reconciled []entry[StepReconciled]
	retrying   []entry[StepRetrying]
	shutdown   []entry[Shutdown]
}

var _ workflow.Emitter = (*Registry)(nil)

// NewRegistry returns an empty registry. A nil logger means slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds e under every hook interface it implements.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	r.started = bind(r.started, e)
	r.waiting = bind(r.waiting, e)
	r.stalled = bind(r.stalled, e)
	r.completed = bind(r.completed, e)
	r.failed = bind(r.failed, e)
	r.stepDone = bind(r.stepDone, e)
	r.reconciled = bind(r.reconciled, e)
	r.retrying = bind(r.retrying, e)
	r.shutdown = bind(r.shutdown, e)
}

// Extensions returns the registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

func emit[H any](r *Registry, hook string, list []entry[H], call func(H) error) {
	for _, e := range list {
		r.invoke(hook, e.name, func() error { return call(e.hook) })
	}
}

func (r *Registry) invoke(hook, name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("extension hook panicked",
				slog.String("hook", hook),
				slog.String("extension", name),
				slog.String("panic", fmt.Sprint(p)),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logger.Warn("extension hook error",
			slog.String("hook", hook),
			slog.String("extension", name),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) EmitWorkflowStarted(ctx context.Context, rec *workflow.Record) {
	emit(r, "OnWorkflowStarted", r.started, func(h WorkflowStarted) error {
		return h.OnWorkflowStarted(ctx, rec)
	})
}

func (r *Registry) EmitWorkflowWaiting(ctx context.Context, rec *workflow.Record, step, reason string) {
	emit(r, "OnWorkflowWaiting", r.waiting, func(h WorkflowWaiting) error {
		return h.OnWorkflowWaiting(ctx, rec, step, reason)
	})
}

func (r *Registry) EmitWorkflowStalled(ctx context.Context, rec *workflow.Record, stepErr error) {
	emit(r, "OnWorkflowStalled", r.stalled, func(h WorkflowStalled) error {
		return h.OnWorkflowStalled(ctx, rec, stepErr)
	})
}

func (r *Registry) EmitWorkflowCompleted(ctx context.Context, rec *workflow.Record, elapsed time.Duration) {
	emit(r, "OnWorkflowCompleted", r.completed, func(h WorkflowCompleted) error {
		return h.OnWorkflowCompleted(ctx, rec, elapsed)
	})
}

func (r *Registry) EmitWorkflowFailed(ctx context.Context, rec *workflow.Record, stepErr error) {
	emit(r, "OnWorkflowFailed", r.failed, func(h WorkflowFailed) error {
		return h.OnWorkflowFailed(ctx, rec, stepErr)
	})
}

func (r *Registry) EmitStepCompleted(ctx context.Context, rec *workflow.Record, step string, elapsed time.Duration) {
	emit(r, "OnStepCompleted", r.stepDone, func(h StepCompleted) error {
		return h.OnStepCompleted(ctx, rec, step, elapsed)
	})
}

func (r *Registry) EmitStepReconciled(ctx context.Context, rec *workflow.Record, step string) {
	emit(r, "OnStepReconciled", r.reconciled, func(h StepReconciled) error {
		return h.OnStepReconciled(ctx, rec, step)
	})
}

func (r *Registry) EmitStepRetrying(ctx context.Context, rec *workflow.Record, step string, attempt int, delay time.Duration, stepErr error) {
	emit(r, "OnStepRetrying", r.retrying, func(h StepRetrying) error {
		return h.OnStepRetrying(ctx, rec, step, attempt, delay, stepErr)
	})
}

// EmitShutdown runs during graceful shutdown, after the engine stops
// taking work.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}
