// Package worker runs workflows in the background: an Executor that starts
// or resumes one workflow by id, and a Pool of goroutines that feed it from
// a buffered queue and periodically sweep active records.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/queue"
	"github.com/chaoschain/gateway/workflow"
)

// ErrDeferred is returned by Execute when admission control refused to
// run the workflow now.
var ErrDeferred = errors.New("worker: workflow deferred by admission control")

// Engine is the subset of *workflow.Engine the worker drives.
type Engine interface {
	Get(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error)
	StartWorkflow(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error)
	ResumeWorkflow(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error)
	ReconcileAllActive(ctx context.Context) (int, error)
	List(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Record, error)
}

// Executor moves one workflow as far as it can go in a single call.
type Executor struct {
	engine    Engine
	admission *queue.Manager
	logger    *slog.Logger
}

// NewExecutor creates an Executor. admission may be nil.
func NewExecutor(engine Engine, admission *queue.Manager, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{engine: engine, admission: admission, logger: logger}
}

// Execute starts a CREATED workflow or resumes a RUNNING or STALLED one.
// Terminal workflows are returned as they are.
func (e *Executor) Execute(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error) {
	rec, err := e.engine.Get(ctx, wfID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", wfID, err)
	}
	if rec.State.Terminal() {
		return rec, nil
	}

	if e.admission != nil {
		wfType, studio := string(rec.Type), workflow.Studio(rec.Input)
		if !e.admission.Acquire(wfType, studio) {
			return rec, ErrDeferred
		}
		defer e.admission.Release(wfType, studio)
	}

	start := time.Now()
	if rec.State == workflow.StateCreated {
		rec, err = e.engine.StartWorkflow(ctx, wfID)
	} else {
		rec, err = e.engine.ResumeWorkflow(ctx, wfID)
	}
	if err != nil {
		return rec, err
	}

	e.logger.Debug("workflow executed",
		slog.String("workflow_id", wfID.String()),
		slog.String("state", string(rec.State)),
		slog.String("step", rec.Step),
		slog.Duration("elapsed", time.Since(start)),
	)
	return rec, nil
}
