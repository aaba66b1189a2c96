package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/backoff"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/internal/keylock"
	"github.com/chaoschain/gateway/txqueue"
)

// Engine drives workflow records through their steps.
type Engine struct {
	store      Store
	adapters   Adapters
	reconciler *Reconciler
	queue      *txqueue.Queue
	classifier *Classifier
	backoff    backoff.Strategy
	emitter    Emitter
	mws        []StepMiddleware
	locks      *keylock.Map
	cfg        gateway.Config
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time

	env *env
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets retry, timeout and scheduling settings.
func WithConfig(cfg gateway.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithQueue sets the transaction queue. By default a queue with an
// in-process signer lock is built over Adapters.Ledger.
func WithQueue(q *txqueue.Queue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c *Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithBackoff overrides the retry delay derived from the config.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.backoff = b }
}

// WithEmitter registers the lifecycle event listener.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithMiddleware appends step middleware. The first registered is the
// outermost wrapper.
func WithMiddleware(mws ...StepMiddleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSleep replaces the function used to wait between retries and polls.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// NewEngine builds an engine over store and adapters.
func NewEngine(store Store, adapters Adapters, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, gateway.ErrNoStore
	}
	e := &Engine{
		store:    store,
		adapters: adapters,
		cfg:      gateway.DefaultConfig(),
		emitter:  nopEmitter{},
		locks:    keylock.New(),
		logger:   slog.Default(),
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxAttempts < 1 {
		e.cfg.MaxAttempts = 1
	}
	if e.cfg.Concurrency < 1 {
		e.cfg.Concurrency = 1
	}
	if e.classifier == nil {
		e.classifier = DefaultClassifier()
	}
	if e.backoff == nil {
		exp := backoff.NewExponential(e.cfg.InitialDelay, e.cfg.Multiplier, e.cfg.MaxDelay)
		if e.cfg.Jitter {
			exp = exp.WithJitter()
		}
		e.backoff = exp
	}
	if e.queue == nil {
		e.queue = txqueue.New(adapters.Ledger,
			txqueue.WithSubmitTimeout(e.cfg.ActionTimeout),
			txqueue.WithLogger(e.logger),
		)
	}
	e.reconciler = NewReconciler(adapters)
	e.env = &env{
		adapters: adapters,
		queue:    e.queue,
		cfg:      e.cfg,
		sleep:    e.sleep,
		logger:   e.logger,
	}
	return e, nil
}

// Store returns the engine's store.
func (e *Engine) Store() Store { return e.store }

// Config returns the effective configuration.
func (e *Engine) Config() gateway.Config { return e.cfg }

// CreateWorkflow validates input and persists a CREATED record. input is
// either raw JSON or one of the typed input structs.
func (e *Engine) CreateWorkflow(ctx context.Context, t Type, input any) (*Record, error) {
	def, err := definitionFor(t)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	switch v := input.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, invalidInput("encode input: %v", err)
		}
	}
	seq, err := def.sequence(raw)
	if err != nil {
		return nil, err
	}
	signer, err := def.signer(raw)
	if err != nil {
		return nil, err
	}

	now := e.now()
	rec := &Record{
		ID:        id.NewWorkflowID(),
		Type:      t,
		State:     StateCreated,
		Step:      seq[0],
		Input:     raw,
		Progress:  Progress{},
		Signer:    strings.ToLower(signer.Hex()),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	e.logger.Info("workflow created",
		slog.String("workflow_id", rec.ID.String()),
		slog.String("type", string(t)),
		slog.String("signer", rec.Signer),
	)
	return rec, nil
}

// Get loads a record.
func (e *Engine) Get(ctx context.Context, wfID id.WorkflowID) (*Record, error) {
	return e.store.Load(ctx, wfID)
}

// List returns records matching opts.
func (e *Engine) List(ctx context.Context, opts ListOpts) ([]*Record, error) {
	return e.store.List(ctx, opts)
}

// StartWorkflow moves a CREATED record to RUNNING and drives it until it
// completes, fails, stalls or waits.
func (e *Engine) StartWorkflow(ctx context.Context, wfID id.WorkflowID) (*Record, error) {
	unlock, err := e.locks.Lock(ctx, wfID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := e.store.Load(ctx, wfID)
	if err != nil {
		return nil, err
	}
	if rec.State != StateCreated {
		return rec, fmt.Errorf("%w: %s is %s", gateway.ErrNotStartable, wfID, rec.State)
	}
	def, err := definitionFor(rec.Type)
	if err != nil {
		return rec, err
	}

	rec, err = e.store.TransitionState(ctx, wfID, Transition{State: StateRunning, Step: rec.Step})
	if err != nil {
		return nil, err
	}
	e.emitter.EmitWorkflowStarted(ctx, rec)
	e.logger.Info("workflow started",
		slog.String("workflow_id", rec.ID.String()),
		slog.String("type", string(rec.Type)),
		slog.String("step", rec.Step),
	)

	if err := def.validate(rec.Input); err != nil {
		return e.fail(ctx, rec, err, e.classifier.Classify(err))
	}
	return e.drive(ctx, def, rec)
}

// ResumeWorkflow continues a RUNNING or STALLED record. Terminal records
// are returned unchanged without touching any adapter.
func (e *Engine) ResumeWorkflow(ctx context.Context, wfID id.WorkflowID) (*Record, error) {
	unlock, err := e.locks.Lock(ctx, wfID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.resumeLocked(ctx, wfID)
}

func (e *Engine) resumeLocked(ctx context.Context, wfID id.WorkflowID) (*Record, error) {
	rec, err := e.store.Load(ctx, wfID)
	if err != nil {
		return nil, err
	}
	switch rec.State {
	case StateCompleted, StateFailed:
		return rec, nil
	case StateCreated:
		return rec, fmt.Errorf("%w: %s", gateway.ErrNotStarted, wfID)
	case StateStalled:
		rec, err = e.store.TransitionState(ctx, wfID, Transition{State: StateRunning, Step: rec.Step})
		if err != nil {
			return nil, err
		}
		e.logger.Info("workflow resumed",
			slog.String("workflow_id", rec.ID.String()),
			slog.String("step", rec.Step),
		)
	}
	def, err := definitionFor(rec.Type)
	if err != nil {
		return rec, err
	}
	return e.drive(ctx, def, rec)
}

// ReconcileAllActive resumes every RUNNING and STALLED record. Records
// already being driven by another caller are skipped. It returns how many
// records were resumed.
func (e *Engine) ReconcileAllActive(ctx context.Context) (int, error) {
	recs, err := e.store.ListByState(ctx, StateRunning, StateStalled)
	if err != nil {
		return 0, fmt.Errorf("list active workflows: %w", err)
	}

	var (
		mu      sync.Mutex
		errs    []error
		resumed int
	)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for _, rec := range recs {
		wfID := rec.ID
		g.Go(func() error {
			unlock, ok := e.locks.TryLock(wfID.String())
			if !ok {
				e.logger.Debug("workflow busy, skipping", slog.String("workflow_id", wfID.String()))
				return nil
			}
			defer unlock()

			_, rerr := e.resumeLocked(ctx, wfID)
			mu.Lock()
			defer mu.Unlock()
			resumed++
			if rerr != nil {
				e.logger.Error("reconcile workflow",
					slog.String("workflow_id", wfID.String()),
					slog.String("error", rerr.Error()),
				)
				errs = append(errs, fmt.Errorf("%s: %w", wfID, rerr))
			}
			return nil
		})
	}
	_ = g.Wait()
	return resumed, errors.Join(errs...)
}

// drive runs steps until the record leaves RUNNING, a step waits, or ctx
// ends. Step failures are recorded on the record and are not returned.
func (e *Engine) drive(ctx context.Context, def definition, rec *Record) (*Record, error) {
	seq, err := def.sequence(rec.Input)
	if err != nil {
		return e.fail(ctx, rec, err, e.classifier.Classify(err))
	}

	for rec.State == StateRunning {
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		info, ok := def.info(rec.Step)
		if !ok {
			inv := gateway.Invariant(fmt.Sprintf("unknown step %q", rec.Step))
			return e.fail(ctx, rec, inv, inv)
		}

		if info.Irreversible {
			done, patch, err := e.reconcile(ctx, def, rec)
			if err != nil {
				var retry bool
				if rec, retry, err = e.handleFailure(ctx, rec, err); err != nil || !retry {
					return rec, err
				}
				continue
			}
			if done {
				step := rec.Step
				if rec, err = e.advance(ctx, rec, seq, patch); err != nil {
					return rec, err
				}
				e.emitter.EmitStepReconciled(ctx, rec, step)
				e.logger.Info("step already on ledger",
					slog.String("workflow_id", rec.ID.String()),
					slog.String("step", step),
				)
				e.completed(ctx, rec)
				continue
			}
		}

		start := time.Now()
		out, err := e.runStep(ctx, def, rec, info)
		if err != nil {
			if ctx.Err() != nil {
				return rec, ctx.Err()
			}
			var retry bool
			if rec, retry, err = e.handleFailure(ctx, rec, err); err != nil || !retry {
				return rec, err
			}
			continue
		}

		if out.wait {
			if len(out.patch) > 0 {
				rec, err = e.store.TransitionState(ctx, rec.ID, Transition{
					State:        StateRunning,
					Step:         rec.Step,
					StepAttempts: rec.StepAttempts,
					Progress:     out.patch,
				})
				if err != nil {
					return rec, err
				}
			}
			e.emitter.EmitWorkflowWaiting(ctx, rec, rec.Step, out.reason)
			e.logger.Info("workflow waiting",
				slog.String("workflow_id", rec.ID.String()),
				slog.String("step", rec.Step),
				slog.String("reason", out.reason),
			)
			return rec, nil
		}

		step := rec.Step
		if rec, err = e.advance(ctx, rec, seq, out.patch); err != nil {
			return rec, err
		}
		e.emitter.EmitStepCompleted(ctx, rec, step, time.Since(start))
		e.completed(ctx, rec)
	}
	return rec, nil
}

// reconcile asks the Reconciler about rec's current step unless progress
// already holds the step's transaction hash.
func (e *Engine) reconcile(ctx context.Context, def definition, rec *Record) (bool, Progress, error) {
	handled, err := def.handled(rec.Step, rec.Progress)
	if err != nil {
		return false, nil, gateway.Invariant(err.Error())
	}
	if handled {
		return false, nil, nil
	}
	rctx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	patch, done, err := e.reconciler.Reconcile(rctx, rec)
	if err != nil {
		return false, nil, fmt.Errorf("reconcile %s: %w", rec.Step, err)
	}
	return done, patch, nil
}

func (e *Engine) runStep(ctx context.Context, def definition, rec *Record, info StepInfo) (outcome, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeout(info))
	defer cancel()

	persist := func(pctx context.Context, patch Progress) error {
		_, err := e.store.TransitionState(pctx, rec.ID, Transition{
			State:        StateRunning,
			Step:         rec.Step,
			StepAttempts: rec.StepAttempts,
			Progress:     patch,
		})
		if err != nil {
			return fmt.Errorf("persist progress: %w", err)
		}
		return nil
	}

	var out outcome
	h := chainMiddleware(e.mws, rec, func(ctx context.Context) error {
		var err error
		out, err = def.execute(ctx, rec.Step, rec, e.env, persist)
		return err
	})
	if err := h(sctx); err != nil {
		return outcome{}, err
	}
	return out, nil
}

func (e *Engine) timeout(info StepInfo) time.Duration {
	switch info.timeout {
	case timeoutConfirm:
		return e.cfg.ConfirmTimeout
	case timeoutSubmit:
		return e.cfg.ActionTimeout + e.cfg.ConfirmTimeout
	default:
		return e.cfg.ActionTimeout
	}
}

// advance records patch and moves to the next step, or completes the
// workflow after the last one.
func (e *Engine) advance(ctx context.Context, rec *Record, seq []string, patch Progress) (*Record, error) {
	next, err := nextStep(seq, rec.Step)
	if err != nil {
		return e.fail(ctx, rec, err, e.classifier.Classify(err))
	}
	t := Transition{State: StateRunning, Step: next, Progress: patch}
	if next == "" {
		t.State = StateCompleted
		t.Step = rec.Step
	}
	updated, err := e.store.TransitionState(ctx, rec.ID, t)
	if err != nil {
		return rec, err
	}
	return updated, nil
}

func (e *Engine) completed(ctx context.Context, rec *Record) {
	if rec.State != StateCompleted {
		return
	}
	e.emitter.EmitWorkflowCompleted(ctx, rec, rec.UpdatedAt.Sub(rec.CreatedAt))
	e.logger.Info("workflow completed",
		slog.String("workflow_id", rec.ID.String()),
		slog.String("type", string(rec.Type)),
	)
}

// handleFailure classifies a step error. Operational errors are retried
// after a backoff delay until MaxAttempts, then the record stalls. All
// other errors fail the record.
func (e *Engine) handleFailure(ctx context.Context, rec *Record, stepErr error) (*Record, bool, error) {
	ge := e.classifier.Classify(stepErr)
	if ge.Kind != gateway.KindOperational {
		updated, err := e.fail(ctx, rec, stepErr, ge)
		return updated, false, err
	}

	attempts := rec.StepAttempts + 1
	if attempts >= e.cfg.MaxAttempts {
		updated, err := e.store.TransitionState(ctx, rec.ID, Transition{
			State:        StateStalled,
			Step:         rec.Step,
			StepAttempts: attempts,
			Error:        e.failure(rec.Step, stepErr, ge),
		})
		if err != nil {
			return rec, false, err
		}
		e.emitter.EmitWorkflowStalled(ctx, updated, stepErr)
		e.logger.Warn("workflow stalled",
			slog.String("workflow_id", rec.ID.String()),
			slog.String("step", rec.Step),
			slog.Int("attempts", attempts),
			slog.String("code", string(ge.Code)),
			slog.String("error", stepErr.Error()),
		)
		return updated, false, nil
	}

	updated, err := e.store.TransitionState(ctx, rec.ID, Transition{
		State:        StateRunning,
		Step:         rec.Step,
		StepAttempts: attempts,
	})
	if err != nil {
		return rec, false, err
	}
	delay := e.backoff.Delay(attempts)
	e.emitter.EmitStepRetrying(ctx, updated, rec.Step, attempts, delay, stepErr)
	e.logger.Warn("step failed, retrying",
		slog.String("workflow_id", rec.ID.String()),
		slog.String("step", rec.Step),
		slog.Int("attempt", attempts),
		slog.Duration("delay", delay),
		slog.String("code", string(ge.Code)),
		slog.String("error", stepErr.Error()),
	)
	if err := e.sleep(ctx, delay); err != nil {
		return updated, false, err
	}
	return updated, true, nil
}

// fail moves rec to FAILED without touching step_attempts.
func (e *Engine) fail(ctx context.Context, rec *Record, cause error, ge *gateway.Error) (*Record, error) {
	updated, err := e.store.TransitionState(ctx, rec.ID, Transition{
		State:        StateFailed,
		Step:         rec.Step,
		StepAttempts: rec.StepAttempts,
		Error:        e.failure(rec.Step, cause, ge),
	})
	if err != nil {
		return rec, err
	}
	e.emitter.EmitWorkflowFailed(ctx, updated, cause)
	e.logger.Error("workflow failed",
		slog.String("workflow_id", rec.ID.String()),
		slog.String("step", rec.Step),
		slog.String("code", string(ge.Code)),
		slog.String("error", cause.Error()),
	)
	return updated, nil
}

func (e *Engine) failure(step string, cause error, ge *gateway.Error) *Failure {
	return &Failure{
		Step:        step,
		Message:     cause.Error(),
		Code:        string(ge.Code),
		Timestamp:   e.now(),
		Recoverable: ge.Kind.Recoverable(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
