package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

// Errors returned by Pool.Submit.
var (
	ErrPoolStopped = errors.New("worker: pool is not running")
	ErrQueueFull   = errors.New("worker: queue is full")
)

// Pool runs workflows on a fixed set of goroutines fed by a buffered queue
// of workflow ids, and sweeps active records on a ticker so nothing stays
// RUNNING or STALLED without someone looking at it.
type Pool struct {
	engine        Engine
	executor      *Executor
	concurrency   int
	bufferSize    int
	sweepInterval time.Duration
	requeueDelay  time.Duration
	sweepOnStart  bool
	logger        *slog.Logger

	ids    chan id.WorkflowID
	stopCh chan struct{}
	wg     sync.WaitGroup

	// ctx parents every execution and sweep; it is cancelled only when a
	// graceful stop runs out of time.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	queued  map[string]struct{}

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithBufferSize sets the capacity of the id queue.
func WithBufferSize(n int) PoolOption {
	return func(p *Pool) { p.bufferSize = n }
}

// WithSweepInterval sets how often active workflows are reconciled. Zero
// disables the periodic sweep.
func WithSweepInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.sweepInterval = d }
}

// WithRequeueDelay sets how long a deferred or waiting workflow sits out
// before it is queued again.
func WithRequeueDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.requeueDelay = d }
}

// WithSweepOnStart controls whether Start runs one sweep immediately,
// picking up whatever a previous process left behind. Enabled by default.
func WithSweepOnStart(b bool) PoolOption {
	return func(p *Pool) { p.sweepOnStart = b }
}

// NewPool creates a worker pool.
func NewPool(engine Engine, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		engine:        engine,
		executor:      executor,
		concurrency:   8,
		bufferSize:    1024,
		sweepInterval: 30 * time.Second,
		requeueDelay:  2 * time.Second,
		sweepOnStart:  true,
		logger:        logger,
		stopCh:        make(chan struct{}),
		queued:        make(map[string]struct{}),
		active:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.bufferSize < 1 {
		p.bufferSize = 1
	}
	p.ids = make(chan id.WorkflowID, p.bufferSize)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Start launches the workers and the sweeper. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("sweep_interval", p.sweepInterval),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.workLoop()
	}

	if p.sweepInterval > 0 || p.sweepOnStart {
		p.wg.Add(1)
		go p.sweepLoop()
	}

	return nil
}

// Stop signals workers to finish their current workflow and waits for
// them. When ctx ends first, in-flight workflows are cancelled; they stay
// RUNNING and the next sweep picks them up. Ids still queued are dropped
// for the same reason.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active workflows")
		p.cancelActive()
		p.cancel()
		<-done
	}
	p.cancel()

	return nil
}

// Submit queues a workflow id. Ids already queued are accepted and not
// added twice.
func (p *Pool) Submit(wfID id.WorkflowID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrPoolStopped
	}
	key := wfID.String()
	if _, ok := p.queued[key]; ok {
		return nil
	}

	select {
	case p.ids <- wfID:
		p.queued[key] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// ActiveCount returns the number of workflows being executed.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Sweep reconciles every RUNNING and STALLED workflow and queues CREATED
// ones that were never handed to a worker.
func (p *Pool) Sweep(ctx context.Context) {
	n, err := p.engine.ReconcileAllActive(ctx)
	if err != nil {
		p.logger.Error("sweep reconcile", slog.String("error", err.Error()))
	}
	if n > 0 {
		p.logger.Info("sweep reconciled workflows", slog.Int("count", n))
	}

	created, err := p.engine.List(ctx, workflow.ListOpts{State: workflow.StateCreated})
	if err != nil {
		p.logger.Error("sweep list created", slog.String("error", err.Error()))
		return
	}
	for _, rec := range created {
		if err := p.Submit(rec.ID); err != nil {
			p.logger.Warn("sweep could not queue workflow",
				slog.String("workflow_id", rec.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func (p *Pool) workLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case wfID := <-p.ids:
			p.mu.Lock()
			delete(p.queued, wfID.String())
			p.mu.Unlock()

			p.run(wfID)
		}
	}
}

func (p *Pool) run(wfID id.WorkflowID) {
	key := wfID.String()
	ctx, cancel := context.WithCancel(p.ctx)
	p.track(key, cancel)
	defer func() {
		p.untrack(key)
		cancel()
	}()

	rec, err := p.executor.Execute(ctx, wfID)
	switch {
	case errors.Is(err, ErrDeferred):
		p.requeue(wfID)
	case err != nil:
		p.logger.Warn("workflow execution error",
			slog.String("workflow_id", key),
			slog.String("error", err.Error()),
		)
	case rec != nil && rec.State == workflow.StateRunning:
		// Waiting on an external condition such as an archive upload.
		p.requeue(wfID)
	}
}

func (p *Pool) requeue(wfID id.WorkflowID) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		t := time.NewTimer(p.requeueDelay)
		defer t.Stop()
		select {
		case <-p.stopCh:
			return
		case <-t.C:
		}
		if err := p.Submit(wfID); err != nil && !errors.Is(err, ErrPoolStopped) {
			p.logger.Warn("requeue workflow",
				slog.String("workflow_id", wfID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	if p.sweepOnStart {
		p.Sweep(p.ctx)
	}
	if p.sweepInterval <= 0 {
		return
	}

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Sweep(p.ctx)
		}
	}
}

func (p *Pool) track(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(key string) {
	p.activeMu.Lock()
	delete(p.active, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.active {
		p.logger.Warn("cancelling active workflow", slog.String("workflow_id", key))
		cancel()
	}
}
