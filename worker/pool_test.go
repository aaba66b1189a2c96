package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chaoschain/gateway"
	archivemem "github.com/chaoschain/gateway/archive/memory"
	"github.com/chaoschain/gateway/chain"
	"github.com/chaoschain/gateway/chain/chaintest"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/queue"
	"github.com/chaoschain/gateway/store/memory"
	"github.com/chaoschain/gateway/worker"
	"github.com/chaoschain/gateway/workflow"
)

type fixture struct {
	store  *memory.Store
	ledger *chaintest.Ledger
	engine *workflow.Engine
	logger *slog.Logger
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	probe := chaintest.NewProbe()
	f := &fixture{
		store:  memory.New(),
		ledger: chaintest.NewLedger(probe),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	cfg := gateway.DefaultConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.ActionTimeout = time.Second
	cfg.ConfirmTimeout = time.Second

	eng, err := workflow.NewEngine(f.store, workflow.Adapters{
		Ledger:  f.ledger,
		Encoder: chaintest.Encoder{},
		Work:    probe,
		Score:   probe,
		Epoch:   probe,
		Archive: archivemem.New(),
	},
		workflow.WithConfig(cfg),
		workflow.WithLogger(f.logger),
		workflow.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.engine = eng
	return f
}

func (f *fixture) create(t *testing.T, epoch uint64) *workflow.Record {
	t.Helper()
	rec, err := f.engine.CreateWorkflow(context.Background(), workflow.TypeCloseEpoch, workflow.CloseEpochInput{
		StudioAddress: chain.Address{0x51},
		Epoch:         epoch,
		SignerAddress: chain.Address{0x01},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	return rec
}

func (f *fixture) createWork(t *testing.T, epoch uint64) *workflow.Record {
	t.Helper()
	rec, err := f.engine.CreateWorkflow(context.Background(), workflow.TypeWorkSubmission, workflow.WorkSubmissionInput{
		StudioAddress:   chain.Address{0x51},
		Epoch:           epoch,
		AgentAddress:    chain.Address{0xa6},
		DataHash:        chain.Hash{0xda, byte(epoch)},
		EvidenceContent: []byte(`{"evidence":true}`),
		SignerAddress:   chain.Address{0x02},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	return rec
}

func (f *fixture) pool(admission *queue.Manager, opts ...worker.PoolOption) *worker.Pool {
	exec := worker.NewExecutor(f.engine, admission, f.logger)
	base := []worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithSweepInterval(0),
		worker.WithSweepOnStart(false),
		worker.WithRequeueDelay(10 * time.Millisecond),
	}
	return worker.NewPool(f.engine, exec, f.logger, append(base, opts...)...)
}

func (f *fixture) waitState(t *testing.T, wfID id.WorkflowID, want workflow.State) *workflow.Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec, err := f.store.Load(context.Background(), wfID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if rec.State == want {
			return rec
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s state = %s, want %s", wfID, rec.State, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func stop(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	f := newFixture(t, 3)
	pool := f.pool(nil)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stop(t, pool)
	// Double stop should be no-op.
	stop(t, pool)

	if err := pool.Submit(id.NewWorkflowID()); !errors.Is(err, worker.ErrPoolStopped) {
		t.Fatalf("Submit after stop: got %v, want ErrPoolStopped", err)
	}
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	f := newFixture(t, 3)
	pool := f.pool(nil)

	if err := pool.Submit(id.NewWorkflowID()); !errors.Is(err, worker.ErrPoolStopped) {
		t.Fatalf("got %v, want ErrPoolStopped", err)
	}
}

func TestPool_RunsSubmittedWorkflows(t *testing.T) {
	f := newFixture(t, 3)
	pool := f.pool(nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stop(t, pool)

	var ids []id.WorkflowID
	for epoch := range uint64(4) {
		rec := f.createWork(t, epoch+1)
		if err := pool.Submit(rec.ID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	for _, wfID := range ids {
		f.waitState(t, wfID, workflow.StateCompleted)
	}
	// The fake probe tracks facts per action, so later submissions may be
	// reconciled instead of sent; at least the first one went out.
	if got := f.ledger.SubmitCount(chaintest.ActionSubmitWork); got < 1 {
		t.Errorf("submitWork submissions = %d, want at least 1", got)
	}
}

func TestPool_SweepOnStartPicksUpLeftovers(t *testing.T) {
	f := newFixture(t, 1)

	// A workflow stalled by a previous process and one that was never
	// handed to a worker.
	f.ledger.FailSubmit(errors.New("connection refused"))
	stalled := f.create(t, 1)
	rec, err := f.engine.StartWorkflow(context.Background(), stalled.ID)
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if rec.State != workflow.StateStalled {
		t.Fatalf("setup: state = %s, want STALLED", rec.State)
	}
	created := f.createWork(t, 2)

	pool := f.pool(nil, worker.WithSweepOnStart(true))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stop(t, pool)

	f.waitState(t, stalled.ID, workflow.StateCompleted)
	f.waitState(t, created.ID, workflow.StateCompleted)
}

func TestPool_PeriodicSweep(t *testing.T) {
	f := newFixture(t, 3)
	pool := f.pool(nil, worker.WithSweepInterval(20*time.Millisecond))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stop(t, pool)

	// Created after start and never submitted: only the ticker finds it.
	rec := f.create(t, 1)
	f.waitState(t, rec.ID, workflow.StateCompleted)
}

func TestPool_AdmissionDefersAndRequeues(t *testing.T) {
	f := newFixture(t, 3)
	admission := queue.NewManager(queue.Config{Type: string(workflow.TypeCloseEpoch), MaxConcurrency: 1})
	pool := f.pool(admission)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stop(t, pool)

	// Hold the only slot.
	if !admission.Acquire(string(workflow.TypeCloseEpoch), "") {
		t.Fatal("setup Acquire failed")
	}

	rec := f.create(t, 1)
	if err := pool.Submit(rec.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	f.waitState(t, rec.ID, workflow.StateCreated)

	admission.Release(string(workflow.TypeCloseEpoch), "")
	f.waitState(t, rec.ID, workflow.StateCompleted)
}

func TestExecutor_Deferred(t *testing.T) {
	f := newFixture(t, 3)
	admission := queue.NewManager(queue.Config{Type: string(workflow.TypeCloseEpoch), MaxConcurrency: 1})
	admission.Acquire(string(workflow.TypeCloseEpoch), "")

	exec := worker.NewExecutor(f.engine, admission, f.logger)
	rec := f.create(t, 1)

	got, err := exec.Execute(context.Background(), rec.ID)
	if !errors.Is(err, worker.ErrDeferred) {
		t.Fatalf("got %v, want ErrDeferred", err)
	}
	if got.State != workflow.StateCreated {
		t.Errorf("state = %s, want CREATED", got.State)
	}
	if f.ledger.Calls() != 0 {
		t.Errorf("ledger calls = %d, want 0", f.ledger.Calls())
	}
}

func TestExecutor_TerminalIsNoop(t *testing.T) {
	f := newFixture(t, 3)
	exec := worker.NewExecutor(f.engine, nil, f.logger)
	rec := f.create(t, 1)

	done, err := exec.Execute(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if done.State != workflow.StateCompleted {
		t.Fatalf("first Execute: state = %s", done.State)
	}
	calls := f.ledger.Calls()

	again, err := exec.Execute(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if again.State != workflow.StateCompleted {
		t.Errorf("state = %s", again.State)
	}
	if f.ledger.Calls() != calls {
		t.Errorf("ledger calls grew from %d to %d on a terminal workflow", calls, f.ledger.Calls())
	}
}

func TestExecutor_UnknownWorkflow(t *testing.T) {
	f := newFixture(t, 3)
	exec := worker.NewExecutor(f.engine, nil, f.logger)

	if _, err := exec.Execute(context.Background(), id.NewWorkflowID()); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
