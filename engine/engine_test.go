package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/chaoschain/gateway"
	archivemem "github.com/chaoschain/gateway/archive/memory"
	"github.com/chaoschain/gateway/chain"
	"github.com/chaoschain/gateway/chain/chaintest"
	"github.com/chaoschain/gateway/engine"
	"github.com/chaoschain/gateway/queue"
	"github.com/chaoschain/gateway/store/memory"
	"github.com/chaoschain/gateway/worker"
	"github.com/chaoschain/gateway/workflow"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func adapters() (workflow.Adapters, *chaintest.Ledger) {
	probe := chaintest.NewProbe()
	ledger := chaintest.NewLedger(probe)
	return workflow.Adapters{
		Ledger:  ledger,
		Encoder: chaintest.Encoder{},
		Work:    probe,
		Score:   probe,
		Epoch:   probe,
		Archive: archivemem.New(),
	}, ledger
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// shutdownRecorder counts shutdown and completion hooks.
type shutdownRecorder struct {
	mu        sync.Mutex
	shutdowns int
	completed int
}

func (r *shutdownRecorder) Name() string { return "recorder" }

func (r *shutdownRecorder) OnShutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns++
	return nil
}

func (r *shutdownRecorder) OnWorkflowCompleted(context.Context, *workflow.Record, time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	return nil
}

func (r *shutdownRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdowns, r.completed
}

type failingMigrations struct{ *memory.Store }

func (failingMigrations) Migrate(context.Context) error { return errors.New("relation exists") }

func TestBuild_NoStore(t *testing.T) {
	ad, _ := adapters()
	if _, err := engine.Build(nil, ad); !errors.Is(err, gateway.ErrNoStore) {
		t.Fatalf("Build(nil) error = %v, want ErrNoStore", err)
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	ad, ledger := adapters()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec := &shutdownRecorder{}

	cfg := gateway.DefaultConfig()
	cfg.Concurrency = 2
	cfg.SweepInterval = 0

	eng, err := engine.Build(memory.New(), ad,
		engine.WithConfig(cfg),
		engine.WithLogger(discard),
		engine.WithExtension(rec),
		engine.WithTracerProvider(tp),
		engine.WithMeterProvider(mp),
		engine.WithMigrate(true),
		engine.WithWorkflowOptions(workflow.WithSleep(noSleep)),
		engine.WithPoolOptions(worker.WithRequeueDelay(10*time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wf, err := eng.Workflows().CreateWorkflow(context.Background(), workflow.TypeCloseEpoch, workflow.CloseEpochInput{
		StudioAddress: chain.Address{0x51},
		Epoch:         2,
		SignerAddress: chain.Address{0x01},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if err := eng.Pool().Submit(wf.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := eng.Workflows().Get(context.Background(), wf.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State == workflow.StateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow still %s", got.State)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := ledger.SubmitCount(chaintest.ActionCloseEpoch); n != 1 {
		t.Errorf("closeEpoch submitted %d times, want 1", n)
	}
	shutdowns, completed := rec.counts()
	if shutdowns != 1 || completed != 1 {
		t.Errorf("shutdowns=%d completed=%d, want 1 and 1", shutdowns, completed)
	}

	var stepSpans int
	for _, s := range spans.Ended() {
		if s.Name() == "gateway.workflow.step" {
			stepSpans++
		}
	}
	if stepSpans == 0 {
		t.Error("expected step spans from the tracing middleware")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			seen[m.Name] = true
		}
	}
	for _, name := range []string{"gateway.workflow.outcomes", "gateway.step.executions"} {
		if !seen[name] {
			t.Errorf("metric %s not recorded; have %v", name, seen)
		}
	}
}

func TestEngine_MigrationFailure(t *testing.T) {
	ad, _ := adapters()
	eng, err := engine.Build(failingMigrations{memory.New()}, ad, engine.WithMigrate(true), engine.WithLogger(discard))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := eng.Start(context.Background()); !errors.Is(err, gateway.ErrMigrationFailed) {
		t.Fatalf("Start error = %v, want ErrMigrationFailed", err)
	}
}

func TestEngine_AdmissionConfigured(t *testing.T) {
	ad, _ := adapters()
	studio := chain.Address{0x51}.Hex()
	eng, err := engine.Build(memory.New(), ad,
		engine.WithLogger(discard),
		engine.WithQueueConfig(queue.Config{Type: string(workflow.TypeCloseEpoch), MaxConcurrency: 1}),
		engine.WithStudioConfig(queue.StudioConfig{Type: string(workflow.TypeWorkSubmission), Studio: studio, MaxConcurrency: 1}),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	adm := eng.Admission()
	if !adm.Acquire(string(workflow.TypeCloseEpoch), studio) {
		t.Fatal("first CloseEpoch should be admitted")
	}
	if adm.Acquire(string(workflow.TypeCloseEpoch), studio) {
		t.Error("second CloseEpoch should be held back")
	}
	if !adm.Acquire(string(workflow.TypeWorkSubmission), studio) {
		t.Fatal("first WorkSubmission should be admitted")
	}
	if adm.Acquire(string(workflow.TypeWorkSubmission), studio) {
		t.Error("second WorkSubmission to the same studio should be held back")
	}
	if err := eng.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}
