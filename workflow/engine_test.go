package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaoschain/gateway"
	archivemem "github.com/chaoschain/gateway/archive/memory"
	"github.com/chaoschain/gateway/chain"
	"github.com/chaoschain/gateway/chain/chaintest"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/store/memory"
	"github.com/chaoschain/gateway/workflow"
)

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

var (
	studio    = chain.Address{0x51}
	agent     = chain.Address{0xa6}
	validator = chain.Address{0xa1}
	worker    = chain.Address{0xb0}
	signerA   = chain.Address{0x01}
	dataHash  = chain.Hash{0xda}
)

type harness struct {
	store   *memory.Store
	ledger  *chaintest.Ledger
	probe   *chaintest.Probe
	archive *archivemem.Store
	engine  *workflow.Engine
	sleeps  atomic.Int32
}

func newHarness(t *testing.T, opts ...workflow.Option) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		probe:   chaintest.NewProbe(),
		archive: archivemem.New(),
	}
	h.ledger = chaintest.NewLedger(h.probe)

	cfg := gateway.DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.ActionTimeout = time.Second
	cfg.ConfirmTimeout = time.Second

	base := []workflow.Option{
		workflow.WithConfig(cfg),
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		workflow.WithSleep(func(ctx context.Context, _ time.Duration) error {
			h.sleeps.Add(1)
			return ctx.Err()
		}),
	}
	eng, err := workflow.NewEngine(h.store, workflow.Adapters{
		Ledger:  h.ledger,
		Encoder: chaintest.Encoder{},
		Work:    h.probe,
		Score:   h.probe,
		Epoch:   h.probe,
		Archive: h.archive,
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.engine = eng
	return h
}

func workInput() workflow.WorkSubmissionInput {
	return workflow.WorkSubmissionInput{
		StudioAddress:   studio,
		Epoch:           3,
		AgentAddress:    agent,
		DataHash:        dataHash,
		ThreadRoot:      chain.Hash{0x70},
		EvidenceRoot:    chain.Hash{0xe0},
		EvidenceContent: []byte(`{"evidence":true}`),
		SignerAddress:   signerA,
	}
}

func scoreInput(mode workflow.ScoreMode) workflow.ScoreSubmissionInput {
	in := workflow.ScoreSubmissionInput{
		StudioAddress:    studio,
		Epoch:            3,
		ValidatorAddress: validator,
		DataHash:         dataHash,
		Scores:           []uint16{8500, 9000, 7000, 10000, 6000},
		SignerAddress:    signerA,
		Mode:             mode,
	}
	if mode == workflow.ModeDirect {
		in.WorkerAddress = worker
	}
	return in
}

func closeInput() workflow.CloseEpochInput {
	return workflow.CloseEpochInput{StudioAddress: studio, Epoch: 3, SignerAddress: signerA}
}

func (h *harness) start(t *testing.T, typ workflow.Type, input any) *workflow.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := h.engine.CreateWorkflow(ctx, typ, input)
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	rec, err = h.engine.StartWorkflow(ctx, rec.ID)
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	return rec
}

// seed stores a record directly, as if a previous process left it there.
func (h *harness) seed(t *testing.T, typ workflow.Type, input any, state workflow.State, step string, progress any) *workflow.Record {
	t.Helper()
	p, err := workflow.PatchOf(progress)
	if err != nil {
		t.Fatalf("PatchOf: %v", err)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	now := time.Now().UTC()
	rec := &workflow.Record{
		ID:        id.NewWorkflowID(),
		Type:      typ,
		State:     state,
		Step:      step,
		Input:     raw,
		Progress:  p,
		Signer:    "0x01",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rec
}

func (h *harness) resume(t *testing.T, wfID id.WorkflowID) *workflow.Record {
	t.Helper()
	rec, err := h.engine.ResumeWorkflow(context.Background(), wfID)
	if err != nil {
		t.Fatalf("ResumeWorkflow: %v", err)
	}
	return rec
}

func progressOf[P any](t *testing.T, rec *workflow.Record) P {
	t.Helper()
	p, err := workflow.DecodeProgress[P](rec.Progress)
	if err != nil {
		t.Fatalf("DecodeProgress: %v", err)
	}
	return p
}

func wantState(t *testing.T, rec *workflow.Record, state workflow.State) {
	t.Helper()
	if rec.State != state {
		t.Fatalf("state = %s (step %s, error %+v), want %s", rec.State, rec.Step, rec.Error, state)
	}
}

// ──────────────────────────────────────────────────
// Happy paths
// ──────────────────────────────────────────────────

func TestWorkSubmission_Completes(t *testing.T) {
	h := newHarness(t)
	rec := h.start(t, workflow.TypeWorkSubmission, workInput())

	wantState(t, rec, workflow.StateCompleted)
	if rec.Step != workflow.StepAwaitRegisterConfirm {
		t.Errorf("step = %s, want %s", rec.Step, workflow.StepAwaitRegisterConfirm)
	}
	if rec.StepAttempts != 0 {
		t.Errorf("step_attempts = %d, want 0", rec.StepAttempts)
	}
	if got := h.ledger.SubmitCount(chaintest.ActionSubmitWork); got != 1 {
		t.Errorf("submitWork count = %d, want 1", got)
	}
	if got := h.ledger.SubmitCount(chaintest.ActionRegisterWork); got != 1 {
		t.Errorf("registerWork count = %d, want 1", got)
	}
	if h.archive.Uploads() != 1 {
		t.Errorf("uploads = %d, want 1", h.archive.Uploads())
	}

	p := progressOf[workflow.WorkSubmissionProgress](t, rec)
	if p.ArweaveTxID == "" || !p.ArweaveConfirmed {
		t.Errorf("archive progress missing: %+v", p)
	}
	if p.OnchainTxHash == nil || !p.OnchainConfirmed || p.OnchainBlock == 0 {
		t.Errorf("onchain progress missing: %+v", p)
	}
	if p.RegisterTxHash == nil || !p.RegisterConfirmed {
		t.Errorf("register progress missing: %+v", p)
	}
	if rec.Error != nil {
		t.Errorf("error = %+v, want nil", rec.Error)
	}
}

func TestScoreSubmission_CommitRevealCompletes(t *testing.T) {
	h := newHarness(t)
	rec := h.start(t, workflow.TypeScoreSubmission, scoreInput(workflow.ModeCommitReveal))

	wantState(t, rec, workflow.StateCompleted)
	for _, action := range []string{chaintest.ActionCommitScore, chaintest.ActionRevealScore, chaintest.ActionRegisterValidator} {
		if got := h.ledger.SubmitCount(action); got != 1 {
			t.Errorf("%s count = %d, want 1", action, got)
		}
	}
	if got := h.ledger.SubmitCount(chaintest.ActionSubmitScore); got != 0 {
		t.Errorf("submitScore count = %d, want 0", got)
	}

	p := progressOf[workflow.ScoreSubmissionProgress](t, rec)
	if p.Salt == nil || p.Commitment == nil {
		t.Fatalf("commitment not recorded: %+v", p)
	}
	in := scoreInput(workflow.ModeCommitReveal)
	if want := chain.ScoreCommitment(in.Scores, *p.Salt, in.DataHash); *p.Commitment != want {
		t.Errorf("commitment = %s, want %s", p.Commitment.Hex(), want.Hex())
	}
}

func TestScoreSubmission_CallerSaltIsUsed(t *testing.T) {
	h := newHarness(t)
	in := scoreInput(workflow.ModeCommitReveal)
	salt := chain.Hash{0x5a}
	in.Salt = &salt

	rec := h.start(t, workflow.TypeScoreSubmission, in)
	wantState(t, rec, workflow.StateCompleted)

	p := progressOf[workflow.ScoreSubmissionProgress](t, rec)
	if p.Salt == nil || *p.Salt != salt {
		t.Errorf("salt = %v, want %s", p.Salt, salt.Hex())
	}
}

func TestScoreSubmission_DirectCompletes(t *testing.T) {
	h := newHarness(t)
	rec := h.start(t, workflow.TypeScoreSubmission, scoreInput(workflow.ModeDirect))

	wantState(t, rec, workflow.StateCompleted)
	if rec.Step != workflow.StepAwaitRegisterValidatorConfirm {
		t.Errorf("step = %s", rec.Step)
	}
	if got := h.ledger.SubmitCount(chaintest.ActionSubmitScore); got != 1 {
		t.Errorf("submitScore count = %d, want 1", got)
	}
	for _, action := range []string{chaintest.ActionCommitScore, chaintest.ActionRevealScore} {
		if got := h.ledger.SubmitCount(action); got != 0 {
			t.Errorf("%s count = %d, want 0 in direct mode", action, got)
		}
	}
}

func TestCloseEpoch_Completes(t *testing.T) {
	h := newHarness(t)
	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())

	wantState(t, rec, workflow.StateCompleted)
	p := progressOf[workflow.CloseEpochProgress](t, rec)
	if !p.PreconditionsChecked || p.CloseTxHash == nil || !p.CloseConfirmed {
		t.Errorf("progress = %+v", p)
	}
}

func TestCloseEpoch_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		status chain.EpochStatus
		code   gateway.Code
	}{
		{"missing", chain.EpochStatus{}, gateway.CodePreconditionFailed},
		{"closed", chain.EpochStatus{Exists: true, Closed: true}, gateway.CodeAlreadyExists},
		{"window", chain.EpochStatus{Exists: true}, gateway.CodeWindowClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.probe.SetEpoch(tt.status)
			rec := h.start(t, workflow.TypeCloseEpoch, closeInput())

			wantState(t, rec, workflow.StateFailed)
			if rec.Error == nil || rec.Error.Code != string(tt.code) || rec.Error.Recoverable {
				t.Errorf("error = %+v, want %s non-recoverable", rec.Error, tt.code)
			}
			if rec.Error.Step != workflow.StepCheckPreconditions {
				t.Errorf("error step = %s", rec.Error.Step)
			}
			if h.ledger.SubmitCount("") != 0 {
				t.Errorf("submitted %d transactions", h.ledger.SubmitCount(""))
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

func TestResume_ReconcilesSubmitOnchain(t *testing.T) {
	h := newHarness(t)
	h.probe.Mark(chaintest.ActionSubmitWork)
	h.probe.Mark(chaintest.ActionRegisterWork)

	rec := h.seed(t, workflow.TypeWorkSubmission, workInput(), workflow.StateRunning, workflow.StepSubmitOnchain,
		workflow.WorkSubmissionProgress{ArweaveTxID: "ar-1", ArweaveConfirmed: true})

	rec = h.resume(t, rec.ID)
	wantState(t, rec, workflow.StateCompleted)
	if got := h.ledger.SubmitCount(""); got != 0 {
		t.Errorf("submitTx called %d times, want 0", got)
	}
	p := progressOf[workflow.WorkSubmissionProgress](t, rec)
	if !p.OnchainConfirmed || !p.RegisterConfirmed {
		t.Errorf("progress = %+v", p)
	}
}

func TestResume_NoDoubleSubmission(t *testing.T) {
	tests := []struct {
		name   string
		typ    workflow.Type
		input  any
		step   string
		action string
		prog   any
	}{
		{"register_work", workflow.TypeWorkSubmission, workInput(), workflow.StepRegisterWork, chaintest.ActionRegisterWork,
			workflow.WorkSubmissionProgress{ArweaveTxID: "ar", ArweaveConfirmed: true, OnchainConfirmed: true}},
		{"submit_commit", workflow.TypeScoreSubmission, scoreInput(workflow.ModeCommitReveal), workflow.StepSubmitCommit, chaintest.ActionCommitScore,
			workflow.ScoreSubmissionProgress{Salt: &chain.Hash{1}, Commitment: &chain.Hash{2}}},
		{"submit_reveal", workflow.TypeScoreSubmission, scoreInput(workflow.ModeCommitReveal), workflow.StepSubmitReveal, chaintest.ActionRevealScore,
			workflow.ScoreSubmissionProgress{Salt: &chain.Hash{1}, Commitment: &chain.Hash{2}, CommitConfirmed: true}},
		{"submit_score", workflow.TypeScoreSubmission, scoreInput(workflow.ModeDirect), workflow.StepSubmitScore, chaintest.ActionSubmitScore,
			workflow.ScoreSubmissionProgress{}},
		{"register_validator", workflow.TypeScoreSubmission, scoreInput(workflow.ModeDirect), workflow.StepRegisterValidator, chaintest.ActionRegisterValidator,
			workflow.ScoreSubmissionProgress{ScoreConfirmed: true}},
		{"submit_close", workflow.TypeCloseEpoch, closeInput(), workflow.StepSubmitClose, chaintest.ActionCloseEpoch,
			workflow.CloseEpochProgress{PreconditionsChecked: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.probe.Mark(tt.action)
			rec := h.seed(t, tt.typ, tt.input, workflow.StateRunning, tt.step, tt.prog)

			rec = h.resume(t, rec.ID)
			wantState(t, rec, workflow.StateCompleted)
			if got := h.ledger.SubmitCount(tt.action); got != 0 {
				t.Errorf("%s submitted %d times, want 0", tt.action, got)
			}
		})
	}
}

func TestResume_CommitRevealCrashAtAwaitCommit(t *testing.T) {
	h := newHarness(t)
	commitHash := h.ledger.AddPending(signerA, chaintest.ActionCommitScore)

	rec := h.seed(t, workflow.TypeScoreSubmission, scoreInput(workflow.ModeCommitReveal), workflow.StateRunning,
		workflow.StepAwaitCommitConfirm,
		workflow.ScoreSubmissionProgress{Salt: &chain.Hash{1}, Commitment: &chain.Hash{2}, CommitTxHash: &commitHash})

	rec = h.resume(t, rec.ID)
	wantState(t, rec, workflow.StateCompleted)
	if got := h.ledger.SubmitCount(chaintest.ActionCommitScore); got != 0 {
		t.Errorf("commit resubmitted %d times", got)
	}
	if got := h.ledger.SubmitCount(chaintest.ActionRevealScore); got != 1 {
		t.Errorf("reveal submitted %d times, want 1", got)
	}
	p := progressOf[workflow.ScoreSubmissionProgress](t, rec)
	if !p.CommitConfirmed || !p.RevealConfirmed {
		t.Errorf("progress = %+v", p)
	}
	if p.CommitTxHash == nil || *p.CommitTxHash != commitHash {
		t.Errorf("commit hash changed: %v", p.CommitTxHash)
	}
}

func TestResume_RecordedHashSkipsReconcile(t *testing.T) {
	h := newHarness(t)
	closeHash := h.ledger.AddPending(signerA, chaintest.ActionCloseEpoch)
	before := h.probe.Calls()

	rec := h.seed(t, workflow.TypeCloseEpoch, closeInput(), workflow.StateRunning, workflow.StepSubmitClose,
		workflow.CloseEpochProgress{PreconditionsChecked: true, CloseTxHash: &closeHash})

	rec = h.resume(t, rec.ID)
	wantState(t, rec, workflow.StateCompleted)
	if got := h.probe.Calls() - before; got != 0 {
		t.Errorf("probe called %d times with a recorded hash", got)
	}
	if got := h.ledger.SubmitCount(""); got != 0 {
		t.Errorf("submitted %d times", got)
	}
}

func TestIdempotentReplay(t *testing.T) {
	h := newHarness(t)
	rec := h.seed(t, workflow.TypeCloseEpoch, closeInput(), workflow.StateRunning, workflow.StepSubmitClose,
		workflow.CloseEpochProgress{PreconditionsChecked: true})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.ResumeWorkflow(context.Background(), rec.ID); err != nil {
				t.Errorf("ResumeWorkflow: %v", err)
			}
		}()
	}
	wg.Wait()
	for range 3 {
		h.resume(t, rec.ID)
	}

	if got := h.ledger.SubmitCount(chaintest.ActionCloseEpoch); got != 1 {
		t.Errorf("closeEpoch submitted %d times, want 1", got)
	}
	got, err := h.engine.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	wantState(t, got, workflow.StateCompleted)
}

func TestReconcileAllActive(t *testing.T) {
	h := newHarness(t)
	running := h.seed(t, workflow.TypeCloseEpoch, closeInput(), workflow.StateRunning, workflow.StepCheckPreconditions, workflow.CloseEpochProgress{})
	created := h.seed(t, workflow.TypeCloseEpoch, closeInput(), workflow.StateCreated, workflow.StepCheckPreconditions, workflow.CloseEpochProgress{})
	stalled := h.seed(t, workflow.TypeWorkSubmission, workInput(), workflow.StateStalled, workflow.StepUploadEvidence, workflow.WorkSubmissionProgress{})

	n, err := h.engine.ReconcileAllActive(context.Background())
	if err != nil {
		t.Fatalf("ReconcileAllActive: %v", err)
	}
	if n != 2 {
		t.Errorf("resumed %d, want 2", n)
	}

	for _, tc := range []struct {
		rec  *workflow.Record
		want workflow.State
	}{
		{running, workflow.StateCompleted},
		{stalled, workflow.StateCompleted},
		{created, workflow.StateCreated},
	} {
		got, err := h.engine.Get(context.Background(), tc.rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != tc.want {
			t.Errorf("%s: state = %s, want %s", tc.rec.Type, got.State, tc.want)
		}
	}
}

// ──────────────────────────────────────────────────
// Failure classification
// ──────────────────────────────────────────────────

func TestTimeoutsStall(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.MaxAttempts = 2
	h := newHarness(t, workflow.WithConfig(cfg))
	h.ledger.FailSubmit(errors.New("network timeout"), errors.New("network timeout"), errors.New("network timeout"))

	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())

	wantState(t, rec, workflow.StateStalled)
	if rec.StepAttempts != 2 {
		t.Errorf("step_attempts = %d, want 2", rec.StepAttempts)
	}
	if rec.Step != workflow.StepSubmitClose {
		t.Errorf("step = %s", rec.Step)
	}
	if rec.Error == nil || !rec.Error.Recoverable || rec.Error.Code != string(gateway.CodeTimeout) {
		t.Errorf("error = %+v, want recoverable TIMEOUT", rec.Error)
	}
	if got := h.sleeps.Load(); got != 1 {
		t.Errorf("backoff sleeps = %d, want 1", got)
	}
}

func TestStepDeadlineIsOperational(t *testing.T) {
	h := newHarness(t)
	h.ledger.FailConfirm(context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded)

	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())
	wantState(t, rec, workflow.StateStalled)
	if rec.Error.Code != string(gateway.CodeTimeout) || !rec.Error.Recoverable {
		t.Errorf("error = %+v", rec.Error)
	}
	// The hash was written before the wait, so the close is never resent.
	if got := h.ledger.SubmitCount(chaintest.ActionCloseEpoch); got != 1 {
		t.Errorf("closeEpoch submitted %d times, want 1", got)
	}
	p := progressOf[workflow.CloseEpochProgress](t, rec)
	if p.CloseTxHash == nil {
		t.Error("close_tx_hash not persisted before confirmation wait")
	}

	rec = h.resume(t, rec.ID)
	wantState(t, rec, workflow.StateCompleted)
	if got := h.ledger.SubmitCount(chaintest.ActionCloseEpoch); got != 1 {
		t.Errorf("closeEpoch submitted %d times after resume, want 1", got)
	}
}

func TestBusinessRuleFails(t *testing.T) {
	h := newHarness(t)
	h.ledger.FailSubmit(errors.New("execution reverted: commit window closed"))

	rec := h.start(t, workflow.TypeScoreSubmission, scoreInput(workflow.ModeCommitReveal))

	wantState(t, rec, workflow.StateFailed)
	if rec.StepAttempts != 0 {
		t.Errorf("step_attempts = %d, want 0", rec.StepAttempts)
	}
	if rec.Error == nil || rec.Error.Recoverable || rec.Error.Code != string(gateway.CodeWindowClosed) {
		t.Errorf("error = %+v, want non-recoverable WINDOW_CLOSED", rec.Error)
	}
	if got := h.sleeps.Load(); got != 0 {
		t.Errorf("backoff sleeps = %d, want 0", got)
	}
}

func TestRevertWithKnownReasonFails(t *testing.T) {
	h := newHarness(t)
	h.ledger.RevertNext("work already submitted")

	rec := h.start(t, workflow.TypeWorkSubmission, workInput())
	wantState(t, rec, workflow.StateFailed)
	if rec.Error.Code != string(gateway.CodeAlreadyExists) {
		t.Errorf("code = %s", rec.Error.Code)
	}
}

func TestRevertWithoutReasonFails(t *testing.T) {
	h := newHarness(t)
	h.ledger.RevertNext("")

	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())
	wantState(t, rec, workflow.StateFailed)
	if rec.Error.Code != string(gateway.CodeReverted) || rec.Error.Recoverable {
		t.Errorf("error = %+v, want non-recoverable REVERTED", rec.Error)
	}
	if got := h.sleeps.Load(); got != 0 {
		t.Errorf("backoff sleeps = %d, want 0", got)
	}
}

func TestNodeErrorDuringConfirmationRetries(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
	}{
		{"plain", errors.New("evm: block number: header not found")},
		{"typed", gateway.Operational(gateway.CodeUnavailable, "evm: block number", errors.New("header not found"))},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ledger.FailConfirm(tt.err)

			rec := h.start(t, workflow.TypeCloseEpoch, closeInput())
			wantState(t, rec, workflow.StateCompleted)
			if got := h.ledger.SubmitCount(chaintest.ActionCloseEpoch); got != 1 {
				t.Errorf("closeEpoch submitted %d times, want 1", got)
			}
			if got := h.sleeps.Load(); got != 1 {
				t.Errorf("backoff sleeps = %d, want 1", got)
			}
		})
	}
}

func TestOperationalErrorRecovers(t *testing.T) {
	h := newHarness(t)
	h.archive.FailUpload(errors.New("connection refused"))

	rec := h.start(t, workflow.TypeWorkSubmission, workInput())
	wantState(t, rec, workflow.StateCompleted)
	if got := h.sleeps.Load(); got != 1 {
		t.Errorf("backoff sleeps = %d, want 1", got)
	}
}

func TestMissingPrerequisiteIsInvariant(t *testing.T) {
	h := newHarness(t)
	rec := h.seed(t, workflow.TypeWorkSubmission, workInput(), workflow.StateRunning, workflow.StepRegisterWork,
		workflow.WorkSubmissionProgress{ArweaveTxID: "ar", ArweaveConfirmed: true})

	rec = h.resume(t, rec.ID)
	wantState(t, rec, workflow.StateFailed)
	if rec.Error.Code != string(gateway.CodeInvariantViolation) || rec.Error.Recoverable {
		t.Errorf("error = %+v", rec.Error)
	}
	if h.ledger.SubmitCount("") != 0 {
		t.Error("submitted without prerequisite")
	}
}

func TestTerminalFinality(t *testing.T) {
	h := newHarness(t)
	h.ledger.FailSubmit(errors.New("unauthorized caller"))
	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())
	wantState(t, rec, workflow.StateFailed)

	ledgerCalls, probeCalls, uploads := h.ledger.Calls(), h.probe.Calls(), h.archive.Calls()
	for range 3 {
		got := h.resume(t, rec.ID)
		wantState(t, got, workflow.StateFailed)
		if !got.UpdatedAt.Equal(rec.UpdatedAt) {
			t.Errorf("record touched after FAILED")
		}
	}
	if h.ledger.Calls() != ledgerCalls || h.probe.Calls() != probeCalls || h.archive.Calls() != uploads {
		t.Error("adapter called after FAILED")
	}
}

func TestResumeStalledResetsAttempts(t *testing.T) {
	h := newHarness(t)
	h.ledger.FailSubmit(errors.New("503 service unavailable"), errors.New("503 service unavailable"), errors.New("503 service unavailable"))

	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())
	wantState(t, rec, workflow.StateStalled)
	if rec.Error.Code != string(gateway.CodeUnavailable) {
		t.Errorf("code = %s", rec.Error.Code)
	}

	rec = h.resume(t, rec.ID)
	wantState(t, rec, workflow.StateCompleted)
	if rec.Error != nil {
		t.Errorf("error not cleared: %+v", rec.Error)
	}
}

// ──────────────────────────────────────────────────
// Waiting steps
// ──────────────────────────────────────────────────

func TestRevealWaitsForWindow(t *testing.T) {
	h := newHarness(t)
	h.probe.SetRevealOpen(false)

	rec := h.start(t, workflow.TypeScoreSubmission, scoreInput(workflow.ModeCommitReveal))
	wantState(t, rec, workflow.StateRunning)
	if rec.Step != workflow.StepSubmitReveal {
		t.Fatalf("step = %s, want %s", rec.Step, workflow.StepSubmitReveal)
	}
	if got := h.ledger.SubmitCount(chaintest.ActionRevealScore); got != 0 {
		t.Fatalf("revealed before window opened")
	}

	h.probe.SetRevealOpen(true)
	rec = h.resume(t, rec.ID)
	wantState(t, rec, workflow.StateCompleted)
	if got := h.ledger.SubmitCount(chaintest.ActionRevealScore); got != 1 {
		t.Errorf("reveal submitted %d times", got)
	}
}

func TestArchivePollsUntilConfirmed(t *testing.T) {
	h := newHarness(t)
	h.archive = archivemem.NewDeferred()
	eng, err := workflow.NewEngine(h.store, workflow.Adapters{
		Ledger: h.ledger, Encoder: chaintest.Encoder{},
		Work: h.probe, Score: h.probe, Epoch: h.probe, Archive: h.archive,
	},
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		workflow.WithSleep(func(ctx context.Context, _ time.Duration) error {
			if h.sleeps.Add(1) == 3 {
				h.archive.ConfirmAll()
			}
			return ctx.Err()
		}),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.engine = eng

	rec := h.start(t, workflow.TypeWorkSubmission, workInput())
	wantState(t, rec, workflow.StateCompleted)
	if got := h.sleeps.Load(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestArchiveFailureStalls(t *testing.T) {
	h := newHarness(t)
	h.archive = archivemem.NewDeferred()
	eng, err := workflow.NewEngine(h.store, workflow.Adapters{
		Ledger: h.ledger, Encoder: chaintest.Encoder{},
		Work: h.probe, Score: h.probe, Epoch: h.probe, Archive: h.archive,
	},
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		workflow.WithSleep(func(ctx context.Context, _ time.Duration) error {
			h.archive.FailAll()
			return ctx.Err()
		}),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	rec, err := eng.CreateWorkflow(context.Background(), workflow.TypeWorkSubmission, workInput())
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	rec, err = eng.StartWorkflow(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	wantState(t, rec, workflow.StateStalled)
	if rec.Step != workflow.StepAwaitArweaveConfirm || !rec.Error.Recoverable {
		t.Errorf("step = %s, error = %+v", rec.Step, rec.Error)
	}
	if h.ledger.SubmitCount("") != 0 {
		t.Error("submitted on-chain before archive confirmed")
	}
}

// ──────────────────────────────────────────────────
// Lifecycle guards
// ──────────────────────────────────────────────────

func TestCreateWorkflow_InvalidInput(t *testing.T) {
	h := newHarness(t)
	in := scoreInput(workflow.ModeCommitReveal)
	in.Scores = []uint16{10001}

	_, err := h.engine.CreateWorkflow(context.Background(), workflow.TypeScoreSubmission, in)
	ge, ok := gateway.AsError(err)
	if !ok || ge.Code != gateway.CodeInvalidInput {
		t.Fatalf("err = %v, want INVALID_INPUT", err)
	}

	_, err = h.engine.CreateWorkflow(context.Background(), workflow.Type("Nope"), closeInput())
	if !errors.Is(err, gateway.ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestCreateWorkflow_Record(t *testing.T) {
	h := newHarness(t)
	in := closeInput()
	in.CorrelationKey = "epoch-3"
	rec, err := h.engine.CreateWorkflow(context.Background(), workflow.TypeCloseEpoch, in)
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	wantState(t, rec, workflow.StateCreated)
	if rec.Step != workflow.StepCheckPreconditions {
		t.Errorf("step = %s", rec.Step)
	}
	if rec.ID.Prefix() != id.PrefixWorkflow {
		t.Errorf("id prefix = %s", rec.ID.Prefix())
	}
	if rec.Signer != "0x0100000000000000000000000000000000000000" {
		t.Errorf("signer = %s", rec.Signer)
	}
	if workflow.CorrelationKey(rec.Input) != "epoch-3" {
		t.Errorf("correlation key lost")
	}
}

func TestStartWorkflow_Guards(t *testing.T) {
	h := newHarness(t)
	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())

	if _, err := h.engine.StartWorkflow(context.Background(), rec.ID); !errors.Is(err, gateway.ErrNotStartable) {
		t.Errorf("second start = %v, want ErrNotStartable", err)
	}
	if _, err := h.engine.StartWorkflow(context.Background(), id.NewWorkflowID()); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("start missing = %v, want ErrNotFound", err)
	}

	created, err := h.engine.CreateWorkflow(context.Background(), workflow.TypeCloseEpoch, closeInput())
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if _, err := h.engine.ResumeWorkflow(context.Background(), created.ID); !errors.Is(err, gateway.ErrNotStarted) {
		t.Errorf("resume CREATED = %v, want ErrNotStarted", err)
	}
}

func TestStartWorkflow_InvalidStoredInputFails(t *testing.T) {
	h := newHarness(t)
	in := closeInput()
	in.SignerAddress = chain.Address{}
	rec := h.seed(t, workflow.TypeCloseEpoch, in, workflow.StateCreated, workflow.StepCheckPreconditions, workflow.CloseEpochProgress{})

	got, err := h.engine.StartWorkflow(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	wantState(t, got, workflow.StateFailed)
	if got.Error.Code != string(gateway.CodeInvalidInput) {
		t.Errorf("code = %s", got.Error.Code)
	}
}

// ──────────────────────────────────────────────────
// Emitter and middleware
// ──────────────────────────────────────────────────

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) EmitWorkflowStarted(context.Context, *workflow.Record) { r.add("started") }
func (r *recordingEmitter) EmitStepCompleted(_ context.Context, _ *workflow.Record, step string, _ time.Duration) {
	r.add("step:" + step)
}
func (r *recordingEmitter) EmitStepReconciled(_ context.Context, _ *workflow.Record, step string) {
	r.add("reconciled:" + step)
}
func (r *recordingEmitter) EmitStepRetrying(_ context.Context, _ *workflow.Record, step string, _ int, _ time.Duration, _ error) {
	r.add("retry:" + step)
}
func (r *recordingEmitter) EmitWorkflowWaiting(_ context.Context, _ *workflow.Record, step, _ string) {
	r.add("waiting:" + step)
}
func (r *recordingEmitter) EmitWorkflowStalled(context.Context, *workflow.Record, error) {
	r.add("stalled")
}
func (r *recordingEmitter) EmitWorkflowCompleted(context.Context, *workflow.Record, time.Duration) {
	r.add("completed")
}
func (r *recordingEmitter) EmitWorkflowFailed(context.Context, *workflow.Record, error) {
	r.add("failed")
}

func TestEmitterAndMiddleware(t *testing.T) {
	em := &recordingEmitter{}
	var steps []string
	mw := func(ctx context.Context, rec *workflow.Record, next workflow.StepHandler) error {
		steps = append(steps, rec.Step)
		return next(ctx)
	}
	h := newHarness(t, workflow.WithEmitter(em), workflow.WithMiddleware(mw))
	h.probe.Mark(chaintest.ActionCloseEpoch)
	rec := h.seed(t, workflow.TypeCloseEpoch, closeInput(), workflow.StateRunning, workflow.StepSubmitClose,
		workflow.CloseEpochProgress{PreconditionsChecked: true})

	rec = h.resume(t, rec.ID)
	wantState(t, rec, workflow.StateCompleted)

	want := []string{
		"reconciled:" + workflow.StepSubmitClose,
		"step:" + workflow.StepAwaitCloseConfirm,
		"completed",
	}
	if len(em.events) != len(want) {
		t.Fatalf("events = %v, want %v", em.events, want)
	}
	for i := range want {
		if em.events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, em.events[i], want[i])
		}
	}
	if len(steps) != 1 || steps[0] != workflow.StepAwaitCloseConfirm {
		t.Errorf("middleware saw steps %v", steps)
	}
}

func TestEmitterSeesStartAndRetry(t *testing.T) {
	em := &recordingEmitter{}
	h := newHarness(t, workflow.WithEmitter(em))
	h.ledger.FailSubmit(errors.New("connection reset by peer"))

	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())
	wantState(t, rec, workflow.StateCompleted)

	want := []string{
		"started",
		"step:" + workflow.StepCheckPreconditions,
		"retry:" + workflow.StepSubmitClose,
		"step:" + workflow.StepSubmitClose,
		"step:" + workflow.StepAwaitCloseConfirm,
		"completed",
	}
	if len(em.events) != len(want) {
		t.Fatalf("events = %v, want %v", em.events, want)
	}
	for i := range want {
		if em.events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, em.events[i], want[i])
		}
	}
}

func TestMiddlewareErrorIsClassified(t *testing.T) {
	mw := func(context.Context, *workflow.Record, workflow.StepHandler) error {
		return gateway.Invariant("step panicked")
	}
	h := newHarness(t, workflow.WithMiddleware(mw))
	rec := h.start(t, workflow.TypeCloseEpoch, closeInput())
	wantState(t, rec, workflow.StateFailed)
	if rec.Error.Code != string(gateway.CodeInvariantViolation) {
		t.Errorf("code = %s", rec.Error.Code)
	}
}
