// Package storetest is a conformance suite run against every
// workflow.Store backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) workflow.Store

// NewRecord builds a CREATED record with the given type, signer and
// correlation key.
func NewRecord(typ workflow.Type, signer, correlationKey string) *workflow.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	input := map[string]any{"signer_address": signer}
	if correlationKey != "" {
		input["correlation_key"] = correlationKey
	}
	raw, _ := json.Marshal(input)
	return &workflow.Record{
		ID:        id.NewWorkflowID(),
		Type:      typ,
		State:     workflow.StateCreated,
		Step:      "FIRST",
		Input:     raw,
		Progress:  workflow.Progress{},
		Signer:    signer,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s workflow.Store)
	}{
		{"CreateAndLoad", testCreateAndLoad},
		{"CreateDuplicate", testCreateDuplicate},
		{"LoadMissing", testLoadMissing},
		{"TransitionMergesProgress", testTransitionMergesProgress},
		{"TransitionRejectsInvalidEdge", testTransitionRejectsInvalidEdge},
		{"TransitionTerminalIsFinal", testTerminalIsFinal},
		{"ErrorClearedOnRunning", testErrorClearedOnRunning},
		{"ListByState", testListByState},
		{"ListFilters", testListFilters},
		{"ConcurrentTransitions", testConcurrentTransitions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustCreate(t *testing.T, s workflow.Store, rec *workflow.Record) {
	t.Helper()
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func mustTransition(t *testing.T, s workflow.Store, wfID id.WorkflowID, tr workflow.Transition) *workflow.Record {
	t.Helper()
	rec, err := s.TransitionState(context.Background(), wfID, tr)
	if err != nil {
		t.Fatalf("TransitionState(%s): %v", tr.State, err)
	}
	return rec
}

func testCreateAndLoad(t *testing.T, s workflow.Store) {
	rec := NewRecord(workflow.TypeCloseEpoch, "0xabc", "ck-1")
	mustCreate(t, s, rec)

	got, err := s.Load(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID.String() != rec.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, rec.ID)
	}
	if got.State != workflow.StateCreated {
		t.Errorf("State = %s, want CREATED", got.State)
	}
	if got.Type != rec.Type || got.Step != rec.Step || got.Signer != rec.Signer {
		t.Errorf("got %+v, want %+v", got, rec)
	}
	if workflow.CorrelationKey(got.Input) != "ck-1" {
		t.Errorf("input not preserved: %s", got.Input)
	}
	if got.Error != nil {
		t.Errorf("Error = %+v, want nil", got.Error)
	}
}

func testCreateDuplicate(t *testing.T, s workflow.Store) {
	rec := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	mustCreate(t, s, rec)
	if err := s.Create(context.Background(), rec); !errors.Is(err, gateway.ErrAlreadyExists) {
		t.Fatalf("second Create = %v, want ErrAlreadyExists", err)
	}
}

func testLoadMissing(t *testing.T, s workflow.Store) {
	_, err := s.Load(context.Background(), id.NewWorkflowID())
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("Load = %v, want ErrNotFound", err)
	}
	_, err = s.TransitionState(context.Background(), id.NewWorkflowID(),
		workflow.Transition{State: workflow.StateRunning})
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("TransitionState = %v, want ErrNotFound", err)
	}
}

func testTransitionMergesProgress(t *testing.T, s workflow.Store) {
	rec := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	mustCreate(t, s, rec)

	mustTransition(t, s, rec.ID, workflow.Transition{
		State: workflow.StateRunning, Step: "A",
		Progress: workflow.Progress{"a": json.RawMessage(`true`)},
	})
	got := mustTransition(t, s, rec.ID, workflow.Transition{
		State: workflow.StateRunning, Step: "B", StepAttempts: 2,
		Progress: workflow.Progress{"b": json.RawMessage(`"0x01"`)},
	})

	if got.Step != "B" || got.StepAttempts != 2 {
		t.Errorf("step = %s/%d, want B/2", got.Step, got.StepAttempts)
	}
	if !got.Progress.Has("a") || !got.Progress.Has("b") {
		t.Errorf("progress = %v, want keys a and b", got.Progress)
	}

	loaded, err := s.Load(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(loaded.Progress["b"]) != `"0x01"` {
		t.Errorf("progress[b] = %s", loaded.Progress["b"])
	}
	if !loaded.UpdatedAt.After(rec.UpdatedAt) && !loaded.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards")
	}
}

func testTransitionRejectsInvalidEdge(t *testing.T, s workflow.Store) {
	rec := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	mustCreate(t, s, rec)

	for _, to := range []workflow.State{workflow.StateCompleted, workflow.StateStalled, workflow.StateFailed, workflow.StateCreated} {
		_, err := s.TransitionState(context.Background(), rec.ID, workflow.Transition{State: to})
		if !errors.Is(err, gateway.ErrInvalidTransition) {
			t.Errorf("CREATED -> %s = %v, want ErrInvalidTransition", to, err)
		}
	}
	got, err := s.Load(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.State != workflow.StateCreated {
		t.Errorf("State = %s after rejected transitions", got.State)
	}
}

func testTerminalIsFinal(t *testing.T, s workflow.Store) {
	rec := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	mustCreate(t, s, rec)
	mustTransition(t, s, rec.ID, workflow.Transition{State: workflow.StateRunning, Step: "A"})
	mustTransition(t, s, rec.ID, workflow.Transition{State: workflow.StateCompleted, Step: "A"})

	for _, to := range []workflow.State{workflow.StateRunning, workflow.StateFailed, workflow.StateStalled} {
		_, err := s.TransitionState(context.Background(), rec.ID, workflow.Transition{State: to})
		if !errors.Is(err, gateway.ErrInvalidTransition) {
			t.Errorf("COMPLETED -> %s = %v, want ErrInvalidTransition", to, err)
		}
	}
}

func testErrorClearedOnRunning(t *testing.T, s workflow.Store) {
	rec := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	mustCreate(t, s, rec)
	mustTransition(t, s, rec.ID, workflow.Transition{State: workflow.StateRunning, Step: "A"})

	failure := &workflow.Failure{
		Step: "A", Message: "timed out", Code: string(gateway.CodeTimeout),
		Timestamp: time.Now().UTC().Truncate(time.Millisecond), Recoverable: true,
	}
	stalled := mustTransition(t, s, rec.ID, workflow.Transition{
		State: workflow.StateStalled, Step: "A", StepAttempts: 3, Error: failure,
	})
	if stalled.Error == nil || stalled.Error.Code != string(gateway.CodeTimeout) || !stalled.Error.Recoverable {
		t.Fatalf("stalled error = %+v", stalled.Error)
	}

	loaded, err := s.Load(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Error == nil || loaded.Error.Message != "timed out" {
		t.Fatalf("loaded error = %+v", loaded.Error)
	}

	running := mustTransition(t, s, rec.ID, workflow.Transition{State: workflow.StateRunning, Step: "A"})
	if running.Error != nil {
		t.Errorf("Error = %+v after resume, want nil", running.Error)
	}
	loaded, err = s.Load(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Error != nil {
		t.Errorf("persisted Error = %+v after resume, want nil", loaded.Error)
	}
}

func testListByState(t *testing.T, s workflow.Store) {
	ctx := context.Background()
	created := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	running := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	stalled := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	for _, r := range []*workflow.Record{created, running, stalled} {
		mustCreate(t, s, r)
	}
	mustTransition(t, s, running.ID, workflow.Transition{State: workflow.StateRunning, Step: "A"})
	mustTransition(t, s, stalled.ID, workflow.Transition{State: workflow.StateRunning, Step: "A"})
	mustTransition(t, s, stalled.ID, workflow.Transition{State: workflow.StateStalled, Step: "A",
		Error: &workflow.Failure{Step: "A", Code: "TIMEOUT", Recoverable: true}})

	got, err := s.ListByState(ctx, workflow.StateRunning, workflow.StateStalled)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range got {
		ids[r.ID.String()] = true
	}
	if len(got) != 2 || !ids[running.ID.String()] || !ids[stalled.ID.String()] {
		t.Errorf("ListByState returned %d records: %v", len(got), ids)
	}

	got, err = s.ListByState(ctx, workflow.StateCreated)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != created.ID.String() {
		t.Errorf("ListByState(CREATED) = %d records", len(got))
	}
}

func testListFilters(t *testing.T, s workflow.Store) {
	ctx := context.Background()
	a := NewRecord(workflow.TypeWorkSubmission, "0xaaa", "batch-1")
	b := NewRecord(workflow.TypeScoreSubmission, "0xbbb", "batch-1")
	c := NewRecord(workflow.TypeWorkSubmission, "0xbbb", "batch-2")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	c.CreatedAt = a.CreatedAt.Add(2 * time.Second)
	for _, r := range []*workflow.Record{a, b, c} {
		mustCreate(t, s, r)
	}

	tests := []struct {
		name string
		opts workflow.ListOpts
		want []*workflow.Record
	}{
		{"all", workflow.ListOpts{}, []*workflow.Record{a, b, c}},
		{"type", workflow.ListOpts{Type: workflow.TypeWorkSubmission}, []*workflow.Record{a, c}},
		{"signer", workflow.ListOpts{Signer: "0xBBB"}, []*workflow.Record{b, c}},
		{"correlation", workflow.ListOpts{CorrelationKey: "batch-1"}, []*workflow.Record{a, b}},
		{"state", workflow.ListOpts{State: workflow.StateRunning}, nil},
		{"limit", workflow.ListOpts{Limit: 2}, []*workflow.Record{a, b}},
		{"offset", workflow.ListOpts{Offset: 1, Limit: 1}, []*workflow.Record{b}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.opts)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List returned %d records, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID.String() != tt.want[i].ID.String() {
					t.Errorf("[%d] = %s, want %s", i, got[i].ID, tt.want[i].ID)
				}
			}
		})
	}
}

// testConcurrentTransitions checks that concurrent patches are all kept.
func testConcurrentTransitions(t *testing.T, s workflow.Store) {
	rec := NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	mustCreate(t, s, rec)
	mustTransition(t, s, rec.ID, workflow.Transition{State: workflow.StateRunning, Step: "A"})

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionState(context.Background(), rec.ID, workflow.Transition{
				State: workflow.StateRunning, Step: "A",
				Progress: workflow.Progress{fmt.Sprintf("k%d", i): json.RawMessage(`true`)},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("TransitionState: %v", err)
		}
	}

	got, err := s.Load(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Progress) != n {
		t.Errorf("progress has %d keys, want %d", len(got.Progress), n)
	}
}
