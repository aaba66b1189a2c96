package workflow

import (
	"encoding/json"
	"time"

	"github.com/chaoschain/gateway/id"
)

// Type is one of the fixed set of workflow kinds.
type Type string

const (
	TypeWorkSubmission  Type = "WorkSubmission"
	TypeScoreSubmission Type = "ScoreSubmission"
	TypeCloseEpoch      Type = "CloseEpoch"
)

// State is the lifecycle state of a workflow record.
type State string

const (
	// StateCreated means the record exists but has not been started.
	StateCreated State = "CREATED"
	// StateRunning means the engine is, or should be, advancing the record.
	StateRunning State = "RUNNING"
	// StateStalled means operational retries were exhausted. The record is
	// resumable.
	StateStalled State = "STALLED"
	// StateCompleted means every step finished.
	StateCompleted State = "COMPLETED"
	// StateFailed means a business rule or invariant stopped the workflow.
	StateFailed State = "FAILED"
)

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateRunning, StateStalled, StateCompleted, StateFailed:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateCreated: {StateRunning},
	StateRunning: {StateRunning, StateStalled, StateFailed, StateCompleted},
	StateStalled: {StateRunning},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Failure describes why a record is STALLED or FAILED.
type Failure struct {
	Step        string    `json:"step"`
	Message     string    `json:"message"`
	Code        string    `json:"code"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// Record is the persisted state of one workflow instance.
type Record struct {
	ID           id.WorkflowID   `json:"id"`
	Type         Type            `json:"type"`
	State        State           `json:"state"`
	Step         string          `json:"step"`
	StepAttempts int             `json:"step_attempts"`
	Input        json.RawMessage `json:"input"`
	Progress     Progress        `json:"progress"`
	Error        *Failure        `json:"error,omitempty"`
	Signer       string          `json:"signer"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Input = append(json.RawMessage(nil), r.Input...)
	c.Progress = r.Progress.Clone()
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return &c
}

// Transition is an atomic update applied by Store.TransitionState.
type Transition struct {
	State        State
	Step         string
	StepAttempts int

	// Progress is merged into the record's progress. Keys are added or
	// overwritten, never removed.
	Progress Progress

	// Error is stored only when State is STALLED or FAILED; any other
	// transition clears it.
	Error *Failure
}

// Apply validates t against r and mutates r in place. Stores call it
// inside their atomic section so every backend enforces the same rules.
func (t Transition) Apply(r *Record, now time.Time) error {
	if !CanTransition(r.State, t.State) {
		return invalidTransition(r.State, t.State)
	}
	r.State = t.State
	r.Step = t.Step
	r.StepAttempts = t.StepAttempts
	r.Progress = r.Progress.Merge(t.Progress)
	if t.State == StateStalled || t.State == StateFailed {
		r.Error = t.Error
	} else {
		r.Error = nil
	}
	r.UpdatedAt = now
	return nil
}
