package workflow

import (
	"context"
	"strings"

	"github.com/chaoschain/gateway/id"
)

// ListOpts filters workflow list queries.
type ListOpts struct {
	// State filters by state. Empty means all states.
	State State
	// Type filters by workflow kind. Empty means all kinds.
	Type Type
	// Signer filters by signer address (case-insensitive hex).
	Signer string
	// CorrelationKey filters by the correlation_key field of the input.
	CorrelationKey string
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
}

// Store defines the persistence contract for workflow records. Records
// are never deleted through it.
type Store interface {
	// Create persists a new record. It returns gateway.ErrAlreadyExists if
	// the ID is taken.
	Create(ctx context.Context, rec *Record) error

	// Load returns the record or gateway.ErrNotFound.
	Load(ctx context.Context, wfID id.WorkflowID) (*Record, error)

	// TransitionState atomically validates and applies t, returning the
	// updated record. Edges outside the transition table fail with
	// gateway.ErrInvalidTransition.
	TransitionState(ctx context.Context, wfID id.WorkflowID, t Transition) (*Record, error)

	// ListByState returns every record in any of the given states, oldest
	// first.
	ListByState(ctx context.Context, states ...State) ([]*Record, error)

	// List returns records matching opts, oldest first.
	List(ctx context.Context, opts ListOpts) ([]*Record, error)
}

// Matches reports whether rec satisfies the filters of opts, ignoring
// Limit and Offset. Backends without query support filter with it.
func (o ListOpts) Matches(rec *Record) bool {
	if o.State != "" && rec.State != o.State {
		return false
	}
	if o.Type != "" && rec.Type != o.Type {
		return false
	}
	if o.Signer != "" && !strings.EqualFold(rec.Signer, o.Signer) {
		return false
	}
	if o.CorrelationKey != "" && CorrelationKey(rec.Input) != o.CorrelationKey {
		return false
	}
	return true
}
