package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

var _ workflow.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu      sync.RWMutex
	records map[string]*workflow.Record
	now     func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]*workflow.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// Create persists a copy of rec.
func (m *Store) Create(_ context.Context, rec *workflow.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.ID.String()
	if _, exists := m.records[key]; exists {
		return gateway.ErrAlreadyExists
	}
	c := rec.Clone()
	if c.Progress == nil {
		c.Progress = workflow.Progress{}
	}
	m.records[key] = c
	return nil
}

// Load returns a copy of the record.
func (m *Store) Load(_ context.Context, wfID id.WorkflowID) (*workflow.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[wfID.String()]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return r.Clone(), nil
}

// TransitionState applies t under the store lock.
func (m *Store) TransitionState(_ context.Context, wfID id.WorkflowID, t workflow.Transition) (*workflow.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[wfID.String()]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	next := r.Clone()
	if err := t.Apply(next, m.now()); err != nil {
		return nil, err
	}
	m.records[wfID.String()] = next
	return next.Clone(), nil
}

// ListByState returns records in any of states, oldest first.
func (m *Store) ListByState(_ context.Context, states ...workflow.State) ([]*workflow.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*workflow.Record
	for _, r := range m.records {
		if slices.Contains(states, r.State) {
			result = append(result, r.Clone())
		}
	}
	sortByCreated(result)
	return result, nil
}

// List returns records matching opts, oldest first.
func (m *Store) List(_ context.Context, opts workflow.ListOpts) ([]*workflow.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Record, 0, len(m.records))
	for _, r := range m.records {
		if opts.Matches(r) {
			result = append(result, r.Clone())
		}
	}
	sortByCreated(result)

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func sortByCreated(recs []*workflow.Record) {
	sort.Slice(recs, func(i, k int) bool {
		if recs[i].CreatedAt.Equal(recs[k].CreatedAt) {
			return recs[i].ID.String() < recs[k].ID.String()
		}
		return recs[i].CreatedAt.Before(recs[k].CreatedAt)
	})
}
