package bunstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

// Create persists a new workflow record.
func (s *Store) Create(ctx context.Context, rec *workflow.Record) error {
	m, err := toWorkflowModel(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return classify("create workflow", err)
	}
	return nil
}

// Load retrieves a workflow record by ID.
func (s *Store) Load(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error) {
	m := new(workflowModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", wfID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, classify("load workflow", err)
	}
	return fromWorkflowModel(m)
}

// TransitionState locks the row inside a transaction, validates the edge
// and merges the progress patch with jsonb ||.
func (s *Store) TransitionState(ctx context.Context, wfID id.WorkflowID, t workflow.Transition) (*workflow.Record, error) {
	var out *workflow.Record
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		m := new(workflowModel)
		err := tx.NewSelect().Model(m).
			Where("id = ?", wfID.String()).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return classify("lock workflow", err)
		}
		rec, err := fromWorkflowModel(m)
		if err != nil {
			return err
		}

		now := s.now().Truncate(time.Microsecond)
		if err := t.Apply(rec, now); err != nil {
			return err
		}

		patch := t.Progress
		if patch == nil {
			patch = workflow.Progress{}
		}
		rawPatch, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("gateway/bun: encode progress: %w", err)
		}
		var rawErr any
		if rec.Error != nil {
			b, mErr := json.Marshal(rec.Error)
			if mErr != nil {
				return fmt.Errorf("gateway/bun: encode error: %w", mErr)
			}
			rawErr = string(b)
		}

		_, err = tx.NewUpdate().
			Table("gateway_workflows").
			Set("state = ?", string(rec.State)).
			Set("step = ?", rec.Step).
			Set("step_attempts = ?", rec.StepAttempts).
			Set("progress = progress || ?::jsonb", string(rawPatch)).
			Set("error = ?::jsonb", rawErr).
			Set("updated_at = ?", now).
			Where("id = ?", wfID.String()).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("gateway/bun: transition workflow: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByState returns records in any of the given states, oldest first.
func (s *Store) ListByState(ctx context.Context, states ...workflow.State) ([]*workflow.Record, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	var models []workflowModel
	err := s.db.NewSelect().Model(&models).
		Where("state IN (?)", bun.In(names)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway/bun: list by state: %w", err)
	}
	return fromModels(models)
}

// List returns records matching opts, oldest first.
func (s *Store) List(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Record, error) {
	var models []workflowModel
	q := s.db.NewSelect().Model(&models)

	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	if opts.Signer != "" {
		q = q.Where("lower(signer) = lower(?)", opts.Signer)
	}
	if opts.CorrelationKey != "" {
		q = q.Where("input->>'correlation_key' = ?", opts.CorrelationKey)
	}

	q = q.OrderExpr("created_at ASC, id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("gateway/bun: list workflows: %w", err)
	}
	return fromModels(models)
}

func fromModels(models []workflowModel) ([]*workflow.Record, error) {
	out := make([]*workflow.Record, 0, len(models))
	for i := range models {
		rec, err := fromWorkflowModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
