package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

const workflowColumns = `id, type, state, step, step_attempts, input, progress, error, signer, created_at, updated_at`

// Create persists a new workflow record.
func (s *Store) Create(ctx context.Context, rec *workflow.Record) error {
	progress, failure, err := encodeMutable(rec.Progress, rec.Error)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gateway_workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID.String(), string(rec.Type), string(rec.State), rec.Step, rec.StepAttempts,
		[]byte(rec.Input), progress, failure, rec.Signer, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return classify("create workflow", err)
	}
	return nil
}

// Load retrieves a workflow record by ID.
func (s *Store) Load(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM gateway_workflows WHERE id = $1`, wfID.String())
	rec, err := scanRecord(row)
	if err != nil {
		return nil, classify("load workflow", err)
	}
	return rec, nil
}

// TransitionState locks the row, validates the edge and writes the new
// state. The progress patch is merged with jsonb ||.
func (s *Store) TransitionState(ctx context.Context, wfID id.WorkflowID, t workflow.Transition) (*workflow.Record, error) {
	var out *workflow.Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+workflowColumns+` FROM gateway_workflows WHERE id = $1 FOR UPDATE`, wfID.String())
		rec, err := scanRecord(row)
		if err != nil {
			return classify("lock workflow", err)
		}

		now := s.now().Truncate(time.Microsecond)
		if err := t.Apply(rec, now); err != nil {
			return err
		}

		patch, failure, err := encodeMutable(t.Progress, rec.Error)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE gateway_workflows
			SET state = $2, step = $3, step_attempts = $4,
				progress = progress || $5::jsonb, error = $6, updated_at = $7
			WHERE id = $1`,
			wfID.String(), string(rec.State), rec.Step, rec.StepAttempts, patch, failure, now,
		)
		if err != nil {
			return fmt.Errorf("gateway/postgres: transition workflow: %w", err)
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
	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+` FROM gateway_workflows
		WHERE state = ANY($1)
		ORDER BY created_at ASC, id ASC`, names)
	if err != nil {
		return nil, fmt.Errorf("gateway/postgres: list by state: %w", err)
	}
	return collect(rows)
}

// List returns records matching opts, oldest first.
func (s *Store) List(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if opts.State != "" {
		add("state = $%d", string(opts.State))
	}
	if opts.Type != "" {
		add("type = $%d", string(opts.Type))
	}
	if opts.Signer != "" {
		add("lower(signer) = lower($%d)", opts.Signer)
	}
	if opts.CorrelationKey != "" {
		add("input->>'correlation_key' = $%d", opts.CorrelationKey)
	}

	q := `SELECT ` + workflowColumns + ` FROM gateway_workflows`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("gateway/postgres: list workflows: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*workflow.Record, error) {
	defer rows.Close()
	var out []*workflow.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("gateway/postgres: scan workflow: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gateway/postgres: iterate workflows: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*workflow.Record, error) {
	var (
		rec      workflow.Record
		wfID     string
		typ      string
		state    string
		input    []byte
		progress []byte
		failure  []byte
	)
	err := row.Scan(&wfID, &typ, &state, &rec.Step, &rec.StepAttempts,
		&input, &progress, &failure, &rec.Signer, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := id.ParseWorkflowID(wfID)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", wfID, err)
	}
	rec.ID = parsed
	rec.Type = workflow.Type(typ)
	rec.State = workflow.State(state)
	rec.Input = json.RawMessage(input)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	rec.Progress = workflow.Progress{}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &rec.Progress); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
	}
	if len(failure) > 0 {
		rec.Error = new(workflow.Failure)
		if err := json.Unmarshal(failure, rec.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	return &rec, nil
}

// encodeMutable serializes the progress and error columns. A nil failure
// becomes SQL NULL.
func encodeMutable(p workflow.Progress, f *workflow.Failure) ([]byte, []byte, error) {
	if p == nil {
		p = workflow.Progress{}
	}
	progress, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway/postgres: encode progress: %w", err)
	}
	if f == nil {
		return progress, nil, nil
	}
	failure, err := json.Marshal(f)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway/postgres: encode error: %w", err)
	}
	return progress, failure, nil
}
