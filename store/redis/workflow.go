package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

// Create persists a new workflow record.
func (s *Store) Create(ctx context.Context, rec *workflow.Record) error {
	wfID := rec.ID.String()
	key := workflowKey(wfID)
	fields, err := recordToMap(rec)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("gateway/redis: create exists: %w", err)
		}
		if exists > 0 {
			return gateway.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.ZAdd(ctx, workflowIDsKey, goredis.Z{Score: score(rec.CreatedAt), Member: wfID})
			pipe.SAdd(ctx, stateKey(string(rec.State)), wfID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, gateway.ErrAlreadyExists) {
			return err
		}
		if errors.Is(err, goredis.TxFailedErr) {
			return gateway.ErrAlreadyExists
		}
		return fmt.Errorf("gateway/redis: create workflow: %w", err)
	}
	return nil
}

// Load retrieves a workflow record by ID.
func (s *Store) Load(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error) {
	vals, err := s.client.HGetAll(ctx, workflowKey(wfID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("gateway/redis: load workflow: %w", err)
	}
	if len(vals) == 0 {
		return nil, gateway.ErrNotFound
	}
	return mapToRecord(vals)
}

// TransitionState applies t under WATCH and commits with MULTI/EXEC.
func (s *Store) TransitionState(ctx context.Context, wfID id.WorkflowID, t workflow.Transition) (*workflow.Record, error) {
	key := workflowKey(wfID.String())

	var out *workflow.Record
	txf := func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("gateway/redis: read workflow: %w", err)
		}
		if len(vals) == 0 {
			return gateway.ErrNotFound
		}
		rec, err := mapToRecord(vals)
		if err != nil {
			return err
		}
		from := rec.State
		if err := t.Apply(rec, s.now()); err != nil {
			return err
		}
		fields, err := recordToMap(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if rec.Error == nil {
				pipe.HDel(ctx, key, "error")
			}
			if from != rec.State {
				pipe.SRem(ctx, stateKey(string(from)), wfID.String())
				pipe.SAdd(ctx, stateKey(string(rec.State)), wfID.String())
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if errors.Is(err, gateway.ErrNotFound) || errors.Is(err, gateway.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("gateway/redis: transition workflow: %w", err)
	}
	return nil, fmt.Errorf("gateway/redis: transition workflow %s: too much contention", wfID)
}

// ListByState returns records in any of the given states, oldest first.
func (s *Store) ListByState(ctx context.Context, states ...workflow.State) ([]*workflow.Record, error) {
	if len(states) == 0 {
		return nil, nil
	}
	keys := make([]string, len(states))
	for i, st := range states {
		keys[i] = stateKey(string(st))
	}
	ids, err := s.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("gateway/redis: list by state: %w", err)
	}
	recs, err := s.loadAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, k int) bool {
		if recs[i].CreatedAt.Equal(recs[k].CreatedAt) {
			return recs[i].ID.String() < recs[k].ID.String()
		}
		return recs[i].CreatedAt.Before(recs[k].CreatedAt)
	})
	return recs, nil
}

// List returns records matching opts, oldest first. Filters are applied
// client-side over the creation-ordered index.
func (s *Store) List(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Record, error) {
	var (
		ids []string
		err error
	)
	if opts.State != "" {
		ids, err = s.client.SMembers(ctx, stateKey(string(opts.State))).Result()
	} else {
		ids, err = s.client.ZRange(ctx, workflowIDsKey, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("gateway/redis: list workflows: %w", err)
	}
	all, err := s.loadAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, k int) bool {
		if all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return all[i].ID.String() < all[k].ID.String()
		}
		return all[i].CreatedAt.Before(all[k].CreatedAt)
	})

	var recs []*workflow.Record
	for _, rec := range all {
		if opts.Matches(rec) {
			recs = append(recs, rec)
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(recs) {
			return nil, nil
		}
		recs = recs[opts.Offset:]
	}
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}

// loadAll fetches records in one pipeline, skipping IDs whose hash vanished.
func (s *Store) loadAll(ctx context.Context, ids []string) ([]*workflow.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, wfID := range ids {
		cmds[i] = pipe.HGetAll(ctx, workflowKey(wfID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("gateway/redis: load workflows: %w", err)
	}

	recs := make([]*workflow.Record, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		rec, err := mapToRecord(vals)
		if err != nil {
			s.logger.Warn("skipping undecodable workflow", slog.String("error", err.Error()))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ── helpers ──

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func recordToMap(r *workflow.Record) (map[string]any, error) {
	progress := r.Progress
	if progress == nil {
		progress = workflow.Progress{}
	}
	p, err := json.Marshal(progress)
	if err != nil {
		return nil, fmt.Errorf("gateway/redis: encode progress: %w", err)
	}
	m := map[string]any{
		"id":            r.ID.String(),
		"type":          string(r.Type),
		"state":         string(r.State),
		"step":          r.Step,
		"step_attempts": r.StepAttempts,
		"input":         string(r.Input),
		"progress":      string(p),
		"signer":        r.Signer,
		"created_at":    r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    r.UpdatedAt.Format(time.RFC3339Nano),
	}
	if r.Error != nil {
		e, err := json.Marshal(r.Error)
		if err != nil {
			return nil, fmt.Errorf("gateway/redis: encode error: %w", err)
		}
		m["error"] = string(e)
	}
	return m, nil
}

func mapToRecord(m map[string]string) (*workflow.Record, error) {
	wfID, err := id.ParseWorkflowID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("gateway/redis: parse workflow id: %w", err)
	}
	attempts, _ := strconv.Atoi(m["step_attempts"])
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])

	r := &workflow.Record{
		ID:           wfID,
		Type:         workflow.Type(m["type"]),
		State:        workflow.State(m["state"]),
		Step:         m["step"],
		StepAttempts: attempts,
		Input:        json.RawMessage(m["input"]),
		Progress:     workflow.Progress{},
		Signer:       m["signer"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if v := m["progress"]; v != "" {
		if err := json.Unmarshal([]byte(v), &r.Progress); err != nil {
			return nil, fmt.Errorf("gateway/redis: decode progress: %w", err)
		}
	}
	if v := m["error"]; v != "" {
		r.Error = new(workflow.Failure)
		if err := json.Unmarshal([]byte(v), r.Error); err != nil {
			return nil, fmt.Errorf("gateway/redis: decode error: %w", err)
		}
	}
	return r, nil
}
