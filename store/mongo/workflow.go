package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

// maxUpdateRetries bounds optimistic update retries under contention.
const maxUpdateRetries = 100

// Create persists a new workflow record.
func (s *Store) Create(ctx context.Context, rec *workflow.Record) error {
	if _, err := s.workflows().InsertOne(ctx, toWorkflowModel(rec)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return gateway.ErrAlreadyExists
		}
		return fmt.Errorf("gateway/mongo: create workflow: %w", err)
	}
	return nil
}

// Load retrieves a workflow record by ID.
func (s *Store) Load(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error) {
	m, err := s.find(ctx, wfID)
	if err != nil {
		return nil, err
	}
	return fromWorkflowModel(m)
}

func (s *Store) find(ctx context.Context, wfID id.WorkflowID) (*workflowModel, error) {
	var m workflowModel
	err := s.workflows().FindOne(ctx, bson.M{"_id": wfID.String()}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return nil, gateway.ErrNotFound
		}
		return nil, fmt.Errorf("gateway/mongo: load workflow: %w", err)
	}
	return &m, nil
}

// TransitionState applies t and writes it with an UpdateOne conditioned on
// the version that was read. A lost race rereads and retries.
func (s *Store) TransitionState(ctx context.Context, wfID id.WorkflowID, t workflow.Transition) (*workflow.Record, error) {
	for range maxUpdateRetries {
		m, err := s.find(ctx, wfID)
		if err != nil {
			return nil, err
		}
		rec, err := fromWorkflowModel(m)
		if err != nil {
			return nil, err
		}
		if err := t.Apply(rec, s.now()); err != nil {
			return nil, err
		}

		set := bson.D{
			{Key: "state", Value: string(rec.State)},
			{Key: "step", Value: rec.Step},
			{Key: "step_attempts", Value: rec.StepAttempts},
			{Key: "error", Value: toFailureModel(rec.Error)},
			{Key: "updated_at", Value: rec.UpdatedAt},
		}
		for k, v := range t.Progress {
			set = append(set, bson.E{Key: "progress." + k, Value: string(v)})
		}
		update := bson.D{
			{Key: "$set", Value: set},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		}

		res, err := s.workflows().UpdateOne(ctx,
			bson.M{"_id": m.ID, "version": m.Version}, update)
		if err != nil {
			return nil, fmt.Errorf("gateway/mongo: transition workflow: %w", err)
		}
		if res.MatchedCount == 1 {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("gateway/mongo: transition workflow %s: too much contention", wfID)
}

// ListByState returns records in any of the given states, oldest first.
func (s *Store) ListByState(ctx context.Context, states ...workflow.State) ([]*workflow.Record, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	return s.query(ctx, bson.M{"state": bson.M{"$in": names}}, options.Find().SetSort(createdOrder()))
}

// List returns records matching opts, oldest first.
func (s *Store) List(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Record, error) {
	filter := bson.M{}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Signer != "" {
		filter["signer"] = bson.M{"$regex": "^" + regexp.QuoteMeta(opts.Signer) + "$", "$options": "i"}
	}
	if opts.CorrelationKey != "" {
		filter["correlation_key"] = opts.CorrelationKey
	}

	findOpts := options.Find().SetSort(createdOrder())
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	return s.query(ctx, filter, findOpts)
}

func (s *Store) query(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*workflow.Record, error) {
	cursor, err := s.workflows().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("gateway/mongo: list workflows: %w", err)
	}
	defer cursor.Close(ctx)

	var models []workflowModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("gateway/mongo: decode workflows: %w", err)
	}

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

func createdOrder() bson.D {
	return bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
}
