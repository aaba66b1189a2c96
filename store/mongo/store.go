package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/store"
	"github.com/chaoschain/gateway/workflow"
)

const colWorkflows = "gateway_workflows"

var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store over db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *mongod.Database {
	return s.db
}

func (s *Store) workflows() *mongod.Collection {
	return s.db.Collection(colWorkflows)
}

// Migrate creates the collection with a state validator when it does not
// exist yet, then ensures the named indexes. Both steps are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	opts := options.CreateCollection().
		SetValidator(recordValidator()).
		SetValidationAction("error")
	err := s.db.CreateCollection(ctx, colWorkflows, opts)
	var cmdErr mongod.CommandError
	if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists) {
		return fmt.Errorf("%w: gateway/mongo: create collection: %w", gateway.ErrMigrationFailed, err)
	}

	names, err := s.workflows().Indexes().CreateMany(ctx, recordIndexes())
	if err != nil {
		return fmt.Errorf("%w: gateway/mongo: create indexes: %w", gateway.ErrMigrationFailed, err)
	}
	s.logger.Debug("mongo indexes ensured", slog.Any("indexes", names))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

const codeNamespaceExists = 48

func recordValidator() bson.D {
	return bson.D{{Key: "$jsonSchema", Value: bson.D{
		{Key: "bsonType", Value: "object"},
		{Key: "required", Value: bson.A{"_id", "type", "state", "step", "input", "signer", "created_at", "updated_at"}},
		{Key: "properties", Value: bson.D{
			{Key: "state", Value: bson.D{{Key: "enum", Value: bson.A{
				string(workflow.StateCreated), string(workflow.StateRunning), string(workflow.StateStalled),
				string(workflow.StateCompleted), string(workflow.StateFailed),
			}}}},
			{Key: "step_attempts", Value: bson.D{{Key: "bsonType", Value: bson.A{"int", "long"}}, {Key: "minimum", Value: 0}}},
		}},
	}}}
}

func recordIndexes() []mongod.IndexModel {
	index := func(name string, keys bson.D) mongod.IndexModel {
		return mongod.IndexModel{Keys: keys, Options: options.Index().SetName(name)}
	}
	corr := index("correlation", bson.D{{Key: "correlation_key", Value: 1}})
	corr.Options.SetSparse(true)
	return []mongod.IndexModel{
		index("active_scan", bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}}),
		index("type_state", bson.D{{Key: "type", Value: 1}, {Key: "state", Value: 1}}),
		index("signer", bson.D{{Key: "signer", Value: 1}}),
		corr,
	}
}
