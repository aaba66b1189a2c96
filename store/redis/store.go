package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/store"
)

var _ store.Store = (*Store)(nil)

// schemaVersion is the key layout this package reads and writes.
const schemaVersion = 1

// maxTxRetries bounds WATCH retries when writers race on one record.
const maxTxRetries = 100

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store keeps workflow records in Redis. The caller owns the client.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
	now    func() time.Time
}

// New wraps client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the wrapped client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate stamps the key layout version on an empty keyspace and refuses
// to run against a layout written by a newer gateway.
func (s *Store) Migrate(ctx context.Context) error {
	set, err := s.client.SetNX(ctx, schemaKey, schemaVersion, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: gateway/redis: stamp schema: %w", gateway.ErrMigrationFailed, err)
	}
	if set {
		s.logger.Info("stamped redis schema", slog.Int("version", schemaVersion))
		return nil
	}
	v, err := s.client.Get(ctx, schemaKey).Int()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%w: gateway/redis: read schema: %w", gateway.ErrMigrationFailed, err)
	}
	if v > schemaVersion {
		return fmt.Errorf("%w: gateway/redis: keyspace is at schema %d, this build understands %d",
			gateway.ErrMigrationFailed, v, schemaVersion)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close does nothing; the caller closes the client.
func (s *Store) Close() error { return nil }
