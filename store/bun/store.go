package bunstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ store.Store = (*Store)(nil)

// Store keeps workflow records through Bun. The caller owns the *bun.DB.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps db. Close leaves db open.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the wrapped handle.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate runs the embedded migrations with bun's migrator. Bookkeeping
// lives in gateway_bun_migrations so it never collides with the pgx
// backend's table on a shared database.
func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrMigrationFailed, err)
	}
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sub); err != nil {
		return fmt.Errorf("%w: discover: %w", gateway.ErrMigrationFailed, err)
	}

	m := migrate.NewMigrator(s.db, migrations,
		migrate.WithTableName("gateway_bun_migrations"),
		migrate.WithLocksTableName("gateway_bun_migration_locks"),
	)
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("%w: init: %w", gateway.ErrMigrationFailed, err)
	}
	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("%w: lock: %w", gateway.ErrMigrationFailed, err)
	}
	defer func() {
		if err := m.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release migration lock", slog.String("error", err.Error()))
		}
	}()

	group, err := m.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrMigrationFailed, err)
	}
	if !group.IsZero() {
		s.logger.Info("applied migrations", slog.String("group", group.String()))
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close does nothing; the caller closes the *bun.DB.
func (s *Store) Close() error {
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
		return gateway.ErrAlreadyExists
	}
	return fmt.Errorf("gateway/bun: %s: %w", op, err)
}
