//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chaoschain/gateway/store/postgres"
	"github.com/chaoschain/gateway/store/storetest"
	"github.com/chaoschain/gateway/workflow"
)

// setupTestStore starts a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("gateway_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestConformance(t *testing.T) {
	s := setupTestStore(t)
	storetest.Run(t, func(t *testing.T) workflow.Store {
		_, err := s.Pool().Exec(context.Background(), `TRUNCATE gateway_workflows`)
		require.NoError(t, err)
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var n int
	err := s.Pool().QueryRow(context.Background(), `SELECT COUNT(*) FROM gateway_migrations`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestStateConstraint(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := storetest.NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	rec.State = "PAUSED"
	require.Error(t, s.Create(ctx, rec), "state outside the enum must be rejected")
}

func TestPing(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}
