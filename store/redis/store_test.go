//go:build integration

package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/store/redis"
	"github.com/chaoschain/gateway/store/storetest"
	"github.com/chaoschain/gateway/workflow"
)

func setupClient(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "start redis container")
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(uri)
	require.NoError(t, err)

	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConformance(t *testing.T) {
	client := setupClient(t)
	s := redis.New(client)
	storetest.Run(t, func(t *testing.T) workflow.Store {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return s
	})
}

func TestStateIndexFollowsTransitions(t *testing.T) {
	client := setupClient(t)
	s := redis.New(client)
	ctx := context.Background()

	rec := storetest.NewRecord(workflow.TypeCloseEpoch, "0xabc", "")
	require.NoError(t, s.Create(ctx, rec))
	_, err := s.TransitionState(ctx, rec.ID, workflow.Transition{State: workflow.StateRunning, Step: "A"})
	require.NoError(t, err)

	created, err := client.SCard(ctx, "gateway:state:CREATED").Result()
	require.NoError(t, err)
	running, err := client.SIsMember(ctx, "gateway:state:RUNNING", rec.ID.String()).Result()
	require.NoError(t, err)

	assert.Zero(t, created)
	assert.True(t, running)
}

func TestMigrateStampsSchema(t *testing.T) {
	client := setupClient(t)
	s := redis.New(client)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	v, err := client.Get(ctx, "gateway:schema").Int()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, client.Set(ctx, "gateway:schema", 9, 0).Err())
	err = s.Migrate(ctx)
	require.ErrorIs(t, err, gateway.ErrMigrationFailed)
}
