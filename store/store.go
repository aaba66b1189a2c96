package store

import (
	"context"

	"github.com/chaoschain/gateway/workflow"
)

// Store is a workflow.Store backend with a lifecycle: gatewayd migrates it
// at startup when configured to, pings it from the health endpoint and
// closes it on shutdown.
type Store interface {
	workflow.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
