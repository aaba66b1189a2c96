package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/workflow"
)

// Recover returns middleware that recovers from panics in the step chain.
// A panic becomes an invariant error, so the workflow fails instead of
// being retried.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rec *workflow.Record, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("step panicked",
					slog.String("workflow_id", rec.ID.String()),
					slog.String("step", rec.Step),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = gateway.Invariant(fmt.Sprintf("panic in step %s: %v", rec.Step, r))
			}
		}()
		return next(ctx)
	}
}
