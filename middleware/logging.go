package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaoschain/gateway/workflow"
)

// Logging logs each step. Operational and unclassified failures log at
// warn since the engine will retry them; business-rule and invariant
// failures end the workflow and log at error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rec *workflow.Record, next Handler) error {
		base := []slog.Attr{
			slog.String("workflow_id", rec.ID.String()),
			slog.String("type", string(rec.Type)),
			slog.String("step", rec.Step),
		}
		logger.LogAttrs(ctx, slog.LevelDebug, "step started",
			append(base, slog.Int("attempts", rec.StepAttempts))...)

		start := time.Now()
		err := next(ctx)
		attrs := append(base, slog.Duration("elapsed", time.Since(start)))

		if err == nil {
			logger.LogAttrs(ctx, slog.LevelInfo, "step finished", attrs...)
			return nil
		}

		outcome := Outcome(err)
		attrs = append(attrs, slog.String("outcome", outcome), slog.String("error", err.Error()))
		if code := errorCode(err); code != "" {
			attrs = append(attrs, slog.String("error_code", code))
		}
		level := slog.LevelWarn
		if outcome == "business_rule" || outcome == "invariant" {
			level = slog.LevelError
		}
		logger.LogAttrs(ctx, level, "step error", attrs...)
		return err
	}
}
