package middleware

import (
	"context"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/workflow"
)

// Handler is the terminal function that executes a step.
type Handler = workflow.StepHandler

// Middleware wraps a Handler with cross-cutting logic. rec is a snapshot of
// the record; rec.Step names the step being run.
type Middleware = workflow.StepMiddleware

// Chain composes mws into one Middleware; mws[0] is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, rec *workflow.Record, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			m, inner := mws[i], h
			h = func(ctx context.Context) error { return m(ctx, rec, inner) }
		}
		return h(ctx)
	}
}

// Outcome labels a step result for logs, spans and metrics: "ok", the
// error's Kind when it is already classified, or "unclassified" for errors
// the engine's classifier has yet to see.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if ge, ok := gateway.AsError(err); ok {
		return ge.Kind.String()
	}
	return "unclassified"
}

// errorCode returns the gateway code carried by err, if any.
func errorCode(err error) string {
	if ge, ok := gateway.AsError(err); ok {
		return string(ge.Code)
	}
	return ""
}
