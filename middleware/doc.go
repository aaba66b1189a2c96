// Package middleware provides composable middleware for workflow steps.
//
// A [Middleware] wraps the execution of one step. Middleware are installed
// on the engine with workflow.WithMiddleware, or composed first with
// [Chain]. The first middleware in the list is the outermost wrapper.
//
//	eng, err := workflow.NewEngine(store, adapters,
//	    workflow.WithMiddleware(
//	        middleware.Logging(logger),
//	        middleware.Recover(logger),
//	        middleware.Tracing(),
//	        middleware.Metrics(),
//	    ),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs workflow id, step, duration and outcome
//   - [Recover] converts panics into invariant errors
//   - [Tracing] wraps each step in an OpenTelemetry span
//   - [Metrics] records per-step duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, rec *workflow.Record, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting. An error returned by middleware is classified like any
// step error.
package middleware
