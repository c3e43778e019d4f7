// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job handler invocation.
// Middleware are composed into a chain using [Chain] and applied around
// each execution. They are applied right-to-left: the first middleware
// in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Recover] — catches panics and converts them to errors
//   - [Logging] — logs job type, queue, duration, and outcome
//   - [Timeout] — cancels the job context after a configured duration
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-job duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, d *job.Description, next middleware.Handler) (job.Result, error) {
//	        // pre-processing
//	        res, err := next(ctx)
//	        // post-processing
//	        return res, err
//	    }
//	}
package middleware

import (
	"context"

	"github.com/xraph/gantry/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) (job.Result, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the leased job being executed, and the next handler
// to call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, d *job.Description, next Handler) (job.Result, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, d *job.Description, next Handler) (job.Result, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (job.Result, error) {
				return mw(ctx, d, prev)
			}
		}
		return h(ctx)
	}
}
