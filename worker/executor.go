// Package worker provides the execution core — an Executor that runs a
// leased job through middleware and releases the lease with its outcome,
// and a Runner that pumps jobs from the store under a bounded
// parallelism budget while heartbeating the worker's liveness.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/gantry/job"
	"github.com/xraph/gantry/middleware"
)

// Executor runs a single leased job: it materializes the handler from
// the registry and resolver, feeds it the input blob through the
// middleware chain, and maps the return value (or panic, via the
// Recover middleware) to a job.Result.
type Executor struct {
	registry *job.Registry
	resolver job.Resolver
	store    job.Store
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	resolver job.Resolver,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		resolver: resolver,
		store:    store,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a leased job and releases the lease with the outcome.
// A result is always produced: registry misses, factory failures,
// handler errors, and panics all map to an errored result. The returned
// result is what was reported to the store.
func (e *Executor) Execute(ctx context.Context, d *job.Description) job.Result {
	start := time.Now()
	res := e.invoke(ctx, d)
	res.ExecutionTime = time.Since(start)

	if res.State == job.StateErrored && res.DueAt.IsZero() {
		// Carry the original due time so a store retry policy may
		// reattempt at the job's own schedule.
		res.DueAt = d.DueAt
	}

	// The release must survive engine cancellation: an in-flight job
	// that completes during shutdown still reports its outcome. Not
	// retried on failure — the store reclaims the lease once this
	// worker stops heartbeating.
	if err := e.store.ReleaseJob(context.WithoutCancel(ctx), d.ID, res); err != nil {
		e.logger.Error("release job failed",
			slog.String("job_id", d.ID.String()),
			slog.String("job_type", d.Type),
			slog.String("error", err.Error()),
		)
	}

	return res
}

// invoke maps the handler invocation to a result without touching the
// store.
func (e *Executor) invoke(ctx context.Context, d *job.Description) job.Result {
	factory, ok := e.registry.Lookup(d.Type)
	if !ok {
		return job.Failed(fmt.Sprintf("no job type registered for %q", d.Type))
	}

	handler, err := factory(e.resolver)
	if err != nil {
		return job.Failed(fmt.Sprintf("resolve job %q: %v", d.Type, err))
	}

	res, err := e.mw(ctx, d, func(ctx context.Context) (job.Result, error) {
		return handler(ctx, d.Input)
	})
	if err != nil {
		return job.Failed(err.Error())
	}
	if res.State == "" {
		// A handler that returns a zero result and no error finished.
		res.State = job.StateFinished
	}
	return res
}
