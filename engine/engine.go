// Package engine wires the execution core together: registry, resolver,
// middleware chain, and the worker runner, behind a single Start/Stop
// lifecycle. Applications construct an Engine around a store, register
// job types, and enqueue graph nodes.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WatchBeam/clock"

	"github.com/xraph/gantry"
	"github.com/xraph/gantry/graph"
	"github.com/xraph/gantry/id"
	"github.com/xraph/gantry/job"
	mw "github.com/xraph/gantry/middleware"
	"github.com/xraph/gantry/queue"
	"github.com/xraph/gantry/worker"
)

// Engine is the façade over the execution core. Start launches the
// heartbeat and dispatch loops; Stop drains in-flight jobs and releases
// resources. Both are idempotent.
type Engine struct {
	cfg      gantry.Config
	store    job.Store
	registry *job.Registry
	resolver job.Resolver
	runner   *worker.Runner
	logger   *slog.Logger
	clk      clock.Clock

	mws          []mw.Middleware
	queueConfigs []queue.Config
	queueManager *queue.Manager
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the execution parameters. Invalid values are a fatal
// configuration error surfaced by New.
func WithConfig(cfg gantry.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger for the engine and everything it wires.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the time source. Tests pass clock.NewMockClock().
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithResolver sets the dependency resolver handed to job factories.
func WithResolver(r job.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithMiddleware appends middleware to the engine's chain, after the
// default stack (recover, tracing, metrics, logging).
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// WithQueueConfig registers per-queue rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(e *Engine) { e.queueConfigs = append(e.queueConfigs, configs...) }
}

// New creates an Engine around the given store.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, gantry.ErrNoStore
	}

	e := &Engine{
		cfg:      gantry.DefaultConfig(),
		store:    store,
		registry: job.NewRegistry(),
		resolver: job.NewStaticResolver(),
		logger:   slog.Default(),
		clk:      clock.C,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	// Default middleware stack: recover → tracing → metrics → logging,
	// then anything the caller added.
	defaultMws := []mw.Middleware{
		mw.Recover(e.logger),
		mw.Tracing(),
		mw.Metrics(),
		mw.Logging(e.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(e.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, e.mws...)

	executor := worker.NewExecutor(e.registry, e.resolver, e.store, e.logger, allMws...)

	runnerOpts := []worker.Option{
		worker.WithParallelism(e.cfg.Parallelism),
		worker.WithPollInterval(e.cfg.PollInterval),
		worker.WithHeartbeatInterval(e.cfg.HeartbeatInterval),
		worker.WithClock(e.clk),
	}
	if len(e.queueConfigs) > 0 {
		e.queueManager = queue.NewManager(e.queueConfigs...)
		runnerOpts = append(runnerOpts, worker.WithQueueLimiter(e.queueManager))
	}

	e.runner = worker.NewRunner(e.store, executor, e.logger, runnerOpts...)
	return e, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterFunc registers an untyped job with the engine.
func (e *Engine) RegisterFunc(name string, fn func(ctx context.Context) (job.Result, error)) {
	job.RegisterFunc(e.registry, name, fn)
}

// Enqueue encodes the input with the default codec and enqueues a
// single job of the given type. The returned leaf carries the assigned
// job ID.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, input T, opts ...graph.JobOption) (*graph.Job, error) {
	data, err := job.DefaultCodec.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input for job %q: %w", jobType, err)
	}

	j := graph.NewJob(jobType, data, opts...)
	if err := eng.EnqueueNode(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// EnqueueNode validates and enqueues a graph node: a single job, a
// sequence, or a set.
func (e *Engine) EnqueueNode(ctx context.Context, node graph.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	return e.store.Enqueue(ctx, node)
}

// Start begins job processing. Returns immediately; failure to satisfy
// configuration pre-conditions was already surfaced by New.
func (e *Engine) Start(ctx context.Context) error {
	return e.runner.Start(ctx)
}

// Stop signals cancellation, drains in-flight jobs, and releases
// resources. When the given context has no deadline, the configured
// ShutdownTimeout bounds the drain. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}
	return e.runner.Stop(ctx)
}

// Done is closed when the dispatch loop has terminated — after Stop, or
// on a fatal store error. The heartbeat loop keeps running until Stop
// either way.
func (e *Engine) Done() <-chan struct{} { return e.runner.Done() }

// Err returns the store error that terminated dispatch, if any.
func (e *Engine) Err() error { return e.runner.Err() }

// WorkerID returns this engine's worker identity as reported to the
// store.
func (e *Engine) WorkerID() id.WorkerID { return e.runner.WorkerID() }

// Registry returns the job type registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Resolver returns the dependency resolver handed to job factories.
func (e *Engine) Resolver() job.Resolver { return e.resolver }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (e *Engine) QueueManager() *queue.Manager { return e.queueManager }
