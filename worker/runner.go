package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
	"golang.org/x/sync/semaphore"

	"github.com/xraph/gantry"
	"github.com/xraph/gantry/id"
	"github.com/xraph/gantry/job"
)

// QueueLimiter gates execution per queue. The runner calls Acquire
// before dispatching a leased job and Release after the execution
// completes. A declined Acquire hands the job back to the store with a
// short reschedule.
type QueueLimiter interface {
	Acquire(queue string) bool
	Release(queue string)
}

// Runner is the execution pump: a dispatch loop that leases jobs under
// a counting semaphore of capacity Parallelism, and a heartbeat loop
// that advertises the worker to the store. The two loops share one
// cancellation signal and stop as a single lifecycle.
type Runner struct {
	store    job.Store
	executor *Executor
	clk      clock.Clock
	logger   *slog.Logger

	workerID id.WorkerID
	hostname string

	parallelism       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	limiter           QueueLimiter

	// sem is the slot semaphore — the only shared mutable state inside
	// the engine. Every slot handed out is released exactly once.
	sem *semaphore.Weighted

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	execCancel context.CancelFunc
	loopWG     sync.WaitGroup

	dispatchDone chan struct{}

	errMu       sync.Mutex
	dispatchErr error
}

// Option configures a Runner.
type Option func(*Runner)

// WithParallelism sets the slot semaphore capacity.
func WithParallelism(n int) Option {
	return func(r *Runner) { r.parallelism = n }
}

// WithPollInterval sets how long the dispatch loop sleeps when the
// store has no ready job.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

// WithHeartbeatInterval sets how often the worker advertises itself to
// the store.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *Runner) { r.heartbeatInterval = d }
}

// WithClock sets the time source. Tests pass clock.NewMockClock().
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clk = c }
}

// WithQueueLimiter sets the per-queue rate and concurrency gate.
func WithQueueLimiter(l QueueLimiter) Option {
	return func(r *Runner) { r.limiter = l }
}

// NewRunner creates a Runner.
func NewRunner(store job.Store, executor *Executor, logger *slog.Logger, opts ...Option) *Runner {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	r := &Runner{
		store:             store,
		executor:          executor,
		clk:               clock.C,
		logger:            logger,
		workerID:          id.NewWorkerID(),
		hostname:          hostname,
		parallelism:       10,
		pollInterval:      time.Second,
		heartbeatInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WorkerID returns the runner's unique worker identifier.
func (r *Runner) WorkerID() id.WorkerID { return r.workerID }

// Start launches the heartbeat and dispatch loops. It returns
// immediately. Starting an already-running runner is a no-op.
func (r *Runner) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if r.store == nil {
		return gantry.ErrNoStore
	}
	if r.parallelism < 1 {
		return fmt.Errorf("%w: parallelism must be >= 1, got %d", gantry.ErrInvalidConfig, r.parallelism)
	}
	if r.pollInterval <= 0 || r.heartbeatInterval <= 0 {
		return fmt.Errorf("%w: poll and heartbeat intervals must be > 0", gantry.ErrInvalidConfig)
	}
	r.running = true

	r.sem = semaphore.NewWeighted(int64(r.parallelism))
	r.dispatchDone = make(chan struct{})

	loopCtx, cancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.execCancel = execCancel

	r.logger.Info("worker starting",
		slog.String("worker_id", r.workerID.String()),
		slog.Int("parallelism", r.parallelism),
		slog.Duration("poll_interval", r.pollInterval),
		slog.Duration("heartbeat_interval", r.heartbeatInterval),
	)

	r.loopWG.Add(2)
	go r.heartbeatLoop(loopCtx)
	go r.dispatchLoop(loopCtx, execCtx)

	return nil
}

// Stop signals cancellation and waits for both loops to drain. The
// dispatch loop finishes every in-flight job before Stop returns unless
// ctx expires first, in which case in-flight jobs are cancelled and
// awaited. Idempotent.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	execCancel := r.execCancel
	r.mu.Unlock()

	r.logger.Info("worker stopping", slog.String("worker_id", r.workerID.String()))
	cancel()

	done := make(chan struct{})
	go func() {
		r.loopWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("worker stopped gracefully")
	case <-ctx.Done():
		r.logger.Warn("worker shutdown timed out, cancelling in-flight jobs")
		execCancel()
		<-done
	}

	execCancel()
	return nil
}

// Done is closed once the dispatch loop has exited and every in-flight
// execution has released its slot — on Stop, or on a fatal store error.
func (r *Runner) Done() <-chan struct{} { return r.dispatchDone }

// Err returns the store error that terminated the dispatch loop, or nil
// after a normal shutdown.
func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.dispatchErr
}

func (r *Runner) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.dispatchErr == nil {
		r.dispatchErr = err
	}
}

// dispatchLoop is the bounded-concurrency pump. Per iteration: block for
// a slot, lease a job, and either sleep (nothing ready) or hand the job
// to an execution goroutine that releases the slot when done. The loop
// never awaits an execution — it goes straight back to filling slots.
//
// Store errors here are fatal to dispatch: the store is the source of
// truth and silently retrying could mask permanent corruption. The
// heartbeat loop keeps running until Stop.
func (r *Runner) dispatchLoop(ctx, execCtx context.Context) {
	defer r.loopWG.Done()
	defer close(r.dispatchDone)
	defer r.drain()

	for {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return // cancelled while waiting for a slot
		}

		d, err := r.store.AcquireJob(ctx, r.workerID)
		if err != nil {
			r.sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("acquire job failed, dispatch halting",
				slog.String("error", err.Error()),
			)
			r.setErr(err)
			return
		}

		if d == nil {
			// Nothing ready: give the slot back and poll later.
			r.sem.Release(1)
			if !r.sleep(ctx, r.pollInterval) {
				return
			}
			continue
		}

		if r.limiter != nil && !r.limiter.Acquire(d.Queue) {
			// Queue over its limit: hand the job back and let the
			// store re-present it after one poll interval.
			res := job.Reschedule(r.clk.Now().Add(r.pollInterval))
			if relErr := r.store.ReleaseJob(ctx, d.ID, res); relErr != nil {
				r.sem.Release(1)
				r.logger.Error("release job failed, dispatch halting",
					slog.String("job_id", d.ID.String()),
					slog.String("error", relErr.Error()),
				)
				r.setErr(relErr)
				return
			}
			r.sem.Release(1)
			if !r.sleep(ctx, r.pollInterval) {
				return
			}
			continue
		}

		go func(d *job.Description) {
			defer r.sem.Release(1)
			if r.limiter != nil {
				defer r.limiter.Release(d.Queue)
			}
			r.executor.Execute(execCtx, d)
		}(d)
	}
}

// drain proves every in-flight execution has finished by reacquiring
// all Parallelism slots, then hands them back.
func (r *Runner) drain() {
	if err := r.sem.Acquire(context.Background(), int64(r.parallelism)); err != nil {
		return
	}
	r.sem.Release(int64(r.parallelism))
}

// heartbeatLoop advertises the worker once immediately and then once
// every heartbeat interval. Store errors are logged and swallowed — a
// transient outage must not kill the worker; the next tick retries.
func (r *Runner) heartbeatLoop(ctx context.Context) {
	defer r.loopWG.Done()

	r.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clk.After(r.heartbeatInterval):
			r.beat(ctx)
		}
	}
}

func (r *Runner) beat(ctx context.Context) {
	status := &job.WorkerStatus{
		WorkerID:          r.workerID,
		Hostname:          r.hostname,
		Parallelism:       r.parallelism,
		PollInterval:      r.pollInterval,
		HeartbeatInterval: r.heartbeatInterval,
		LastSeen:          r.clk.Now(),
	}
	// Cancellation during the store call lets the call complete; the
	// loop exits on its next wake.
	if err := r.store.Heartbeat(context.WithoutCancel(ctx), status); err != nil {
		r.logger.Error("heartbeat failed",
			slog.String("worker_id", r.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for d on the runner's clock. Returns false if cancelled
// first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-r.clk.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
