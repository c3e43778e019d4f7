package job

import (
	"context"

	"github.com/xraph/gantry/graph"
	"github.com/xraph/gantry/id"
)

// Store defines the persistence contract the engine depends on. The
// engine never mutates persistent state directly; every mutation is a
// store call. Implementations own the dependency-graph accounting for
// sequences and sets: the engine only ever sees ready leaves.
type Store interface {
	// Enqueue persists a graph node. Leaves with no unsatisfied
	// dependencies become ready immediately; all others start blocked.
	Enqueue(ctx context.Context, node graph.Node) error

	// AcquireJob atomically leases the next ready leaf whose due time
	// has passed and returns its record, or (nil, nil) when none is
	// ready. A leased job is owned exclusively by the calling worker
	// until released or until the worker's lease expires.
	AcquireJob(ctx context.Context, workerID id.WorkerID) (*Description, error)

	// ReleaseJob applies the result to a leased job: marks it terminal,
	// reschedules it, or hands it to the store's retry policy, and
	// re-evaluates dependents.
	ReleaseJob(ctx context.Context, jobID id.JobID, res Result) error

	// Heartbeat records the worker's identity and timing parameters so
	// the store can expire leases held by workers that stopped
	// reporting.
	Heartbeat(ctx context.Context, status *WorkerStatus) error
}
