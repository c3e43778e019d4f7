package job

import (
	"time"

	"github.com/xraph/gantry/id"
)

// Description is a leased job record as handed out by the store. The
// engine treats it as exclusively owned until ReleaseJob is called.
type Description struct {
	ID    id.JobID  `json:"id"`
	Type  string    `json:"type"`
	Queue string    `json:"queue"`
	Input []byte    `json:"input,omitempty"`
	DueAt time.Time `json:"due_at"`

	// Attempt counts how many times the store has handed this job out,
	// including the current lease.
	Attempt int `json:"attempt"`
}

// ResultState is the terminal disposition of one job execution.
type ResultState string

const (
	// StateFinished means the job completed successfully. Terminal and
	// irreversible.
	StateFinished ResultState = "finished"
	// StateRescheduled means the same logical job must be re-presented
	// no earlier than the result's DueAt.
	StateRescheduled ResultState = "rescheduled"
	// StateErrored means the job failed. Terminal from the engine's
	// perspective; the store may re-present the job under its retry
	// policy, which the engine sees as a fresh lease.
	StateErrored ResultState = "errored"
)

// Result is what the engine reports back to the store when a lease is
// released.
type Result struct {
	State ResultState `json:"state"`

	// DueAt is the next earliest run instant for StateRescheduled. For
	// StateErrored it carries the original due time so a store retry
	// policy may reattempt.
	DueAt time.Time `json:"due_at,omitempty"`

	// StatusInfo is free-form diagnostics: an error message, a stack
	// trace, a user-supplied note.
	StatusInfo string `json:"status_info,omitempty"`

	// ExecutionTime is the wall duration of the executor invocation.
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

// Finished returns a successful result.
func Finished() Result {
	return Result{State: StateFinished}
}

// Reschedule returns a result that re-presents the same logical job no
// earlier than t.
func Reschedule(t time.Time) Result {
	return Result{State: StateRescheduled, DueAt: t}
}

// Failed returns an errored result with the given diagnostic message.
func Failed(msg string) Result {
	return Result{State: StateErrored, StatusInfo: msg}
}

// WorkerStatus is the heartbeat record a worker reports to the store.
// The store uses LastSeen to expire leases held by dead workers.
type WorkerStatus struct {
	WorkerID          id.WorkerID   `json:"worker_id"`
	Hostname          string        `json:"hostname"`
	Parallelism       int           `json:"parallelism"`
	PollInterval      time.Duration `json:"poll_interval"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	LastSeen          time.Time     `json:"last_seen"`
}
