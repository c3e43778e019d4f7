// Package graph defines the composition primitives for scheduled work.
//
// A scheduled unit is a tree of nodes: a Job leaf, a Sequence whose
// children run one after another, or a Set whose children run
// concurrently. Stores walk this tree when a unit is enqueued and track
// the ready/blocked state of every leaf; the engine itself never sees a
// composite node, only ready leaves.
package graph

import (
	"time"

	"github.com/xraph/gantry/id"
)

// Node is a unit of schedulable work: a Job leaf or a composite.
type Node interface {
	// Validate reports whether the node tree is well formed.
	Validate() error
}

// Job is a leaf node: one unit of work of a registered type.
type Job struct {
	// ID identifies the job across reschedules. Assigned at construction
	// so callers can track the job before it is enqueued.
	ID id.JobID

	// Type is the symbolic job type name resolvable via the registry.
	Type string

	// Input is the serialized form of the job's input, or nil.
	Input []byte

	// Queue is the queue the job belongs to. Empty means "default".
	Queue string

	// DueAt is the earliest instant at which the job may run.
	// Zero means immediately.
	DueAt time.Time
}

// Sequence is an ordered composite: child i+1 becomes ready only after
// child i has finished.
type Sequence struct {
	Children []Node
}

// Set is an unordered composite: all children are ready concurrently and
// the set completes when every child has finished.
type Set struct {
	Children []Node
}

// NewJob creates a leaf node with a fresh ID.
func NewJob(jobType string, input []byte, opts ...JobOption) *Job {
	j := &Job{
		ID:    id.NewJobID(),
		Type:  jobType,
		Input: input,
		Queue: "default",
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// JobOption configures a leaf node.
type JobOption func(*Job)

// WithQueue sets the queue the job is enqueued to.
func WithQueue(q string) JobOption {
	return func(j *Job) { j.Queue = q }
}

// WithDueAt sets the earliest instant at which the job may run.
func WithDueAt(t time.Time) JobOption {
	return func(j *Job) { j.DueAt = t }
}

// InSequence composes children into a Sequence.
func InSequence(children ...Node) *Sequence {
	return &Sequence{Children: children}
}

// InSet composes children into a Set.
func InSet(children ...Node) *Set {
	return &Set{Children: children}
}

// Validate reports whether the leaf is well formed.
func (j *Job) Validate() error {
	if j.Type == "" {
		return &ValidationError{Reason: "job has no type"}
	}
	if j.ID.IsNil() {
		return &ValidationError{Reason: "job has no id"}
	}
	return nil
}

// Validate reports whether the sequence and all its children are well formed.
func (s *Sequence) Validate() error {
	if len(s.Children) == 0 {
		return &ValidationError{Reason: "sequence has no children"}
	}
	for _, c := range s.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports whether the set and all its children are well formed.
func (s *Set) Validate() error {
	if len(s.Children) == 0 {
		return &ValidationError{Reason: "set has no children"}
	}
	for _, c := range s.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidationError describes a malformed node tree.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "graph: " + e.Reason
}

// Leaves returns every Job leaf in the tree in depth-first order.
func Leaves(n Node) []*Job {
	var out []*Job
	walk(n, &out)
	return out
}

func walk(n Node, out *[]*Job) {
	switch v := n.(type) {
	case *Job:
		*out = append(*out, v)
	case *Sequence:
		for _, c := range v.Children {
			walk(c, out)
		}
	case *Set:
		for _, c := range v.Children {
			walk(c, out)
		}
	}
}
