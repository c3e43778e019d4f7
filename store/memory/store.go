// Package memory provides a fully in-memory implementation of the
// engine's store contract, including the dependency-graph accounting
// for sequences and sets. Safe for concurrent access. Intended for unit
// testing and development; the sqlite store provides durability.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/xraph/gantry"
	"github.com/xraph/gantry/backoff"
	"github.com/xraph/gantry/graph"
	"github.com/xraph/gantry/id"
	"github.com/xraph/gantry/job"
)

// Ensure Store implements the engine contract at compile time.
var _ job.Store = (*Store)(nil)

// Status is the lifecycle state of a leaf inside the store.
type Status string

const (
	// StatusBlocked means an unsatisfied dependency precedes the leaf.
	StatusBlocked Status = "blocked"
	// StatusReady means the leaf may be leased once its due time passes.
	StatusReady Status = "ready"
	// StatusLeased means exactly one worker owns the leaf.
	StatusLeased Status = "leased"
	// StatusFinished is terminal and irreversible.
	StatusFinished Status = "finished"
	// StatusFailed means the leaf errored with no retries remaining.
	StatusFailed Status = "failed"
	// StatusCancelled means an earlier sibling's failure aborted the leaf
	// before it ever became ready.
	StatusCancelled Status = "cancelled"
)

type compositeKind int

const (
	kindSequence compositeKind = iota
	kindSet
)

// composite is the runtime node for a Sequence or Set. Children are
// *leaf or *composite.
type composite struct {
	kind     compositeKind
	parent   *composite
	children []any
	next     int // sequence: index of the child currently allowed to run
	pending  int // set: children not yet terminal
	failed   bool
}

// leaf is the runtime record for one job.
type leaf struct {
	desc   job.Description
	state  Status
	parent *composite
	seq    uint64 // insertion order, ties broken by it

	leasedBy id.WorkerID
	leasedAt time.Time

	statusInfo    string
	executionTime time.Duration
}

// Store is the in-memory reference store.
type Store struct {
	mu sync.Mutex

	clk          clock.Clock
	retry        backoff.Schedule
	leaseTimeout time.Duration

	leaves  map[string]*leaf
	nextSeq uint64

	workers    map[string]*job.WorkerStatus
	heartbeats map[string]int
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the time source. Tests pass clock.NewMockClock().
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clk = c }
}

// WithRetrySchedule enables re-presentation of errored jobs under the
// given schedule.
func WithRetrySchedule(sched backoff.Schedule) Option {
	return func(s *Store) { s.retry = sched }
}

// WithLeaseTimeout enables lease expiry: a leased job whose worker has
// not heartbeated within d returns to ready. Zero disables expiry.
func WithLeaseTimeout(d time.Duration) Option {
	return func(s *Store) { s.leaseTimeout = d }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clk:        clock.C,
		leaves:     make(map[string]*leaf),
		workers:    make(map[string]*job.WorkerStatus),
		heartbeats: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Enqueue — graph construction
// ──────────────────────────────────────────────────

// Enqueue persists a graph node. The tree is walked depth first; every
// leaf starts blocked and the node's entry leaves are then made ready.
func (s *Store) Enqueue(_ context.Context, node graph.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject duplicates before mutating anything.
	for _, l := range graph.Leaves(node) {
		if _, exists := s.leaves[l.ID.String()]; exists {
			return fmt.Errorf("%w: %s", gantry.ErrJobAlreadyExists, l.ID)
		}
	}

	root := s.build(node, nil)
	s.ready(root)
	return nil
}

func (s *Store) build(node graph.Node, parent *composite) any {
	switch v := node.(type) {
	case *graph.Job:
		queue := v.Queue
		if queue == "" {
			queue = "default"
		}
		s.nextSeq++
		l := &leaf{
			desc: job.Description{
				ID:    v.ID,
				Type:  v.Type,
				Queue: queue,
				Input: v.Input,
				DueAt: v.DueAt,
			},
			state:  StatusBlocked,
			parent: parent,
			seq:    s.nextSeq,
		}
		s.leaves[v.ID.String()] = l
		return l

	case *graph.Sequence:
		c := &composite{kind: kindSequence, parent: parent}
		for _, child := range v.Children {
			c.children = append(c.children, s.build(child, c))
		}
		return c

	case *graph.Set:
		c := &composite{kind: kindSet, parent: parent}
		for _, child := range v.Children {
			c.children = append(c.children, s.build(child, c))
		}
		c.pending = len(c.children)
		return c

	default:
		panic(fmt.Sprintf("memory: unknown graph node %T", node))
	}
}

// ready unblocks the entry leaves of a member: the member itself for a
// leaf, the first child for a sequence, every child for a set.
func (s *Store) ready(member any) {
	switch v := member.(type) {
	case *leaf:
		if v.state == StatusBlocked {
			v.state = StatusReady
		}
	case *composite:
		if v.kind == kindSequence {
			s.ready(v.children[v.next])
		} else {
			for _, c := range v.children {
				s.ready(c)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Lease protocol
// ──────────────────────────────────────────────────

// AcquireJob leases the earliest-due ready leaf whose due time has
// passed; ties are broken by insertion order. Returns (nil, nil) when
// nothing is ready.
func (s *Store) AcquireJob(_ context.Context, workerID id.WorkerID) (*job.Description, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	s.expireLeases(now)

	var best *leaf
	for _, l := range s.leaves {
		if l.state != StatusReady || l.desc.DueAt.After(now) {
			continue
		}
		if best == nil || dispatchBefore(l, best) {
			best = l
		}
	}
	if best == nil {
		return nil, nil
	}

	best.state = StatusLeased
	best.leasedBy = workerID
	best.leasedAt = now
	best.desc.Attempt++

	cp := best.desc
	return &cp, nil
}

// dispatchBefore orders ready leaves: earlier due time first, insertion
// order as the tie-break.
func dispatchBefore(a, b *leaf) bool {
	if !a.desc.DueAt.Equal(b.desc.DueAt) {
		return a.desc.DueAt.Before(b.desc.DueAt)
	}
	return a.seq < b.seq
}

// expireLeases reclaims leases held by workers that stopped reporting.
// The deadline is measured from the later of the lease grant and the
// worker's last heartbeat.
func (s *Store) expireLeases(now time.Time) {
	if s.leaseTimeout <= 0 {
		return
	}
	for _, l := range s.leaves {
		if l.state != StatusLeased {
			continue
		}
		last := l.leasedAt
		if w, ok := s.workers[l.leasedBy.String()]; ok && w.LastSeen.After(last) {
			last = w.LastSeen
		}
		if now.Sub(last) > s.leaseTimeout {
			l.state = StatusReady
			l.leasedBy = id.Nil
		}
	}
}

// ReleaseJob applies the result to a leased leaf and re-evaluates
// dependents.
func (s *Store) ReleaseJob(_ context.Context, jobID id.JobID, res job.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leaves[jobID.String()]
	if !ok {
		return fmt.Errorf("%w: %s", gantry.ErrJobNotFound, jobID)
	}
	if l.state != StatusLeased {
		return fmt.Errorf("%w: %s is %s", gantry.ErrJobNotLeased, jobID, l.state)
	}

	l.leasedBy = id.Nil
	l.statusInfo = res.StatusInfo
	l.executionTime = res.ExecutionTime

	switch res.State {
	case job.StateFinished:
		l.state = StatusFinished
		s.completed(l)

	case job.StateRescheduled:
		// Same logical node, new due time.
		l.desc.DueAt = res.DueAt
		l.state = StatusReady

	case job.StateErrored:
		if s.retry != nil {
			if due, ok := s.retry.NextDue(s.clk.Now(), l.desc.Attempt); ok {
				l.desc.DueAt = due
				l.state = StatusReady
				return nil
			}
		}
		l.state = StatusFailed
		s.failedUp(l)

	default:
		return fmt.Errorf("memory: invalid result state %q", res.State)
	}
	return nil
}

// completed bubbles a finished member up the tree.
func (s *Store) completed(member any) {
	p := parentOf(member)
	if p == nil {
		return
	}
	switch p.kind {
	case kindSequence:
		p.next++
		if p.next < len(p.children) {
			s.ready(p.children[p.next])
			return
		}
		s.completed(p)
	case kindSet:
		p.pending--
		if p.pending > 0 {
			return
		}
		if p.failed {
			s.failedUp(p)
			return
		}
		s.completed(p)
	}
}

// failedUp bubbles a terminal failure up the tree. A failed sequence
// child cancels every later sibling; a failed set child lets its
// running siblings finish, the set settling as failed once all children
// are terminal.
func (s *Store) failedUp(member any) {
	p := parentOf(member)
	if p == nil {
		return
	}
	switch p.kind {
	case kindSequence:
		for i := p.next + 1; i < len(p.children); i++ {
			s.cancelTree(p.children[i])
		}
		s.failedUp(p)
	case kindSet:
		p.failed = true
		p.pending--
		if p.pending == 0 {
			s.failedUp(p)
		}
	}
}

// cancelTree marks every not-yet-started leaf under member cancelled.
func (s *Store) cancelTree(member any) {
	switch v := member.(type) {
	case *leaf:
		if v.state == StatusBlocked || v.state == StatusReady {
			v.state = StatusCancelled
		}
	case *composite:
		for _, c := range v.children {
			s.cancelTree(c)
		}
	}
}

func parentOf(member any) *composite {
	switch v := member.(type) {
	case *leaf:
		return v.parent
	case *composite:
		return v.parent
	}
	return nil
}

// ──────────────────────────────────────────────────
// Heartbeat
// ──────────────────────────────────────────────────

// Heartbeat records the worker's identity and timing parameters.
func (s *Store) Heartbeat(_ context.Context, status *job.WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *status
	cp.LastSeen = s.clk.Now()
	s.workers[status.WorkerID.String()] = &cp
	s.heartbeats[status.WorkerID.String()]++
	return nil
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

// JobRecord is a snapshot of one leaf for inspection.
type JobRecord struct {
	job.Description
	State         Status
	StatusInfo    string
	ExecutionTime time.Duration
}

// GetJob returns a snapshot of the leaf with the given ID.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leaves[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gantry.ErrJobNotFound, jobID)
	}
	return &JobRecord{
		Description:   l.desc,
		State:         l.state,
		StatusInfo:    l.statusInfo,
		ExecutionTime: l.executionTime,
	}, nil
}

// CountByState returns the number of leaves in the given state.
func (s *Store) CountByState(state Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, l := range s.leaves {
		if l.state == state {
			n++
		}
	}
	return n
}

// Worker returns the last heartbeat record for a worker, or nil.
func (s *Store) Worker(workerID id.WorkerID) *job.WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID.String()]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}

// HeartbeatCount returns how many heartbeats a worker has reported.
func (s *Store) HeartbeatCount(workerID id.WorkerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats[workerID.String()]
}
