// Package sqlite provides a durable implementation of the engine's
// store contract on SQLite, including the dependency-graph accounting
// for sequences and sets. It uses the pure-Go modernc.org/sqlite driver
// so deployments need no cgo.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WatchBeam/clock"
	_ "modernc.org/sqlite"

	"github.com/xraph/gantry"
	"github.com/xraph/gantry/backoff"
	"github.com/xraph/gantry/graph"
	"github.com/xraph/gantry/id"
	"github.com/xraph/gantry/job"
)

// Ensure Store implements the engine contract at compile time.
var _ job.Store = (*Store)(nil)

// Node states persisted in the nodes table. They mirror the in-memory
// reference store.
const (
	stateBlocked   = "blocked"
	stateReady     = "ready"
	stateLeased    = "leased"
	stateFinished  = "finished"
	stateFailed    = "failed"
	stateCancelled = "cancelled"
)

const (
	kindJob      = "job"
	kindSequence = "sequence"
	kindSet      = "set"
)

// Store is the SQLite-backed store.
type Store struct {
	db     *sql.DB
	clk    clock.Clock
	logger *slog.Logger

	retry        backoff.Schedule
	leaseTimeout time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the time source. Tests pass clock.NewMockClock().
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clk = c }
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
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

// New opens (or creates) the SQLite database at dbPath and runs the
// schema migration. The returned Store owns the connection; call Close
// when done.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids lock
	// contention between the pool's connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		clk:    clock.C,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ──────────────────────────────────────────────────
// Enqueue — graph construction
// ──────────────────────────────────────────────────

// Enqueue persists a graph node. All rows are written in one
// transaction; the node's entry leaves end up ready, everything else
// blocked.
func (s *Store) Enqueue(ctx context.Context, node graph.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for _, l := range graph.Leaves(node) {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM gantry_nodes WHERE id = ?`, l.ID.String(),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", gantry.ErrJobAlreadyExists, l.ID)
		}
	}

	if _, err := s.insertNode(ctx, tx, node, "", 0); err != nil {
		return err
	}
	for _, leafID := range entryLeaves(node) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE gantry_nodes SET state = ? WHERE id = ? AND state = ?`,
			stateReady, leafID, stateBlocked,
		); err != nil {
			return fmt.Errorf("ready entry leaf: %w", err)
		}
	}

	return tx.Commit()
}

// insertNode writes one node row (and its subtree) and returns its ID.
func (s *Store) insertNode(ctx context.Context, tx *sql.Tx, node graph.Node, parentID string, position int) (string, error) {
	var parent any
	if parentID != "" {
		parent = parentID
	}

	switch v := node.(type) {
	case *graph.Job:
		queue := v.Queue
		if queue == "" {
			queue = "default"
		}
		var due int64
		if !v.DueAt.IsZero() {
			due = v.DueAt.UnixNano()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO gantry_nodes (id, kind, parent_id, position, type, queue, input, due_at, state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID.String(), kindJob, parent, position, v.Type, queue, v.Input, due, stateBlocked,
		)
		if err != nil {
			return "", fmt.Errorf("insert job: %w", err)
		}
		return v.ID.String(), nil

	case *graph.Sequence:
		nodeID := id.NewNodeID().String()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO gantry_nodes (id, kind, parent_id, position, next_pos, pending)
			VALUES (?, ?, ?, ?, 0, 0)`,
			nodeID, kindSequence, parent, position,
		)
		if err != nil {
			return "", fmt.Errorf("insert sequence: %w", err)
		}
		for i, child := range v.Children {
			if _, err := s.insertNode(ctx, tx, child, nodeID, i); err != nil {
				return "", err
			}
		}
		return nodeID, nil

	case *graph.Set:
		nodeID := id.NewNodeID().String()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO gantry_nodes (id, kind, parent_id, position, next_pos, pending)
			VALUES (?, ?, ?, ?, 0, ?)`,
			nodeID, kindSet, parent, position, len(v.Children),
		)
		if err != nil {
			return "", fmt.Errorf("insert set: %w", err)
		}
		for i, child := range v.Children {
			if _, err := s.insertNode(ctx, tx, child, nodeID, i); err != nil {
				return "", err
			}
		}
		return nodeID, nil

	default:
		return "", fmt.Errorf("sqlite: unknown graph node %T", node)
	}
}

// entryLeaves returns the IDs of the leaves that are ready the moment
// the node is enqueued.
func entryLeaves(node graph.Node) []string {
	switch v := node.(type) {
	case *graph.Job:
		return []string{v.ID.String()}
	case *graph.Sequence:
		return entryLeaves(v.Children[0])
	case *graph.Set:
		var out []string
		for _, c := range v.Children {
			out = append(out, entryLeaves(c)...)
		}
		return out
	}
	return nil
}

// ──────────────────────────────────────────────────
// Lease protocol
// ──────────────────────────────────────────────────

// AcquireJob leases the earliest-due ready leaf whose due time has
// passed; ties are broken by insertion order. Returns (nil, nil) when
// nothing is ready.
func (s *Store) AcquireJob(ctx context.Context, workerID id.WorkerID) (*job.Description, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.clk.Now()

	if s.leaseTimeout > 0 {
		cutoff := now.Add(-s.leaseTimeout).UnixNano()
		if _, err := tx.ExecContext(ctx, `
			UPDATE gantry_nodes
			SET state = ?, leased_by = NULL, leased_at = NULL
			WHERE kind = ? AND state = ?
			  AND MAX(leased_at, COALESCE(
			        (SELECT w.last_seen FROM gantry_workers w WHERE w.id = gantry_nodes.leased_by), 0
			      )) < ?`,
			stateReady, kindJob, stateLeased, cutoff,
		); err != nil {
			return nil, fmt.Errorf("expire leases: %w", err)
		}
	}

	var (
		jobID   string
		jobType string
		queue   string
		input   []byte
		due     int64
		attempt int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, type, queue, input, due_at, attempt
		FROM gantry_nodes
		WHERE kind = ? AND state = ? AND due_at <= ?
		ORDER BY due_at ASC, rowid ASC
		LIMIT 1`,
		kindJob, stateReady, now.UnixNano(),
	).Scan(&jobID, &jobType, &queue, &input, &due, &attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("select ready job: %w", err)
	}

	attempt++
	if _, err := tx.ExecContext(ctx, `
		UPDATE gantry_nodes SET state = ?, leased_by = ?, leased_at = ?, attempt = ?
		WHERE id = ?`,
		stateLeased, workerID.String(), now.UnixNano(), attempt, jobID,
	); err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	parsedID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	var dueAt time.Time
	if due != 0 {
		dueAt = time.Unix(0, due)
	}
	return &job.Description{
		ID:      parsedID,
		Type:    jobType,
		Queue:   queue,
		Input:   input,
		DueAt:   dueAt,
		Attempt: attempt,
	}, nil
}

// ReleaseJob applies the result to a leased leaf and re-evaluates
// dependents inside one transaction.
func (s *Store) ReleaseJob(ctx context.Context, jobID id.JobID, res job.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var state string
	var attempt int
	err = tx.QueryRowContext(ctx,
		`SELECT state, attempt FROM gantry_nodes WHERE id = ? AND kind = ?`,
		jobID.String(), kindJob,
	).Scan(&state, &attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", gantry.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("select job: %w", err)
	}
	if state != stateLeased {
		return fmt.Errorf("%w: %s is %s", gantry.ErrJobNotLeased, jobID, state)
	}

	record := func(newState string, due int64) error {
		_, execErr := tx.ExecContext(ctx, `
			UPDATE gantry_nodes
			SET state = ?, due_at = ?, leased_by = NULL, leased_at = NULL,
			    status_info = ?, execution_ns = ?
			WHERE id = ?`,
			newState, due, res.StatusInfo, res.ExecutionTime.Nanoseconds(), jobID.String(),
		)
		return execErr
	}

	var due int64
	if !res.DueAt.IsZero() {
		due = res.DueAt.UnixNano()
	}

	switch res.State {
	case job.StateFinished:
		if err := record(stateFinished, due); err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		if err := s.completedTx(ctx, tx, jobID.String()); err != nil {
			return err
		}

	case job.StateRescheduled:
		if err := record(stateReady, due); err != nil {
			return fmt.Errorf("reschedule job: %w", err)
		}

	case job.StateErrored:
		if s.retry != nil {
			if retryDue, ok := s.retry.NextDue(s.clk.Now(), attempt); ok {
				if err := record(stateReady, retryDue.UnixNano()); err != nil {
					return fmt.Errorf("retry job: %w", err)
				}
				break
			}
		}
		if err := record(stateFailed, due); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		if err := s.failedTx(ctx, tx, jobID.String()); err != nil {
			return err
		}

	default:
		return fmt.Errorf("sqlite: invalid result state %q", res.State)
	}

	return tx.Commit()
}

// ──────────────────────────────────────────────────
// Graph accounting
// ──────────────────────────────────────────────────

type nodeRow struct {
	id      string
	kind    string
	parent  sql.NullString
	nextPos int
	pending int
	failed  bool
}

func (s *Store) loadNode(ctx context.Context, tx *sql.Tx, nodeID string) (*nodeRow, error) {
	var n nodeRow
	err := tx.QueryRowContext(ctx,
		`SELECT id, kind, parent_id, next_pos, pending, failed FROM gantry_nodes WHERE id = ?`,
		nodeID,
	).Scan(&n.id, &n.kind, &n.parent, &n.nextPos, &n.pending, &n.failed)
	if err != nil {
		return nil, fmt.Errorf("load node %s: %w", nodeID, err)
	}
	return &n, nil
}

func (s *Store) childAt(ctx context.Context, tx *sql.Tx, parentID string, position int) (string, error) {
	var childID string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM gantry_nodes WHERE parent_id = ? AND position = ?`,
		parentID, position,
	).Scan(&childID)
	if err != nil {
		return "", fmt.Errorf("child of %s at %d: %w", parentID, position, err)
	}
	return childID, nil
}

func (s *Store) children(ctx context.Context, tx *sql.Tx, parentID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM gantry_nodes WHERE parent_id = ? ORDER BY position`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			return nil, err
		}
		out = append(out, childID)
	}
	return out, rows.Err()
}

func (s *Store) childCount(ctx context.Context, tx *sql.Tx, parentID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM gantry_nodes WHERE parent_id = ?`, parentID,
	).Scan(&n)
	return n, err
}

// readyTx unblocks the entry leaves of a node.
func (s *Store) readyTx(ctx context.Context, tx *sql.Tx, nodeID string) error {
	n, err := s.loadNode(ctx, tx, nodeID)
	if err != nil {
		return err
	}
	switch n.kind {
	case kindJob:
		_, err := tx.ExecContext(ctx,
			`UPDATE gantry_nodes SET state = ? WHERE id = ? AND state = ?`,
			stateReady, nodeID, stateBlocked,
		)
		return err
	case kindSequence:
		childID, err := s.childAt(ctx, tx, nodeID, n.nextPos)
		if err != nil {
			return err
		}
		return s.readyTx(ctx, tx, childID)
	case kindSet:
		kids, err := s.children(ctx, tx, nodeID)
		if err != nil {
			return err
		}
		for _, childID := range kids {
			if err := s.readyTx(ctx, tx, childID); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("sqlite: unknown node kind %q", n.kind)
}

// completedTx bubbles a finished node up the tree.
func (s *Store) completedTx(ctx context.Context, tx *sql.Tx, nodeID string) error {
	n, err := s.loadNode(ctx, tx, nodeID)
	if err != nil {
		return err
	}
	if !n.parent.Valid {
		return nil
	}
	p, err := s.loadNode(ctx, tx, n.parent.String)
	if err != nil {
		return err
	}

	switch p.kind {
	case kindSequence:
		next := p.nextPos + 1
		if _, err := tx.ExecContext(ctx,
			`UPDATE gantry_nodes SET next_pos = ? WHERE id = ?`, next, p.id,
		); err != nil {
			return err
		}
		total, err := s.childCount(ctx, tx, p.id)
		if err != nil {
			return err
		}
		if next < total {
			childID, err := s.childAt(ctx, tx, p.id, next)
			if err != nil {
				return err
			}
			return s.readyTx(ctx, tx, childID)
		}
		return s.completedTx(ctx, tx, p.id)

	case kindSet:
		pending := p.pending - 1
		if _, err := tx.ExecContext(ctx,
			`UPDATE gantry_nodes SET pending = ? WHERE id = ?`, pending, p.id,
		); err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
		if p.failed {
			return s.failedTx(ctx, tx, p.id)
		}
		return s.completedTx(ctx, tx, p.id)
	}
	return fmt.Errorf("sqlite: unknown parent kind %q", p.kind)
}

// failedTx bubbles a terminal failure up the tree. A failed sequence
// child cancels every later sibling; a failed set child lets running
// siblings finish, the set settling as failed once all children are
// terminal.
func (s *Store) failedTx(ctx context.Context, tx *sql.Tx, nodeID string) error {
	n, err := s.loadNode(ctx, tx, nodeID)
	if err != nil {
		return err
	}
	if !n.parent.Valid {
		return nil
	}
	p, err := s.loadNode(ctx, tx, n.parent.String)
	if err != nil {
		return err
	}

	switch p.kind {
	case kindSequence:
		kids, err := s.children(ctx, tx, p.id)
		if err != nil {
			return err
		}
		for i := p.nextPos + 1; i < len(kids); i++ {
			if err := s.cancelTx(ctx, tx, kids[i]); err != nil {
				return err
			}
		}
		return s.failedTx(ctx, tx, p.id)

	case kindSet:
		pending := p.pending - 1
		if _, err := tx.ExecContext(ctx,
			`UPDATE gantry_nodes SET pending = ?, failed = 1 WHERE id = ?`, pending, p.id,
		); err != nil {
			return err
		}
		if pending == 0 {
			return s.failedTx(ctx, tx, p.id)
		}
		return nil
	}
	return fmt.Errorf("sqlite: unknown parent kind %q", p.kind)
}

// cancelTx marks every not-yet-started leaf under nodeID cancelled.
func (s *Store) cancelTx(ctx context.Context, tx *sql.Tx, nodeID string) error {
	n, err := s.loadNode(ctx, tx, nodeID)
	if err != nil {
		return err
	}
	if n.kind == kindJob {
		_, err := tx.ExecContext(ctx,
			`UPDATE gantry_nodes SET state = ? WHERE id = ? AND state IN (?, ?)`,
			stateCancelled, nodeID, stateBlocked, stateReady,
		)
		return err
	}
	kids, err := s.children(ctx, tx, nodeID)
	if err != nil {
		return err
	}
	for _, childID := range kids {
		if err := s.cancelTx(ctx, tx, childID); err != nil {
			return err
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Heartbeat
// ──────────────────────────────────────────────────

// Heartbeat records the worker's identity and timing parameters.
func (s *Store) Heartbeat(ctx context.Context, status *job.WorkerStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gantry_workers (id, hostname, parallelism, poll_ns, heartbeat_ns, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			parallelism = excluded.parallelism,
			poll_ns = excluded.poll_ns,
			heartbeat_ns = excluded.heartbeat_ns,
			last_seen = excluded.last_seen`,
		status.WorkerID.String(),
		status.Hostname,
		status.Parallelism,
		status.PollInterval.Nanoseconds(),
		status.HeartbeatInterval.Nanoseconds(),
		s.clk.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

// JobRecord is a snapshot of one leaf for inspection.
type JobRecord struct {
	job.Description
	State         string
	StatusInfo    string
	ExecutionTime time.Duration
}

// GetJob returns a snapshot of the leaf with the given ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*JobRecord, error) {
	var (
		jobType    string
		queue      string
		input      []byte
		due        int64
		state      string
		attempt    int
		statusInfo sql.NullString
		execNS     int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT type, queue, input, due_at, state, attempt, status_info, execution_ns
		FROM gantry_nodes WHERE id = ? AND kind = ?`,
		jobID.String(), kindJob,
	).Scan(&jobType, &queue, &input, &due, &state, &attempt, &statusInfo, &execNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", gantry.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var dueAt time.Time
	if due != 0 {
		dueAt = time.Unix(0, due)
	}
	return &JobRecord{
		Description: job.Description{
			ID:      jobID,
			Type:    jobType,
			Queue:   queue,
			Input:   input,
			DueAt:   dueAt,
			Attempt: attempt,
		},
		State:         state,
		StatusInfo:    statusInfo.String,
		ExecutionTime: time.Duration(execNS),
	}, nil
}

// CountByState returns the number of leaves in the given state.
func (s *Store) CountByState(ctx context.Context, state string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM gantry_nodes WHERE kind = ? AND state = ?`,
		kindJob, state,
	).Scan(&n)
	return n, err
}
