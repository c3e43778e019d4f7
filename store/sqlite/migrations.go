package sqlite

import (
	"database/sql"
	"fmt"
)

// schema holds the DDL applied at open. A single nodes table carries
// both composites and leaves: composite rows use next_pos / pending /
// failed, leaf rows use the job columns. rowid provides insertion order
// for dispatch tie-breaks.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS gantry_nodes (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		parent_id    TEXT REFERENCES gantry_nodes(id),
		position     INTEGER NOT NULL DEFAULT 0,

		next_pos     INTEGER NOT NULL DEFAULT 0,
		pending      INTEGER NOT NULL DEFAULT 0,
		failed       INTEGER NOT NULL DEFAULT 0,

		type         TEXT,
		queue        TEXT NOT NULL DEFAULT 'default',
		input        BLOB,
		due_at       INTEGER NOT NULL DEFAULT 0,
		state        TEXT NOT NULL DEFAULT 'blocked',
		attempt      INTEGER NOT NULL DEFAULT 0,
		leased_by    TEXT,
		leased_at    INTEGER,
		status_info  TEXT,
		execution_ns INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_gantry_nodes_dispatch
		ON gantry_nodes (due_at ASC)
		WHERE kind = 'job' AND state = 'ready'`,

	`CREATE INDEX IF NOT EXISTS idx_gantry_nodes_parent
		ON gantry_nodes (parent_id, position)`,

	`CREATE TABLE IF NOT EXISTS gantry_workers (
		id           TEXT PRIMARY KEY,
		hostname     TEXT,
		parallelism  INTEGER NOT NULL DEFAULT 0,
		poll_ns      INTEGER NOT NULL DEFAULT 0,
		heartbeat_ns INTEGER NOT NULL DEFAULT 0,
		last_seen    INTEGER NOT NULL DEFAULT 0
	)`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
