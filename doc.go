// Package gantry provides a durable background-job runner for Go.
// Applications enqueue units of work — single jobs, sequential chains, and
// parallel sets — against a persistent store; one or more worker processes
// lease, execute, and report on those jobs.
//
// Gantry is designed as a library, not a service. Import it, configure a
// store, register job types as ordinary Go functions, and start an engine.
//
// # Quick Start
//
//	store := memory.New()
//	eng, err := engine.New(store,
//	    engine.WithConfig(gantry.Config{Parallelism: 8, PollInterval: time.Second, HeartbeatInterval: 10 * time.Second}),
//	)
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//	eng.Start(ctx)
//
// # Architecture
//
// The execution core is a bounded-concurrency dispatch loop over a counting
// semaphore, a heartbeat loop that advertises the worker to the store, and
// an executor that maps each job's return value (or panic) to a result the
// store applies under lease release. Sequences and sets compose into a
// dependency graph that the store tracks; the engine itself is graph-blind
// and only ever sees ready leaf jobs.
//
// Delivery is at-least-once: a lease whose worker stops heartbeating is
// reclaimed by the store and the job is handed out again. Idempotency is
// the job author's concern.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package gantry
