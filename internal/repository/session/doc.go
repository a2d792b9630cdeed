// Package session implements persistence for alert sessions.
//
// The Store interface is the registry contract the engine components depend
// on: atomic check-and-create for the single-active-session invariant,
// append-only field writes, and a forward-only compare-and-set for the state.
// Three implementations are provided: MemoryStore (reference, also the test
// double), FileStore (JSON snapshots for restart recovery) and PostgresStore
// (partial unique index enforcing the invariant at the database).
package session
