// Package store provides the SQLite-backed registry of a cabinet.
//
// The database holds:
//   - Repository: the single metadata row (name, digest algorithm)
//   - Files: one row per known content digest, with stored_at set once the
//     canonical blob is checked in
//   - Incarnations: locations known to hold a File's content, unique per
//     (device_id, path)
//   - Config: typed settings persisted as text, validated by internal/config
//   - Index runs: history of indexing passes
//
// # Critical Patterns
//
// Idempotent upsert
//   - UNIQUE(device_id, path) constraint
//   - Re-indexing a path updates the existing row in place; it never inserts
//     a duplicate and never fails on the constraint
//
// Single writer
//   - SetMaxOpenConns(1); every upsert is its own transaction
//
// Deterministic query results
//   - Incarnation listings are ordered by device_id, path (BINARY collation)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: incarnations.digest must reference a files row
//
// Failures of the backing database itself (cannot open, I/O error, corrupt
// file, closed connection) are returned as fault.CodeStoreUnavailable.
package store
