// Package store provides SQLite-backed local persistence for statefold.
//
// A single database file holds two things:
//   - kv: a key/value table implementing cache.Cache, with a version column
//     so Observe works across processes
//   - events + chain: an append-only event log with a chain head, which
//     Source serves as an engine.EventSource and engine.HeightSource
//
// The event log stands in for a chain during development and tests: Emit
// appends an event at the next block, AdvanceHead mines empty blocks.
//
// # Ordering
//
//   - Reads in chain order use ORDER BY block_number, log_index
//   - Live delivery follows seq, the insertion order
//   - Event identity is UNIQUE(block_number, log_index, tx_hash); appending
//     the same event twice is a no-op
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payloads are stored as canonical JSON (see internal/ir), so the same
// payload always produces the same transaction hash.
package store
