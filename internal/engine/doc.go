// Package engine folds blockchain events into an application state.
//
// A Projection is opened over a cache, an event source and a height source.
// It runs in three phases:
//
//	Bootstrapping  read the cached checkpoint and the current chain height
//	Replaying      fetch past events after the checkpoint and fold them
//	Live           fold events from the live feed as they arrive
//
// Single-Writer Fold Loop:
// Every reducer call happens on one goroutine. Live feeds are subscribed
// before replay starts and buffered in an unbounded queue, so nothing
// delivered during replay is lost; events already covered by replay are
// recognised by block number and identity and skipped.
//
// Checkpoints:
// After each fold the encoded state is handed to a persister, which writes
// it to the cache after a quiet period. Only the newest pending checkpoint
// is kept. A clean Close flushes it; a fatal error discards it, so the cache
// never holds a state derived from a failed fold.
//
// Snapshots:
// Subscribers receive decoded copies of the state stamped with a logical
// clock. A slow subscriber loses intermediate snapshots, never ordering.
package engine
