// Package app exposes the host's capabilities to an application over a
// JSON-RPC messenger.
//
// Proxy maps each capability onto one RPC method. It also serves as the
// event source and height source of a projection, and Cache adapts the
// host's per-application cache to the cache port, so Store can open a
// projection backed entirely by the host.
//
// Contract wraps an external contract: read-only functions become
// external_call requests, everything else becomes an external_intent, and
// its events can be merged into a projection with engine.WithExternals.
package app
