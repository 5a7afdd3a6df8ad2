// Package testutil provides in-memory fakes for the ports a projection
// depends on: a scripted event source and a cache that records every write.
//
// The fakes are deterministic. Nothing happens on a fake feed until a test
// pushes it, and every cache write is available for inspection afterwards.
package testutil
