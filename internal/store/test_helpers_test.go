package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/statefold/internal/ir"
)

// createTestStore creates a new store in a temporary directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent creates an event at the given position.
func createTestEvent(name string, payload string, block, logIndex uint64, tx string) ir.Event {
	return ir.Event{
		Name:            name,
		Payload:         json.RawMessage(payload),
		BlockNumber:     block,
		LogIndex:        logIndex,
		TransactionHash: tx,
	}
}

// mustEmit emits one event and fails the test on error.
func mustEmit(t *testing.T, s *Store, name, payload, address string) ir.Event {
	t.Helper()
	evs, err := s.Emit(context.Background(), Draft{Name: name, Payload: json.RawMessage(payload), Address: address})
	if err != nil {
		t.Fatalf("Emit(%s) failed: %v", name, err)
	}
	return evs[0]
}
