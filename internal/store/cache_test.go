package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/statefold/internal/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "state")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Error("unexpected value for unwritten key")
	}

	if err := s.Set(ctx, "state", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "state", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, found, err := s.Get(ctx, "state")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found || string(value) != `{"a":2}` {
		t.Errorf("Get() = %s, %v; want {\"a\":2}, true", value, found)
	}

	var version int
	if err := s.db.QueryRow(`SELECT version FROM kv WHERE key = 'state'`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
}

func TestCache_InvalidKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Get(ctx, ""); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Get(\"\") error = %v, want ErrInvalidKey", err)
	}
	if err := s.Set(ctx, "", []byte("x")); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Set(\"\") error = %v, want ErrInvalidKey", err)
	}
	if _, err := s.Observe(ctx, ""); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Observe(\"\") error = %v, want ErrInvalidKey", err)
	}
}

func TestCache_ObserveCurrentThenUpdates(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Set(ctx, "state", []byte("1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	ch, err := s.Observe(ctx, "state")
	if err != nil {
		t.Fatalf("Observe() failed: %v", err)
	}
	if got := recv(t, ch); string(got) != "1" {
		t.Errorf("first value = %s, want 1", got)
	}

	if err := s.Set(ctx, "state", []byte("2")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if got := recv(t, ch); string(got) != "2" {
		t.Errorf("update = %s, want 2", got)
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(time.Second):
		t.Fatal("observer not closed after cancel")
	}
}

func TestCache_ObserveAcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	reader, err := Open(path, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer reader.Close()
	writer, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := reader.Observe(ctx, "state")
	if err != nil {
		t.Fatalf("Observe() failed: %v", err)
	}

	// The writer's notifications never reach the reader; only polling does.
	if err := writer.Set(ctx, "state", []byte("42")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if got := recv(t, ch); string(got) != "42" {
		t.Errorf("value = %s, want 42", got)
	}
}

func TestCache_ObserveClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	ch, err := s.Observe(context.Background(), "state")
	if err != nil {
		t.Fatalf("Observe() failed: %v", err)
	}
	s.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected value after close")
		}
	case <-time.After(time.Second):
		t.Fatal("observer not closed with the store")
	}

	if _, err := s.Observe(context.Background(), "state"); !errors.Is(err, cache.ErrClosed) {
		t.Errorf("Observe() after close error = %v, want ErrClosed", err)
	}
}

func TestCache_Namespaced(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	app := cache.Namespace(s, "counter")
	if err := app.Set(ctx, "state", []byte("1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, found, err := s.Get(ctx, cache.Key("counter", "state"))
	if err != nil || !found || string(value) != "1" {
		t.Errorf("raw Get() = %s, %v, %v", value, found, err)
	}
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
		return nil
	}
}
