package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/statefold/internal/ir"
)

// Draft is an event to be emitted at the next block.
type Draft struct {
	Name    string
	Payload json.RawMessage
	Address string
}

// Append inserts events into the log as they are, advancing the chain head
// to the highest block seen. Uses ON CONFLICT DO NOTHING for idempotency -
// an event already in the log (same block, log index and transaction hash)
// is silently ignored.
//
// Returns the number of events actually inserted.
func (s *Store) Append(ctx context.Context, events ...ir.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted := 0
	var highest uint64
	for _, ev := range events {
		n, err := insertEvent(ctx, tx, ev)
		if err != nil {
			return 0, fmt.Errorf("append events: %w", err)
		}
		inserted += n
		if ev.BlockNumber > highest {
			highest = ev.BlockNumber
		}
	}

	if err := raiseHead(ctx, tx, highest); err != nil {
		return 0, fmt.Errorf("append events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append events: commit: %w", err)
	}

	s.notify()
	return inserted, nil
}

// Emit appends drafts as the events of a new block at head+1, in order, and
// returns them with their positions and transaction hashes filled in.
//
// The transaction hash is derived from the event's content and position, so
// emitting is deterministic for a given log.
func (s *Store) Emit(ctx context.Context, drafts ...Draft) ([]ir.Event, error) {
	if len(drafts) == 0 {
		return nil, fmt.Errorf("emit: no events")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("emit: begin tx: %w", err)
	}
	defer tx.Rollback()

	head, err := readHead(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	block := head + 1

	events := make([]ir.Event, 0, len(drafts))
	for i, d := range drafts {
		if d.Name == "" {
			return nil, fmt.Errorf("emit: event %d has no name", i)
		}
		payload, err := marshalPayload(d.Payload)
		if err != nil {
			return nil, fmt.Errorf("emit %s: %w", d.Name, err)
		}

		ev := ir.Event{
			Name:        d.Name,
			Payload:     payload,
			BlockNumber: block,
			LogIndex:    uint64(i),
			Address:     d.Address,
		}
		id, err := ir.EventID(ev)
		if err != nil {
			return nil, fmt.Errorf("emit %s: %w", d.Name, err)
		}
		ev.TransactionHash = "0x" + id

		if _, err := insertEvent(ctx, tx, ev); err != nil {
			return nil, fmt.Errorf("emit %s: %w", d.Name, err)
		}
		events = append(events, ev)
	}

	if err := raiseHead(ctx, tx, block); err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("emit: commit: %w", err)
	}

	s.notify()
	return events, nil
}

// AdvanceHead mines n empty blocks and returns the new head.
func (s *Store) AdvanceHead(ctx context.Context, n uint64) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("advance head: begin tx: %w", err)
	}
	defer tx.Rollback()

	head, err := readHead(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("advance head: %w", err)
	}
	head += n

	if err := raiseHead(ctx, tx, head); err != nil {
		return 0, fmt.Errorf("advance head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("advance head: commit: %w", err)
	}

	s.notify()
	return head, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev ir.Event) (int, error) {
	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("event %s: %w", ev.Key(), err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO events
		(block_number, log_index, tx_hash, address, name, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(block_number, log_index, tx_hash) DO NOTHING
	`,
		int64(ev.BlockNumber),
		int64(ev.LogIndex),
		ev.TransactionHash,
		ev.Address,
		ev.Name,
		string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", ev.Key(), err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", ev.Key(), err)
	}
	return int(n), nil
}

func readHead(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var head int64
	if err := tx.QueryRowContext(ctx, `SELECT head FROM chain WHERE id = 1`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read head: %w", err)
	}
	return uint64(head), nil
}

func raiseHead(ctx context.Context, tx *sql.Tx, block uint64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE chain SET head = MAX(head, ?) WHERE id = 1
	`, int64(block))
	if err != nil {
		return fmt.Errorf("raise head: %w", err)
	}
	return nil
}

// marshalPayload converts a raw payload to canonical JSON for storage.
// An empty payload is stored as null.
func marshalPayload(payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	data, err := ir.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
