package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/statefold/internal/ir"
)

// Record is an event together with its position in the log.
type Record struct {
	Seq   int64
	Event ir.Event
}

// Head returns the current chain head.
func (s *Store) Head(ctx context.Context) (uint64, error) {
	var head int64
	if err := s.db.QueryRowContext(ctx, `SELECT head FROM chain WHERE id = 1`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read head: %w", err)
	}
	return uint64(head), nil
}

// ReadRange returns the events in blocks [from, to] in chain order:
// ORDER BY block_number ASC, log_index ASC, seq ASC. An empty address
// matches every contract.
//
// Returns an empty slice (not nil) if no events match.
func (s *Store) ReadRange(ctx context.Context, from, to uint64, address string) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, block_number, log_index, tx_hash, address, name, payload
		FROM events
		WHERE block_number BETWEEN ? AND ?
		  AND (? = '' OR address = ?)
		ORDER BY block_number ASC, log_index ASC, seq ASC
	`, int64(from), int64(to), address, address)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	events := make([]ir.Event, len(records))
	for i, r := range records {
		events[i] = r.Event
	}
	return events, nil
}

// ReadAfter returns up to limit events inserted after seq, in insertion
// order. A limit of zero or less means no limit.
func (s *Store) ReadAfter(ctx context.Context, seq int64, address string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, block_number, log_index, tx_hash, address, name, payload
		FROM events
		WHERE seq > ?
		  AND (? = '' OR address = ?)
		ORDER BY seq ASC
		LIMIT ?
	`, seq, address, address, limit)
	if err != nil {
		return nil, fmt.Errorf("query events after %d: %w", seq, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// LastSeq returns the seq of the newest event, or 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq, nil
}

// seqBefore returns the seq just before the first event at or above block,
// or the last seq if there is none.
func (s *Store) seqBefore(ctx context.Context, block uint64) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(seq), (SELECT COALESCE(MAX(seq), 0) + 1 FROM events)) - 1
		FROM events
		WHERE block_number >= ?
	`, int64(block)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read seq before block %d: %w", block, err)
	}
	return seq, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		var (
			r        Record
			block    int64
			logIndex int64
			payload  string
		)
		if err := rows.Scan(
			&r.Seq,
			&block,
			&logIndex,
			&r.Event.TransactionHash,
			&r.Event.Address,
			&r.Event.Name,
			&payload,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Event.BlockNumber = uint64(block)
		r.Event.LogIndex = uint64(logIndex)
		r.Event.Payload = json.RawMessage(payload)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}
