package store

import (
	"context"
	"fmt"
)

// LogSummary describes the contents of the event log.
type LogSummary struct {
	Head       uint64
	Events     int64
	LastSeq    int64
	FirstBlock uint64
	LastBlock  uint64
	Addresses  []string
	Keys       int64
}

// Summary reports the size and extent of the event log and the number of
// cache keys. Used by the CLI to describe a database before replaying it.
func (s *Store) Summary(ctx context.Context) (LogSummary, error) {
	var sum LogSummary

	head, err := s.Head(ctx)
	if err != nil {
		return sum, fmt.Errorf("summary: %w", err)
	}
	sum.Head = head

	var first, last int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(seq), 0),
		       COALESCE(MIN(block_number), 0), COALESCE(MAX(block_number), 0)
		FROM events
	`).Scan(&sum.Events, &sum.LastSeq, &first, &last)
	if err != nil {
		return sum, fmt.Errorf("summary: count events: %w", err)
	}
	sum.FirstBlock = uint64(first)
	sum.LastBlock = uint64(last)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&sum.Keys); err != nil {
		return sum, fmt.Errorf("summary: count keys: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT address FROM events ORDER BY address COLLATE BINARY ASC
	`)
	if err != nil {
		return sum, fmt.Errorf("summary: addresses: %w", err)
	}
	defer rows.Close()

	sum.Addresses = []string{}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return sum, fmt.Errorf("summary: scan address: %w", err)
		}
		sum.Addresses = append(sum.Addresses, addr)
	}
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("summary: iterate addresses: %w", err)
	}

	return sum, nil
}
