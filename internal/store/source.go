package store

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
)

const feedBatch = 256

// Source serves the event log as an engine.EventSource and
// engine.HeightSource, optionally scoped to one contract address.
type Source struct {
	store   *Store
	address string
}

var (
	_ engine.EventSource  = (*Source)(nil)
	_ engine.HeightSource = (*Source)(nil)
)

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithAddress limits the source to events emitted by one contract.
func WithAddress(address string) SourceOption {
	return func(src *Source) {
		src.address = address
	}
}

// Source returns an event source over the log.
func (s *Store) Source(opts ...SourceOption) *Source {
	src := &Source{store: s}
	for _, opt := range opts {
		opt(src)
	}
	return src
}

// CurrentBlockNumber implements engine.HeightSource.
func (src *Source) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	return src.store.Head(ctx)
}

// PastEvents implements engine.EventSource.
func (src *Source) PastEvents(ctx context.Context, from, to uint64) ([]ir.Event, error) {
	return src.store.ReadRange(ctx, from, to, src.address)
}

// Events implements engine.EventSource. Without FromBlock the feed starts
// with the first event appended after the call; with FromBlock it starts at
// the first logged event at or above that block. Both channels are closed
// when ctx is done or the store is closed.
func (src *Source) Events(ctx context.Context, opts engine.EventOptions) (<-chan ir.Event, <-chan error) {
	events := make(chan ir.Event)
	errs := make(chan error, 1)

	var (
		seq int64
		err error
	)
	if opts.FromBlock > 0 {
		seq, err = src.store.seqBefore(ctx, opts.FromBlock)
	} else {
		seq, err = src.store.LastSeq(ctx)
	}
	if err != nil {
		errs <- err
		close(events)
		close(errs)
		return events, errs
	}

	go src.follow(ctx, seq, opts, events, errs)
	return events, errs
}

func (src *Source) follow(ctx context.Context, seq int64, opts engine.EventOptions, events chan<- ir.Event, errs chan<- error) {
	defer close(errs)
	defer close(events)

	s := src.store
	for {
		changed := s.changes()

		records, err := s.ReadAfter(ctx, seq, src.address, feedBatch)
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			errs <- err
			return
		}

		for _, r := range records {
			seq = r.Seq
			if r.Event.BlockNumber < opts.FromBlock || !matches(opts.Filter, r.Event) {
				continue
			}
			select {
			case events <- r.Event:
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			}
		}

		if len(records) == feedBatch {
			continue
		}
		if !s.wait(ctx, changed) {
			return
		}
	}
}

// matches reports whether every filter field equals the payload field of
// the same name, compared as canonical JSON.
func matches(filter map[string]any, ev ir.Event) bool {
	if len(filter) == 0 {
		return true
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ev.Payload, &fields); err != nil {
		return false
	}

	for name, want := range filter {
		got, ok := fields[name]
		if !ok {
			return false
		}
		gotCanon, err := ir.Canonicalize(got)
		if err != nil {
			return false
		}
		wantCanon, err := ir.MarshalCanonical(want)
		if err != nil {
			return false
		}
		if !bytes.Equal(gotCanon, wantCanon) {
			return false
		}
	}
	return true
}
