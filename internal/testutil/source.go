package testutil

import (
	"context"
	"sync"

	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
)

// BlockRange is one PastEvents call.
type BlockRange struct {
	From uint64
	To   uint64
}

type feed struct {
	ctx    context.Context
	events chan ir.Event
	errs   chan error
	once   sync.Once
}

func (f *feed) close() {
	f.once.Do(func() {
		close(f.events)
		close(f.errs)
	})
}

// Source is a scripted engine.EventSource and engine.HeightSource.
//
// Past events are served from a fixed list; live events are delivered only
// when the test calls Push.
type Source struct {
	mu        sync.Mutex
	head      uint64
	past      []ir.Event
	ignore    bool
	headErr   error
	pastErr   error
	pastCalls []BlockRange
	options   []engine.EventOptions
	feeds     []*feed
	changed   chan struct{}
}

var (
	_ engine.EventSource  = (*Source)(nil)
	_ engine.HeightSource = (*Source)(nil)
)

// NewSource creates a source at chain height head with the given history.
func NewSource(head uint64, past ...ir.Event) *Source {
	return &Source{
		head:    head,
		past:    append([]ir.Event(nil), past...),
		changed: make(chan struct{}),
	}
}

// SetHead changes the reported chain height.
func (s *Source) SetHead(head uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = head
}

// AddPast appends events to the history.
func (s *Source) AddPast(events ...ir.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.past = append(s.past, events...)
}

// IgnoreRange makes PastEvents return the whole history regardless of the
// requested range, like a host that over-delivers.
func (s *Source) IgnoreRange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignore = true
}

// FailHeight makes CurrentBlockNumber return err.
func (s *Source) FailHeight(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headErr = err
}

// FailPast makes PastEvents return err.
func (s *Source) FailPast(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pastErr = err
}

// CurrentBlockNumber implements engine.HeightSource.
func (s *Source) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headErr != nil {
		return 0, s.headErr
	}
	return s.head, nil
}

// PastEvents implements engine.EventSource. Events are returned in the
// order they were added.
func (s *Source) PastEvents(ctx context.Context, from, to uint64) ([]ir.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pastCalls = append(s.pastCalls, BlockRange{From: from, To: to})
	if s.pastErr != nil {
		return nil, s.pastErr
	}

	out := make([]ir.Event, 0, len(s.past))
	for _, ev := range s.past {
		if s.ignore || (ev.BlockNumber >= from && ev.BlockNumber <= to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Events implements engine.EventSource.
func (s *Source) Events(ctx context.Context, opts engine.EventOptions) (<-chan ir.Event, <-chan error) {
	f := &feed{
		ctx:    ctx,
		events: make(chan ir.Event, 256),
		errs:   make(chan error, 1),
	}

	s.mu.Lock()
	s.feeds = append(s.feeds, f)
	s.options = append(s.options, opts)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		f.close()
	}()

	return f.events, f.errs
}

// Push delivers events to every open feed.
func (s *Source) Push(events ...ir.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.feeds {
		for _, ev := range events {
			select {
			case f.events <- ev:
			case <-f.ctx.Done():
			}
		}
	}
}

// Fail sends err on every open feed and closes it.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.feeds {
		f.once.Do(func() {
			f.errs <- err
			close(f.events)
			close(f.errs)
		})
	}
}

// CloseFeeds ends every open feed without an error.
func (s *Source) CloseFeeds() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.feeds {
		f.close()
	}
}

// WaitSubscribed blocks until at least n live feeds have been opened.
func (s *Source) WaitSubscribed(ctx context.Context, n int) error {
	for {
		s.mu.Lock()
		count := len(s.feeds)
		changed := s.changed
		s.mu.Unlock()

		if count >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PastCalls returns every PastEvents range requested so far.
func (s *Source) PastCalls() []BlockRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BlockRange(nil), s.pastCalls...)
}

// Options returns the options of every live subscription so far.
func (s *Source) Options() []engine.EventOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.EventOptions(nil), s.options...)
}
