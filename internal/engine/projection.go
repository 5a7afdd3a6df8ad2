package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/statefold/internal/ir"
)

// Reducer folds one event into the state. A nil state means the reducer has
// not produced a state yet and should derive its own base state.
//
// Reducers may mutate state in place and return it. The returned pointer is
// always taken as the authoritative next state.
type Reducer[S any] func(state *S, ev ir.Event) (*S, error)

// Snapshot is one state emitted to subscribers.
//
// State is decoded from the encoded checkpoint bytes, so it never aliases the
// reducer's working state. It is shared by every subscriber and must be
// treated as read-only.
type Snapshot[S any] struct {
	// Seq strictly increases across the snapshots of one projection.
	Seq int64

	// BlockNumber is the highest block reflected in State.
	BlockNumber uint64

	State *S
}

// Projection is a continuously updated state derived from an event source.
//
// Thread-safety model:
//   - Subscribe, Latest, Phase, Err, Done, Close: safe from any goroutine
//   - the reducer: called only from the projection's fold goroutine
type Projection[S any] struct {
	deps    Deps
	reducer Reducer[S]
	codec   Codec[S]
	opts    *options
	logger  *slog.Logger
	metrics *boundMetrics
	clock   *Clock

	queue     *eventQueue
	persister *persister
	subs      *fanout[S]

	// Fold goroutine only.
	state  *S
	cursor *cursor

	phase  atomic.Int32
	live   chan struct{}
	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
	done   chan struct{}
	feeds  sync.WaitGroup
}

// Open starts a projection and returns immediately. The projection reads
// its checkpoint, replays the missing range and then follows the live feed
// in the background until Close is called, ctx is done, or a fatal error
// occurs.
func Open[S any](ctx context.Context, deps Deps, reducer Reducer[S], opts ...Option) (*Projection[S], error) {
	if deps.Cache == nil || deps.Events == nil || deps.Height == nil {
		return nil, errors.New("open projection: cache, event source and height source are required")
	}
	if reducer == nil {
		return nil, errors.New("open projection: reducer is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.cacheKey == "" {
		return nil, errors.New("open projection: empty cache key")
	}

	var codec Codec[S] = JSONCodec[S]{}
	if o.codec != nil {
		c, ok := o.codec.(Codec[S])
		if !ok {
			return nil, fmt.Errorf("open projection: codec %T does not match state type", o.codec)
		}
		codec = c
	}

	runCtx, cancel := context.WithCancel(ctx)
	metrics := o.metrics.bind(o.name)
	logger := o.logger.With("projection", o.name)

	p := &Projection[S]{
		deps:    deps,
		reducer: reducer,
		codec:   codec,
		opts:    o,
		logger:  logger,
		metrics: metrics,
		clock:   NewClock(),
		queue:   newEventQueue(),
		subs:    newFanout[S](o.subscriberBuffer, metrics),
		live:    make(chan struct{}),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	p.persister = newPersister(deps.Cache, o.cacheKey, &options{
		debounce:     o.debounce,
		maxWait:      o.maxWait,
		writeTimeout: o.writeTimeout,
		logger:       logger,
	}, metrics)

	go p.run(runCtx)
	return p, nil
}

// Subscribe returns a channel of snapshots. The latest snapshot, if any, is
// delivered first. The channel is closed when ctx is done or the projection
// stops; check Err to tell a failure from a clean stop.
func (p *Projection[S]) Subscribe(ctx context.Context) <-chan Snapshot[S] {
	return p.subs.subscribe(ctx)
}

// Latest returns the most recent snapshot.
func (p *Projection[S]) Latest() (Snapshot[S], bool) {
	return p.subs.last()
}

// Phase returns the current lifecycle phase.
func (p *Projection[S]) Phase() Phase {
	return Phase(p.phase.Load())
}

// Done is closed once the projection has stopped or failed and all of its
// goroutines have exited.
func (p *Projection[S]) Done() <-chan struct{} {
	return p.done
}

// Err returns the fatal error, or nil if the projection is running or
// stopped cleanly.
func (p *Projection[S]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// WaitLive blocks until replay has finished. It returns the fatal error if
// the projection fails first, and ErrClosed if it is stopped first.
func (p *Projection[S]) WaitLive(ctx context.Context) error {
	select {
	case <-p.live:
		return nil
	case <-p.done:
		if err := p.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the projection, flushes the pending checkpoint and closes all
// subscriber channels. Close is idempotent.
func (p *Projection[S]) Close() error {
	p.cancel()
	<-p.done
	return nil
}

func (p *Projection[S]) setPhase(ph Phase) {
	p.phase.Store(int32(ph))
	p.logger.Debug("projection phase", "phase", ph.String())
	if ph == PhaseLive {
		close(p.live)
	}
}

// run is the fold goroutine.
func (p *Projection[S]) run(ctx context.Context) {
	defer close(p.done)

	p.logger.Info("projection starting", "key", p.opts.cacheKey, "externals", len(p.opts.externals))

	p.subscribeFeeds(ctx)

	err := p.bootstrap(ctx)
	if err == nil {
		err = p.loop(ctx)
	}
	p.finish(ctx, err)
}

func (p *Projection[S]) sources() []EventSource {
	return append([]EventSource{p.deps.Events}, p.opts.externals...)
}

func sourceName(i int) string {
	if i == 0 {
		return "main"
	}
	return fmt.Sprintf("external[%d]", i-1)
}

// subscribeFeeds opens every live feed before replay starts. Deliveries are
// buffered in the queue until the projection is Live.
func (p *Projection[S]) subscribeFeeds(ctx context.Context) {
	for i, src := range p.sources() {
		evs, errs := src.Events(ctx, p.opts.eventOptions)
		p.feeds.Add(1)
		go p.forward(ctx, i, evs, errs)
	}
}

func (p *Projection[S]) forward(ctx context.Context, source int, evs <-chan ir.Event, errs <-chan error) {
	defer p.feeds.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-evs:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				err := ErrFeedClosed
				if errs != nil {
					select {
					case e, ok := <-errs:
						if ok && e != nil {
							err = e
						}
					case <-ctx.Done():
						return
					}
				}
				p.queue.Enqueue(feedItem{source: source, err: err})
				return
			}
			if !p.queue.Enqueue(feedItem{source: source, event: ev}) {
				return
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.queue.Enqueue(feedItem{source: source, err: err})
			return
		}
	}
}

// bootstrap resolves the checkpoint and folds the replay window.
func (p *Projection[S]) bootstrap(ctx context.Context) error {
	cp, state, found := p.readCheckpoint(ctx)

	var next uint64
	if found {
		p.state = state
		next = cp.BlockNumber + 1
	}

	head, err := p.deps.Height.CurrentBlockNumber(ctx)
	if err != nil {
		return NewBootstrapError("read current block number", err)
	}

	p.setPhase(PhaseReplaying)
	p.cursor = newCursor(next, len(p.opts.externals)+1)

	windowEmpty := found && cp.BlockNumber >= head
	folded := 0
	encoded, err := p.codec.Encode(p.state)
	if err != nil {
		return NewBootstrapError("encode checkpoint state", err)
	}

	if !windowEmpty {
		past, err := p.pastEvents(ctx, next, head)
		if err != nil {
			return NewBootstrapError("read past events", err)
		}

		for _, ev := range past {
			if ev.BlockNumber > head {
				p.logger.Debug("past event beyond head ignored", "block", ev.BlockNumber, "head", head)
				continue
			}
			switch v := p.cursor.replay(ev); v {
			case verdictApply:
				start := time.Now()
				encoded, err = p.apply(ev)
				if err != nil {
					return err
				}
				p.metrics.recordFold(PhaseReplaying, time.Since(start), ev.BlockNumber)
				folded++
			default:
				p.metrics.recordSkip(v.String())
			}
		}
	}

	p.cursor.seal(head)
	block := p.cursor.Block()
	p.metrics.setBlock(block)

	p.logger.Info("replay finished",
		"checkpoint", found,
		"from", next,
		"head", head,
		"events", folded,
	)

	if p.state != nil {
		if err := p.emit(block, encoded); err != nil {
			return err
		}
	}
	if !windowEmpty {
		if err := p.persister.schedule(block, encoded); err != nil {
			return NewBootstrapError("schedule checkpoint", err)
		}
	}

	p.setPhase(PhaseLive)
	return nil
}

// loop folds live deliveries until ctx is done or a fatal error occurs.
func (p *Projection[S]) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		item, ok := p.queue.TryDequeue()
		if ok {
			if err := p.handle(item); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.queue.Wait():
		}
	}
}

func (p *Projection[S]) handle(item feedItem) error {
	if item.err != nil {
		return NewFeedError(sourceName(item.source), item.err)
	}

	ev := item.event
	v, err := p.cursor.live(item.source, ev)
	if err != nil {
		return err
	}
	if v != verdictApply {
		p.logger.Debug("event skipped",
			"reason", v.String(),
			"event", ev.Name,
			"block", ev.BlockNumber,
			"log_index", ev.LogIndex,
		)
		p.metrics.recordSkip(v.String())
		return nil
	}

	start := time.Now()
	encoded, err := p.apply(ev)
	if err != nil {
		return err
	}
	block := p.cursor.Block()
	p.metrics.recordFold(PhaseLive, time.Since(start), block)

	if err := p.emit(block, encoded); err != nil {
		return err
	}
	if err := p.persister.schedule(block, encoded); err != nil {
		return NewInvalidStateError(ev, err)
	}
	return nil
}

// apply runs the reducer and encodes its result. The accumulator only
// advances when both succeed.
func (p *Projection[S]) apply(ev ir.Event) ([]byte, error) {
	next, err := applyReducer(p.reducer, p.state, ev)
	if err != nil {
		return nil, err
	}

	encoded, err := p.codec.Encode(next)
	if err != nil {
		return nil, NewInvalidStateError(ev, err)
	}
	if bytes.Equal(bytes.TrimSpace(encoded), []byte("null")) {
		return nil, NewInvalidStateError(ev, ErrInvalidState)
	}

	p.state = next
	return encoded, nil
}

// emit publishes a snapshot decoded from the encoded state.
func (p *Projection[S]) emit(block uint64, encoded []byte) error {
	state, err := p.codec.Decode(encoded)
	if err != nil {
		return &FoldError{
			Code:        ErrCodeInvalidState,
			Message:     "state does not decode",
			BlockNumber: block,
			Err:         err,
		}
	}
	p.subs.publish(Snapshot[S]{
		Seq:         p.clock.Next(),
		BlockNumber: block,
		State:       state,
	})
	return nil
}

// finish tears the projection down. A clean stop flushes the pending
// checkpoint; a failure discards it.
func (p *Projection[S]) finish(ctx context.Context, err error) {
	if err != nil && ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = nil
	}

	p.cancel()
	p.queue.Close()
	p.feeds.Wait()

	if err == nil {
		p.persister.close(true)
		p.phase.Store(int32(PhaseStopped))
		p.logger.Info("projection stopped", "block", p.lastBlock())
	} else {
		p.persister.close(false)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		p.phase.Store(int32(PhaseFailed))

		var fe *FoldError
		if errors.As(err, &fe) {
			p.metrics.recordFailure(fe.Code)
		}
		p.logger.Error("projection failed", "error", err)
	}

	p.subs.close()
}

func (p *Projection[S]) lastBlock() uint64 {
	if p.cursor == nil {
		return 0
	}
	return p.cursor.Block()
}
